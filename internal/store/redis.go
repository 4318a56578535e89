package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"

	"github.com/soyeahso/koko/internal/domain"
)

const redisPrefix = "koko:prices"

// RedisPriceHistory keeps one sorted set per item and store, scored by
// observation time in milliseconds, so several backend replicas can share
// the same history.
type RedisPriceHistory struct {
	rdb redis.Cmdable
}

// NewRedisPriceHistory wraps an existing client.
func NewRedisPriceHistory(rdb redis.Cmdable) *RedisPriceHistory {
	return &RedisPriceHistory{rdb: rdb}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", addr, err)
	}
	return client, nil
}

func seriesKey(itemKey, store string) string {
	return redisPrefix + ":" + itemKey + ":" + store
}

func storesKey(itemKey string) string {
	return redisPrefix + ":stores:" + itemKey
}

// seriesIndexKey lists every series key, for pruning.
const seriesIndexKey = redisPrefix + ":series"

func millis(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// AppendObservation adds obs to its series.
func (h *RedisPriceHistory) AppendObservation(ctx context.Context, obs domain.PriceObservation) error {
	return h.AppendObservations(ctx, []domain.PriceObservation{obs})
}

// AppendObservations adds many observations in one transaction.
func (h *RedisPriceHistory) AppendObservations(ctx context.Context, obs []domain.PriceObservation) error {
	pipe := h.rdb.TxPipeline()
	for _, o := range obs {
		if o.RecordedAt.IsZero() {
			o.RecordedAt = time.Now()
		}
		key := seriesKey(o.ItemKey, o.Store)
		// Members must be unique or equal prices would collapse into one.
		member := fmt.Sprintf(`{"id":%q,"price":%s}`, uuid.NewString(), strconv.FormatFloat(o.Price, 'f', -1, 64))
		pipe.ZAdd(ctx, key, redis.Z{Score: millis(o.RecordedAt), Member: member})
		pipe.SAdd(ctx, storesKey(o.ItemKey), o.Store)
		pipe.SAdd(ctx, seriesIndexKey, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending price observations: %w", err)
	}
	return nil
}

// AveragePrice returns the mean price since the given time. An empty store
// averages across every store that has reported the item.
func (h *RedisPriceHistory) AveragePrice(ctx context.Context, itemKey, store string, since time.Time) (float64, bool, error) {
	stores := []string{store}
	if store == "" {
		var err error
		stores, err = h.rdb.SMembers(ctx, storesKey(itemKey)).Result()
		if err != nil {
			return 0, false, fmt.Errorf("listing stores for %s: %w", itemKey, err)
		}
	}

	var sum float64
	var n int
	lo := strconv.FormatFloat(millis(since), 'f', 0, 64)
	for _, s := range stores {
		members, err := h.rdb.ZRangeByScore(ctx, seriesKey(itemKey, s), &redis.ZRangeBy{Min: lo, Max: "+inf"}).Result()
		if err != nil {
			return 0, false, fmt.Errorf("reading prices for %s at %s: %w", itemKey, s, err)
		}
		for _, m := range members {
			sum += gjson.Get(m, "price").Float()
			n++
		}
	}
	if n == 0 {
		return 0, false, nil
	}
	return sum / float64(n), true, nil
}

// PruneBefore removes observations older than cutoff from every series.
func (h *RedisPriceHistory) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	keys, err := h.rdb.SMembers(ctx, seriesIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("listing price series: %w", err)
	}
	hi := "(" + strconv.FormatFloat(millis(cutoff), 'f', 0, 64)
	var removed int64
	for _, key := range keys {
		n, err := h.rdb.ZRemRangeByScore(ctx, key, "-inf", hi).Result()
		if err != nil {
			return removed, fmt.Errorf("pruning %s: %w", key, err)
		}
		removed += n
	}
	return removed, nil
}
