// Package pricing decides whether a quoted price is a good buy by comparing
// it with recent price history, and feeds new quotes back into that history.
package pricing

import (
	"context"
	"strings"
	"time"

	"github.com/soyeahso/koko/internal/domain"
	"github.com/soyeahso/koko/internal/logging"
)

// HistoryStore persists price observations.
type HistoryStore interface {
	AppendObservation(ctx context.Context, obs domain.PriceObservation) error
	// AveragePrice returns the mean price of itemKey at store recorded at or
	// after since. An empty store averages across all stores. ok is false
	// when there are no matching observations.
	AveragePrice(ctx context.Context, itemKey, store string, since time.Time) (avg float64, ok bool, err error)
}

// keyword → canonical history item. Order matters: first match wins.
var canonicalItems = []struct {
	keyword string
	key     string
}{
	{"milk", "Milk (1L)"},
	{"bread", "Bread (Loaf)"},
	{"egg", "Eggs (Dozen)"},
	{"chicken", "Chicken Breast (1kg)"},
	{"rice", "Rice (1kg)"},
}

// CanonicalKey maps a free-text product name to the history item it tracks.
func CanonicalKey(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, c := range canonicalItems {
		if strings.Contains(lower, c.keyword) {
			return c.key, true
		}
	}
	return "", false
}

// CanonicalKeys lists every tracked history item.
func CanonicalKeys() []string {
	keys := make([]string, len(canonicalItems))
	for i, c := range canonicalItems {
		keys[i] = c.key
	}
	return keys
}

// Config tunes the oracle.
type Config struct {
	ReferenceStore string
	Window         time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Oracle answers good-buy questions against a HistoryStore.
type Oracle struct {
	store HistoryStore
	cfg   Config
	log   *logging.Logger
}

// NewOracle creates an oracle. Zero Config fields fall back to Coles and a
// seven-day window.
func NewOracle(store HistoryStore, cfg Config, log *logging.Logger) *Oracle {
	if cfg.ReferenceStore == "" {
		cfg.ReferenceStore = "Coles"
	}
	if cfg.Window <= 0 {
		cfg.Window = 7 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Oracle{store: store, cfg: cfg, log: log.Sub("pricing")}
}

// IsGoodBuy reports whether price is at or below the trailing average for
// the item at the reference store. Missing data, unmapped names and store
// failures all answer false.
func (o *Oracle) IsGoodBuy(ctx context.Context, name string, price float64) bool {
	if price <= 0 {
		return false
	}
	key, ok := CanonicalKey(name)
	if !ok {
		return false
	}

	since := o.cfg.Now().Add(-o.cfg.Window)
	avg, ok, err := o.store.AveragePrice(ctx, key, o.cfg.ReferenceStore, since)
	if err != nil {
		o.log.Warn().Err(err).Str("item", key).Msg("price trend check failed")
		return false
	}
	if !ok {
		return false
	}

	good := price <= avg
	o.log.Debug().
		Str("item", name).
		Str("key", key).
		Float64("price", price).
		Float64("avg", avg).
		Bool("goodBuy", good).
		Msg("price trend")
	return good
}

// Record appends price as a fresh observation at the reference store.
// Failures are logged, never returned.
func (o *Oracle) Record(ctx context.Context, name string, price float64) {
	if price <= 0 {
		return
	}
	key, ok := CanonicalKey(name)
	if !ok {
		return
	}
	obs := domain.PriceObservation{
		ItemKey:    key,
		Store:      o.cfg.ReferenceStore,
		Price:      price,
		RecordedAt: o.cfg.Now().UTC(),
	}
	if err := o.store.AppendObservation(ctx, obs); err != nil {
		o.log.Warn().Err(err).Str("item", key).Msg("failed to record price")
		return
	}
	o.log.Debug().Str("item", key).Float64("price", price).Msg("recorded price")
}

// Average returns the mean price for name across all stores over window.
func (o *Oracle) Average(ctx context.Context, name string, window time.Duration) (string, float64, bool, error) {
	key, ok := CanonicalKey(name)
	if !ok {
		return "", 0, false, nil
	}
	avg, ok, err := o.store.AveragePrice(ctx, key, "", o.cfg.Now().Add(-window))
	return key, avg, ok, err
}
