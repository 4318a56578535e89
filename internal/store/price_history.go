package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/soyeahso/koko/internal/domain"
)

// PriceHistory is the SQLite-backed history of observed prices.
type PriceHistory struct {
	db *DB
}

// NewPriceHistory creates a price history over db.
func NewPriceHistory(db *DB) *PriceHistory {
	return &PriceHistory{db: db}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.DateTime)
}

// AppendObservation inserts one observation.
func (h *PriceHistory) AppendObservation(ctx context.Context, obs domain.PriceObservation) error {
	if obs.RecordedAt.IsZero() {
		obs.RecordedAt = time.Now()
	}
	_, err := h.db.sql.ExecContext(ctx,
		`INSERT INTO price_history (item_key, store, price, recorded_at) VALUES (?, ?, ?, ?)`,
		obs.ItemKey, obs.Store, obs.Price, formatTime(obs.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting price observation: %w", err)
	}
	return nil
}

// AppendObservations inserts many observations in one transaction.
func (h *PriceHistory) AppendObservations(ctx context.Context, obs []domain.PriceObservation) error {
	tx, err := h.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO price_history (item_key, store, price, recorded_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		if _, err := stmt.ExecContext(ctx, o.ItemKey, o.Store, o.Price, formatTime(o.RecordedAt)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting price observation: %w", err)
		}
	}
	return tx.Commit()
}

// AveragePrice returns the mean price of itemKey since the given time. An
// empty store averages across all stores.
func (h *PriceHistory) AveragePrice(ctx context.Context, itemKey, store string, since time.Time) (float64, bool, error) {
	var avg sql.NullFloat64
	err := h.db.sql.QueryRowContext(ctx,
		`SELECT AVG(price) FROM price_history
		 WHERE item_key = ? AND (? = '' OR store = ?) AND recorded_at >= ?`,
		itemKey, store, store, formatTime(since),
	).Scan(&avg)
	if err != nil {
		return 0, false, fmt.Errorf("averaging price for %s: %w", itemKey, err)
	}
	if !avg.Valid {
		return 0, false, nil
	}
	return avg.Float64, true, nil
}

// PruneBefore deletes observations recorded before cutoff and returns how
// many were removed.
func (h *PriceHistory) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := h.db.sql.ExecContext(ctx,
		`DELETE FROM price_history WHERE recorded_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning price history: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored observations.
func (h *PriceHistory) Count(ctx context.Context) (int64, error) {
	var n int64
	err := h.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM price_history`).Scan(&n)
	return n, err
}
