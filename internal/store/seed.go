package store

import (
	"context"
	"math"
	"maps"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/soyeahso/koko/internal/domain"
)

// DemoBasePrices are the typical AUD shelf prices the demo history wobbles around.
var DemoBasePrices = map[string]float64{
	"Milk (1L)":            1.50,
	"Bread (Loaf)":         3.00,
	"Eggs (Dozen)":         5.50,
	"Chicken Breast (1kg)": 12.00,
	"Rice (1kg)":           4.00,
}

// DemoStores are the supermarkets the demo history covers.
var DemoStores = []string{"Coles", "Woolworths", "Aldi"}

// BulkAppender accepts a batch of observations.
type BulkAppender interface {
	AppendObservations(ctx context.Context, obs []domain.PriceObservation) error
}

// DemoObservations builds days of daily prices per item and store, ending
// today, each within ten percent of the base price and never below fifty
// cents. Items are visited in name order so a seeded rng repeats exactly.
func DemoObservations(now time.Time, days int, rng *rand.Rand) []domain.PriceObservation {
	var out []domain.PriceObservation
	for _, item := range slices.Sorted(maps.Keys(DemoBasePrices)) {
		base := DemoBasePrices[item]
		for _, store := range DemoStores {
			for d := days - 1; d >= 0; d-- {
				variation := base * (rng.Float64()*0.2 - 0.1)
				price := math.Round((base+variation)*100) / 100
				out = append(out, domain.PriceObservation{
					ItemKey:    item,
					Store:      store,
					Price:      math.Max(0.50, price),
					RecordedAt: now.Add(-time.Duration(d) * 24 * time.Hour).UTC(),
				})
			}
		}
	}
	return out
}

// SeedDemoHistory writes four weeks of demo prices and returns how many
// observations were written.
func SeedDemoHistory(ctx context.Context, dst BulkAppender, now time.Time, rng *rand.Rand) (int, error) {
	obs := DemoObservations(now, 28, rng)
	if err := dst.AppendObservations(ctx, obs); err != nil {
		return 0, err
	}
	return len(obs), nil
}
