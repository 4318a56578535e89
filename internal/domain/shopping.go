package domain

import "time"

// ShoppingListItem is one line of a user's shopping list.
type ShoppingListItem struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price,omitempty"` // 0 means unknown
	IsGoodBuy bool    `json:"isGoodBuy,omitempty"`
}

// HasPrice reports whether a positive price is known.
func (i ShoppingListItem) HasPrice() bool {
	return i.Price > 0
}

// CloneList returns an independent copy of items. A nil input yields an
// empty, non-nil slice so it serializes as [].
func CloneList(items []ShoppingListItem) []ShoppingListItem {
	out := make([]ShoppingListItem, len(items))
	copy(out, items)
	return out
}

// PriceObservation is one recorded price for a canonical item at a store.
type PriceObservation struct {
	ItemKey    string    `json:"itemKey"`
	Store      string    `json:"store"`
	Price      float64   `json:"price"`
	RecordedAt time.Time `json:"recordedAt"`
}
