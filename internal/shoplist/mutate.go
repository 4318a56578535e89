package shoplist

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/soyeahso/koko/internal/domain"
)

// Fold returns the identity key for an item name: trimmed and case-folded.
func Fold(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// SameItem reports whether two names refer to the same list entry.
func SameItem(a, b string) bool {
	return Fold(a) == Fold(b)
}

// Index returns the position of the first entry matching name, or -1.
func Index(items []domain.ShoppingListItem, name string) int {
	key := Fold(name)
	for i, it := range items {
		if Fold(it.Name) == key {
			return i
		}
	}
	return -1
}

// Add merges qty of name into items. An existing entry accumulates quantity,
// takes price when price > 0 and is flagged when goodBuy is set; otherwise a
// new entry is appended. The returned quantity is the entry's new total.
func Add(items []domain.ShoppingListItem, name string, qty int, price float64, goodBuy bool) ([]domain.ShoppingListItem, int, bool) {
	if i := Index(items, name); i >= 0 {
		items[i].Quantity += qty
		if price > 0 {
			items[i].Price = price
		}
		if goodBuy {
			items[i].IsGoodBuy = true
		}
		return items, items[i].Quantity, true
	}
	entry := domain.ShoppingListItem{Name: name, Quantity: qty, IsGoodBuy: goodBuy}
	if price > 0 {
		entry.Price = price
	}
	return append(items, entry), qty, false
}

// Remove drops every entry matching name and reports whether any existed.
func Remove(items []domain.ShoppingListItem, name string) ([]domain.ShoppingListItem, bool) {
	key := Fold(name)
	out := items[:0]
	for _, it := range items {
		if Fold(it.Name) != key {
			out = append(out, it)
		}
	}
	return out, len(out) < len(items)
}

// SetQuantity overwrites the quantity of the entry matching name. It never
// creates an entry.
func SetQuantity(items []domain.ShoppingListItem, name string, qty int) bool {
	i := Index(items, name)
	if i < 0 {
		return false
	}
	items[i].Quantity = qty
	return true
}
