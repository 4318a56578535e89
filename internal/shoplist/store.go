// Package shoplist holds the working copy of a shopping list while an
// assistant turn is in flight, so tool calls can mutate it and the turn
// can read back the final state afterwards.
package shoplist

import (
	"context"
	"sync"

	"github.com/soyeahso/koko/internal/domain"
)

// DefaultKey names the slot used when a context carries no turn key.
const DefaultKey = "default"

// Slot is one mutable list snapshot. Seed, Read and Clear do not lock;
// callers hold Lock across any read-modify-write so concurrent tool calls
// cannot lose each other's updates.
type Slot struct {
	mu    sync.Mutex
	items []domain.ShoppingListItem
}

func (s *Slot) Lock()   { s.mu.Lock() }
func (s *Slot) Unlock() { s.mu.Unlock() }

// Seed replaces the contents with a deep copy of items.
func (s *Slot) Seed(items []domain.ShoppingListItem) {
	s.items = domain.CloneList(items)
}

// Read returns a deep copy of the current contents.
func (s *Slot) Read() []domain.ShoppingListItem {
	return domain.CloneList(s.items)
}

// Clear empties the slot.
func (s *Slot) Clear() {
	s.items = nil
}

// Store maps turn keys to slots.
type Store struct {
	mu    sync.Mutex
	slots map[string]*Slot
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{slots: make(map[string]*Slot)}
}

// Slot returns the slot for key, creating it if needed.
func (s *Store) Slot(key string) *Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[key]
	if !ok {
		slot = &Slot{}
		s.slots[key] = slot
	}
	return slot
}

// Release forgets the slot for key. Holders of the *Slot may keep using it.
func (s *Store) Release(key string) {
	s.mu.Lock()
	delete(s.slots, key)
	s.mu.Unlock()
}

// Len returns the number of live slots.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

type ctxKey struct{}

// WithKey returns a context whose tool calls operate on the slot for key.
func WithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxKey{}, key)
}

// KeyFromContext returns the slot key carried by ctx, or DefaultKey.
func KeyFromContext(ctx context.Context) string {
	if key, ok := ctx.Value(ctxKey{}).(string); ok && key != "" {
		return key
	}
	return DefaultKey
}
