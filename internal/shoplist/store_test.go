package shoplist

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/soyeahso/koko/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSlotSeedAndReadAreCopies(t *testing.T) {
	var slot Slot
	in := []domain.ShoppingListItem{{Name: "Milk", Quantity: 1}}
	slot.Seed(in)

	in[0].Quantity = 5
	out := slot.Read()
	assert.Equal(t, 1, out[0].Quantity, "seed must copy")

	out[0].Quantity = 7
	assert.Equal(t, 1, slot.Read()[0].Quantity, "read must copy")
}

func TestSlotClear(t *testing.T) {
	var slot Slot
	slot.Seed([]domain.ShoppingListItem{{Name: "Bread", Quantity: 1}})
	slot.Clear()
	assert.Empty(t, slot.Read())
	assert.NotNil(t, slot.Read())
}

func TestStoreSlotLifecycle(t *testing.T) {
	s := NewStore()
	a := s.Slot("turn-a")
	assert.Same(t, a, s.Slot("turn-a"))
	assert.NotSame(t, a, s.Slot("turn-b"))
	assert.Equal(t, 2, s.Len())

	s.Release("turn-a")
	s.Release("turn-a")
	assert.Equal(t, 1, s.Len())
	assert.NotSame(t, a, s.Slot("turn-a"), "released key gets a fresh slot")
}

func TestKeyFromContext(t *testing.T) {
	assert.Equal(t, DefaultKey, KeyFromContext(context.Background()))
	assert.Equal(t, DefaultKey, KeyFromContext(WithKey(context.Background(), "")))
	assert.Equal(t, "turn-1", KeyFromContext(WithKey(context.Background(), "turn-1")))
}

func TestConcurrentAddsUnderLockAccumulate(t *testing.T) {
	s := NewStore()
	slot := s.Slot("turn")
	slot.Seed(nil)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slot.Lock()
			defer slot.Unlock()
			items := slot.Read()
			name := "milk"
			if i%2 == 0 {
				name = "MILK"
			}
			items, _, _ = Add(items, name, 1, 0, false)
			slot.Seed(items)
		}(i)
	}
	wg.Wait()

	slot.Lock()
	got := slot.Read()
	slot.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, workers, got[0].Quantity)
}

func TestIsolatedSlotsDoNotShareState(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("turn-%d", i)
			slot := s.Slot(key)
			slot.Lock()
			slot.Seed([]domain.ShoppingListItem{{Name: key, Quantity: i + 1}})
			slot.Unlock()
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("turn-%d", i)
		got := s.Slot(key).Read()
		want := []domain.ShoppingListItem{{Name: key, Quantity: i + 1}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("slot %s mismatch (-want +got):\n%s", key, diff)
		}
	}
}
