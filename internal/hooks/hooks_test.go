package hooks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/koko/internal/logging"
)

func testManager() *Manager {
	return NewManager(logging.New(nil, "silent"))
}

func TestManager_On_And_Emit(t *testing.T) {
	m := testManager()

	var called bool
	m.On(EventGatewayStart, "test", func(_ context.Context, p Payload) error {
		called = true
		assert.Equal(t, EventGatewayStart, p.Event)
		return nil
	})

	m.Emit(context.Background(), EventGatewayStart, nil)
	assert.True(t, called)
}

func TestManager_Emit_MultipleHandlers(t *testing.T) {
	m := testManager()

	var order []string
	m.On(EventTurnStarted, "first", func(_ context.Context, _ Payload) error {
		order = append(order, "first")
		return nil
	})
	m.On(EventTurnStarted, "second", func(_ context.Context, _ Payload) error {
		order = append(order, "second")
		return nil
	})

	m.Emit(context.Background(), EventTurnStarted, nil)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestManager_Emit_WithData(t *testing.T) {
	m := testManager()

	var gotData map[string]any
	m.On(EventTurnStarted, "test", func(_ context.Context, p Payload) error {
		gotData = p.Data
		return nil
	})

	m.Emit(context.Background(), EventTurnStarted, map[string]any{
		"sessionId": "s-1",
		"items":     3,
	})

	assert.Equal(t, "s-1", gotData["sessionId"])
	assert.Equal(t, 3, gotData["items"])
}

func TestManager_Emit_HandlerError(t *testing.T) {
	m := testManager()

	var secondCalled bool
	m.On(EventGatewayStart, "failing", func(_ context.Context, _ Payload) error {
		return errors.New("handler broke")
	})
	m.On(EventGatewayStart, "second", func(_ context.Context, _ Payload) error {
		secondCalled = true
		return nil
	})

	// Should not panic; second handler should still run
	m.Emit(context.Background(), EventGatewayStart, nil)
	assert.True(t, secondCalled)
}

func TestManager_Emit_NoHandlers(t *testing.T) {
	m := testManager()
	// Should not panic
	m.Emit(context.Background(), EventGatewayStop, nil)
}

func TestManager_Emit_RecoversPanics(t *testing.T) {
	m := testManager()

	var after bool
	m.On(EventGoodBuy, "boom", func(context.Context, Payload) error { panic("bad handler") })
	m.On(EventGoodBuy, "after", func(context.Context, Payload) error {
		after = true
		return nil
	})

	assert.NotPanics(t, func() {
		m.Emit(context.Background(), EventGoodBuy, map[string]any{"item": "Milk (1L)"})
	})
	assert.True(t, after)
}

func TestManager_EmitAsync_DetachesCancellation(t *testing.T) {
	m := testManager()
	got := make(chan error, 1)
	m.On(EventGoodBuy, "ctx", func(ctx context.Context, _ Payload) error {
		got <- ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.EmitAsync(ctx, EventGoodBuy, nil)

	select {
	case err := <-got:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("async handler did not run")
	}
}

func TestManager_EmitAsync(t *testing.T) {
	m := testManager()

	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)

	m.On(EventGoodBuy, "async1", func(_ context.Context, _ Payload) error {
		count.Add(1)
		wg.Done()
		return nil
	})
	m.On(EventGoodBuy, "async2", func(_ context.Context, _ Payload) error {
		count.Add(1)
		wg.Done()
		return nil
	})

	m.EmitAsync(context.Background(), EventGoodBuy, nil)

	// Wait with timeout
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handlers did not complete in time")
	}

	assert.Equal(t, int32(2), count.Load())
}

func TestManager_Events(t *testing.T) {
	m := testManager()

	m.On(EventGatewayStart, "h1", func(_ context.Context, _ Payload) error { return nil })
	m.On(EventTurnStarted, "h2", func(_ context.Context, _ Payload) error { return nil })

	assert.Equal(t, []string{EventGatewayStart, EventTurnStarted}, m.Events())
}

func TestAllEvents_NotEmpty(t *testing.T) {
	require.NotEmpty(t, AllEvents)
	assert.Contains(t, AllEvents, EventGatewayStart)
	assert.Contains(t, AllEvents, EventTurnStarted)
}

func TestManager_NilIsSafe(t *testing.T) {
	var m *Manager
	m.Emit(context.Background(), EventTurnFailed, nil)
	m.EmitAsync(context.Background(), EventTurnFailed, nil)
}

func TestManager_OnAll(t *testing.T) {
	m := testManager()
	var seen []string
	m.OnAll("audit", func(_ context.Context, p Payload) error {
		seen = append(seen, p.Event)
		return nil
	})

	m.Emit(context.Background(), EventSessionCreated, nil)
	m.Emit(context.Background(), EventSessionEvicted, map[string]any{"reason": "idle"})
	assert.Equal(t, []string{EventSessionCreated, EventSessionEvicted}, seen)
	assert.Len(t, m.Events(), len(AllEvents))
}

func TestLogHandler(t *testing.T) {
	h := LogHandler(logging.New(nil, "silent"))
	assert.NoError(t, h(context.Background(), Payload{Event: EventGoodBuy, Data: map[string]any{"item": "Milk"}}))
}
