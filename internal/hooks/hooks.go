// Package hooks dispatches Koko lifecycle events to registered handlers.
package hooks

import (
	"context"
	"slices"
	"sync"

	"github.com/soyeahso/koko/internal/logging"
)

// Event names for the hook system.
const (
	EventTurnStarted     = "turn_started"
	EventTurnFinished    = "turn_finished"
	EventTurnFailed      = "turn_failed"
	EventSessionCreated  = "session_created"
	EventSessionEvicted  = "session_evicted"
	EventGoodBuy         = "good_buy"
	EventMessageReceived = "message_received"
	EventMessageSending  = "message_sending"
	EventGatewayStart    = "gateway_start"
	EventGatewayStop     = "gateway_stop"
)

// AllEvents lists all known hook event names.
var AllEvents = []string{
	EventTurnStarted,
	EventTurnFinished,
	EventTurnFailed,
	EventSessionCreated,
	EventSessionEvicted,
	EventGoodBuy,
	EventMessageReceived,
	EventMessageSending,
	EventGatewayStart,
	EventGatewayStop,
}

// Payload carries event data to hook handlers.
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler is a function that handles a hook event.
// Returning an error logs the failure but does not stop processing.
type Handler func(ctx context.Context, p Payload) error

// Manager manages hook registrations and dispatches events. A nil
// *Manager is valid and drops every event.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a handler for the given event.
// The name identifies the handler for logging and debugging. Registering
// on a nil Manager is a no-op.
func (m *Manager) On(event, name string, handler Handler) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// OnAll registers handler for every known event.
func (m *Manager) OnAll(name string, handler Handler) {
	for _, ev := range AllEvents {
		m.On(ev, name, handler)
	}
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.handlers[event])
}

// invoke runs one handler. Errors and panics are logged and swallowed so
// one broken handler cannot take down the caller.
func (m *Manager) invoke(ctx context.Context, h namedHandler, p Payload) {
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Error().Interface("panic", rec).Str("event", p.Event).Str("handler", h.name).Msg("hook handler panicked")
		}
	}()
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().Err(err).Str("event", p.Event).Str("handler", h.name).Msg("hook handler error")
	}
}

// Emit runs the handlers for event in registration order and returns when
// they are done.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	p := Payload{Event: event, Data: data}
	for _, h := range m.snapshot(event) {
		m.invoke(ctx, h, p)
	}
}

// EmitAsync runs the handlers for event in the background, one goroutine
// each. The context is detached from the caller's cancellation.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	p := Payload{Event: event, Data: data}
	for _, h := range m.snapshot(event) {
		go m.invoke(ctx, h, p)
	}
}

// Events returns the sorted events that have at least one handler.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []string
	for event, handlers := range m.handlers {
		if len(handlers) > 0 {
			events = append(events, event)
		}
	}
	slices.Sort(events)
	return events
}

// LogHandler writes every event it receives to log at debug level.
func LogHandler(log *logging.Logger) Handler {
	log = log.Sub("events")
	return func(_ context.Context, p Payload) error {
		ev := log.Debug().Str("event", p.Event)
		for k, v := range p.Data {
			ev = ev.Interface(k, v)
		}
		ev.Msg("event")
		return nil
	}
}
