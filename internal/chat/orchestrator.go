// Package chat runs one conversational turn: it resolves the session,
// seeds the turn's shopping list, invokes the session's engine and
// reconciles the final list with the reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/koko/internal/agent"
	"github.com/soyeahso/koko/internal/domain"
	"github.com/soyeahso/koko/internal/hooks"
	"github.com/soyeahso/koko/internal/logging"
	"github.com/soyeahso/koko/internal/metrics"
	"github.com/soyeahso/koko/internal/shoplist"
)

// Caller-facing errors. Details stay in the logs.
var (
	ErrAssistant    = errors.New("The AI assistant encountered an error. Please try again.")
	ErrUnavailable  = errors.New("The AI assistant is temporarily unavailable. Please try again shortly.")
	ErrEmptyMessage = errors.New("message is required")
)

// DefaultTurnTimeout bounds one engine invocation.
const DefaultTurnTimeout = 120 * time.Second

// TurnRequest is one user message plus the client's view of the list.
type TurnRequest struct {
	Message      string                    `json:"message"`
	ShoppingList []domain.ShoppingListItem `json:"shoppingList"`
	SessionID    string                    `json:"sessionId,omitempty"`
	HomeAddress  string                    `json:"homeAddress,omitempty"`
}

// TurnResult is the reply and the list after the turn.
type TurnResult struct {
	Reply       string                    `json:"reply"`
	UpdatedList []domain.ShoppingListItem `json:"updatedList"`
	SessionID   string                    `json:"sessionId"`
}

// Sessions resolves a session id to its engine.
type Sessions interface {
	ResolveOrCreate(id string) (sessionID string, engine agent.Engine, created bool)
}

// Options configures an Orchestrator.
type Options struct {
	TurnTimeout time.Duration
	Hooks       *hooks.Manager
	Metrics     *metrics.Metrics
}

// Orchestrator runs turns. It is safe for concurrent use; each turn gets
// its own list slot.
type Orchestrator struct {
	sessions Sessions
	lists    *shoplist.Store
	opts     Options
	log      *logging.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(sessions Sessions, lists *shoplist.Store, opts Options, log *logging.Logger) *Orchestrator {
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = DefaultTurnTimeout
	}
	return &Orchestrator{
		sessions: sessions,
		lists:    lists,
		opts:     opts,
		log:      log.Sub("chat"),
	}
}

var thinkingRe = regexp.MustCompile(`(?s)<thinking>.*?</thinking>\s*`)

// Turn processes one message. Engine failures are logged in full and
// returned as ErrAssistant, or ErrUnavailable when the turn timed out.
func (o *Orchestrator) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	start := time.Now()

	sessionID, engine, created := o.sessions.ResolveOrCreate(req.SessionID)
	log := o.log.With("sessionId", sessionID)
	log.Info().
		Bool("newSession", created).
		Int("items", len(req.ShoppingList)).
		Bool("homeAddress", req.HomeAddress != "").
		Str("message", truncate(req.Message, 100)).
		Msg("processing chat message")

	o.opts.Hooks.Emit(ctx, hooks.EventTurnStarted, map[string]any{
		"sessionId": sessionID,
		"items":     len(req.ShoppingList),
	})

	prompt := ComposePrompt(req)
	raw, final, err := o.invoke(ctx, engine, prompt, req.ShoppingList)
	if err != nil {
		outcome, userErr := metrics.OutcomeError, ErrAssistant
		if errors.Is(err, context.DeadlineExceeded) {
			outcome, userErr = metrics.OutcomeUnavailable, ErrUnavailable
		}
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("chat agent error")
		o.opts.Metrics.ObserveTurn(outcome, time.Since(start))
		o.opts.Hooks.Emit(ctx, hooks.EventTurnFailed, map[string]any{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
		return nil, userErr
	}

	reply := strings.TrimSpace(thinkingRe.ReplaceAllString(raw, ""))
	reconciled := Reconcile(final, reply)
	o.opts.Metrics.PricesBackfilled(countBackfilled(final, reconciled))

	log.Info().
		Int("items", len(reconciled)).
		Dur("duration", time.Since(start)).
		Msg("turn complete")
	o.opts.Metrics.ObserveTurn(metrics.OutcomeOK, time.Since(start))
	o.opts.Hooks.Emit(ctx, hooks.EventTurnFinished, map[string]any{
		"sessionId": sessionID,
		"items":     len(reconciled),
	})

	return &TurnResult{
		Reply:       reply,
		UpdatedList: reconciled,
		SessionID:   sessionID,
	}, nil
}

// invoke seeds a fresh slot, runs the engine against it and always harvests
// and releases the slot, even when the engine fails or panics.
func (o *Orchestrator) invoke(ctx context.Context, engine agent.Engine, prompt string, seed []domain.ShoppingListItem) (reply string, final []domain.ShoppingListItem, err error) {
	key := uuid.NewString()
	slot := o.lists.Slot(key)

	slot.Lock()
	slot.Seed(seed)
	slot.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panicked: %v", r)
		}
		slot.Lock()
		final = slot.Read()
		slot.Clear()
		slot.Unlock()
		o.lists.Release(key)
	}()

	tctx, cancel := context.WithTimeout(shoplist.WithKey(ctx, key), o.opts.TurnTimeout)
	defer cancel()

	reply, err = engine.Invoke(tctx, prompt)
	if err == nil && tctx.Err() != nil {
		err = tctx.Err()
	}
	return reply, final, err
}

func countBackfilled(before, after []domain.ShoppingListItem) int {
	n := 0
	for i := range before {
		if !before[i].HasPrice() && after[i].HasPrice() {
			n++
		}
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
