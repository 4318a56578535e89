package agent

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/koko/internal/llm"
	"github.com/soyeahso/koko/internal/logging"
)

// DefaultCooldown is how long a model that failed with a retryable error
// is skipped before it is tried again.
const DefaultCooldown = 30 * time.Second

// FailoverClient tries an ordered list of models and moves to the next on
// retryable errors. A model that just failed that way sits out the
// cooldown, unless every model is cooling down.
type FailoverClient struct {
	registry *llm.Registry
	models   []string
	log      *logging.Logger

	Cooldown time.Duration
	Now      func() time.Time

	mu        sync.Mutex
	coolUntil map[string]time.Time
}

// NewFailoverClient creates a client that tries primary, then fallbacks in
// order. Duplicate and empty names are dropped.
func NewFailoverClient(registry *llm.Registry, primary string, fallbacks []string, log *logging.Logger) *FailoverClient {
	var models []string
	for _, m := range append([]string{primary}, fallbacks...) {
		if m != "" && !slices.Contains(models, m) {
			models = append(models, m)
		}
	}
	return &FailoverClient{
		registry:  registry,
		models:    models,
		log:       log.Sub("failover"),
		Cooldown:  DefaultCooldown,
		Now:       time.Now,
		coolUntil: make(map[string]time.Time),
	}
}

func (f *FailoverClient) Name() string { return "failover" }

// order returns the models to try: ready ones first, then cooling ones.
func (f *FailoverClient) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.Now()
	ready := make([]string, 0, len(f.models))
	var cooling []string
	for _, m := range f.models {
		if until, ok := f.coolUntil[m]; ok && now.Before(until) {
			cooling = append(cooling, m)
			continue
		}
		delete(f.coolUntil, m)
		ready = append(ready, m)
	}
	return append(ready, cooling...)
}

func (f *FailoverClient) coolDown(model string) {
	if f.Cooldown <= 0 {
		return
	}
	f.mu.Lock()
	f.coolUntil[model] = f.Now().Add(f.Cooldown)
	f.mu.Unlock()
}

// Complete sends req to the first model that answers.
func (f *FailoverClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var lastErr error
	for _, model := range f.order() {
		client, err := f.registry.Resolve(model)
		if err != nil {
			f.log.Debug().Str("model", model).Err(err).Msg("no provider for model, skipping")
			lastErr = err
			continue
		}

		req.Model = model
		resp, err := client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}
		if isRetryable(err) {
			f.coolDown(model)
			f.log.Warn().Str("model", model).Err(err).Msg("retryable error, trying next provider")
			continue
		}
		return nil, err
	}
	if lastErr == nil {
		lastErr = errors.New("no LLM provider: no models configured")
	}
	return nil, lastErr
}

// isRetryable checks if the error suggests trying another provider.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var provErr *llm.ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests,
			http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, 529:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "capacity") ||
		strings.Contains(msg, "connection refused")
}
