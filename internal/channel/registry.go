// Package channel manages chat channels other than the HTTP gateway.
package channel

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/koko/internal/domain"
	"github.com/soyeahso/koko/internal/logging"
)

// Restart backoff for a channel whose Start fails while the registry is
// running.
const (
	minRestartDelay = time.Second
	maxRestartDelay = 30 * time.Second
)

// Registry owns the configured channels and supervises their connections.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]domain.Channel
	log      *logging.Logger

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		channels: make(map[string]domain.Channel),
		log:      log.Sub("channels"),
	}
}

// Register adds ch, replacing any channel with the same id.
func (r *Registry) Register(ch domain.Channel) {
	r.mu.Lock()
	r.channels[ch.ID()] = ch
	r.mu.Unlock()
	r.log.Info().Str("channel", ch.ID()).Msg("channel registered")
}

// Get returns a channel by id.
func (r *Registry) Get(id string) (domain.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// List returns the channel ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.channels))
}

// Count returns the number of registered channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Status reports every channel, sorted by id.
func (r *Registry) Status() []domain.ChannelStatus {
	out := make([]domain.ChannelStatus, 0, r.Count())
	for _, id := range r.List() {
		if ch, ok := r.Get(id); ok {
			out = append(out, ch.Status())
		}
	}
	return out
}

// StartAll runs every channel in the background. A channel whose Start
// returns an error is restarted with backoff until StopAll or ctx ends.
func (r *Registry) StartAll(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	r.mu.Lock()
	r.group, r.cancel = g, cancel
	chans := slices.Collect(maps.Values(r.channels))
	r.mu.Unlock()

	for _, ch := range chans {
		g.Go(func() error {
			r.supervise(ctx, ch)
			return nil
		})
	}
}

func (r *Registry) supervise(ctx context.Context, ch domain.Channel) {
	log := r.log.With("channel", ch.ID())
	delay := minRestartDelay
	for {
		log.Info().Msg("starting channel")
		started := time.Now()
		err := ch.Start(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// Start returned because Stop was called.
			return
		}
		if time.Since(started) > maxRestartDelay {
			delay = minRestartDelay
		}
		log.Error().Err(err).Dur("retryIn", delay).Msg("channel exited with error")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		delay = min(delay*2, maxRestartDelay)
	}
}

// StopAll stops every channel and waits for the supervisors to return or
// ctx to end.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	g, cancel := r.group, r.cancel
	r.group, r.cancel = nil, nil
	chans := slices.Collect(maps.Values(r.channels))
	r.mu.Unlock()

	for _, ch := range chans {
		r.log.Info().Str("channel", ch.ID()).Msg("stopping channel")
		if err := ch.Stop(ctx); err != nil {
			r.log.Error().Err(err).Str("channel", ch.ID()).Msg("failed to stop channel")
		}
	}
	if g == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.log.Warn().Msg("channels did not stop in time")
	}
}
