// Package session keeps one reasoning engine per conversation session and
// reclaims sessions that go idle.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/koko/internal/agent"
	"github.com/soyeahso/koko/internal/logging"
)

// DefaultTTL is how long a session may sit idle before it is swept.
const DefaultTTL = 30 * time.Minute

// Eviction reasons passed to Options.OnEvicted.
const (
	ReasonIdle     = "idle"
	ReasonCapacity = "capacity"
)

// EngineFactory builds a fresh engine for a new session.
type EngineFactory func(sessionID string) agent.Engine

// Options tunes a Registry. Zero values pick defaults.
type Options struct {
	TTL time.Duration
	// MaxSessions caps live sessions; 0 means unbounded. When full, the
	// least recently active session is evicted.
	MaxSessions int
	// Now defaults to time.Now.
	Now       func() time.Time
	OnCreated func(sessionID string)
	OnEvicted func(sessionID, reason string)
}

type entry struct {
	id         string
	engine     agent.Engine
	created    time.Time
	lastActive time.Time
}

// Info describes a live session.
type Info struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`
}

// Registry maps session ids to engines. It is safe for concurrent use.
type Registry struct {
	factory EngineFactory
	opts    Options
	log     *logging.Logger

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry(factory EngineFactory, opts Options, log *logging.Logger) *Registry {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		factory:  factory,
		opts:     opts,
		log:      log.Sub("session"),
		sessions: make(map[string]*entry),
	}
}

type eviction struct {
	id     string
	reason string
}

// ResolveOrCreate returns the engine for id, refreshing its activity time.
// Expired sessions are swept first. An empty or unknown id gets a new
// session with a fresh engine; created reports whether that happened.
func (r *Registry) ResolveOrCreate(id string) (sessionID string, engine agent.Engine, created bool) {
	now := r.opts.Now()

	r.mu.Lock()
	evicted := r.sweepLocked(now)

	if id != "" {
		if e, ok := r.sessions[id]; ok {
			e.lastActive = now
			r.mu.Unlock()
			r.notify(evicted, "")
			return e.id, e.engine, false
		}
	}

	if r.opts.MaxSessions > 0 {
		for len(r.sessions) >= r.opts.MaxSessions {
			lru := r.oldestLocked()
			delete(r.sessions, lru)
			evicted = append(evicted, eviction{id: lru, reason: ReasonCapacity})
		}
	}

	e := &entry{
		id:         uuid.NewString(),
		created:    now,
		lastActive: now,
	}
	e.engine = r.factory(e.id)
	r.sessions[e.id] = e
	total := len(r.sessions)
	r.mu.Unlock()

	r.log.Info().Str("sessionId", e.id).Str("requested", id).Int("sessions", total).Msg("created session")
	r.notify(evicted, e.id)
	return e.id, e.engine, true
}

// Get returns the engine for a live session without refreshing it.
func (r *Registry) Get(id string) (agent.Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok || r.expired(e, r.opts.Now()) {
		return nil, false
	}
	return e.engine, true
}

// Sweep drops every session idle longer than the TTL and returns how many
// were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	evicted := r.sweepLocked(r.opts.Now())
	r.mu.Unlock()
	r.notify(evicted, "")
	return len(evicted)
}

// Len returns the number of sessions held, including any not yet swept.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns live sessions, most recently active first.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, Info{ID: e.id, CreatedAt: e.created, LastActive: e.lastActive})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActive.After(out[j].LastActive) })
	return out
}

func (r *Registry) expired(e *entry, now time.Time) bool {
	return now.Sub(e.lastActive) > r.opts.TTL
}

func (r *Registry) sweepLocked(now time.Time) []eviction {
	var out []eviction
	for id, e := range r.sessions {
		if r.expired(e, now) {
			delete(r.sessions, id)
			out = append(out, eviction{id: id, reason: ReasonIdle})
		}
	}
	return out
}

func (r *Registry) oldestLocked() string {
	var oldest *entry
	for _, e := range r.sessions {
		if oldest == nil || e.lastActive.Before(oldest.lastActive) {
			oldest = e
		}
	}
	return oldest.id
}

// notify runs callbacks outside the lock.
func (r *Registry) notify(evicted []eviction, created string) {
	for _, ev := range evicted {
		r.log.Debug().Str("sessionId", ev.id).Str("reason", ev.reason).Msg("evicted session")
		if r.opts.OnEvicted != nil {
			r.opts.OnEvicted(ev.id, ev.reason)
		}
	}
	if created != "" && r.opts.OnCreated != nil {
		r.opts.OnCreated(created)
	}
}
