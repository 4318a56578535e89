package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/soyeahso/koko/internal/agent"
	"github.com/soyeahso/koko/internal/chat"
	"github.com/soyeahso/koko/internal/config"
	"github.com/soyeahso/koko/internal/hooks"
	"github.com/soyeahso/koko/internal/llm"
	"github.com/soyeahso/koko/internal/metrics"
	"github.com/soyeahso/koko/internal/pricing"
	"github.com/soyeahso/koko/internal/scheduler"
	"github.com/soyeahso/koko/internal/session"
	"github.com/soyeahso/koko/internal/shoplist"
	"github.com/soyeahso/koko/internal/store"
	"github.com/soyeahso/koko/internal/tools"
)

// historyStore is what the price history backends have in common.
type historyStore interface {
	pricing.HistoryStore
	store.BulkAppender
	scheduler.Pruner
}

// observationCounter is implemented by backends that can count rows.
type observationCounter interface {
	Count(ctx context.Context) (int64, error)
}

// openHistory opens the configured price history backend.
func openHistory(ctx context.Context, cfg *config.Config) (historyStore, func() error, error) {
	switch cfg.Store.Driver {
	case "redis":
		rdb, err := store.DialRedis(ctx, cfg.Store.Redis.Address, cfg.Store.Redis.Password, cfg.Store.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("address", cfg.Store.Redis.Address).Msg("using redis price history")
		return store.NewRedisPriceHistory(rdb), rdb.Close, nil
	default:
		path := cfg.Store.Path
		if path == "" {
			path = paths.PriceDB()
		}
		db, err := store.Open(path, log)
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}
		return store.NewPriceHistory(db), db.Close, nil
	}
}

// app is the assembled assistant: storage, pricing, tools, sessions and
// the orchestrator. chat is nil when no LLM provider is configured.
type app struct {
	cfg      config.Config
	history  historyStore
	oracle   *pricing.Oracle
	lists    *shoplist.Store
	sessions *session.Registry
	chat     *chat.Orchestrator
	hooks    *hooks.Manager
	metrics  *metrics.Metrics
	closers  []func() error
}

// newApp builds every component from cfg. m may be nil.
func newApp(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*app, error) {
	a := &app{
		cfg:     cfg,
		hooks:   hooks.NewManager(log),
		metrics: m,
		lists:   shoplist.NewStore(),
	}
	a.hooks.OnAll("log", hooks.LogHandler(log))

	history, closeHistory, err := openHistory(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	a.history = history
	a.closers = append(a.closers, closeHistory)

	a.oracle = pricing.NewOracle(history, pricing.Config{
		ReferenceStore: cfg.Pricing.ReferenceStore,
		Window:         cfg.PricingWindow(),
	}, log)

	manage := tools.NewManageList(a.lists, a.oracle, log)
	manage.OnGoodBuy = func(ctx context.Context, item string, price float64) {
		m.GoodBuy()
		a.hooks.EmitAsync(ctx, hooks.EventGoodBuy, map[string]any{"item": item, "price": price})
	}
	toolset := agent.NewToolRegistry(manage)
	for _, t := range tools.Lookups(tools.OptionsFromConfig(&cfg), log) {
		toolset.Register(t)
	}

	providers := llm.NewRegistryFromConfig(cfg.LLM, log)
	var client llm.Client
	model := cfg.LLM.Model
	if !providers.Empty() {
		if model == "" {
			model = providers.List()[0]
		}
		client = agent.NewFailoverClient(providers, model, cfg.LLM.Fallbacks, log)
		log.Info().Strs("providers", providers.List()).Str("model", model).Msg("LLM providers available")
	} else {
		log.Warn().Msg("no LLM provider configured, chat will be unavailable")
	}

	factory := func(sessionID string) agent.Engine {
		return agent.NewAgent(agent.Config{
			Name:              cfg.Assistant.Name,
			Model:             model,
			MaxTokens:         cfg.LLM.MaxTokens,
			Temperature:       cfg.LLM.Temperature,
			MaxToolIterations: cfg.Assistant.MaxToolIterations,
			ToolObserver:      m.ObserveTool,
		}, client, toolset, log.With("session", sessionID))
	}

	a.sessions = session.NewRegistry(factory, session.Options{
		TTL:         cfg.SessionTTL(),
		MaxSessions: cfg.Session.MaxSessions,
		OnCreated: func(id string) {
			m.SessionCreated()
			a.hooks.Emit(ctx, hooks.EventSessionCreated, map[string]any{"sessionId": id})
		},
		OnEvicted: func(id, reason string) {
			m.SessionEvicted(reason)
			a.hooks.Emit(ctx, hooks.EventSessionEvicted, map[string]any{"sessionId": id, "reason": reason})
		},
	}, log)
	m.TrackSessions(a.sessions.Len)

	if client != nil {
		a.chat = chat.NewOrchestrator(a.sessions, a.lists, chat.Options{
			TurnTimeout: cfg.TurnTimeout(),
			Hooks:       a.hooks,
			Metrics:     m,
		}, log)
	}
	return a, nil
}

// seedIfEmpty loads demo history when the backend reports no rows.
func (a *app) seedIfEmpty(ctx context.Context) error {
	counter, ok := a.history.(observationCounter)
	if !ok {
		return nil
	}
	n, err := counter.Count(ctx)
	if err != nil || n > 0 {
		return err
	}
	written, err := store.SeedDemoHistory(ctx, a.history, now(), newRand())
	if err != nil {
		return fmt.Errorf("seeding demo history: %w", err)
	}
	log.Info().Int("observations", written).Msg("seeded demo price history")
	return nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
