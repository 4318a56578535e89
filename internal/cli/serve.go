package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/koko/internal/channel"
	"github.com/soyeahso/koko/internal/channel/irc"
	"github.com/soyeahso/koko/internal/config"
	"github.com/soyeahso/koko/internal/gateway"
	"github.com/soyeahso/koko/internal/metrics"
	"github.com/soyeahso/koko/internal/routing"
	"github.com/soyeahso/koko/internal/scheduler"
)

// ConversationForgetJob drops idle IRC conversations.
const ConversationForgetJob = "conversation-forget"

func newServeCmd() *cobra.Command {
	var (
		port   int
		bind   string
		noSeed bool
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"gateway"},
		Short:   "Start the HTTP/WebSocket gateway, chat channels and scheduler",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if err := validate(&cfg); err != nil {
				return err
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, !noSeed)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")
	cmd.Flags().BoolVar(&noSeed, "no-seed", false, "do not seed demo price history into an empty store")

	return cmd
}

func validate(cfg *config.Config) error {
	issues := config.Validate(cfg)
	if len(issues) == 0 {
		return nil
	}
	for _, issue := range issues {
		log.Error().Str("path", issue.Path).Msg(issue.Message)
	}
	return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
}

// serve runs every long-lived component until ctx is cancelled.
func serve(ctx context.Context, cfg config.Config, seed bool) error {
	m := metrics.New()
	a, err := newApp(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("closing store")
		}
	}()

	if seed {
		if err := a.seedIfEmpty(ctx); err != nil {
			log.Warn().Err(err).Msg("demo history not seeded")
		}
	}

	raw, err := config.LoadRaw(paths.Config)
	if err != nil {
		raw = make(map[string]any)
	}

	channels := channel.NewRegistry(log)
	if cfg.Channels.IRC != nil {
		channels.Register(irc.New(*cfg.Channels.IRC, log))
	}

	opts := []gateway.ServerOption{
		gateway.WithSessions(a.sessions),
		gateway.WithChannels(channels),
		gateway.WithHooks(a.hooks),
		gateway.WithMetrics(m),
		gateway.WithConfigRaw(raw),
		gateway.WithTurnTimeout(cfg.TurnTimeout()),
	}
	var chatter routing.Chatter
	if a.chat != nil {
		opts = append(opts, gateway.WithChat(a.chat))
		chatter = a.chat
	}
	srv := gateway.New(cfg.Gateway, log, opts...)

	sched := scheduler.New(log)
	jobs := []scheduler.Job{
		scheduler.SessionSweep(cfg.Session.SweepSchedule, a.sessions),
		scheduler.HistoryPrune(cfg.Store.PruneSchedule, a.history, cfg.Retention(), nil),
	}

	if channels.Count() > 0 {
		router := routing.NewRouter(channels, chatter, routing.Options{
			Scope:       cfg.Channels.Scope,
			HomeAddress: cfg.Channels.HomeAddress,
			Hooks:       a.hooks,
		}, log)
		router.Wire(ctx)
		jobs = append(jobs, scheduler.Job{
			Name:     ConversationForgetJob,
			Schedule: cfg.Session.SweepSchedule,
			Run: func(context.Context) error {
				if n := router.Forget(cfg.SessionTTL()); n > 0 {
					log.Debug().Int("conversations", n).Msg("forgot idle conversations")
				}
				return nil
			},
		})

		channels.StartAll(ctx)
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			channels.StopAll(stopCtx)
		}()
		log.Info().
			Int("channels", channels.Count()).
			Str("scope", cfg.Channels.Scope).
			Msg("message routing active")
	}

	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return err
		}
	}
	sched.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("scheduler did not stop cleanly")
		}
	}()

	log.Debug().Strs("events", a.hooks.Events()).Msg("hook handlers registered")
	return srv.Start(ctx)
}
