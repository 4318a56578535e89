// Package scheduler runs Koko's periodic maintenance jobs on cron
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/soyeahso/koko/internal/logging"
)

// Job is a named unit of periodic work. An empty Schedule disables it.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Parser accepts five-field specs and descriptors such as "@every 5m".
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler owns a cron instance. Jobs never overlap with themselves and a
// panicking job is logged and recovered.
type Scheduler struct {
	cron *cron.Cron
	log  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]Job
	running bool
}

// New creates a stopped scheduler.
func New(log *logging.Logger) *Scheduler {
	log = log.Sub("scheduler")
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
		),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]Job),
	}
}

// Add registers a job. Jobs with an empty schedule are skipped.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("scheduler: job needs a name and a run func")
	}
	if job.Schedule == "" {
		s.log.Info().Str("job", job.Name).Msg("job disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("scheduler: job %q already registered", job.Name)
	}
	if _, err := s.cron.AddFunc(job.Schedule, func() { s.run(s.ctx, job) }); err != nil {
		return fmt.Errorf("scheduler: job %q: %w", job.Name, err)
	}
	s.jobs[job.Name] = job
	s.log.Debug().Str("job", job.Name).Str("schedule", job.Schedule).Msg("job registered")
	return nil
}

// RunNow runs a registered job synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	return s.run(ctx, job)
}

// Jobs returns registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Start begins firing jobs. It is a no-op when already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
}

// Stop halts the schedule, cancels running jobs and waits for them or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	start := time.Now()
	err := job.Run(ctx)
	ev := s.log.Debug()
	if err != nil {
		ev = s.log.Warn().Err(err)
	}
	ev.Str("job", job.Name).Dur("duration", time.Since(start)).Msg("job finished")
	return err
}

// cronLogger adapts the logger to cron.Logger.
type cronLogger struct {
	log *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
