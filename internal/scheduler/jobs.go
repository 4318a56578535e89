package scheduler

import (
	"context"
	"time"
)

// Job names.
const (
	SessionSweepJob = "session-sweep"
	HistoryPruneJob = "history-prune"
)

// Sweeper drops idle sessions and reports how many went.
type Sweeper interface {
	Sweep() int
}

// Pruner deletes price observations older than cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionSweep builds the job that evicts idle sessions.
func SessionSweep(schedule string, sessions Sweeper) Job {
	return Job{
		Name:     SessionSweepJob,
		Schedule: schedule,
		Run: func(context.Context) error {
			sessions.Sweep()
			return nil
		},
	}
}

// HistoryPrune builds the job that deletes observations older than
// retention. A nil now uses time.Now.
func HistoryPrune(schedule string, history Pruner, retention time.Duration, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	return Job{
		Name:     HistoryPruneJob,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			_, err := history.PruneBefore(ctx, now().Add(-retention))
			return err
		},
	}
}
