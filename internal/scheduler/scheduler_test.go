package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/soyeahso/koko/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingSweeper struct{ calls atomic.Int32 }

func (c *countingSweeper) Sweep() int { c.calls.Add(1); return 0 }

type recordingPruner struct {
	cutoff time.Time
	err    error
}

func (r *recordingPruner) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.cutoff = cutoff
	return 3, r.err
}

func TestAddValidates(t *testing.T) {
	s := New(logging.Nop())
	assert.Error(t, s.Add(Job{Schedule: "@daily", Run: func(context.Context) error { return nil }}))
	assert.Error(t, s.Add(Job{Name: "x", Schedule: "@daily"}))
	assert.Error(t, s.Add(Job{Name: "bad", Schedule: "not a schedule", Run: func(context.Context) error { return nil }}))

	require.NoError(t, s.Add(SessionSweep("@every 5m", &countingSweeper{})))
	assert.Error(t, s.Add(SessionSweep("@hourly", &countingSweeper{})), "duplicate name")
	assert.Equal(t, []string{SessionSweepJob}, s.Jobs())
}

func TestEmptyScheduleDisablesJob(t *testing.T) {
	s := New(logging.Nop())
	require.NoError(t, s.Add(SessionSweep("", &countingSweeper{})))
	assert.Empty(t, s.Jobs())
	assert.Error(t, s.RunNow(context.Background(), SessionSweepJob))
}

func TestRunNow(t *testing.T) {
	s := New(logging.Nop())
	sw := &countingSweeper{}
	require.NoError(t, s.Add(SessionSweep("@daily", sw)))
	require.NoError(t, s.RunNow(context.Background(), SessionSweepJob))
	assert.EqualValues(t, 1, sw.calls.Load())
}

func TestHistoryPruneCutoff(t *testing.T) {
	now := time.Date(2025, 3, 29, 12, 0, 0, 0, time.UTC)
	p := &recordingPruner{}
	job := HistoryPrune("@daily", p, 28*24*time.Hour, func() time.Time { return now })
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now.AddDate(0, 0, -28), p.cutoff)

	p.err = errors.New("disk full")
	s := New(logging.Nop())
	require.NoError(t, s.Add(job))
	assert.ErrorContains(t, s.RunNow(context.Background(), HistoryPruneJob), "disk full")
}

func TestScheduledJobFires(t *testing.T) {
	s := New(logging.Nop())
	sw := &countingSweeper{}
	require.NoError(t, s.Add(SessionSweep("@every 1s", sw)))
	s.Start()
	s.Start()

	require.Eventually(t, func() bool { return sw.calls.Load() > 0 }, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx), "second stop is a no-op")
}

func TestPanickingJobIsRecovered(t *testing.T) {
	s := New(logging.Nop())
	var after atomic.Int32
	require.NoError(t, s.Add(Job{Name: "boom", Schedule: "@every 1s", Run: func(context.Context) error {
		after.Add(1)
		panic("boom")
	}}))
	s.Start()
	require.Eventually(t, func() bool { return after.Load() >= 2 }, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
