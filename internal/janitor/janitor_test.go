package janitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int32
}

func (s *countingSweeper) Sweep() int {
	s.calls.Add(1)
	return 2
}

type recordingPruner struct {
	cutoffs chan time.Time
	err     error
}

func (p *recordingPruner) Prune(_ context.Context, before time.Time) (int64, error) {
	p.cutoffs <- before
	return 3, p.err
}

func TestNew_RejectsNonPositiveInterval(t *testing.T) {
	_, err := New(0, clock.NewMock())
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestJanitor_StartStopLifecycle(t *testing.T) {
	j, err := New(time.Minute, clock.NewMock())
	require.NoError(t, err)

	assert.ErrorIs(t, j.Stop(), ErrNotRunning)

	require.NoError(t, j.Start(context.Background()))
	assert.True(t, j.Running())
	assert.ErrorIs(t, j.Start(context.Background()), ErrAlreadyRunning)

	require.NoError(t, j.Stop())
	assert.False(t, j.Running())
	assert.ErrorIs(t, j.Stop(), ErrNotRunning)

	require.NoError(t, j.Start(context.Background()), "janitor can be restarted")
	require.NoError(t, j.Stop())
}

func TestJanitor_RunsTasksOnEachTick(t *testing.T) {
	clk := clock.NewMock()
	sweeper := &countingSweeper{}
	j, err := New(time.Minute, clk, SweepTask(sweeper))
	require.NoError(t, err)

	require.NoError(t, j.Start(context.Background()))
	defer j.Stop()

	clk.Add(30 * time.Second)
	assert.Equal(t, int32(0), sweeper.calls.Load(), "no pass before the interval elapses")

	clk.Add(30 * time.Second)
	assert.Eventually(t, func() bool { return sweeper.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	clk.Add(time.Minute)
	assert.Eventually(t, func() bool { return sweeper.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestJanitor_StopsWithContext(t *testing.T) {
	clk := clock.NewMock()
	sweeper := &countingSweeper{}
	j, err := New(time.Minute, clk, SweepTask(sweeper))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, j.Start(ctx))
	cancel()

	// Let the loop observe the cancellation before ticking.
	assert.Eventually(t, func() bool {
		select {
		case <-j.done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	clk.Add(time.Minute)
	assert.Equal(t, int32(0), sweeper.calls.Load())
	require.NoError(t, j.Stop())
}

func TestPruneTask_UsesRetentionCutoff(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	pruner := &recordingPruner{cutoffs: make(chan time.Time, 1)}

	task := PruneTask(pruner, 24*time.Hour, clk)
	require.NoError(t, task.Run(context.Background()))

	cutoff := <-pruner.cutoffs
	assert.Equal(t, time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC), cutoff.UTC())
}

func TestRunOnce_FailingTaskDoesNotStopOthers(t *testing.T) {
	pruner := &recordingPruner{cutoffs: make(chan time.Time, 1), err: errors.New("disk full")}
	var gauges atomic.Int32
	j, err := New(time.Minute, clock.NewMock(),
		PruneTask(pruner, time.Hour, clock.NewMock()),
		FuncTask("refresh_gauges", func() { gauges.Add(1) }),
	)
	require.NoError(t, err)

	j.RunOnce(context.Background())
	assert.Len(t, pruner.cutoffs, 1)
	assert.Equal(t, int32(1), gauges.Load())
}

func TestRunOnce_SkipsTasksAfterCancel(t *testing.T) {
	var runs atomic.Int32
	j, err := New(time.Minute, clock.NewMock(), FuncTask("count", func() { runs.Add(1) }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j.RunOnce(ctx)
	assert.Equal(t, int32(0), runs.Load())
}
