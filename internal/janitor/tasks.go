package janitor

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// Sweeper evicts idle entries and reports how many it removed.
type Sweeper interface {
	Sweep() int
}

// Pruner deletes records older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SweepTask evicts idle rate-limit buckets.
func SweepTask(s Sweeper) Task {
	return Task{
		Name: "sweep_buckets",
		Run: func(context.Context) error {
			if n := s.Sweep(); n > 0 {
				logrus.WithFields(logrus.Fields{
					"function": "SweepTask",
					"evicted":  n,
				}).Debug("Evicted idle rate-limit buckets")
			}
			return nil
		},
	}
}

// PruneTask removes journal events older than retention.
func PruneTask(p Pruner, retention time.Duration, clk clock.Clock) Task {
	return Task{
		Name: "prune_journal",
		Run: func(ctx context.Context) error {
			n, err := p.Prune(ctx, clk.Now().Add(-retention))
			if err != nil {
				return err
			}
			if n > 0 {
				logrus.WithFields(logrus.Fields{
					"function": "PruneTask",
					"removed":  n,
				}).Debug("Pruned presence events")
			}
			return nil
		},
	}
}

// FuncTask wraps a step that cannot fail.
func FuncTask(name string, fn func()) Task {
	return Task{
		Name: name,
		Run: func(context.Context) error {
			fn()
			return nil
		},
	}
}
