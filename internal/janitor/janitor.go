// Package janitor runs periodic housekeeping for the relay: idle bucket
// eviction, journal retention and gauge refresh.
package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// Task is one named housekeeping step.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Janitor runs its tasks in order on every tick of a clock ticker.
type Janitor struct {
	clock    clock.Clock
	interval time.Duration
	tasks    []Task

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a stopped janitor.
func New(interval time.Duration, clk clock.Clock, tasks ...Task) (*Janitor, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Janitor{
		clock:    clk,
		interval: interval,
		tasks:    tasks,
	}, nil
}

// Start launches the loop. It stops when ctx is cancelled or Stop is called.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	// Armed before Start returns.
	ticker := j.clock.Ticker(j.interval)
	j.running = true
	j.cancel = cancel
	j.done = make(chan struct{})

	logrus.WithFields(logrus.Fields{
		"function": "Janitor.Start",
		"interval": j.interval.String(),
		"tasks":    len(j.tasks),
	}).Debug("Starting janitor")

	go j.run(ctx, ticker, j.done)
	return nil
}

func (j *Janitor) run(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce runs every task once. A failing task is logged and does not
// stop the others.
func (j *Janitor) RunOnce(ctx context.Context) {
	for _, task := range j.tasks {
		if ctx.Err() != nil {
			return
		}
		if err := task.Run(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Janitor.RunOnce",
				"task":     task.Name,
				"error":    err.Error(),
			}).Warn("Housekeeping task failed")
		}
	}
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (j *Janitor) Stop() error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return ErrNotRunning
	}
	j.running = false
	cancel, done := j.cancel, j.done
	j.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Running reports whether the loop is active.
func (j *Janitor) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}
