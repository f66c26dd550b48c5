// Package tasks runs the node's background maintenance timers:
// dedup cache GC, alerter housekeeping, metric-threshold sampling and
// the like, all cancellable via one context.
package tasks

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// Default intervals for the background housekeeping tasks. Session
// inactivity is handled per-actor (internal/session's own
// time.AfterFunc per connected session) rather than as a periodic
// task here, so it has no interval constant in this package.
const (
	DefaultDedupGCInterval      = 10 * time.Second
	DefaultAlerterInterval      = time.Hour
	DefaultMetricsCheckInterval = 60 * time.Second
)

// Func is one maintenance tick's body.
type Func func(now time.Time)

// Task pairs a maintenance Func with the interval it runs at.
type Task struct {
	Name     string
	Interval time.Duration
	Run      Func
}

// Scheduler runs a fixed set of Tasks on their own tickers until its
// context is canceled.
type Scheduler struct {
	logger *log.Logger
	tasks  []Task
}

// New returns a Scheduler that will run tasks when Start is called.
func New(logger *log.Logger, tasks ...Task) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{logger: logger.With("component", "tasks"), tasks: tasks}
}

// Start launches one goroutine per registered task; it returns
// immediately. Every goroutine exits when ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, t := range s.tasks {
		go s.run(ctx, t)
	}
}

func (s *Scheduler) run(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.logger.Debug("running task", "name", t.Name)
			t.Run(now)
		}
	}
}
