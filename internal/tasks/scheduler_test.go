package tasks_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/na7dx/packetnode/internal/tasks"
)

func TestSchedulerRunsRegisteredTask(t *testing.T) {
	var count int64
	s := tasks.New(nil, tasks.Task{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Run:      func(now time.Time) { atomic.AddInt64(&count, 1) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()

	assert.Greater(t, atomic.LoadInt64(&count), int64(0))
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	var count int64
	s := tasks.New(nil, tasks.Task{
		Name:     "tick",
		Interval: 5 * time.Millisecond,
		Run:      func(now time.Time) { atomic.AddInt64(&count, 1) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	stopped := atomic.LoadInt64(&count)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt64(&count))
}
