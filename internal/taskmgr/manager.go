// Package taskmgr implements C6: a fixed pool of workers draining a
// shared submission channel, accepting both fire-and-forget closures and
// context-aware tasks whose returned error the worker logs.
package taskmgr

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"endpointagent/internal/pkg/logger"
)

// ErrStopped is returned by Enqueue once the manager has been stopped;
// tasks submitted after Stop are dropped with a warning, not queued.
var ErrStopped = errors.New("task manager stopped")

// Task is a context-aware unit of work. Cancellation is cooperative: a
// Task must observe ctx itself (e.g. via its own keep_running flag) —
// the manager does not forcibly interrupt a running task.
type Task func(ctx context.Context) error

// Manager is C6: workers * a shared cooperative executor, modeled here as
// a bounded channel of Tasks drained by a fixed goroutine pool.
type Manager struct {
	tasks   chan Task
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	stopped chan struct{}
	once    sync.Once
}

// New builds a Manager with n workers (n <= 0 defaults to
// runtime.NumCPU()) and a submission queue depth of queueDepth.
func New(n int, queueDepth int) *Manager {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	m := &Manager{
		tasks:   make(chan Task, queueDepth),
		ctx:     gctx,
		cancel:  cancel,
		group:   g,
		stopped: make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		g.Go(m.worker)
	}
	return m
}

func (m *Manager) worker() error {
	for {
		select {
		case <-m.stopped:
			return nil
		case task, ok := <-m.tasks:
			if !ok {
				return nil
			}
			if err := task(m.ctx); err != nil && m.ctx.Err() == nil {
				logger.Warnf("task manager: task returned error: %v", err)
			}
		}
	}
}

// Enqueue submits a fire-and-forget closure. Submission is FIFO but
// execution order across workers is not guaranteed.
func (m *Manager) Enqueue(fn func(ctx context.Context)) error {
	return m.EnqueueTask(func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// EnqueueTask submits a context-aware Task.
func (m *Manager) EnqueueTask(t Task) error {
	select {
	case <-m.stopped:
		logger.Warnf("task manager: dropping task submitted after stop")
		return ErrStopped
	default:
	}
	select {
	case m.tasks <- t:
		return nil
	case <-m.stopped:
		logger.Warnf("task manager: dropping task submitted after stop")
		return ErrStopped
	}
}

// Stop cancels the context handed to running tasks, stops workers from
// taking further tasks, and joins all workers. Tasks still waiting in the
// submission channel may be dropped without running.
func (m *Manager) Stop() {
	m.once.Do(func() {
		close(m.stopped)
		m.cancel()
	})
	m.group.Wait()
}
