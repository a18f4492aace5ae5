// Package task manages the goroutines of a connection: long running loops and
// interval jobs, all stopped together through one cancellable context.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-tds/logger"
)

// ErrStopped is returned when a task is started on a stopped manager.
var ErrStopped = errors.New("task manager stopped")

// LoopFunc is one iteration of a loop task. Return false to end the task.
type LoopFunc func(ctx context.Context) bool

// IntervalFunc is one run of an interval task. Return false to end the task.
type IntervalFunc func(ctx context.Context) bool

// Manager starts goroutines and stops them as a group.
//
// Stop cancels the shared context and stops every interval ticker; Wait blocks
// until all goroutines returned and then re-arms the manager so it can be
// started again, as happens when a connection is re-opened.
type Manager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex // protects ctx and cancel
	waitMu sync.RWMutex // blocks new tasks while Wait runs

	wg        sync.WaitGroup
	count     atomic.Int32
	intervals *xsync.MapOf[string, *interval]
	logger    logger.Logger
}

type interval struct {
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
}

func (iv *interval) halt() {
	iv.once.Do(func() {
		iv.ticker.Stop()
		close(iv.stop)
	})
}

// NewManager creates a manager whose tasks end when ctx is cancelled.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	if l == nil {
		l = logger.GetLogger()
	}

	mgr := &Manager{
		pctx:      ctx,
		intervals: xsync.NewMapOf[string, *interval](),
		logger:    l,
	}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context shared by the running tasks.
func (mgr *Manager) Context() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Loop runs fn repeatedly in a new goroutine until fn returns false or the
// manager is stopped. onExit, when not nil, runs when the goroutine ends.
func (mgr *Manager) Loop(name string, fn LoopFunc, onExit func()) error {
	ctx, err := mgr.begin(name)
	if err != nil {
		return err
	}

	mgr.spawn(name, func() {
		if onExit != nil {
			defer onExit()
		}

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if !mgr.safeCall(ctx, name, fn) {
				return
			}
		}
	})

	return nil
}

// Every runs fn every period in a new goroutine until fn returns false, the
// interval is cancelled with Cancel, or the manager is stopped. When runNow is
// set fn runs once on the calling goroutine first; if that run returns false the
// interval is not started.
func (mgr *Manager) Every(name string, period time.Duration, fn IntervalFunc, runNow bool) error {
	if period <= 0 {
		return fmt.Errorf("task %s: invalid interval %v", name, period)
	}

	ctx, err := mgr.begin(name)
	if err != nil {
		return err
	}

	iv := &interval{ticker: time.NewTicker(period), stop: make(chan struct{})}
	if _, loaded := mgr.intervals.LoadOrStore(name, iv); loaded {
		iv.ticker.Stop()
		return fmt.Errorf("task %s: interval already running", name)
	}

	if runNow && !mgr.safeCall(ctx, name, fn) {
		mgr.intervals.Delete(name)
		iv.halt()

		return nil
	}

	mgr.logger.Debug("interval task started", "name", name, "interval", period)

	mgr.spawn(name, func() {
		defer func() {
			mgr.intervals.Compute(name, func(cur *interval, loaded bool) (*interval, bool) {
				// only remove our own registration
				return cur, !loaded || cur == iv
			})
			iv.halt()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-iv.stop:
				return
			case <-iv.ticker.C:
				if !mgr.safeCall(ctx, name, fn) {
					return
				}
			}
		}
	})

	return nil
}

// Cancel stops the named interval task. It does not wait for a run in progress.
func (mgr *Manager) Cancel(name string) bool {
	iv, ok := mgr.intervals.LoadAndDelete(name)
	if !ok {
		return false
	}
	iv.halt()

	return true
}

// Stop cancels every task.
func (mgr *Manager) Stop() {
	mgr.intervals.Range(func(_ string, iv *interval) bool {
		iv.halt()
		return true
	})

	mgr.mu.Lock()
	mgr.cancel()
	mgr.mu.Unlock()
}

// Wait blocks until every task returned, then re-arms the manager.
func (mgr *Manager) Wait() {
	mgr.waitMu.Lock()
	defer mgr.waitMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// Count returns the number of running task goroutines.
func (mgr *Manager) Count() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) begin(name string) (context.Context, error) {
	ctx := mgr.Context()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("task %s: %w", name, ErrStopped)
	}

	return ctx, nil
}

func (mgr *Manager) spawn(name string, body func()) {
	mgr.waitMu.RLock()
	defer mgr.waitMu.RUnlock()

	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer func() {
			mgr.count.Add(-1)
			mgr.wg.Done()
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.Count())
		}()

		body()
	}()
}

// safeCall runs fn and turns a panic into a logged error that ends the task.
func (mgr *Manager) safeCall(ctx context.Context, name string, fn func(context.Context) bool) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			keep = false
		}
	}()

	return fn(ctx)
}
