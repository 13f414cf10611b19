package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned by Do when the loop is not running anymore.
var ErrStopped = errors.New("dispatch loop stopped")

// Loop is the single serialized execution point of a session. Closures posted
// to it run one at a time on one goroutine, strictly in posting order. The
// queue is unbounded: nothing posted is ever dropped.
//
// Timers armed through AfterFunc fire by posting into the same queue, so
// timer callbacks never run concurrently with event handling.
type Loop struct {
	mu       sync.Mutex
	queue    []func()
	timers   map[string]timerEntry
	timerGen uint64
	stopped  bool

	wake   chan struct{}
	exited chan struct{}
	cancel context.CancelFunc
	logger *zap.Logger
}

type timerEntry struct {
	t   *time.Timer
	gen uint64
}

// New creates a loop. Call Start to begin processing.
func New(logger *zap.Logger) *Loop {
	return &Loop{
		timers: make(map[string]timerEntry),
		wake:   make(chan struct{}, 1),
		exited: make(chan struct{}),
		logger: logger,
	}
}

// Start runs the loop in a background goroutine until ctx is done or Stop is called.
func (l *Loop) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	go l.run(ctx)
}

// Stop halts the loop, cancels every timer and waits for the goroutine to exit.
// Closures still queued are discarded.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	for key, e := range l.timers {
		e.t.Stop()
		delete(l.timers, key)
	}
	l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
		<-l.exited
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.exited)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			if ctx.Err() != nil {
				return
			}
			fn()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-l.wake:
		case <-ctx.Done():
			l.logger.Debug("dispatch loop exiting")
			return
		}
	}
}

// Post enqueues fn. It never blocks. Returns false if the loop was stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from the loop goroutine itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.exited:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// AfterFunc arms the timer identified by key to run fn on the loop after d.
// Re-arming an existing key replaces the previous timer.
func (l *Loop) AfterFunc(key string, d time.Duration, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	if prev, ok := l.timers[key]; ok {
		prev.t.Stop()
	}
	l.timerGen++
	gen := l.timerGen
	t := time.AfterFunc(d, func() {
		l.Post(func() { l.fire(key, gen, fn) })
	})
	l.timers[key] = timerEntry{t: t, gen: gen}
}

// Cancel disarms the timer identified by key. Cancelling a timer that has
// already fired, or was never armed, is a no-op.
func (l *Loop) Cancel(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.timers[key]; ok {
		e.t.Stop()
		delete(l.timers, key)
	}
}

// Armed reports whether a timer for key is pending.
func (l *Loop) Armed(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.timers[key]
	return ok
}

// fire runs on the loop. A timer that was cancelled or replaced after its
// time.Timer already fired is recognized by its generation and skipped.
func (l *Loop) fire(key string, gen uint64, fn func()) {
	l.mu.Lock()
	e, ok := l.timers[key]
	if !ok || e.gen != gen {
		l.mu.Unlock()
		return
	}
	delete(l.timers, key)
	l.mu.Unlock()
	fn()
}
