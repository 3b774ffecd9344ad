// Package scheduler runs work the way a browser page does: one task at a
// time on a single goroutine, with timers that enqueue their callback as a
// new task when they fire.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by Do once the loop has stopped.
var ErrClosed = errors.New("scheduler: closed")

// Timer is a pending callback. Stop reports whether it prevented the call.
type Timer interface {
	Stop() bool
}

// Scheduler serializes tasks and timer callbacks.
type Scheduler interface {
	// Post enqueues fn. It never blocks and never runs fn inline.
	Post(fn func())
	// AfterFunc enqueues fn once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
	// Do runs fn as a task and waits for it to finish.
	Do(ctx context.Context, fn func()) error
}

// Loop is a Scheduler backed by one goroutine.
type Loop struct {
	logger *slog.Logger

	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

// NewLoop returns a loop that is not yet running. A nil logger falls back to
// slog.Default().
func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Run drains the queue until ctx is cancelled or Close is called. Tasks
// still queued at that point are dropped.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		l.mu.Lock()
		if l.closed {
			l.queue = nil
			l.mu.Unlock()
			return
		}
		var fn func()
		if len(l.queue) > 0 {
			fn = l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
		}
		l.mu.Unlock()

		if fn != nil {
			l.run(fn)
			continue
		}
		select {
		case <-ctx.Done():
			l.Close()
		case <-l.wake:
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("scheduler: task panicked", "panic", r)
		}
	}()
	fn()
}

// Close stops the loop after the current task.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.signal()
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Post implements Scheduler.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
}

type loopTimer struct {
	mu      sync.Mutex
	t       *time.Timer
	stopped bool
}

// Stop prevents the callback from running, including when the timer has
// fired but its task has not started yet.
func (t *loopTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	t.t.Stop()
	return true
}

func (t *loopTimer) fire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// AfterFunc implements Scheduler.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	lt := &loopTimer{}
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if lt.fire() {
				fn()
			}
		})
	})
	return lt
}

// Do implements Scheduler.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, func() {
		defer close(finished)
		fn()
	})
	l.mu.Unlock()
	l.signal()

	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
