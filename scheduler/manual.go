package scheduler

import (
	"context"
	"sync"
	"time"
)

// Manual is a deterministic Scheduler for tests. Nothing runs until the
// test calls RunPending or Advance; time only moves through Advance.
type Manual struct {
	mu      sync.Mutex
	now     time.Duration
	seq     int
	queue   []func()
	timers  []*manualTimer
	running bool
}

type manualTimer struct {
	m       *Manual
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// NewManual returns a manual scheduler at time zero.
func NewManual() *Manual { return &Manual{} }

// Now is the elapsed virtual time.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Post implements Scheduler.
func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

// AfterFunc implements Scheduler.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, at: m.now + d, seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Do runs fn immediately, then drains any tasks it queued unless it was
// called from inside a task.
func (m *Manual) Do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	nested := m.running
	m.mu.Unlock()
	fn()
	if !nested {
		m.RunPending()
	}
	return nil
}

// RunPending runs queued tasks, including ones they queue, until the queue
// is empty. It returns how many ran.
func (m *Manual) RunPending() int {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return 0
	}
	m.running = true
	m.mu.Unlock()

	n := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.running = false
			m.mu.Unlock()
			return n
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn()
		n++
	}
}

// Advance moves virtual time forward by d, firing due timers in order and
// running the tasks they queue.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()
	m.RunPending()
	for {
		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			m.RunPending()
			return
		}
		next.stopped = true
		m.now = next.at
		m.queue = append(m.queue, next.fn)
		m.mu.Unlock()
		m.RunPending()
	}
}

func (m *Manual) nextDueLocked(limit time.Duration) *manualTimer {
	var next *manualTimer
	live := m.timers[:0]
	for _, t := range m.timers {
		if t.stopped {
			continue
		}
		live = append(live, t)
		if t.at > limit {
			continue
		}
		if next == nil || t.at < next.at || (t.at == next.at && t.seq < next.seq) {
			next = t
		}
	}
	m.timers = live
	return next
}

// Timers is the number of timers that have neither fired nor been stopped.
func (m *Manual) Timers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Queued is the number of tasks waiting to run.
func (m *Manual) Queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
