// Package watcher schedules a highlight re-apply after the document stops
// changing. Only batches that insert text count; each one restarts a single
// quiet-period timer, so a burst of page rewrites costs one re-apply.
package watcher

import (
	"log/slog"
	"time"

	"github.com/hazyhaar/phrasemark/dom"
	"github.com/hazyhaar/phrasemark/mutation"
	"github.com/hazyhaar/phrasemark/scheduler"
)

// DefaultWindow is the quiet period before a re-apply.
const DefaultWindow = 500 * time.Millisecond

// Config controls the watcher.
type Config struct {
	// Window is the debounce quiet period. Default: 500ms.
	Window time.Duration
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Watcher debounces qualifying mutation batches into re-apply calls. Its
// methods must run on the scheduler that fires its timer.
type Watcher struct {
	cfg     Config
	sched   scheduler.Scheduler
	reapply func()

	timer      scheduler.Timer
	disconnect func()
	stopped    bool

	batches   int
	qualified int
	fired     int
}

// New returns a watcher that calls reapply on sched once the window has
// elapsed since the latest qualifying batch.
func New(sched scheduler.Scheduler, reapply func(), cfg Config) *Watcher {
	cfg.defaults()
	return &Watcher{cfg: cfg, sched: sched, reapply: reapply}
}

// Attach subscribes to doc's mutation records. Only the first call has an
// effect.
func (w *Watcher) Attach(doc *dom.Document) {
	if w.disconnect != nil || w.stopped {
		return
	}
	w.disconnect = doc.Observe(w.Notify)
}

// Notify feeds one batch of records, from the in-process document or from a
// browser's DOM events.
func (w *Watcher) Notify(records []mutation.Record) {
	if w.stopped {
		return
	}
	w.batches++
	if !mutation.Qualifies(records) {
		return
	}
	w.qualified++
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = w.sched.AfterFunc(w.cfg.Window, w.fire)
	w.cfg.Logger.Debug("watcher: re-apply scheduled", "records", len(records), "window", w.cfg.Window)
}

func (w *Watcher) fire() {
	w.timer = nil
	if w.stopped {
		return
	}
	w.fired++
	w.cfg.Logger.Debug("watcher: re-apply", "batches", w.batches, "qualified", w.qualified)
	w.reapply()
}

// Pending reports whether a re-apply is scheduled.
func (w *Watcher) Pending() bool { return w.timer != nil }

// Fired is the number of re-applies triggered so far.
func (w *Watcher) Fired() int { return w.fired }

// Stop cancels any scheduled re-apply and unsubscribes. It is safe to call
// more than once.
func (w *Watcher) Stop() {
	if w.stopped {
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.disconnect != nil {
		w.disconnect()
		w.disconnect = nil
	}
}
