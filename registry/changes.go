package registry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// VersionFunc reads a token that changes whenever the registry is written.
type VersionFunc func(ctx context.Context) (int64, error)

// WatchOptions tunes a Watcher.
type WatchOptions struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the callback runs.
	// 0 fires on the first poll that sees the change.
	Debounce time.Duration
	Logger   *slog.Logger
}

func (o *WatchOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls a version token and calls back when it moves, so pages can
// re-apply after another process edits the phrase map.
type Watcher struct {
	version VersionFunc
	opts    WatchOptions

	current atomic.Int64
	changes atomic.Int64
}

// NewWatcher returns a watcher over version. Call OnChange to start it.
func NewWatcher(version VersionFunc, opts WatchOptions) *Watcher {
	opts.defaults()
	w := &Watcher{version: version, opts: opts}
	w.current.Store(-1)
	return w
}

// WatchSQLite watches the write version of an SQLite store.
func WatchSQLite(s *SQLite, opts WatchOptions) *Watcher {
	return NewWatcher(s.Version, opts)
}

// Changes is the number of callbacks run so far.
func (w *Watcher) Changes() int64 { return w.changes.Load() }

// OnChange blocks until ctx is cancelled. When the version differs from the
// last one acted on and stays put for the debounce window, fn runs. If fn
// fails the version is not recorded and the next poll retries.
func (w *Watcher) OnChange(ctx context.Context, fn func(context.Context) error) {
	log := w.opts.Logger
	if v, err := w.version(ctx); err != nil {
		log.Warn("registry: initial version check failed", "error", err)
	} else {
		w.current.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	pending := int64(-1)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case <-ticker.C:
			v, err := w.version(ctx)
			if err != nil {
				log.Warn("registry: version check failed", "error", err)
				continue
			}
			if v == w.current.Load() || v == pending {
				continue
			}
			pending = v
			if w.opts.Debounce <= 0 {
				w.fire(ctx, fn, pending)
				pending = -1
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.opts.Debounce)
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			if pending >= 0 {
				w.fire(ctx, fn, pending)
				pending = -1
			}
		}
	}
}

func (w *Watcher) fire(ctx context.Context, fn func(context.Context) error, v int64) {
	if err := fn(ctx); err != nil {
		w.opts.Logger.Error("registry: change handler failed", "error", err, "version", v)
		return
	}
	w.current.Store(v)
	w.changes.Add(1)
	w.opts.Logger.Info("registry: change applied", "version", v)
}
