// Package monitor keeps highlighted captures of live pages. Each target
// page is held open in a source (a browser tab); its DOM change events feed
// a mutation watcher, and every re-apply recaptures the page, highlights
// the capture and emits it to the sinks.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/phrasemark/audit"
	"github.com/hazyhaar/phrasemark/browser"
	"github.com/hazyhaar/phrasemark/dom"
	"github.com/hazyhaar/phrasemark/highlight"
	"github.com/hazyhaar/phrasemark/idgen"
	"github.com/hazyhaar/phrasemark/mutation"
	"github.com/hazyhaar/phrasemark/page"
	"github.com/hazyhaar/phrasemark/registry"
	"github.com/hazyhaar/phrasemark/scheduler"
	"github.com/hazyhaar/phrasemark/selection"
	"github.com/hazyhaar/phrasemark/sink"
	"github.com/hazyhaar/phrasemark/watcher"
)

// Target is a page to keep highlighted.
type Target struct {
	ID  string `yaml:"id" json:"id"`
	URL string `yaml:"url" json:"url"`
}

// Source is an open live page.
type Source interface {
	Document(ctx context.Context) (*dom.Document, error)
	// Listen delivers change records until ctx ends or the page goes away.
	Listen(ctx context.Context, fn func([]mutation.Record)) error
	Close() error
}

// Opener opens a source for a target.
type Opener func(ctx context.Context, t Target) (Source, error)

// BrowserOpener opens targets as stealth tabs of mgr.
func BrowserOpener(mgr *browser.Manager) Opener {
	return func(ctx context.Context, t Target) (Source, error) {
		return mgr.OpenTab(ctx, t.URL)
	}
}

// Config wires a Monitor.
type Config struct {
	Targets  []Target
	Open     Opener
	Registry registry.Store
	// Pages receives each capture, replacing the previous one. Default: a
	// private set.
	Pages *page.Set
	// Sink receives the compressed change batches and the highlighted
	// snapshots. Optional.
	Sink sink.Sink
	// Debounce is the mutation watcher window. Default: 500ms.
	Debounce time.Duration
	// RetryDelay is the pause before reopening a lost source. Default: 5s.
	RetryDelay time.Duration
	Selection  selection.Config
	Audit      *audit.Log
	Logger     *slog.Logger
}

func (c *Config) defaults() {
	if c.Pages == nil {
		c.Pages = page.NewSet()
	}
	if c.Debounce <= 0 {
		c.Debounce = watcher.DefaultWindow
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Monitor runs one session per target on a shared scheduler loop.
type Monitor struct {
	cfg      Config
	loop     *scheduler.Loop
	mu       sync.Mutex
	sessions []*session
}

// New creates a Monitor.
func New(cfg Config) *Monitor {
	cfg.defaults()
	return &Monitor{cfg: cfg, loop: scheduler.NewLoop(cfg.Logger)}
}

// Pages returns the set holding the current captures.
func (m *Monitor) Pages() *page.Set { return m.cfg.Pages }

// Run watches every target until ctx ends, then destroys the captures.
func (m *Monitor) Run(ctx context.Context) error {
	if m.cfg.Open == nil {
		return errors.New("monitor: no opener")
	}
	if m.cfg.Registry == nil {
		return errors.New("monitor: no registry")
	}
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go m.loop.Run(loopCtx)

	var wg sync.WaitGroup
	for _, t := range m.cfg.Targets {
		if t.ID == "" {
			t.ID = idgen.Page()
		}
		s := &session{m: m, target: t, ctx: ctx, logger: m.cfg.Logger.With("target", t.ID, "url", t.URL)}
		s.watcher = watcher.New(m.loop, s.fire, watcher.Config{Window: m.cfg.Debounce, Logger: s.logger})
		m.mu.Lock()
		m.sessions = append(m.sessions, s)
		m.mu.Unlock()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.run(ctx)
		}()
	}
	m.cfg.Logger.Info("monitor: started", "targets", len(m.cfg.Targets))
	wg.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, t := range m.cfg.Targets {
		_, _ = m.cfg.Pages.Remove(closeCtx, t.ID)
	}
	stopLoop()
	<-m.loop.Done()
	m.cfg.Logger.Info("monitor: stopped")
	return nil
}

// Reopen drops every source and opens it again, as after a browser
// recycle.
func (m *Monitor) Reopen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.drop()
	}
}

type session struct {
	m       *Monitor
	target  Target
	ctx     context.Context
	logger  *slog.Logger
	watcher *watcher.Watcher

	mu     sync.Mutex
	cancel context.CancelFunc

	// Loop-owned.
	src       Source
	pending   []mutation.Record
	seq       uint64
	capturing bool
	again     bool
}

func (s *session) run(ctx context.Context) {
	for ctx.Err() == nil {
		err := s.open(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("monitor: source lost", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.m.cfg.RetryDelay):
		}
	}
}

// open holds one source open: it captures it once, then listens.
func (s *session) open(ctx context.Context) error {
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	src, err := s.m.cfg.Open(lctx, s.target)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := s.capture(lctx, src); err != nil {
		return err
	}
	s.m.loop.Post(func() { s.src = src })
	defer s.m.loop.Post(func() {
		if s.src == src {
			s.src = nil
			s.pending = nil
		}
	})
	return src.Listen(lctx, func(recs []mutation.Record) {
		s.m.loop.Post(func() { s.observe(src, recs) })
	})
}

func (s *session) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *session) observe(src Source, recs []mutation.Record) {
	if s.src != src {
		return
	}
	s.pending = append(s.pending, recs...)
	s.watcher.Notify(recs)
}

// fire runs on the loop when the watcher's window elapses.
func (s *session) fire() {
	if s.capturing {
		s.again = true
		return
	}
	src := s.src
	if src == nil {
		return
	}
	recs := mutation.Compress(s.pending)
	s.pending = nil
	s.seq++
	batch := mutation.Batch{
		ID:        idgen.New(),
		PageURL:   s.target.URL,
		PageID:    s.target.ID,
		Seq:       s.seq,
		Records:   recs,
		Timestamp: time.Now().UnixMilli(),
	}
	s.capturing = true
	ctx := s.ctx
	go func() {
		if snk := s.m.cfg.Sink; snk != nil {
			if err := snk.Send(ctx, batch); err != nil {
				s.logger.Warn("monitor: batch not delivered", "error", err, "seq", batch.Seq)
			}
		}
		if err := s.capture(ctx, src); err != nil && ctx.Err() == nil {
			s.logger.Warn("monitor: recapture failed", "error", err)
		}
		s.m.loop.Post(func() {
			s.capturing = false
			if s.again {
				s.again = false
				s.fire()
			}
		})
	}()
}

// capture highlights a fresh copy of the source's DOM and publishes it.
func (s *session) capture(ctx context.Context, src Source) error {
	doc, err := src.Document(ctx)
	if err != nil {
		return err
	}
	p := page.New(doc, page.Config{
		ID:        s.target.ID,
		URL:       s.target.URL,
		Registry:  s.m.cfg.Registry,
		Scheduler: s.m.loop,
		Debounce:  s.m.cfg.Debounce,
		Selection: s.m.cfg.Selection,
		Audit:     s.m.cfg.Audit,
		OnApply:   s.emit,
		Logger:    s.logger,
	})
	if err := p.Start(ctx); err != nil {
		return err
	}
	if old := s.m.cfg.Pages.Put(p); old != nil {
		_ = old.Destroy(ctx)
	}
	s.logger.Debug("monitor: captured")
	return nil
}

// emit runs on the loop after every highlight pass of a capture.
func (s *session) emit(p *page.Page, res highlight.Result) {
	snk := s.m.cfg.Sink
	if snk == nil {
		return
	}
	snap := p.SnapshotNow()
	ctx := s.ctx
	go func() {
		if err := snk.SendSnapshot(ctx, *snap); err != nil {
			s.logger.Warn("monitor: snapshot not delivered", "error", err, "annotations", res.Annotations)
		}
	}()
}
