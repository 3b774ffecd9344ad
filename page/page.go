// Package page hosts one live document and wires the highlight engine, the
// mutation watcher and selection capture around it. Every operation runs as
// a task on the page's scheduler; registry I/O runs off it and posts its
// result back.
package page

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hazyhaar/phrasemark/audit"
	"github.com/hazyhaar/phrasemark/bridge"
	"github.com/hazyhaar/phrasemark/dom"
	"github.com/hazyhaar/phrasemark/highlight"
	"github.com/hazyhaar/phrasemark/idgen"
	"github.com/hazyhaar/phrasemark/kit"
	"github.com/hazyhaar/phrasemark/mutation"
	"github.com/hazyhaar/phrasemark/phrase"
	"github.com/hazyhaar/phrasemark/registry"
	"github.com/hazyhaar/phrasemark/scheduler"
	"github.com/hazyhaar/phrasemark/selection"
	"github.com/hazyhaar/phrasemark/watcher"
)

// ErrDestroyed is returned by operations on a destroyed page.
var ErrDestroyed = errors.New("page: destroyed")

// Config wires a page.
type Config struct {
	// ID identifies the page on the bridge. Default: a fresh pg_ id.
	ID  string
	URL string
	// Registry holds the phrase map. Required.
	Registry registry.Store
	// Scheduler runs the page's tasks. Required.
	Scheduler scheduler.Scheduler
	// Debounce is the mutation watcher's quiet period. Default: 500ms.
	Debounce  time.Duration
	Selection selection.Config
	// Spawn runs registry I/O away from the scheduler. Default: a new
	// goroutine.
	Spawn func(func())
	// Audit records phrases saved from a selection. Optional.
	Audit *audit.Log
	// OnApply is called on the scheduler after every highlight pass.
	OnApply func(p *Page, res highlight.Result)
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.ID == "" {
		c.ID = idgen.Page()
	}
	if c.Spawn == nil {
		c.Spawn = func(fn func()) { go fn() }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Page is a document under highlight management.
type Page struct {
	cfg    Config
	logger *slog.Logger
	doc    *dom.Document

	engine    *highlight.Engine
	watcher   *watcher.Watcher
	selection *selection.Machine

	ctx    context.Context
	cancel context.CancelFunc

	started   bool
	destroyed bool
	last      phrase.Settings
	applies   int
}

// New prepares a page over doc. Nothing touches the document until Start.
func New(doc *dom.Document, cfg Config) *Page {
	cfg.defaults()
	logger := cfg.Logger.With("page", cfg.ID)
	p := &Page{
		cfg:    cfg,
		logger: logger,
		doc:    doc,
		engine: highlight.New(doc, logger),
		last:   phrase.Settings{Phrases: phrase.NewMap()},
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.watcher = watcher.New(cfg.Scheduler, p.reload, watcher.Config{Window: cfg.Debounce, Logger: logger})
	sel := cfg.Selection
	sel.Logger = logger
	p.selection = selection.New(doc, cfg.Scheduler, p.saveSelection, p.reload, sel)
	return p
}

// ID returns the page id.
func (p *Page) ID() string { return p.cfg.ID }

// URL returns the page URL.
func (p *Page) URL() string { return p.cfg.URL }

// Document returns the hosted document. Touch it only from page tasks.
func (p *Page) Document() *dom.Document { return p.doc }

// do runs fn as a page task and delivers the mutation records it caused.
func (p *Page) do(ctx context.Context, fn func()) error {
	var destroyed bool
	err := p.cfg.Scheduler.Do(ctx, func() {
		if p.destroyed {
			destroyed = true
			return
		}
		fn()
		p.doc.Flush()
	})
	if err != nil {
		return err
	}
	if destroyed {
		return ErrDestroyed
	}
	return nil
}

// post queues fn as a page task unless the page is gone by then.
func (p *Page) post(fn func()) {
	p.cfg.Scheduler.Post(func() {
		if p.destroyed {
			return
		}
		fn()
		p.doc.Flush()
	})
}

// Start installs the stylesheet, subscribes the watcher and runs the first
// highlight pass from the registry. Only the first call has an effect.
func (p *Page) Start(ctx context.Context) error {
	return p.do(ctx, func() {
		if p.started {
			return
		}
		p.started = true
		p.engine.InstallStyles()
		p.watcher.Attach(p.doc)
		p.logger.Info("page: started", "url", p.cfg.URL)
		p.reload()
	})
}

// reload reads settings from the registry off the scheduler, then applies
// them as a new task.
func (p *Page) reload() {
	p.cfg.Spawn(func() {
		s := registry.Load(p.ctx, p.cfg.Registry, p.logger)
		p.post(func() { p.apply(s) })
	})
}

func (p *Page) apply(s phrase.Settings) {
	res := p.engine.Apply(s)
	p.last = s
	p.applies++
	if p.cfg.OnApply != nil {
		p.cfg.OnApply(p, res)
	}
}

func (p *Page) saveSelection(text, style string, overwrite bool, done func(error)) {
	p.cfg.Spawn(func() {
		err := registry.PutPhrase(p.ctx, p.cfg.Registry, text, style, overwrite)
		if !errors.Is(err, registry.ErrPhraseExists) {
			ctx := kit.WithPageID(kit.WithTransport(p.ctx, "selection"), p.cfg.ID)
			p.cfg.Audit.RecordErr(ctx, audit.PutPhrase, text, phrase.SanitizeStyle(style), err)
		}
		p.post(func() { done(err) })
	})
}

// Destroy removes every annotation, overlay and stylesheet, cancels the
// pending re-apply and unsubscribes from the document. Later calls are
// no-ops.
func (p *Page) Destroy(ctx context.Context) error {
	err := p.cfg.Scheduler.Do(ctx, func() {
		if p.destroyed {
			return
		}
		p.destroyed = true
		p.watcher.Stop()
		p.selection.Exit()
		p.engine.Remove()
		p.engine.UninstallStyles()
		p.doc.TakeRecords()
		p.cancel()
		p.logger.Info("page: destroyed", "applies", p.applies)
	})
	return err
}

// Reapply reloads settings from the registry and re-highlights, as the
// mutation watcher does when it fires.
func (p *Page) Reapply(ctx context.Context) error {
	return p.do(ctx, p.reload)
}

// UpdatePhrases implements bridge.Target: it re-highlights with m,
// regardless of the stored enabled flag.
func (p *Page) UpdatePhrases(ctx context.Context, m *phrase.Map) error {
	return p.do(ctx, func() { p.apply(phrase.Settings{Phrases: m, Enabled: true}) })
}

// ToggleHighlights implements bridge.Target.
func (p *Page) ToggleHighlights(ctx context.Context) error {
	return p.do(ctx, func() { p.engine.ToggleVisibility() })
}

// RemoveHighlights implements bridge.Target.
func (p *Page) RemoveHighlights(ctx context.Context) error {
	return p.do(ctx, func() { p.engine.Remove() })
}

// ToggleSelectionMode implements bridge.Target.
func (p *Page) ToggleSelectionMode(ctx context.Context) error {
	return p.do(ctx, p.selection.Toggle)
}

// SelectedText implements bridge.Target.
func (p *Page) SelectedText(ctx context.Context) (string, error) {
	var text string
	err := p.do(ctx, func() { text = p.doc.SelectedText() })
	return text, err
}

var _ bridge.Target = (*Page)(nil)

// KeyDown delivers a key press and reports whether the page consumed it.
func (p *Page) KeyDown(ctx context.Context, k selection.Key) (bool, error) {
	var used bool
	err := p.do(ctx, func() { used = p.selection.KeyDown(k) })
	return used, err
}

// Select replaces the document's selection, as the user dragging does.
func (p *Page) Select(ctx context.Context, r dom.Range) error {
	return p.do(ctx, func() { p.doc.SetSelection(&r) })
}

// MouseUp delivers a mouse release.
func (p *Page) MouseUp(ctx context.Context) error {
	return p.do(ctx, p.selection.MouseUp)
}

// Press activates a selection prompt button: "save", "overwrite" or
// "cancel".
func (p *Page) Press(ctx context.Context, action string) error {
	return p.do(ctx, func() { p.selection.Press(action) })
}

// Mutate runs fn against the document as page content would, so the
// watcher sees the changes.
func (p *Page) Mutate(ctx context.Context, fn func(doc *dom.Document)) error {
	return p.do(ctx, func() { fn(p.doc) })
}

// Notify feeds mutation records observed outside the document, such as a
// browser's DOM events.
func (p *Page) Notify(records []mutation.Record) {
	p.post(func() { p.watcher.Notify(records) })
}

// Status is a point-in-time view of the page.
type Status struct {
	ID             string `json:"id"`
	URL            string `json:"url"`
	Highlights     int    `json:"highlights"`
	Hidden         bool   `json:"hidden"`
	Phrases        int    `json:"phrases"`
	Selection      string `json:"selection"`
	PendingReapply bool   `json:"pending_reapply"`
	Applies        int    `json:"applies"`
	Destroyed      bool   `json:"destroyed"`
}

// Status reports the page's state.
func (p *Page) Status(ctx context.Context) (Status, error) {
	st := Status{ID: p.cfg.ID, URL: p.cfg.URL}
	err := p.cfg.Scheduler.Do(ctx, func() {
		st.Destroyed = p.destroyed
		st.Highlights = p.engine.Count()
		st.Hidden = p.engine.Hidden()
		st.Phrases = p.last.Phrases.Len()
		st.Selection = p.selection.State().String()
		st.PendingReapply = p.watcher.Pending()
		st.Applies = p.applies
	})
	return st, err
}

// Snapshot renders the highlighted document.
func (p *Page) Snapshot(ctx context.Context) (*mutation.Snapshot, error) {
	var snap *mutation.Snapshot
	err := p.do(ctx, func() { snap = p.snapshot() })
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (p *Page) snapshot() *mutation.Snapshot {
	body := []byte(p.doc.String())
	return &mutation.Snapshot{
		ID:         idgen.New(),
		PageURL:    p.cfg.URL,
		PageID:     p.cfg.ID,
		HTML:       body,
		HTMLHash:   mutation.HashHTML(body),
		Highlights: p.engine.Count(),
		Phrases:    p.last.Phrases.Len(),
		Timestamp:  time.Now().UnixMilli(),
	}
}

// SnapshotNow renders the document from inside a page task, such as an
// OnApply callback.
func (p *Page) SnapshotNow() *mutation.Snapshot { return p.snapshot() }
