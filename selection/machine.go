// Package selection implements selection capture: a mode in which the user
// marks text on the page, previews it, and saves it as a new phrase.
//
// The machine has three states. Inactive does nothing. Waiting shows a
// crosshair cursor and turns each mouse-up over a short selection into a
// preview. Previewing owns a selection annotation and a Save/Cancel prompt;
// every way out of it removes both.
package selection

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/hazyhaar/phrasemark/dom"
	"github.com/hazyhaar/phrasemark/highlight"
	"github.com/hazyhaar/phrasemark/phrase"
	"github.com/hazyhaar/phrasemark/registry"
	"github.com/hazyhaar/phrasemark/scheduler"
)

// State is the machine's current mode.
type State int

const (
	Inactive State = iota
	Waiting
	Previewing
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Waiting:
		return "waiting"
	case Previewing:
		return "previewing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Defaults for Config.
const (
	DefaultMaxLength       = 100
	DefaultPromptTimeout   = 10 * time.Second
	DefaultToastDuration   = 3 * time.Second
	DefaultTooltipDuration = 5 * time.Second
)

// Config controls limits and timings.
type Config struct {
	// MaxLength is the longest selection, in characters, that is
	// previewed. Default: 100.
	MaxLength int
	// PromptTimeout dismisses an unanswered prompt. Default: 10s.
	PromptTimeout time.Duration
	// ToastDuration is how long notices stay up. Default: 3s.
	ToastDuration time.Duration
	// TooltipDuration is how long the instructions stay up. Default: 5s.
	TooltipDuration time.Duration
	// Style is the descriptor saved with captured phrases. Default:
	// phrase.DefaultStyle.
	Style  string
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxLength <= 0 {
		c.MaxLength = DefaultMaxLength
	}
	if c.PromptTimeout <= 0 {
		c.PromptTimeout = DefaultPromptTimeout
	}
	if c.ToastDuration <= 0 {
		c.ToastDuration = DefaultToastDuration
	}
	if c.TooltipDuration <= 0 {
		c.TooltipDuration = DefaultTooltipDuration
	}
	if c.Style == "" {
		c.Style = phrase.DefaultStyle
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// SaveFunc writes phrase → style to the registry without blocking the
// caller. done must be called exactly once, on the machine's scheduler,
// with the write's outcome.
type SaveFunc func(p, style string, overwrite bool, done func(error))

// preview is the state owned by Previewing.
type preview struct {
	text       string
	annotation *html.Node
	prompt     *html.Node
	timer      scheduler.Timer
	confirming bool
	saving     bool
}

type toast struct {
	node  *html.Node
	timer scheduler.Timer
}

// Machine is the selection capture state machine for one document. All
// methods must be called on the scheduler's goroutine.
type Machine struct {
	cfg      Config
	doc      *dom.Document
	sched    scheduler.Scheduler
	save     SaveFunc
	onCommit func()

	state   State
	preview *preview

	tooltipShown bool
	tooltip      *toast
	toasts       []*toast
}

// New returns an inactive machine. onCommit runs after a phrase has been
// saved; the page uses it to re-apply highlights.
func New(doc *dom.Document, sched scheduler.Scheduler, save SaveFunc, onCommit func(), cfg Config) *Machine {
	cfg.defaults()
	if onCommit == nil {
		onCommit = func() {}
	}
	return &Machine{cfg: cfg, doc: doc, sched: sched, save: save, onCommit: onCommit}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// PendingText is the text being previewed, or "".
func (m *Machine) PendingText() string {
	if m.preview == nil {
		return ""
	}
	return m.preview.text
}

// Confirming reports whether the prompt is asking to overwrite.
func (m *Machine) Confirming() bool {
	return m.preview != nil && m.preview.confirming
}

// Toggle enters the mode from Inactive and leaves it from any other state.
func (m *Machine) Toggle() {
	if m.state == Inactive {
		m.enter()
		return
	}
	m.Exit()
}

// KeyDown handles a key press and reports whether the machine consumed it.
// Ctrl+Shift+H toggles the mode. Escape dismisses an open preview, or
// leaves the mode when there is none.
func (m *Machine) KeyDown(k Key) bool {
	switch {
	case k.IsToggleShortcut():
		m.Toggle()
		return true
	case k.IsEscape() && m.state == Previewing:
		m.Cancel()
		return true
	case k.IsEscape() && m.state == Waiting:
		m.Exit()
		return true
	}
	return false
}

// MouseUp previews the document's current selection when the machine is
// waiting and the trimmed text is between one and MaxLength characters.
func (m *Machine) MouseUp() {
	if m.state != Waiting {
		return
	}
	sel := m.doc.Selection()
	text := m.doc.SelectedText()
	if sel == nil || text == "" {
		return
	}
	if n := utf8.RuneCountInString(text); n > m.cfg.MaxLength {
		m.cfg.Logger.Debug("selection: ignored, too long", "length", n, "max", m.cfg.MaxLength)
		return
	}

	span := dom.NewElement("span", html.Attribute{Key: "class", Val: AnnotationClass})
	var err error
	m.doc.Quiet(func() { err = m.doc.SurroundContents(*sel, span) })
	if err != nil {
		m.cfg.Logger.Warn("selection: cannot preview selection", "error", err, "length", len(text))
		msg := "Could not highlight this selection. Try selecting text within a single element."
		if !errors.Is(err, dom.ErrPartialSelection) {
			msg = "Could not highlight this selection."
		}
		m.showToast(ToastWarning, msg)
		return
	}

	p := &preview{text: text, annotation: span}
	m.preview = p
	m.state = Previewing
	m.showPrompt(p)
	m.armTimeout(p)
	m.cfg.Logger.Debug("selection: previewing", "text", text)
}

// Save writes the previewed text as a new phrase. When the phrase already
// exists the prompt switches to an overwrite confirmation instead.
func (m *Machine) Save() {
	p := m.preview
	if p == nil || p.saving || p.confirming {
		return
	}
	m.write(p, false)
}

// Confirm answers the overwrite question with yes.
func (m *Machine) Confirm() {
	p := m.preview
	if p == nil || p.saving || !p.confirming {
		return
	}
	m.write(p, true)
}

func (m *Machine) write(p *preview, overwrite bool) {
	p.saving = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	m.save(p.text, m.cfg.Style, overwrite, func(err error) { m.saved(p, overwrite, err) })
}

func (m *Machine) saved(p *preview, overwrite bool, err error) {
	if m.preview != p {
		// The preview was dismissed while the write was in flight.
		if err == nil {
			m.onCommit()
		}
		return
	}
	p.saving = false
	switch {
	case err == nil:
		m.clearPreview()
		m.state = Waiting
		m.showToast(ToastSuccess, fmt.Sprintf("Saved %q", p.text))
		m.cfg.Logger.Info("selection: phrase saved", "phrase", p.text, "overwrite", overwrite)
		m.onCommit()
	case errors.Is(err, registry.ErrPhraseExists) && !overwrite:
		p.confirming = true
		m.showPrompt(p)
		m.armTimeout(p)
	default:
		m.cfg.Logger.Error("selection: save failed", "phrase", p.text, "error", err)
		m.clearPreview()
		m.state = Waiting
		m.showToast(ToastError, "Could not save phrase: "+userMessage(err))
	}
}

// Cancel dismisses the preview and returns to Waiting.
func (m *Machine) Cancel() {
	if m.state != Previewing {
		return
	}
	m.clearPreview()
	m.state = Waiting
}

// Press activates a prompt button by its action name: "save", "overwrite"
// or "cancel".
func (m *Machine) Press(action string) bool {
	switch action {
	case ActionSave:
		m.Save()
	case ActionOverwrite:
		m.Confirm()
	case ActionCancel:
		m.Cancel()
	default:
		return false
	}
	return true
}

// Exit leaves the mode from any state, removing every trace of it from the
// document.
func (m *Machine) Exit() {
	if m.state == Inactive {
		return
	}
	m.clearPreview()
	m.clearToasts()
	m.doc.Quiet(func() { m.doc.RemoveClass(m.doc.Body(), BodyClass) })
	highlight.UninstallStylesheet(m.doc, StyleElementID)
	m.state = Inactive
	m.cfg.Logger.Debug("selection: mode off")
}

func (m *Machine) enter() {
	m.state = Waiting
	highlight.InstallStylesheet(m.doc, StyleElementID, Stylesheet)
	m.doc.Quiet(func() { m.doc.AddClass(m.doc.Body(), BodyClass) })
	if !m.tooltipShown {
		m.tooltipShown = true
		m.tooltip = m.showOverlay(overlayTooltip(), m.cfg.TooltipDuration)
	}
	m.cfg.Logger.Debug("selection: mode on")
}

func (m *Machine) armTimeout(p *preview) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = m.sched.AfterFunc(m.cfg.PromptTimeout, func() {
		if m.preview != p || p.saving {
			return
		}
		m.cfg.Logger.Debug("selection: prompt timed out")
		p.timer = nil
		m.Cancel()
	})
}

// clearPreview removes the annotation and prompt. Safe in any state.
func (m *Machine) clearPreview() {
	p := m.preview
	if p == nil {
		return
	}
	m.preview = nil
	if p.timer != nil {
		p.timer.Stop()
	}
	m.doc.Quiet(func() {
		if parent := p.annotation.Parent; parent != nil {
			m.doc.Unwrap(p.annotation)
			m.doc.Normalize(parent)
		}
		if p.prompt != nil {
			m.doc.Remove(p.prompt)
		}
	})
}

func userMessage(err error) string {
	var se *registry.StorageError
	if errors.As(err, &se) {
		return strings.TrimSpace(se.Err.Error())
	}
	return err.Error()
}
