package selection

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/phrasemark/dom"
	"github.com/hazyhaar/phrasemark/scanner"
)

const (
	// AnnotationClass marks the span wrapping a previewed selection.
	AnnotationClass = "phrase-highlighter-selection"
	// BodyClass is set on <body> while the mode is active.
	BodyClass = "phrase-highlighter-selecting"
	// StyleElementID identifies the mode's stylesheet.
	StyleElementID = "phrase-highlighter-selection-styles"
	// UIAttr marks overlay elements; the scanner skips them.
	UIAttr = scanner.UIAttr
)

// Prompt button actions.
const (
	ActionSave      = "save"
	ActionOverwrite = "overwrite"
	ActionCancel    = "cancel"
)

// Toast kinds.
const (
	ToastSuccess = "success"
	ToastWarning = "warning"
	ToastError   = "error"
)

// Stylesheet is installed while the mode is active.
const Stylesheet = `
body.phrase-highlighter-selecting, body.phrase-highlighter-selecting * {
  cursor: crosshair !important;
}
.phrase-highlighter-selection {
  background-color: rgba(33, 150, 243, 0.3);
  outline: 1px dashed #2196f3;
}
[data-phrase-highlighter-ui] {
  position: fixed;
  z-index: 2147483647;
  font: 13px/1.4 -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
  background: #fff;
  color: #222;
  border-radius: 6px;
  box-shadow: 0 2px 10px rgba(0, 0, 0, 0.2);
  padding: 8px 12px;
}
[data-phrase-highlighter-ui="tooltip"] { top: 16px; left: 50%; transform: translateX(-50%); }
[data-phrase-highlighter-ui="prompt"] { bottom: 24px; right: 24px; }
[data-phrase-highlighter-ui="toast"] { bottom: 24px; left: 24px; }
[data-phrase-highlighter-ui="toast"].success { border-left: 4px solid #4caf50; }
[data-phrase-highlighter-ui="toast"].warning { border-left: 4px solid #ff9800; }
[data-phrase-highlighter-ui="toast"].error { border-left: 4px solid #f44336; }
[data-phrase-highlighter-ui] button { margin-left: 8px; cursor: pointer; }
`

// Key is a keyboard event.
type Key struct {
	Name  string // "h", "Escape", ...
	Ctrl  bool
	Shift bool
	Alt   bool
	Meta  bool
}

// IsToggleShortcut reports whether k is Ctrl+Shift+H.
func (k Key) IsToggleShortcut() bool {
	return k.Ctrl && k.Shift && !k.Alt && !k.Meta && strings.EqualFold(k.Name, "h")
}

// IsEscape reports whether k is the Escape key.
func (k Key) IsEscape() bool {
	return k.Name == "Escape" || k.Name == "Esc"
}

func uiElement(kind, class string) *html.Node {
	attrs := []html.Attribute{{Key: UIAttr, Val: kind}}
	if class != "" {
		attrs = append(attrs, html.Attribute{Key: "class", Val: class})
	}
	return dom.NewElement("div", attrs...)
}

func button(action, label string) *html.Node {
	b := dom.NewElement("button",
		html.Attribute{Key: "type", Val: "button"},
		html.Attribute{Key: "data-action", Val: action},
	)
	b.AppendChild(dom.NewText(label))
	return b
}

func overlayTooltip() *html.Node {
	n := uiElement("tooltip", "")
	n.AppendChild(dom.NewText("Select text to save it as a highlighted phrase. Press Esc to exit."))
	return n
}

func overlayPrompt(text string, confirming bool) *html.Node {
	n := uiElement("prompt", "")
	msg := dom.NewElement("span")
	if confirming {
		msg.AppendChild(dom.NewText(fmt.Sprintf("Phrase %q already exists. Overwrite?", text)))
		n.AppendChild(msg)
		n.AppendChild(button(ActionOverwrite, "Overwrite"))
	} else {
		msg.AppendChild(dom.NewText(fmt.Sprintf("Highlight %q?", text)))
		n.AppendChild(msg)
		n.AppendChild(button(ActionSave, "Save"))
	}
	n.AppendChild(button(ActionCancel, "Cancel"))
	return n
}

func overlayToast(kind, msg string) *html.Node {
	n := uiElement("toast", kind)
	n.AppendChild(dom.NewText(msg))
	return n
}

func (m *Machine) showPrompt(p *preview) {
	next := overlayPrompt(p.text, p.confirming)
	m.doc.Quiet(func() {
		if p.prompt != nil {
			m.doc.Remove(p.prompt)
		}
		m.doc.AppendChild(m.doc.Body(), next)
	})
	p.prompt = next
}

func (m *Machine) showOverlay(n *html.Node, d time.Duration) *toast {
	m.doc.Quiet(func() { m.doc.AppendChild(m.doc.Body(), n) })
	t := &toast{node: n}
	t.timer = m.sched.AfterFunc(d, func() { m.dismiss(t) })
	return t
}

func (m *Machine) showToast(kind, msg string) {
	m.toasts = append(m.toasts, m.showOverlay(overlayToast(kind, msg), m.cfg.ToastDuration))
}

func (m *Machine) dismiss(t *toast) {
	t.timer.Stop()
	m.doc.Quiet(func() { m.doc.Remove(t.node) })
	m.toasts = slices.DeleteFunc(m.toasts, func(o *toast) bool { return o == t })
	if m.tooltip == t {
		m.tooltip = nil
	}
}

func (m *Machine) clearToasts() {
	for _, t := range slices.Clone(m.toasts) {
		m.dismiss(t)
	}
	if m.tooltip != nil {
		m.dismiss(m.tooltip)
	}
}

// Toasts returns the text of the notices currently shown.
func (m *Machine) Toasts() []string {
	out := make([]string, 0, len(m.toasts))
	for _, t := range m.toasts {
		out = append(out, dom.TextContent(t.node))
	}
	return out
}
