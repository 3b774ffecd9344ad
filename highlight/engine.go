// Package highlight rewrites a document so every occurrence of the user's
// phrases is wrapped in a styled annotation, and reverses that rewrite.
package highlight

import (
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/phrasemark/dom"
	"github.com/hazyhaar/phrasemark/phrase"
	"github.com/hazyhaar/phrasemark/scanner"
)

const (
	// Class marks highlight annotations.
	Class = scanner.HighlightClass
	// StyleElementID identifies the injected stylesheet.
	StyleElementID = "phrase-highlighter-styles"
)

// Stylesheet is the rule set installed into the document head.
const Stylesheet = `
.phrase-highlighter-span {
  position: relative;
  border-radius: 2px;
  transition: opacity 0.2s ease;
}
.phrase-highlighter-span:hover {
  opacity: 0.8;
}
`

// Result summarizes one apply pass.
type Result struct {
	Removed     int // annotations removed before re-applying
	Annotations int // annotations created
	Leaves      int // eligible leaves captured
	Rewritten   int // leaves replaced by a fragment
}

// Engine applies and removes highlight annotations on one document. All
// changes are made quietly: observers of the document never see them.
type Engine struct {
	doc    *dom.Document
	logger *slog.Logger
}

// New returns an engine for doc. A nil logger falls back to slog.Default().
func New(doc *dom.Document, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{doc: doc, logger: logger}
}

// Apply removes every existing annotation, then, when the settings are
// active, highlights each phrase in map order over a single snapshot of the
// document's eligible text leaves.
func (e *Engine) Apply(s phrase.Settings) Result {
	var res Result
	e.doc.Quiet(func() {
		res.Removed = e.remove()
		if !s.Active() {
			return
		}
		leaves := scanner.Collect(e.doc.Body())
		res.Leaves = len(leaves)
		for p, style := range s.Phrases.All() {
			if strings.TrimSpace(p) == "" {
				continue
			}
			leaves = e.highlightPhrase(phrase.Pattern(p), phrase.SanitizeStyle(style), leaves, &res)
		}
	})
	e.logger.Debug("highlight: applied",
		"phrases", s.Phrases.Len(),
		"enabled", s.Enabled,
		"leaves", res.Leaves,
		"rewritten", res.Rewritten,
		"annotations", res.Annotations,
		"removed", res.Removed,
	)
	return res
}

// highlightPhrase rewrites every leaf containing p and returns the leaf
// list for the next phrase: each rewritten leaf is replaced, in place, by the
// plain text fragments around its matches. Later phrases therefore see the
// current text but never the inside of an annotation.
func (e *Engine) highlightPhrase(re *regexp.Regexp, style string, leaves []*html.Node, res *Result) []*html.Node {
	out := make([]*html.Node, 0, len(leaves))
	for _, leaf := range leaves {
		if leaf.Parent == nil {
			continue
		}
		matches := re.FindAllStringIndex(leaf.Data, -1)
		if len(matches) == 0 {
			out = append(out, leaf)
			continue
		}
		out = append(out, e.rewrite(leaf, matches, style, res)...)
	}
	return out
}

// rewrite replaces leaf by text, annotation, text ... fragments and returns
// the plain text fragments.
func (e *Engine) rewrite(leaf *html.Node, matches [][]int, style string, res *Result) []*html.Node {
	text, parent := leaf.Data, leaf.Parent
	var plain []*html.Node
	addText := func(s string) {
		if s == "" {
			return
		}
		t := dom.NewText(s)
		e.doc.InsertBefore(parent, t, leaf)
		plain = append(plain, t)
	}
	last := 0
	for _, m := range matches {
		addText(text[last:m[0]])
		e.doc.InsertBefore(parent, newAnnotation(text[m[0]:m[1]], style), leaf)
		res.Annotations++
		last = m[1]
	}
	addText(text[last:])
	e.doc.Remove(leaf)
	res.Rewritten++
	return plain
}

func newAnnotation(text, style string) *html.Node {
	span := dom.NewElement("span", html.Attribute{Key: "class", Val: Class})
	if style != "" {
		span.Attr = append(span.Attr, html.Attribute{Key: "style", Val: style})
	}
	span.AppendChild(dom.NewText(text))
	return span
}

// Remove unwraps every annotation and merges the freed text with its
// neighbours. Elements nested in an annotation, such as a pending selection
// preview, are kept. It is a no-op when nothing is highlighted.
func (e *Engine) Remove() int {
	var n int
	e.doc.Quiet(func() { n = e.remove() })
	return n
}

func (e *Engine) remove() int {
	spans := e.annotations()
	n := 0
	for _, span := range spans {
		parent := span.Parent
		if parent == nil || !e.doc.Contains(span) {
			continue
		}
		e.doc.Unwrap(span)
		e.doc.Normalize(parent)
		n++
	}
	return n
}

func (e *Engine) annotations() []*html.Node {
	return dom.FindAll(e.doc.Root(), dom.HasClassFunc(Class))
}

// Count is the number of annotations in the document.
func (e *Engine) Count() int {
	return len(e.annotations())
}

// ToggleVisibility hides every annotation when the first one is visible and
// shows them all otherwise. It reports false when there is nothing to
// toggle.
func (e *Engine) ToggleVisibility() bool {
	spans := e.annotations()
	if len(spans) == 0 {
		return false
	}
	display := "none"
	if dom.StyleProperty(spans[0], "display") == "none" {
		display = ""
	}
	e.doc.Quiet(func() {
		for _, s := range spans {
			e.doc.SetStyleProperty(s, "display", display)
		}
	})
	e.logger.Debug("highlight: visibility toggled", "hidden", display == "none", "annotations", len(spans))
	return true
}

// Hidden reports whether the annotations are currently suppressed.
func (e *Engine) Hidden() bool {
	spans := e.annotations()
	return len(spans) > 0 && dom.StyleProperty(spans[0], "display") == "none"
}

// InstallStyles adds the highlight stylesheet once.
func (e *Engine) InstallStyles() {
	InstallStylesheet(e.doc, StyleElementID, Stylesheet)
}

// UninstallStyles removes the highlight stylesheet if present.
func (e *Engine) UninstallStyles() {
	UninstallStylesheet(e.doc, StyleElementID)
}

// InstallStylesheet appends a <style> element with the given id to the
// document head (or body when there is no head) unless one already exists.
func InstallStylesheet(doc *dom.Document, id, css string) {
	if doc.ElementByID(id) != nil {
		return
	}
	style := dom.NewElement("style", html.Attribute{Key: "id", Val: id})
	style.AppendChild(dom.NewText(css))
	parent := doc.Head()
	if parent == nil {
		parent = doc.Body()
	}
	doc.Quiet(func() { doc.AppendChild(parent, style) })
}

// UninstallStylesheet removes the <style> element with the given id.
func UninstallStylesheet(doc *dom.Document, id string) {
	if el := doc.ElementByID(id); el != nil {
		doc.Quiet(func() { doc.Remove(el) })
	}
}
