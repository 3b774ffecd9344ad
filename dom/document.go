// Package dom wraps a golang.org/x/net/html tree as a live document. Every
// structural change goes through Document, which queues mutation records for
// its observers the way a browser MutationObserver does: records accumulate
// during a task and are delivered together when the host calls Flush.
//
// Document is not safe for concurrent use. The page that owns it runs every
// access on a single goroutine.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/phrasemark/mutation"
)

// Observer receives the records accumulated since the previous Flush.
type Observer func(records []mutation.Record)

type observerEntry struct {
	fn     Observer
	active bool
}

// Document is a mutable HTML tree with mutation observation and a current
// text selection.
type Document struct {
	root      *html.Node
	observers []*observerEntry
	pending   []mutation.Record
	quiet     int
	selection *Range
}

// New wraps an existing tree. A nil root yields an empty document.
func New(root *html.Node) *Document {
	if root == nil {
		root = &html.Node{Type: html.DocumentNode}
	}
	return &Document{root: root}
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return New(root), nil
}

// ParseString parses an HTML document held in s.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Body returns the <body> element, or the root when there is none.
func (d *Document) Body() *html.Node {
	if b := FindFirst(d.root, IsTag(atom.Body)); b != nil {
		return b
	}
	return d.root
}

// Head returns the <head> element, or nil.
func (d *Document) Head() *html.Node {
	return FindFirst(d.root, IsTag(atom.Head))
}

// ElementByID returns the first element whose id attribute equals id.
func (d *Document) ElementByID(id string) *html.Node {
	return FindFirst(d.root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		v, ok := Attr(n, "id")
		return ok && v == id
	})
}

// Contains reports whether n is attached to this document.
func (d *Document) Contains(n *html.Node) bool {
	for c := n; c != nil; c = c.Parent {
		if c == d.root {
			return true
		}
	}
	return false
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// String renders the document. Rendering errors yield an empty string.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// Observe registers fn for mutation records. The returned function
// disconnects it; calling it more than once is harmless.
func (d *Document) Observe(fn Observer) (disconnect func()) {
	e := &observerEntry{fn: fn, active: true}
	d.observers = append(d.observers, e)
	return func() {
		if !e.active {
			return
		}
		e.active = false
		d.observers = slices.DeleteFunc(d.observers, func(o *observerEntry) bool { return o == e })
		if len(d.observers) == 0 {
			d.pending = nil
		}
	}
}

// Flush delivers pending records to every observer and returns how many
// records were delivered.
func (d *Document) Flush() int {
	if len(d.pending) == 0 {
		return 0
	}
	records := d.pending
	d.pending = nil
	for _, o := range slices.Clone(d.observers) {
		if o.active {
			o.fn(records)
		}
	}
	return len(records)
}

// TakeRecords returns and clears pending records without delivering them.
func (d *Document) TakeRecords() []mutation.Record {
	records := d.pending
	d.pending = nil
	return records
}

// Quiet runs fn with record generation suspended. Mutations the core makes
// to its own annotations and overlay go through here so observers only see
// changes made by others.
func (d *Document) Quiet(fn func()) {
	d.quiet++
	defer func() { d.quiet-- }()
	fn()
}

func (d *Document) recording() bool {
	return d.quiet == 0 && len(d.observers) > 0
}

func (d *Document) record(r mutation.Record) {
	d.pending = append(d.pending, r)
}
