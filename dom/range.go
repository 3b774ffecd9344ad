package dom

import (
	"errors"
	"strings"

	"golang.org/x/net/html"
)

var (
	// ErrPartialSelection is returned when a range cannot be wrapped in a
	// single element without splitting an element it only partly covers.
	ErrPartialSelection = errors.New("dom: selection partially covers an element")
	// ErrInvalidRange is returned for ranges with missing, detached or
	// reversed boundaries.
	ErrInvalidRange = errors.New("dom: invalid range")
)

// Range is a span of the document between two boundary points. A boundary
// on a text node counts bytes into its data; a boundary on any other node
// counts children.
type Range struct {
	StartNode   *html.Node
	StartOffset int
	EndNode     *html.Node
	EndOffset   int
}

// TextRange selects bytes [start, end) of a text node.
func TextRange(n *html.Node, start, end int) Range {
	return Range{StartNode: n, StartOffset: start, EndNode: n, EndOffset: end}
}

// SpanRange selects from byte start of text node a to byte end of text
// node b.
func SpanRange(a *html.Node, start int, b *html.Node, end int) Range {
	return Range{StartNode: a, StartOffset: start, EndNode: b, EndOffset: end}
}

// Collapsed reports whether the range is empty by construction.
func (r Range) Collapsed() bool {
	return r.StartNode == r.EndNode && r.StartOffset == r.EndOffset
}

// SetSelection replaces the current selection. Nil clears it.
func (d *Document) SetSelection(r *Range) {
	d.selection = r
}

// Selection returns the current selection, or nil.
func (d *Document) Selection() *Range {
	return d.selection
}

// ClearSelection drops the current selection.
func (d *Document) ClearSelection() {
	d.selection = nil
}

// SelectedText is the whitespace-trimmed text of the current selection.
func (d *Document) SelectedText() string {
	if d.selection == nil {
		return ""
	}
	return strings.TrimSpace(d.RangeText(*d.selection))
}

// RangeText returns the text covered by r in document order.
func (d *Document) RangeText(r Range) string {
	if r.StartNode == nil || r.EndNode == nil {
		return ""
	}
	var b strings.Builder
	inside, done := false, false
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if done {
			return
		}
		if n.Type == html.TextNode {
			start, end := 0, len(n.Data)
			if n == r.StartNode {
				inside = true
				start = clamp(r.StartOffset, len(n.Data))
			}
			if n == r.EndNode {
				end = clamp(r.EndOffset, len(n.Data))
				done = true
			}
			if inside && start < end {
				b.WriteString(n.Data[start:end])
			}
			return
		}
		i := 0
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if n == r.StartNode && i == r.StartOffset {
				inside = true
			}
			if n == r.EndNode && i == r.EndOffset {
				done = true
				return
			}
			walk(c)
			if done {
				return
			}
			i++
		}
		if n == r.StartNode && i <= r.StartOffset {
			inside = true
		}
		if n == r.EndNode && i <= r.EndOffset {
			done = true
		}
	}
	walk(d.root)
	return b.String()
}

// SurroundContents moves the contents of r into wrapper and puts wrapper
// where the contents were. Both boundaries must sit directly in the same
// element; otherwise ErrPartialSelection is returned and the tree is left
// untouched. Text nodes at the boundaries are split as needed. The
// selection is cleared on success.
func (d *Document) SurroundContents(r Range, wrapper *html.Node) error {
	if r.StartNode == nil || r.EndNode == nil {
		return ErrInvalidRange
	}
	parent := container(r.StartNode)
	if parent == nil || parent != container(r.EndNode) {
		return ErrPartialSelection
	}
	if !d.Contains(parent) {
		return ErrInvalidRange
	}
	si, so := boundaryKey(r.StartNode, r.StartOffset)
	ei, eo := boundaryKey(r.EndNode, r.EndOffset)
	if si > ei || (si == ei && so > eo) {
		return ErrInvalidRange
	}

	var endRef *html.Node
	if r.EndNode.Type == html.TextNode {
		endRef = d.splitAt(parent, r.EndNode, r.EndOffset)
	} else {
		endRef = ChildAt(parent, r.EndOffset)
	}
	var first *html.Node
	if r.StartNode.Type == html.TextNode {
		first = d.splitAt(parent, r.StartNode, r.StartOffset)
	} else {
		first = ChildAt(parent, r.StartOffset)
	}

	var moved []*html.Node
	for n := first; n != nil && n != endRef; n = n.NextSibling {
		moved = append(moved, n)
	}
	d.InsertBefore(parent, wrapper, endRef)
	for _, n := range moved {
		d.AppendChild(wrapper, n)
	}
	d.selection = nil
	return nil
}

// splitAt divides text node t at off and returns the node that starts at
// the boundary. An offset at either end never creates an empty node.
func (d *Document) splitAt(parent, t *html.Node, off int) *html.Node {
	off = clamp(off, len(t.Data))
	switch {
	case off == 0:
		return t
	case off >= len(t.Data):
		return t.NextSibling
	}
	tail := NewText(t.Data[off:])
	d.SetData(t, t.Data[:off])
	d.InsertBefore(parent, tail, t.NextSibling)
	return tail
}

func container(n *html.Node) *html.Node {
	if n.Type == html.TextNode || n.Type == html.CommentNode {
		return n.Parent
	}
	return n
}

func boundaryKey(n *html.Node, off int) (int, int) {
	if n.Type == html.TextNode || n.Type == html.CommentNode {
		return ChildIndex(n), clamp(off, len(n.Data))
	}
	return off, -1
}

func clamp(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}
