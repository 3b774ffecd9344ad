// Package scanner enumerates the text leaves of a document that are eligible
// for highlighting.
package scanner

import (
	"iter"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/phrasemark/dom"
)

// HighlightClass marks highlight annotations. Text inside them is never
// yielded.
const HighlightClass = "phrase-highlighter-span"

// UIAttr marks overlay elements owned by the selection UI.
const UIAttr = "data-phrase-highlighter-ui"

// excluded holds the elements whose text is never rendered as page content.
var excluded = map[atom.Atom]bool{
	atom.Script:    true,
	atom.Style:     true,
	atom.Noscript:  true,
	atom.Template:  true,
	atom.Textarea:  true,
	atom.Title:     true,
	atom.Iframe:    true,
	atom.Xmp:       true,
	atom.Noembed:   true,
	atom.Noframes:  true,
	atom.Plaintext: true,
}

// Leaves yields, in document order, every text node under root whose
// trimmed data is non-empty, whose parent is not an excluded container and
// which has no highlight annotation or overlay element among its ancestors.
// The tree must not be modified while the sequence is being consumed; use
// Collect to snapshot it first.
func Leaves(root *html.Node) iter.Seq[*html.Node] {
	return func(yield func(*html.Node) bool) {
		if root == nil {
			return
		}
		if Inside(root) {
			return
		}
		walk(root, yield)
	}
}

func walk(n *html.Node, yield func(*html.Node) bool) bool {
	switch n.Type {
	case html.TextNode:
		if eligibleText(n) {
			return yield(n)
		}
		return true
	case html.ElementNode:
		if excluded[n.DataAtom] || skipSubtree(n) {
			return true
		}
	case html.CommentNode, html.DoctypeNode:
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, yield) {
			return false
		}
	}
	return true
}

func eligibleText(n *html.Node) bool {
	if strings.TrimSpace(n.Data) == "" {
		return false
	}
	p := n.Parent
	if p == nil || p.Type != html.ElementNode {
		return false
	}
	return !excluded[p.DataAtom]
}

func skipSubtree(n *html.Node) bool {
	return dom.HasClass(n, HighlightClass) || dom.HasAttr(n, UIAttr)
}

// Inside reports whether n lies within a highlight annotation or overlay
// element, n itself excluded.
func Inside(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if skipSubtree(p) {
			return true
		}
	}
	return false
}

// Collect snapshots Leaves(root).
func Collect(root *html.Node) []*html.Node {
	var out []*html.Node
	for n := range Leaves(root) {
		out = append(out, n)
	}
	return out
}
