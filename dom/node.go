package dom

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/phrasemark/mutation"
)

// NewElement creates a detached element.
func NewElement(tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
		Attr:     attrs,
	}
}

// NewText creates a detached text node.
func NewText(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// Attr returns the value of an un-namespaced attribute.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// HasAttr reports whether n carries the attribute key.
func HasAttr(n *html.Node, key string) bool {
	_, ok := Attr(n, key)
	return ok
}

// HasClass reports whether the element's class list contains class.
func HasClass(n *html.Node, class string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	v, ok := Attr(n, "class")
	if !ok {
		return false
	}
	return slices.Contains(splitFields(v), class)
}

// IsTag returns a predicate matching elements with the given atom.
func IsTag(a atom.Atom) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == a
	}
}

// HasClassFunc returns a predicate matching elements carrying class.
func HasClassFunc(class string) func(*html.Node) bool {
	return func(n *html.Node) bool { return HasClass(n, class) }
}

// TextContent concatenates the text of every text node under n.
func TextContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			return
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	return b.String()
}

// FindAll returns every node under root (root included) matching pred, in
// document order.
func FindAll(root *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if pred(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// FindFirst returns the first node under root matching pred, or nil.
func FindFirst(root *html.Node, pred func(*html.Node) bool) *html.Node {
	if root == nil {
		return nil
	}
	if pred(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := FindFirst(c, pred); n != nil {
			return n
		}
	}
	return nil
}

// Closest returns n or its nearest ancestor matching pred, or nil.
func Closest(n *html.Node, pred func(*html.Node) bool) *html.Node {
	for c := n; c != nil; c = c.Parent {
		if pred(c) {
			return c
		}
	}
	return nil
}

// ChildIndex is the position of n among its parent's children, or -1 when
// detached.
func ChildIndex(n *html.Node) int {
	if n.Parent == nil {
		return -1
	}
	i := 0
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c == n {
			return i
		}
		i++
	}
	return -1
}

// ChildAt returns the i-th child of n, or nil past the end.
func ChildAt(n *html.Node, i int) *html.Node {
	if i < 0 {
		return nil
	}
	c := n.FirstChild
	for ; c != nil && i > 0; c = c.NextSibling {
		i--
	}
	return c
}

// ChildCount is the number of children of n.
func ChildCount(n *html.Node) int {
	k := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		k++
	}
	return k
}

// XPath locates n for mutation records. Sibling indices are emitted only
// when several siblings share the tag name.
func XPath(n *html.Node) string {
	var parts []string
	for c := n; c != nil; c = c.Parent {
		switch c.Type {
		case html.DocumentNode, html.DoctypeNode:
			continue
		case html.TextNode:
			parts = append(parts, "text()")
		case html.CommentNode:
			parts = append(parts, "comment()")
		case html.ElementNode:
			parts = append(parts, elementStep(c))
		}
	}
	slices.Reverse(parts)
	return "/" + strings.Join(parts, "/")
}

func elementStep(n *html.Node) string {
	name := strings.ToLower(n.Data)
	if n.Parent == nil {
		return name
	}
	idx, total := 0, 0
	for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
		if s.Type != html.ElementNode || strings.ToLower(s.Data) != name {
			continue
		}
		total++
		if s == n {
			idx = total
		}
	}
	if total > 1 {
		return fmt.Sprintf("%s[%d]", name, idx)
	}
	return name
}

func nodeType(n *html.Node) int {
	switch n.Type {
	case html.ElementNode:
		return mutation.ElementNode
	case html.TextNode:
		return mutation.TextNode
	case html.CommentNode:
		return mutation.CommentNode
	}
	return 0
}

func tagName(n *html.Node) string {
	if n.Type == html.ElementNode {
		return n.Data
	}
	return ""
}

func splitFields(s string) []string { return strings.Fields(s) }

func joinFields(f []string) string { return strings.Join(f, " ") }

// Clone returns a detached deep copy of n.
func Clone(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      slices.Clone(n.Attr),
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(Clone(ch))
	}
	return c
}
