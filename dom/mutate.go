package dom

import (
	"golang.org/x/net/html"

	"github.com/hazyhaar/phrasemark/mutation"
)

// InsertBefore inserts child into parent before ref, or appends it when ref
// is nil. A child that is attached elsewhere is moved.
func (d *Document) InsertBefore(parent, child, ref *html.Node) {
	if child.Parent != nil {
		d.Remove(child)
	}
	parent.InsertBefore(child, ref)
	if d.recording() {
		d.record(mutation.Record{
			Op:       mutation.OpInsert,
			XPath:    XPath(child),
			NodeType: nodeType(child),
			Tag:      tagName(child),
			Text:     TextContent(child),
		})
	}
}

// AppendChild appends child to parent.
func (d *Document) AppendChild(parent, child *html.Node) {
	d.InsertBefore(parent, child, nil)
}

// Remove detaches n from its parent. Detached nodes are left alone.
func (d *Document) Remove(n *html.Node) {
	if n.Parent == nil {
		return
	}
	var rec mutation.Record
	rec.Op = mutation.OpRemove
	if d.recording() {
		rec.XPath = XPath(n)
		rec.NodeType = nodeType(n)
		rec.Tag = tagName(n)
	}
	n.Parent.RemoveChild(n)
	if d.recording() {
		d.record(rec)
	}
}

// ReplaceWith puts nodes where old is, in order, and detaches old.
func (d *Document) ReplaceWith(old *html.Node, nodes ...*html.Node) {
	parent := old.Parent
	if parent == nil {
		return
	}
	for _, n := range nodes {
		d.InsertBefore(parent, n, old)
	}
	d.Remove(old)
}

// Unwrap replaces n with its children.
func (d *Document) Unwrap(n *html.Node) {
	var kids []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		kids = append(kids, c)
	}
	d.ReplaceWith(n, kids...)
}

// SetData changes the character data of a text or comment node.
func (d *Document) SetData(n *html.Node, data string) {
	old := n.Data
	n.Data = data
	if d.recording() {
		d.record(mutation.Record{
			Op:       mutation.OpText,
			XPath:    XPath(n),
			NodeType: nodeType(n),
			Value:    data,
			OldValue: old,
		})
	}
}

// SetAttr sets an attribute on an element.
func (d *Document) SetAttr(n *html.Node, key, val string) {
	old, _ := Attr(n, key)
	found := false
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val
			found = true
			break
		}
	}
	if !found {
		n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	}
	if d.recording() {
		d.record(mutation.Record{
			Op:       mutation.OpAttr,
			XPath:    XPath(n),
			NodeType: mutation.ElementNode,
			Tag:      n.Data,
			Name:     key,
			Value:    val,
			OldValue: old,
		})
	}
}

// RemoveAttr deletes an attribute from an element.
func (d *Document) RemoveAttr(n *html.Node, key string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			old := n.Attr[i].Val
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			if d.recording() {
				d.record(mutation.Record{
					Op:       mutation.OpAttrDel,
					XPath:    XPath(n),
					NodeType: mutation.ElementNode,
					Tag:      n.Data,
					Name:     key,
					OldValue: old,
				})
			}
			return
		}
	}
}

// Normalize merges adjacent text nodes and drops empty ones throughout the
// subtree rooted at n.
func (d *Document) Normalize(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type != html.TextNode {
			d.Normalize(c)
			c = next
			continue
		}
		for next != nil && next.Type == html.TextNode {
			after := next.NextSibling
			d.SetData(c, c.Data+next.Data)
			d.Remove(next)
			next = after
		}
		if c.Data == "" {
			d.Remove(c)
		}
		c = next
	}
}

// AddClass adds class to the element's class list.
func (d *Document) AddClass(n *html.Node, class string) {
	if HasClass(n, class) {
		return
	}
	cur, _ := Attr(n, "class")
	if cur != "" {
		cur += " "
	}
	d.SetAttr(n, "class", cur+class)
}

// RemoveClass removes class from the element's class list, dropping the
// attribute when it becomes empty.
func (d *Document) RemoveClass(n *html.Node, class string) {
	if !HasClass(n, class) {
		return
	}
	cur, _ := Attr(n, "class")
	var kept []string
	for _, c := range splitFields(cur) {
		if c != class {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		d.RemoveAttr(n, "class")
		return
	}
	d.SetAttr(n, "class", joinFields(kept))
}
