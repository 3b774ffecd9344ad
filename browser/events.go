package browser

import (
	"strings"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/phrasemark/mutation"
)

// insertRecord describes an inserted CDP node the way dom.Document
// describes its own inserts.
func insertRecord(n *proto.DOMNode) mutation.Record {
	if n == nil {
		return mutation.Record{Op: mutation.OpInsert}
	}
	rec := mutation.Record{
		Op:       mutation.OpInsert,
		NodeType: n.NodeType,
		Text:     nodeText(n),
	}
	if n.NodeType == mutation.ElementNode {
		rec.Tag = strings.ToLower(n.LocalName)
		if rec.Tag == "" {
			rec.Tag = strings.ToLower(n.NodeName)
		}
	}
	return rec
}

// nodeText concatenates the text node values of n's subtree, skipping
// script and style content.
func nodeText(n *proto.DOMNode) string {
	var b strings.Builder
	var walk func(*proto.DOMNode)
	walk = func(n *proto.DOMNode) {
		switch n.NodeType {
		case mutation.TextNode:
			b.WriteString(n.NodeValue)
			return
		case mutation.ElementNode:
			switch strings.ToUpper(n.NodeName) {
			case "SCRIPT", "STYLE", "NOSCRIPT", "TEMPLATE":
				return
			}
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
