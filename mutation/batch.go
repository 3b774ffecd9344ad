// Package mutation defines the structural-change records produced by a live
// document and the snapshot type emitted after each highlight pass.
// Records are produced in-process by dom.Document and, for browser-hosted
// pages, translated from CDP DOM events.
package mutation

import "strings"

// Op is the type of tree mutation observed.
type Op string

const (
	OpInsert   Op = "insert"    // node inserted (Text carries its text content)
	OpRemove   Op = "remove"    // node removed
	OpText     Op = "text"      // character data modified
	OpAttr     Op = "attr"      // attribute set
	OpAttrDel  Op = "attr_del"  // attribute removed
	OpDocReset Op = "doc_reset" // entire document replaced
)

// Node types, numbered as in the DOM.
const (
	ElementNode = 1
	TextNode    = 3
	CommentNode = 8
)

// Record is a single tree mutation.
type Record struct {
	Op       Op     `json:"op"`
	XPath    string `json:"xpath"`
	NodeType int    `json:"node_type,omitempty"`
	Tag      string `json:"tag,omitempty"`
	Name     string `json:"name,omitempty"`      // attribute name for attr/attr_del
	Value    string `json:"value,omitempty"`     // new value
	OldValue string `json:"old_value,omitempty"` // previous value
	Text     string `json:"text,omitempty"`      // text content of an inserted subtree
}

// CarriesText reports whether the record inserts a node with text in it:
// a text node with non-empty data, or an element whose text content is not
// blank.
func (r Record) CarriesText() bool {
	if r.Op != OpInsert {
		return false
	}
	switch r.NodeType {
	case TextNode:
		return r.Text != ""
	case ElementNode:
		return strings.TrimSpace(r.Text) != ""
	}
	return false
}

// Batch is the unit delivered to observers: all records accumulated during a
// single task of the page's loop (or one CDP delivery).
type Batch struct {
	ID        string   `json:"id"` // UUIDv7
	PageURL   string   `json:"page_url"`
	PageID    string   `json:"page_id"`
	Seq       uint64   `json:"seq"` // monotonically increasing per page
	Records   []Record `json:"records"`
	Timestamp int64    `json:"timestamp"` // epoch milliseconds
}
