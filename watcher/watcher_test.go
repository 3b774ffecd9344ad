package watcher

import (
	"testing"
	"time"

	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/phrasemark/dom"
	"github.com/hazyhaar/phrasemark/mutation"
	"github.com/hazyhaar/phrasemark/scheduler"
)

var textInsert = []mutation.Record{{Op: mutation.OpInsert, NodeType: mutation.TextNode, Text: "hi"}}

func TestNotify_Coalesces(t *testing.T) {
	m := scheduler.NewManual()
	calls := 0
	w := New(m, func() { calls++ }, Config{})

	for range 5 {
		w.Notify(textInsert)
		m.Advance(100 * time.Millisecond)
	}
	if calls != 0 {
		t.Fatalf("re-apply before quiet period: got %d calls", calls)
	}
	if m.Timers() != 1 {
		t.Fatalf("pending timers: got %d, want 1", m.Timers())
	}
	m.Advance(399 * time.Millisecond)
	if calls != 0 {
		t.Fatalf("re-apply 499ms after last batch: got %d calls", calls)
	}
	m.Advance(time.Millisecond)
	if calls != 1 {
		t.Fatalf("re-apply after window: got %d calls, want 1", calls)
	}
	if w.Pending() {
		t.Fatal("still pending after firing")
	}
}

func TestNotify_IgnoresNonTextBatches(t *testing.T) {
	m := scheduler.NewManual()
	calls := 0
	w := New(m, func() { calls++ }, Config{})

	w.Notify([]mutation.Record{
		{Op: mutation.OpAttr, Name: "class"},
		{Op: mutation.OpRemove},
		{Op: mutation.OpInsert, NodeType: mutation.ElementNode, Tag: "img"},
		{Op: mutation.OpInsert, NodeType: mutation.ElementNode, Tag: "div", Text: "  \n "},
	})
	m.Advance(time.Second)
	if calls != 0 {
		t.Fatalf("calls: got %d, want 0", calls)
	}
}

func TestAttach_ObservesDocument(t *testing.T) {
	m := scheduler.NewManual()
	d, err := dom.ParseString("<p>x</p>")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	calls := 0
	w := New(m, func() { calls++ }, Config{Window: 50 * time.Millisecond})
	w.Attach(d)
	w.Attach(d)

	p := dom.FindFirst(d.Root(), dom.IsTag(atom.P))
	div := dom.NewElement("div")
	div.AppendChild(dom.NewText("new content"))
	d.AppendChild(p, div)
	d.Flush()

	m.Advance(50 * time.Millisecond)
	if calls != 1 {
		t.Fatalf("calls: got %d, want 1", calls)
	}
}

func TestStop_CancelsAndUnsubscribes(t *testing.T) {
	m := scheduler.NewManual()
	d, err := dom.ParseString("<p>x</p>")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	calls := 0
	w := New(m, func() { calls++ }, Config{})
	w.Attach(d)
	w.Notify(textInsert)

	w.Stop()
	w.Stop()
	if m.Timers() != 0 {
		t.Fatalf("timers after Stop: got %d, want 0", m.Timers())
	}
	d.AppendChild(d.Body(), dom.NewText("late"))
	d.Flush()
	w.Notify(textInsert)
	m.Advance(time.Second)
	if calls != 0 {
		t.Fatalf("calls after Stop: got %d, want 0", calls)
	}
}
