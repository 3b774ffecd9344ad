package page

import (
	"context"
	"testing"

	"github.com/hazyhaar/phrasemark/bridge"
	"github.com/hazyhaar/phrasemark/dom"
	"github.com/hazyhaar/phrasemark/registry"
	"github.com/hazyhaar/phrasemark/scheduler"
)

func newSetPage(t *testing.T, id string, sched *scheduler.Manual, store registry.Store) *Page {
	t.Helper()
	doc, err := dom.ParseString(source)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p := New(doc, Config{ID: id, Registry: store, Scheduler: sched, Spawn: func(fn func()) { fn() }})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return p
}

func TestSet_PutReplaceRemove(t *testing.T) {
	ctx := context.Background()
	sched := scheduler.NewManual()
	store := registry.NewMemory()
	s := NewSet()

	a := newSetPage(t, "a", sched, store)
	b := newSetPage(t, "b", sched, store)
	if old := s.Put(a); old != nil {
		t.Fatalf("Put a: replaced %v", old.ID())
	}
	s.Put(b)
	a2 := newSetPage(t, "a", sched, store)
	if old := s.Put(a2); old != a {
		t.Fatal("Put a2: expected a to be replaced")
	}
	if got := s.IDs(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("IDs: got %v", got)
	}
	if p, _ := s.Get("a"); p != a2 {
		t.Fatal("Get a: not the replacement")
	}

	ok, err := s.Remove(ctx, "b")
	if !ok || err != nil {
		t.Fatalf("Remove b: got (%v, %v)", ok, err)
	}
	if err := b.ToggleHighlights(ctx); err != ErrDestroyed {
		t.Fatalf("removed page: got %v, want ErrDestroyed", err)
	}
	if ok, _ := s.Remove(ctx, "b"); ok {
		t.Fatal("Remove b twice reported true")
	}
}

func TestSet_ResolveAndReapply(t *testing.T) {
	ctx := context.Background()
	sched := scheduler.NewManual()
	store := registry.NewMemory()
	s := NewSet()
	s.Put(newSetPage(t, "a", sched, store))

	if _, err := bridge.Send(ctx, s.Resolve, "missing", bridge.Request{Action: bridge.ToggleHighlights}); err == nil {
		t.Fatal("Send to missing page: expected error")
	}

	if err := registry.PutPhrase(ctx, store, "cat", "color: red;", false); err != nil {
		t.Fatalf("PutPhrase: %v", err)
	}
	if err := s.Reapply(ctx); err != nil {
		t.Fatalf("Reapply: %v", err)
	}
	sts, err := s.Statuses(ctx)
	if err != nil {
		t.Fatalf("Statuses: %v", err)
	}
	if len(sts) != 1 || sts[0].Highlights != 1 {
		t.Fatalf("Statuses: got %+v", sts)
	}

	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(s.Pages()) != 0 {
		t.Fatal("Close left pages behind")
	}
}
