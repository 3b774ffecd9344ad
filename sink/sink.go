// Package sink delivers mutation batches and highlighted snapshots to
// output backends.
package sink

import (
	"context"
	"sync"

	"github.com/hazyhaar/phrasemark/mutation"
)

// Sink is the output interface. Implementations deliver to stdout, a
// webhook or a directory.
type Sink interface {
	Send(ctx context.Context, batch mutation.Batch) error
	SendSnapshot(ctx context.Context, snap mutation.Snapshot) error
	Close() error
}

// Kind names what an Event reports.
type Kind string

const (
	KindChanges  Kind = "changes"     // a page's DOM changed
	KindSnapshot Kind = "highlighted" // a page was re-highlighted
)

// Event is the JSON form written by the stdout and webhook sinks. A
// changes event summarises a batch; a highlighted event summarises a
// snapshot and carries its HTML only when the sink was asked to.
type Event struct {
	Kind      Kind   `json:"kind"`
	ID        string `json:"id"`
	PageID    string `json:"page_id"`
	PageURL   string `json:"page_url"`
	Timestamp int64  `json:"timestamp"`

	Seq     uint64            `json:"seq,omitempty"`
	Records []mutation.Record `json:"records,omitempty"`

	Highlights int    `json:"highlights"`
	Phrases    int    `json:"phrases,omitempty"`
	HTMLHash   string `json:"html_hash,omitempty"`
	HTML       string `json:"html,omitempty"`
}

// BatchEvent describes batch.
func BatchEvent(b mutation.Batch) Event {
	return Event{
		Kind:      KindChanges,
		ID:        b.ID,
		PageID:    b.PageID,
		PageURL:   b.PageURL,
		Timestamp: b.Timestamp,
		Seq:       b.Seq,
		Records:   b.Records,
	}
}

// SnapshotEvent describes snap, with its HTML when withHTML is set.
func SnapshotEvent(s mutation.Snapshot, withHTML bool) Event {
	e := Event{
		Kind:       KindSnapshot,
		ID:         s.ID,
		PageID:     s.PageID,
		PageURL:    s.PageURL,
		Timestamp:  s.Timestamp,
		Highlights: s.Highlights,
		Phrases:    s.Phrases,
		HTMLHash:   s.HTMLHash,
	}
	if withHTML {
		e.HTML = string(s.HTML)
	}
	return e
}

// lastHash remembers the last snapshot hash delivered per page, so a
// re-apply that left the page unchanged is not delivered twice.
type lastHash struct {
	mu     sync.Mutex
	byPage map[string]string
}

// seen records hash for page and reports whether it was already the last
// one. Snapshots without a hash are never considered seen.
func (l *lastHash) seen(page, hash string) bool {
	if hash == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.byPage == nil {
		l.byPage = make(map[string]string)
	}
	if l.byPage[page] == hash {
		return true
	}
	l.byPage[page] = hash
	return false
}

// forget drops page's hash so the next snapshot is delivered again.
func (l *lastHash) forget(page string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byPage, page)
}
