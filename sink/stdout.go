package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/phrasemark/mutation"
)

// Stdout writes one Event per line. Snapshot HTML is left out unless
// requested, and a snapshot identical to the page's previous one is
// skipped.
type Stdout struct {
	mu   sync.Mutex
	enc  *json.Encoder
	html bool
	last lastHash
}

// NewStdout creates a Stdout sink writing to w, or os.Stdout when w is nil.
// withHTML includes each snapshot's HTML in its line.
func NewStdout(w io.Writer, withHTML bool) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w), html: withHTML}
}

func (s *Stdout) Send(_ context.Context, batch mutation.Batch) error {
	return s.write(BatchEvent(batch))
}

func (s *Stdout) SendSnapshot(_ context.Context, snap mutation.Snapshot) error {
	if s.last.seen(snap.PageID, snap.HTMLHash) {
		return nil
	}
	return s.write(SnapshotEvent(snap, s.html))
}

func (s *Stdout) Close() error { return nil }

func (s *Stdout) write(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(e)
}
