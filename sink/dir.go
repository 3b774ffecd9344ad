package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/phrasemark/mutation"
)

// Dir writes each snapshot's HTML to <dir>/<page id>.html, replacing the
// previous capture of the same page. Batches are ignored.
type Dir struct {
	dir string
}

// NewDir creates the directory if needed.
func NewDir(dir string) (*Dir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: dir: %w", err)
	}
	return &Dir{dir: dir}, nil
}

func (d *Dir) Send(context.Context, mutation.Batch) error { return nil }

func (d *Dir) SendSnapshot(_ context.Context, snap mutation.Snapshot) error {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, snap.PageID)
	if name == "" || name == "." || name == ".." {
		name = snap.ID
	}
	path := filepath.Join(d.dir, name+".html")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, snap.HTML, 0o644); err != nil {
		return fmt.Errorf("sink: dir: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("sink: dir: rename: %w", err)
	}
	return nil
}

func (d *Dir) Close() error { return nil }
