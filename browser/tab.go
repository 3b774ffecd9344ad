package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/phrasemark/dom"
	"github.com/hazyhaar/phrasemark/mutation"
)

// Tab is a navigated stealth page.
type Tab struct {
	Page   *rod.Page
	URL    string
	router *rod.HijackRouter
}

// OpenTab creates a stealth tab on the manager's browser and navigates it
// to pageURL.
func (m *Manager) OpenTab(ctx context.Context, pageURL string) (*Tab, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	t := &Tab{Page: page, URL: pageURL}
	if len(m.cfg.ResourceBlocking) > 0 {
		if t.router, err = blockResources(page, m.cfg.ResourceBlocking); err != nil {
			m.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, m.cfg.NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load", "url", pageURL, "error", err)
	}
	return t, nil
}

// HTML serialises the tab's current DOM.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	s, err := t.Page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return s, nil
}

// Document captures the tab's DOM as a document.
func (t *Tab) Document(ctx context.Context) (*dom.Document, error) {
	s, err := t.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return dom.Parse(strings.NewReader(s))
}

// Listen enables DOM tracking and calls fn with every structural change
// until ctx ends. Inserted subtrees are requested whole so their text can
// be judged.
func (t *Tab) Listen(ctx context.Context, fn func([]mutation.Record)) error {
	p := t.Page.Context(ctx)
	if err := (proto.DOMEnable{}).Call(p); err != nil {
		return fmt.Errorf("browser: dom enable: %w", err)
	}
	depth := -1
	if _, err := (proto.DOMGetDocument{Depth: &depth}).Call(p); err != nil {
		return fmt.Errorf("browser: dom track: %w", err)
	}

	wait := p.EachEvent(
		func(e *proto.DOMChildNodeInserted) {
			fn([]mutation.Record{insertRecord(e.Node)})
		},
		func(e *proto.DOMSetChildNodes) {
			recs := make([]mutation.Record, 0, len(e.Nodes))
			for _, n := range e.Nodes {
				recs = append(recs, insertRecord(n))
			}
			fn(recs)
		},
		func(e *proto.DOMChildNodeRemoved) {
			fn([]mutation.Record{{Op: mutation.OpRemove}})
		},
		func(e *proto.DOMCharacterDataModified) {
			fn([]mutation.Record{{Op: mutation.OpText, NodeType: mutation.TextNode, Value: e.CharacterData}})
		},
		func(e *proto.DOMAttributeModified) {
			fn([]mutation.Record{{Op: mutation.OpAttr, Name: e.Name, Value: e.Value}})
		},
		func(e *proto.DOMDocumentUpdated) {
			fn([]mutation.Record{{Op: mutation.OpDocReset}})
		},
	)
	wait()
	return ctx.Err()
}

// Close stops request interception and closes the tab.
func (t *Tab) Close() error {
	if t.router != nil {
		_ = t.router.Stop()
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
