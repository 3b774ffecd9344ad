package page

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/hazyhaar/phrasemark/bridge"
)

// Set tracks the live pages of a process by id.
type Set struct {
	mu    sync.RWMutex
	pages map[string]*Page
	order []string
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{pages: make(map[string]*Page)}
}

// Put registers p and returns the page it replaced under the same id, if
// any. The caller destroys the replaced page.
func (s *Set) Put(p *Page) *Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.pages[p.ID()]
	if !ok {
		s.order = append(s.order, p.ID())
	}
	s.pages[p.ID()] = p
	return old
}

// Get returns the page with id.
func (s *Set) Get(id string) (*Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[id]
	return p, ok
}

// Resolve implements bridge.Resolver.
func (s *Set) Resolve(id string) (bridge.Target, bool) {
	p, ok := s.Get(id)
	if !ok {
		return nil, false
	}
	return p, true
}

// Pages returns the pages in registration order.
func (s *Set) Pages() []*Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Page, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.pages[id])
	}
	return out
}

// Targets returns the pages as bridge targets, for broadcasts.
func (s *Set) Targets() []bridge.Target {
	pages := s.Pages()
	out := make([]bridge.Target, len(pages))
	for i, p := range pages {
		out[i] = p
	}
	return out
}

// Statuses reports every page's status. Pages destroyed concurrently are
// skipped.
func (s *Set) Statuses(ctx context.Context) ([]Status, error) {
	var out []Status
	for _, p := range s.Pages() {
		st, err := p.Status(ctx)
		if err != nil {
			return nil, err
		}
		if !st.Destroyed {
			out = append(out, st)
		}
	}
	return out, nil
}

// Remove destroys and forgets the page with id. It reports whether the page
// was known.
func (s *Set) Remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	p, ok := s.pages[id]
	if ok {
		delete(s.pages, id)
		s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	}
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, p.Destroy(ctx)
}

// Reapply re-highlights every page from the registry, as a storage change
// notification would.
func (s *Set) Reapply(ctx context.Context) error {
	var errs []error
	for _, p := range s.Pages() {
		if err := p.Reapply(ctx); err != nil && !errors.Is(err, ErrDestroyed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close destroys every page.
func (s *Set) Close(ctx context.Context) error {
	s.mu.Lock()
	pages := make([]*Page, 0, len(s.order))
	for _, id := range s.order {
		pages = append(pages, s.pages[id])
	}
	s.pages = make(map[string]*Page)
	s.order = nil
	s.mu.Unlock()

	var errs []error
	for _, p := range pages {
		if err := p.Destroy(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IDs lists page ids in registration order. It satisfies bridge.Lister.
func (s *Set) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}
