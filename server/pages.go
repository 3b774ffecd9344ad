package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/html"

	"github.com/hazyhaar/phrasemark/bridge"
	"github.com/hazyhaar/phrasemark/dom"
	"github.com/hazyhaar/phrasemark/page"
	"github.com/hazyhaar/phrasemark/scanner"
	"github.com/hazyhaar/phrasemark/selection"
	"github.com/hazyhaar/phrasemark/shield"
)

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	sts, err := s.cfg.Pages.Statuses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if sts == nil {
		sts = []page.Status{}
	}
	writeJSON(w, http.StatusOK, sts)
}

type createPageRequest struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	HTML string `json:"html"`
}

// createPage opens a page from inline HTML or by fetching URL, and starts
// highlighting it.
func (s *Server) createPage(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Scheduler == nil {
		writeError(w, http.StatusNotImplemented, errors.New("pages cannot be created on this server"))
		return
	}
	var req createPageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var (
		doc *dom.Document
		err error
	)
	switch {
	case req.HTML != "":
		doc, err = dom.ParseString(req.HTML)
	case req.URL != "":
		res, ferr := s.cfg.Fetcher.Fetch(r.Context(), req.URL)
		if ferr != nil {
			writeError(w, http.StatusBadGateway, ferr)
			return
		}
		req.URL = res.URL
		doc, err = res.Document()
	default:
		writeError(w, http.StatusBadRequest, errors.New("url or html required"))
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	lg := shield.GetLogger(r.Context())
	p := page.New(doc, page.Config{
		ID:        req.ID,
		URL:       req.URL,
		Registry:  s.cfg.Store,
		Scheduler: s.cfg.Scheduler,
		Debounce:  s.cfg.Debounce,
		Selection: s.cfg.Selection,
		Spawn:     s.cfg.Spawn,
		Audit:     s.cfg.Audit,
		Logger:    s.cfg.Logger,
	})
	if err := p.Start(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if old := s.cfg.Pages.Put(p); old != nil {
		_ = old.Destroy(r.Context())
	}
	lg.Info("server: page opened", "page", p.ID(), "url", req.URL)

	st, err := p.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*page.Page, bool) {
	id := chi.URLParam(r, "pageID")
	p, ok := s.cfg.Pages.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", bridge.ErrNoPage, id))
	}
	return p, ok
}

// renderPage returns the highlighted document as HTML (default), reader
// HTML or Markdown, picked by ?format=.
func (s *Server) renderPage(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	snap, err := p.Snapshot(r.Context())
	if err != nil {
		writeError(w, pageStatus(err), err)
		return
	}
	doc, err := dom.Parse(bytes.NewReader(snap.HTML))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeDocument(w, r, doc, p.URL())
}

func (s *Server) deletePage(w http.ResponseWriter, r *http.Request) {
	ok, err := s.cfg.Pages.Remove(r.Context(), chi.URLParam(r, "pageID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, bridge.ErrNoPage)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// message delivers a bridge request and answers with the bridge response.
func (s *Server) message(w http.ResponseWriter, r *http.Request) {
	var req bridge.Request
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := bridge.Send(r.Context(), s.cfg.Pages.Resolve, chi.URLParam(r, "pageID"), req)
	writeJSON(w, bridgeStatus(err), resp)
}

// toggle is the toolbar-button relay.
func (s *Server) toggle(w http.ResponseWriter, r *http.Request) {
	resp, err := bridge.Relay(r.Context(), s.cfg.Pages.Resolve, chi.URLParam(r, "pageID"))
	writeJSON(w, bridgeStatus(err), resp)
}

// key delivers a key press, e.g. {"name":"h","ctrl":true,"shift":true}.
func (s *Server) key(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var k struct {
		Name  string `json:"name"`
		Ctrl  bool   `json:"ctrl"`
		Shift bool   `json:"shift"`
		Alt   bool   `json:"alt"`
		Meta  bool   `json:"meta"`
	}
	if err := decode(r, &k); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	used, err := p.KeyDown(r.Context(), selection.Key{Name: k.Name, Ctrl: k.Ctrl, Shift: k.Shift, Alt: k.Alt, Meta: k.Meta})
	if err != nil {
		writeError(w, pageStatus(err), err)
		return
	}
	s.writeState(w, r, p, map[string]any{"consumed": used})
}

// selectText selects the first occurrence of text that lies within one
// text node and releases the mouse, as a user drag would.
func (s *Server) selectText(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := decode(r, &req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, errors.New("text required"))
		return
	}
	var (
		rng   dom.Range
		found bool
	)
	err := p.Mutate(r.Context(), func(doc *dom.Document) {
		n := dom.FindFirst(doc.Body(), func(n *html.Node) bool {
			return n.Type == html.TextNode && strings.Contains(n.Data, req.Text) && !overlay(n)
		})
		if n != nil {
			i := strings.Index(n.Data, req.Text)
			rng, found = dom.TextRange(n, i, i+len(req.Text)), true
		}
	})
	if err != nil {
		writeError(w, pageStatus(err), err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("text %q not found in a single node", req.Text))
		return
	}
	if err := p.Select(r.Context(), rng); err != nil {
		writeError(w, pageStatus(err), err)
		return
	}
	if err := p.MouseUp(r.Context()); err != nil {
		writeError(w, pageStatus(err), err)
		return
	}
	s.writeState(w, r, p, nil)
}

func overlay(n *html.Node) bool {
	return dom.Closest(n, func(a *html.Node) bool { return dom.HasAttr(a, scanner.UIAttr) }) != nil
}

// prompt presses a selection prompt button: save, overwrite or cancel.
func (s *Server) prompt(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Action string `json:"action"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch req.Action {
	case selection.ActionSave, selection.ActionOverwrite, selection.ActionCancel:
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown action %q", req.Action))
		return
	}
	if err := p.Press(r.Context(), req.Action); err != nil {
		writeError(w, pageStatus(err), err)
		return
	}
	s.writeState(w, r, p, nil)
}

func (s *Server) writeState(w http.ResponseWriter, r *http.Request, p *page.Page, extra map[string]any) {
	st, err := p.Status(r.Context())
	if err != nil {
		writeError(w, pageStatus(err), err)
		return
	}
	out := map[string]any{"status": st}
	for k, v := range extra {
		out[k] = v
	}
	writeJSON(w, http.StatusOK, out)
}

func pageStatus(err error) int {
	if errors.Is(err, page.ErrDestroyed) {
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

func bridgeStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, bridge.ErrNoPage):
		return http.StatusNotFound
	case errors.Is(err, bridge.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, page.ErrDestroyed):
		return http.StatusGone
	}
	return http.StatusInternalServerError
}
