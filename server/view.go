package server

import (
	"bytes"
	"errors"
	"net/http"
	"net/url"

	"github.com/hazyhaar/phrasemark/dom"
	"github.com/hazyhaar/phrasemark/export"
	"github.com/hazyhaar/phrasemark/highlight"
	"github.com/hazyhaar/phrasemark/registry"
	"github.com/hazyhaar/phrasemark/shield"
)

// view fetches ?url=, highlights it with the stored phrases and renders it
// once. Nothing is kept.
func (s *Server) view(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	u, err := url.Parse(raw)
	if raw == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		writeError(w, http.StatusBadRequest, errors.New("url must be an absolute http(s) URL"))
		return
	}
	lg := shield.GetLogger(r.Context())
	res, err := s.cfg.Fetcher.Fetch(r.Context(), u.String())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	doc, err := res.Document()
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	eng := highlight.New(doc, lg)
	eng.InstallStyles()
	out := eng.Apply(registry.Load(r.Context(), s.cfg.Store, lg))
	lg.Info("server: view", "url", res.URL, "annotations", out.Annotations, "sufficient", res.Sufficient)
	s.writeDocument(w, r, doc, res.URL)
}

// writeDocument renders doc in the ?format= requested: html, reader or
// markdown.
func (s *Server) writeDocument(w http.ResponseWriter, r *http.Request, doc *dom.Document, pageURL string) {
	format := r.URL.Query().Get("format")
	ct, err := export.ContentType(format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var buf bytes.Buffer
	if err := s.cfg.Exporter.Write(&buf, doc, format, pageURL); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", ct)
	_, _ = buf.WriteTo(w)
}
