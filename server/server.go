// Package server exposes the phrase registry, live pages and the message
// bridge over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/phrasemark/audit"
	"github.com/hazyhaar/phrasemark/export"
	"github.com/hazyhaar/phrasemark/fetcher"
	"github.com/hazyhaar/phrasemark/page"
	"github.com/hazyhaar/phrasemark/registry"
	"github.com/hazyhaar/phrasemark/scheduler"
	"github.com/hazyhaar/phrasemark/selection"
	"github.com/hazyhaar/phrasemark/shield"
)

// Config wires a Server.
type Config struct {
	Store registry.Store
	// Pages holds the live pages. Default: an empty set.
	Pages *page.Set
	// Scheduler runs pages created through the API. Required for
	// POST /api/pages.
	Scheduler scheduler.Scheduler
	// Spawn is passed to created pages. Default: a new goroutine.
	Spawn     func(func())
	Fetcher   *fetcher.Fetcher
	Exporter  *export.Exporter
	Debounce  time.Duration
	Selection selection.Config
	// Audit records registry edits. Optional.
	Audit *audit.Log
	// TokenHash is a bcrypt hash guarding API writes. Empty leaves the API
	// open.
	TokenHash string
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	if c.Pages == nil {
		c.Pages = page.NewSet()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Fetcher == nil {
		c.Fetcher = fetcher.New(fetcher.WithLogger(c.Logger))
	}
	if c.Exporter == nil {
		c.Exporter = export.New()
	}
}

// Server serves the API.
type Server struct {
	cfg Config
}

// New creates a Server.
func New(cfg Config) *Server {
	cfg.defaults()
	return &Server{cfg: cfg}
}

// Pages returns the live page set.
func (s *Server) Pages() *page.Set { return s.cfg.Pages }

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.Stack(s.cfg.Logger) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/view", s.view)

	r.Route("/api", func(r chi.Router) {
		r.Use(shield.RequireToken(s.cfg.TokenHash))
		r.Get("/styles", s.styles)

		r.Get("/phrases", s.listPhrases)
		r.Post("/phrases", s.putPhrase)
		r.Delete("/phrases", s.deletePhrases)
		r.Put("/enabled", s.setEnabled)
		r.Get("/audit", s.auditLog)

		r.Route("/pages", func(r chi.Router) {
			r.Get("/", s.listPages)
			r.Post("/", s.createPage)
			r.Route("/{pageID}", func(r chi.Router) {
				r.Get("/", s.renderPage)
				r.Delete("/", s.deletePage)
				r.Post("/messages", s.message)
				r.Post("/toggle", s.toggle)
				r.Post("/keys", s.key)
				r.Post("/selection", s.selectText)
				r.Post("/prompt", s.prompt)
			})
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// storageStatus maps registry failures onto HTTP codes.
func storageStatus(err error) int {
	switch {
	case registry.IsStorageError(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, registry.ErrPhraseExists):
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
