package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/hazyhaar/phrasemark/audit"
	"github.com/hazyhaar/phrasemark/bridge"
	"github.com/hazyhaar/phrasemark/phrase"
	"github.com/hazyhaar/phrasemark/registry"
	"github.com/hazyhaar/phrasemark/shield"
)

type phrasesResponse struct {
	Phrases *phrase.Map `json:"phrases"`
	Enabled bool        `json:"enabled"`
}

func (s *Server) styles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, phrase.Predefined)
}

func (s *Server) listPhrases(w http.ResponseWriter, r *http.Request) {
	v, err := s.cfg.Store.Get(r.Context(), registry.KeyPhraseStyles, registry.KeyHighlightEnabled)
	if err != nil {
		writeError(w, storageStatus(err), err)
		return
	}
	st, err := registry.Decode(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, phrasesResponse{Phrases: st.Phrases, Enabled: st.Enabled})
}

type putPhraseRequest struct {
	Phrase string `json:"phrase"`
	// Style is a CSS declaration list. StyleName picks a predefined style
	// instead.
	Style     string `json:"style"`
	StyleName string `json:"style_name"`
	Overwrite bool   `json:"overwrite"`
}

// putPhrase stores a phrase. An existing phrase answers 409 unless
// overwrite is set, so the caller can ask before replacing it.
func (s *Server) putPhrase(w http.ResponseWriter, r *http.Request) {
	var req putPhraseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	style := req.Style
	if req.StyleName != "" {
		named, ok := phrase.Lookup(req.StyleName)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown style %q", req.StyleName))
			return
		}
		style = named
	}
	if style == "" {
		style = phrase.DefaultStyle
	}

	err := registry.PutPhrase(r.Context(), s.cfg.Store, req.Phrase, style, req.Overwrite)
	s.cfg.Audit.RecordErr(r.Context(), audit.PutPhrase, strings.TrimSpace(req.Phrase), phrase.SanitizeStyle(style), err)
	if err != nil {
		if errors.Is(err, registry.ErrPhraseExists) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":  fmt.Sprintf("Phrase %q already exists. Overwrite?", req.Phrase),
				"exists": true,
			})
			return
		}
		writeError(w, storageStatus(err), err)
		return
	}
	shield.GetLogger(r.Context()).Info("server: phrase saved", "phrase", req.Phrase, "overwrite", req.Overwrite)
	s.pushPhrases(r.Context())
	writeJSON(w, http.StatusCreated, map[string]bool{"success": true})
}

// deletePhrases removes ?phrase=..., or every phrase with ?all=true.
func (s *Server) deletePhrases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	all, _ := strconv.ParseBool(q.Get("all"))
	switch {
	case all:
		err := registry.ClearPhrases(r.Context(), s.cfg.Store)
		s.cfg.Audit.RecordErr(r.Context(), audit.ClearPhrases, "", "", err)
		if err != nil {
			writeError(w, storageStatus(err), err)
			return
		}
	case q.Get("phrase") != "":
		ok, err := registry.DeletePhrase(r.Context(), s.cfg.Store, q.Get("phrase"))
		if ok || err != nil {
			s.cfg.Audit.RecordErr(r.Context(), audit.DeletePhrase, strings.TrimSpace(q.Get("phrase")), "", err)
		}
		if err != nil {
			writeError(w, storageStatus(err), err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("phrase %q not found", q.Get("phrase")))
			return
		}
	default:
		writeError(w, http.StatusBadRequest, errors.New("phrase or all=true required"))
		return
	}
	s.pushPhrases(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// setEnabled flips the global switch. Disabling strips every page;
// enabling re-highlights them.
func (s *Server) setEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := registry.SetEnabled(r.Context(), s.cfg.Store, req.Enabled)
	s.cfg.Audit.RecordErr(r.Context(), audit.SetEnabled, "", strconv.FormatBool(req.Enabled), err)
	if err != nil {
		writeError(w, storageStatus(err), err)
		return
	}
	if req.Enabled {
		s.pushPhrases(r.Context())
	} else if err := bridge.Broadcast(r.Context(), s.cfg.Pages.Targets(), bridge.Request{Action: bridge.RemoveHighlights}); err != nil {
		shield.GetLogger(r.Context()).Warn("server: broadcast failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

// pushPhrases sends the stored map to every page while highlighting is
// enabled.
func (s *Server) pushPhrases(ctx context.Context) {
	lg := shield.GetLogger(ctx)
	st := registry.Load(ctx, s.cfg.Store, lg)
	if !st.Enabled {
		return
	}
	req := bridge.Request{Action: bridge.UpdatePhrases, PhraseStyles: st.Phrases}
	if err := bridge.Broadcast(ctx, s.cfg.Pages.Targets(), req); err != nil {
		lg.Warn("server: broadcast failed", "error", err)
	}
}

// auditLog lists recent registry edits, newest first.
func (s *Server) auditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	entries, err := s.cfg.Audit.Query(r.Context(), audit.Filter{
		Action: q.Get("action"),
		Phrase: q.Get("phrase"),
		Limit:  limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
