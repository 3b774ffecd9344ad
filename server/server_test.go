package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/phrasemark/audit"
	"github.com/hazyhaar/phrasemark/page"
	"github.com/hazyhaar/phrasemark/phrase"
	"github.com/hazyhaar/phrasemark/registry"
	"github.com/hazyhaar/phrasemark/scheduler"
)

const article = `<html><head><title>t</title></head><body><p>The cat sat on the mat.</p></body></html>`

type testEnv struct {
	srv   *Server
	h     http.Handler
	store *registry.Memory
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	store := registry.NewMemory()
	if _, err := registry.Seed(context.Background(), store); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	srv := New(Config{
		Store:     store,
		Scheduler: scheduler.NewManual(),
		Spawn:     func(fn func()) { fn() },
	})
	return &testEnv{srv: srv, h: srv.Handler(), store: store}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, req)
	return w
}

func (e *testEnv) openPage(t *testing.T) page.Status {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"id": "p1", "url": "https://example.test/a", "html": article})
	w := e.do(t, http.MethodPost, "/api/pages", string(body))
	if w.Code != http.StatusCreated {
		t.Fatalf("create page: got %d: %s", w.Code, w.Body)
	}
	var st page.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return st
}

func (e *testEnv) status(t *testing.T) page.Status {
	t.Helper()
	p, ok := e.srv.Pages().Get("p1")
	if !ok {
		t.Fatal("page p1 missing")
	}
	st, err := p.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	return st
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: got %d", w.Code)
	}
	if w.Header().Get("X-Trace-ID") == "" {
		t.Error("missing X-Trace-ID header")
	}
}

func TestPhrases_PutConflictOverwriteDelete(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/phrases", `{"phrase":"  cat ","style_name":"blue"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("put: got %d: %s", w.Code, w.Body)
	}

	w = e.do(t, http.MethodPost, "/api/phrases", `{"phrase":"cat"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate put: got %d, want 409", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"exists":true`) {
		t.Errorf("conflict body: got %s", w.Body)
	}

	w = e.do(t, http.MethodPost, "/api/phrases", `{"phrase":"cat","overwrite":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("overwrite: got %d", w.Code)
	}
	m, err := registry.Phrases(context.Background(), e.store)
	if err != nil {
		t.Fatalf("Phrases: %v", err)
	}
	if style, _ := m.Get("cat"); style != phrase.DefaultStyle {
		t.Errorf("style after overwrite: got %q, want default", style)
	}

	w = e.do(t, http.MethodGet, "/api/phrases", "")
	var got phrasesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Phrases.Len() != 1 || !got.Enabled {
		t.Errorf("list: got %d phrases, enabled=%v", got.Phrases.Len(), got.Enabled)
	}

	if w := e.do(t, http.MethodDelete, "/api/phrases?phrase=cat", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete: got %d", w.Code)
	}
	if w := e.do(t, http.MethodDelete, "/api/phrases?phrase=cat", ""); w.Code != http.StatusNotFound {
		t.Fatalf("delete missing: got %d, want 404", w.Code)
	}
}

func TestPhrases_Validation(t *testing.T) {
	e := newEnv(t)
	cases := []struct {
		body string
		want int
	}{
		{`{"phrase":"   "}`, http.StatusBadRequest},
		{`{"phrase":"x","style_name":"mauve"}`, http.StatusBadRequest},
		{`{"phrase":"x","colour":"red"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if w := e.do(t, http.MethodPost, "/api/phrases", tc.body); w.Code != tc.want {
			t.Errorf("%s: got %d, want %d", tc.body, w.Code, tc.want)
		}
	}
}

func TestPhrases_StorageUnavailable(t *testing.T) {
	e := newEnv(t)
	e.store.SetFailures(fmt.Errorf("disk gone"), nil)
	w := e.do(t, http.MethodGet, "/api/phrases", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", w.Code)
	}
}

func TestPages_PhraseChangesReachOpenPages(t *testing.T) {
	e := newEnv(t)
	if st := e.openPage(t); st.Highlights != 0 || st.ID != "p1" {
		t.Fatalf("opened: got %+v", st)
	}

	e.do(t, http.MethodPost, "/api/phrases", `{"phrase":"cat"}`)
	if st := e.status(t); st.Highlights != 1 {
		t.Fatalf("after put: got %d highlights, want 1", st.Highlights)
	}

	e.do(t, http.MethodPut, "/api/enabled", `{"enabled":false}`)
	if st := e.status(t); st.Highlights != 0 {
		t.Fatalf("after disable: got %d highlights, want 0", st.Highlights)
	}
	e.do(t, http.MethodPut, "/api/enabled", `{"enabled":true}`)
	if st := e.status(t); st.Highlights != 1 {
		t.Fatalf("after enable: got %d highlights, want 1", st.Highlights)
	}

	w := e.do(t, http.MethodGet, "/api/pages", "")
	var list []page.Status
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("list pages: got %s (%v)", w.Body, err)
	}
}

func TestPages_Messages(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/api/phrases", `{"phrase":"cat"}`)
	e.openPage(t)

	w := e.do(t, http.MethodPost, "/api/pages/p1/messages", `{"action":"toggleHighlights"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"success":true`) {
		t.Fatalf("toggle: got %d %s", w.Code, w.Body)
	}
	if st := e.status(t); !st.Hidden || st.Highlights != 1 {
		t.Fatalf("after toggle: got %+v", st)
	}

	w = e.do(t, http.MethodPost, "/api/pages/p1/messages", `{"action":"updatePhrases","phraseStyles":{"mat":"color: red;"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update: got %d %s", w.Code, w.Body)
	}
	if st := e.status(t); st.Highlights != 1 || st.Phrases != 1 {
		t.Fatalf("after update: got %+v", st)
	}

	if w := e.do(t, http.MethodPost, "/api/pages/p1/messages", `{"action":"explode"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown action: got %d, want 400", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/api/pages/nope/messages", `{"action":"removeHighlights"}`); w.Code != http.StatusNotFound {
		t.Fatalf("unknown page: got %d, want 404", w.Code)
	}

	w = e.do(t, http.MethodPost, "/api/pages/p1/messages", `{"action":"removeHighlights"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("remove: got %d", w.Code)
	}
	if st := e.status(t); st.Highlights != 0 {
		t.Fatalf("after remove: got %d highlights", st.Highlights)
	}
}

func TestPages_RenderFormats(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/api/phrases", `{"phrase":"cat"}`)
	e.openPage(t)

	w := e.do(t, http.MethodGet, "/api/pages/p1?format=markdown", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "**cat**") {
		t.Fatalf("markdown: got %d %q", w.Code, w.Body)
	}
	w = e.do(t, http.MethodGet, "/api/pages/p1", "")
	if !strings.Contains(w.Body.String(), ">cat</span>") {
		t.Fatalf("html: got %q", w.Body)
	}
	if w := e.do(t, http.MethodGet, "/api/pages/p1?format=pdf", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad format: got %d", w.Code)
	}
}

func TestPages_SelectionFlow(t *testing.T) {
	e := newEnv(t)
	e.openPage(t)

	w := e.do(t, http.MethodPost, "/api/pages/p1/keys", `{"name":"H","ctrl":true,"shift":true}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"consumed":true`) {
		t.Fatalf("shortcut: got %d %s", w.Code, w.Body)
	}
	if st := e.status(t); st.Selection != "waiting" {
		t.Fatalf("selection: got %s, want waiting", st.Selection)
	}

	if w := e.do(t, http.MethodPost, "/api/pages/p1/selection", `{"text":"zebra"}`); w.Code != http.StatusNotFound {
		t.Fatalf("missing text: got %d, want 404", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/api/pages/p1/selection", `{"text":"mat"}`); w.Code != http.StatusOK {
		t.Fatalf("select: got %d %s", w.Code, w.Body)
	}
	if st := e.status(t); st.Selection != "previewing" {
		t.Fatalf("selection: got %s, want previewing", st.Selection)
	}

	if w := e.do(t, http.MethodPost, "/api/pages/p1/prompt", `{"action":"save"}`); w.Code != http.StatusOK {
		t.Fatalf("save: got %d %s", w.Code, w.Body)
	}
	m, err := registry.Phrases(context.Background(), e.store)
	if err != nil || !m.Has("mat") {
		t.Fatalf("stored phrases: got %v (%v)", m.Keys(), err)
	}
	if st := e.status(t); st.Highlights != 1 || st.Selection != "waiting" {
		t.Fatalf("after save: got %+v", st)
	}

	if w := e.do(t, http.MethodPost, "/api/pages/p1/prompt", `{"action":"launch"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad action: got %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/api/pages/p1/keys", `{"name":"Escape"}`); w.Code != http.StatusOK {
		t.Fatalf("escape: got %d", w.Code)
	}
	if st := e.status(t); st.Selection != "inactive" {
		t.Fatalf("selection after escape: got %s, want inactive", st.Selection)
	}
}

func TestPages_Delete(t *testing.T) {
	e := newEnv(t)
	e.openPage(t)
	if w := e.do(t, http.MethodDelete, "/api/pages/p1", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete: got %d", w.Code)
	}
	if w := e.do(t, http.MethodDelete, "/api/pages/p1", ""); w.Code != http.StatusNotFound {
		t.Fatalf("delete again: got %d, want 404", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/api/pages/p1", ""); w.Code != http.StatusNotFound {
		t.Fatalf("render deleted: got %d, want 404", w.Code)
	}
}

func TestPages_CreateWithoutScheduler(t *testing.T) {
	srv := New(Config{Store: registry.NewMemory()})
	req := httptest.NewRequest(http.MethodPost, "/api/pages", strings.NewReader(`{"html":"<p>x</p>"}`))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("got %d, want 501", w.Code)
	}
}

func TestView_FetchesAndHighlights(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, article)
	}))
	defer origin.Close()

	e := newEnv(t)
	e.do(t, http.MethodPost, "/api/phrases", `{"phrase":"mat","style_name":"green"}`)

	w := e.do(t, http.MethodGet, "/view?format=markdown&url="+url.QueryEscape(origin.URL), "")
	if w.Code != http.StatusOK {
		t.Fatalf("view: got %d %s", w.Code, w.Body)
	}
	if got := w.Body.String(); !strings.Contains(got, "**mat**") || strings.Contains(got, "**cat**") {
		t.Fatalf("view markdown: got %q", got)
	}

	if w := e.do(t, http.MethodGet, "/view?url=ftp://x", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad url: got %d", w.Code)
	}
}

func TestAPI_TokenGuard(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("tok"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	srv := New(Config{Store: registry.NewMemory(), TokenHash: string(hash)})
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodPut, "/api/enabled", strings.NewReader(`{"enabled":false}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: got %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/enabled", strings.NewReader(`{"enabled":false}`))
	req.Header.Set("Authorization", "Bearer tok")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("with token: got %d %s", w.Code, w.Body)
	}
}

func TestAudit_RecordsEdits(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()
	log, err := audit.Open(db, audit.Options{})
	if err != nil {
		t.Fatal(err)
	}

	store := registry.NewMemory()
	_, _ = registry.Seed(context.Background(), store)
	e := &testEnv{store: store}
	e.srv = New(Config{Store: store, Audit: log})
	e.h = e.srv.Handler()

	e.do(t, http.MethodPost, "/api/phrases", `{"phrase":"cat"}`)
	e.do(t, http.MethodPost, "/api/phrases", `{"phrase":"cat"}`)
	e.do(t, http.MethodPut, "/api/enabled", `{"enabled":false}`)
	_ = log.Close()

	w := e.do(t, http.MethodGet, "/api/audit?action=put_phrase", "")
	var entries []audit.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v (%s)", err, w.Body)
	}
	if len(entries) != 2 {
		t.Fatalf("put entries: got %d, want 2", len(entries))
	}
	failed := 0
	for _, en := range entries {
		if en.Transport != "http" || en.Phrase != "cat" || en.TraceID == "" {
			t.Errorf("entry: got %+v", en)
		}
		if en.Error != "" {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("conflicting put: got %d failed entries, want 1", failed)
	}
}

func TestAudit_RecordsStoredStyle(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()
	log, err := audit.Open(db, audit.Options{})
	if err != nil {
		t.Fatal(err)
	}

	store := registry.NewMemory()
	e := &testEnv{store: store}
	e.srv = New(Config{Store: store, Audit: log})
	e.h = e.srv.Handler()

	e.do(t, http.MethodPost, "/api/phrases", `{"phrase":"owl","style":" color: red;<b> "}`)
	_ = log.Close()

	w := e.do(t, http.MethodGet, "/api/audit?action=put_phrase", "")
	var entries []audit.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v (%s)", err, w.Body)
	}
	if len(entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(entries))
	}
	if got, want := entries[0].Detail, "color: red;b"; got != want {
		t.Fatalf("detail: got %q, want %q", got, want)
	}
}
