package bridge

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/phrasemark/audit"
	"github.com/hazyhaar/phrasemark/registry"
)

var testMCPImpl = &mcp.Implementation{Name: "phrasemark-test", Version: "0.1.0"}

func mcpSession(t *testing.T, b *MCP) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	b.Register(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, s *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text, res.IsError
}

func TestMCP_Send(t *testing.T) {
	ft := &fakeTarget{selected: "fox"}
	s := mcpSession(t, &MCP{Resolve: func(id string) (Target, bool) { return ft, id == "p1" }})

	text, isErr := callTool(t, s, "phrasemark_send", map[string]any{
		"page_id":      "p1",
		"action":       "updatePhrases",
		"phraseStyles": map[string]any{"fox": "color: red;"},
	})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	if ft.phrases == nil || !ft.phrases.Has("fox") {
		t.Fatal("phrases not delivered")
	}

	text, _ = callTool(t, s, "phrasemark_send", map[string]any{"page_id": "p1", "action": "getSelectedText"})
	var resp Response
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.SelectedText == nil || *resp.SelectedText != "fox" {
		t.Fatalf("selectedText: got %s", text)
	}

	if _, isErr := callTool(t, s, "phrasemark_send", map[string]any{"page_id": "zz", "action": "toggleHighlights"}); !isErr {
		t.Fatal("unknown page should be a tool error")
	}
}

func TestMCP_RegistryTools(t *testing.T) {
	st := registry.NewMemory()
	s := mcpSession(t, &MCP{Store: st})

	if text, isErr := callTool(t, s, "phrasemark_put_phrase", map[string]any{"phrase": "cat", "style_name": "blue"}); isErr {
		t.Fatalf("put: %s", text)
	}
	if _, isErr := callTool(t, s, "phrasemark_put_phrase", map[string]any{"phrase": "cat"}); !isErr {
		t.Fatal("duplicate put without overwrite should fail")
	}

	text, _ := callTool(t, s, "phrasemark_phrases", map[string]any{})
	var list struct {
		PhraseStyles     map[string]string `json:"phraseStyles"`
		HighlightEnabled bool              `json:"highlightEnabled"`
	}
	if err := json.Unmarshal([]byte(text), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if list.PhraseStyles["cat"] == "" || !list.HighlightEnabled {
		t.Fatalf("phrases: got %s", text)
	}

	callTool(t, s, "phrasemark_set_enabled", map[string]any{"enabled": false})
	if got := registry.Load(context.Background(), st, nil); got.Enabled {
		t.Fatal("highlighting still enabled")
	}

	callTool(t, s, "phrasemark_delete_phrase", map[string]any{"phrase": "cat"})
	if got := registry.Load(context.Background(), st, nil); got.Phrases.Len() != 0 {
		t.Fatal("phrase not deleted")
	}
}

func TestMCP_AuditTool(t *testing.T) {
	st, err := registry.OpenSQLite(":memory:", registry.SQLiteOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	log, err := audit.Open(st.DB(), audit.Options{})
	if err != nil {
		t.Fatal(err)
	}
	s := mcpSession(t, &MCP{Store: st, Audit: log})

	callTool(t, s, "phrasemark_put_phrase", map[string]any{"phrase": " owl ", "style": "color: red;<i>"})
	callTool(t, s, "phrasemark_put_phrase", map[string]any{"phrase": "owl", "style": "color: blue;"})
	callTool(t, s, "phrasemark_set_enabled", map[string]any{"enabled": false})
	log.Close()

	text, isErr := callTool(t, s, "phrasemark_audit", map[string]any{"action": audit.PutPhrase})
	if isErr {
		t.Fatalf("audit: %s", text)
	}
	var out struct {
		Entries []audit.Entry `json:"entries"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(out.Entries))
	}
	failed := 0
	for _, e := range out.Entries {
		if e.Phrase != "owl" || e.Transport != "mcp" {
			t.Fatalf("entry: got %+v", e)
		}
		if e.Error != "" {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("failed entries: got %d, want 1", failed)
	}
	for _, e := range out.Entries {
		if e.Error == "" && e.Detail != "color: red;i" {
			t.Fatalf("detail: got %q, want %q", e.Detail, "color: red;i")
		}
	}
}
