package bridge

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/phrasemark/audit"
	"github.com/hazyhaar/phrasemark/kit"
	"github.com/hazyhaar/phrasemark/phrase"
	"github.com/hazyhaar/phrasemark/registry"
)

// Lister enumerates the ids of live pages.
type Lister func() []string

// MCP exposes the bridge and the registry as MCP tools.
type MCP struct {
	Resolve Resolver
	Pages   Lister
	Store   registry.Store
	// Audit records registry edits made through the tools. Optional.
	Audit  *audit.Log
	Logger *slog.Logger
}

// Register adds the tools to srv. Page tools are only registered when
// Resolve is set, registry tools only when Store is set.
func (b *MCP) Register(srv *mcp.Server) {
	if b.Logger == nil {
		b.Logger = slog.Default()
	}
	if b.Resolve != nil {
		b.registerSend(srv)
		b.registerToggle(srv)
		b.registerPages(srv)
	}
	if b.Store != nil {
		b.registerListPhrases(srv)
		b.registerPutPhrase(srv)
		b.registerDeletePhrase(srv)
		b.registerSetEnabled(srv)
		b.registerStyles(srv)
	}
	if b.Audit != nil {
		b.registerAudit(srv)
	}
}

type sendReq struct {
	PageID       string      `json:"page_id"`
	Action       Action      `json:"action"`
	PhraseStyles *phrase.Map `json:"phraseStyles,omitempty"`
}

func (b *MCP) registerSend(srv *mcp.Server) {
	actions := make([]string, len(Actions))
	for i, a := range Actions {
		actions[i] = string(a)
	}
	tool := &mcp.Tool{
		Name:        "phrasemark_send",
		Description: "Send a highlighter command to a page: updatePhrases, toggleHighlights, removeHighlights, toggleSelectionMode or getSelectedText.",
		InputSchema: kit.InputSchema(map[string]any{
			"page_id":      map[string]any{"type": "string", "description": "Target page id"},
			"action":       map[string]any{"type": "string", "enum": actions},
			"phraseStyles": map[string]any{"type": "object", "description": "Phrase to CSS style map, for updatePhrases", "additionalProperties": map[string]any{"type": "string"}},
		}, "page_id", "action"),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*sendReq)
		ctx = kit.WithPageID(ctx, r.PageID)
		resp, err := Send(ctx, b.Resolve, r.PageID, Request{Action: r.Action, PhraseStyles: r.PhraseStyles})
		if err != nil {
			b.Logger.Warn("bridge: mcp command failed", "page", r.PageID, "action", r.Action, "error", err)
			return nil, err
		}
		return resp, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[sendReq])
}

type pageReq struct {
	PageID string `json:"page_id"`
}

func (b *MCP) registerToggle(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "phrasemark_toggle",
		Description: "Show or hide the highlights on a page, as clicking the toolbar button does.",
		InputSchema: kit.InputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Target page id"},
		}, "page_id"),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*pageReq)
		return Relay(ctx, b.Resolve, r.PageID)
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[pageReq])
}

func (b *MCP) registerPages(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "phrasemark_pages",
		Description: "List the ids of live pages.",
		InputSchema: kit.InputSchema(map[string]any{}),
	}
	endpoint := func(context.Context, any) (any, error) {
		ids := []string{}
		if b.Pages != nil {
			ids = append(ids, b.Pages()...)
		}
		return map[string]any{"pages": ids}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[struct{}])
}

func (b *MCP) registerListPhrases(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "phrasemark_phrases",
		Description: "List saved phrases with their styles, in match priority order, and whether highlighting is enabled.",
		InputSchema: kit.InputSchema(map[string]any{}),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		v, err := b.Store.Get(ctx, registry.KeyPhraseStyles, registry.KeyHighlightEnabled)
		if err != nil {
			return nil, err
		}
		s, err := registry.Decode(v)
		if err != nil {
			return nil, err
		}
		return map[string]any{"phraseStyles": s.Phrases, "highlightEnabled": s.Enabled}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[struct{}])
}

type putReq struct {
	Phrase    string `json:"phrase"`
	Style     string `json:"style"`
	StyleName string `json:"style_name"`
	Overwrite bool   `json:"overwrite"`
}

func (b *MCP) registerPutPhrase(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "phrasemark_put_phrase",
		Description: "Save a phrase with a CSS style (or a predefined style name). Fails if the phrase exists unless overwrite is true.",
		InputSchema: kit.InputSchema(map[string]any{
			"phrase":     map[string]any{"type": "string"},
			"style":      map[string]any{"type": "string", "description": "CSS declarations"},
			"style_name": map[string]any{"type": "string", "description": "Predefined style name, used when style is empty"},
			"overwrite":  map[string]any{"type": "boolean"},
		}, "phrase"),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*putReq)
		style := r.Style
		if style == "" {
			style = phrase.DefaultStyle
			if s, ok := phrase.Lookup(r.StyleName); ok {
				style = s
			}
		}
		err := registry.PutPhrase(ctx, b.Store, r.Phrase, style, r.Overwrite)
		b.Audit.RecordErr(ctx, audit.PutPhrase, strings.TrimSpace(r.Phrase), phrase.SanitizeStyle(style), err)
		if err != nil {
			return nil, err
		}
		return Response{Success: true}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[putReq])
}

type deleteReq struct {
	Phrase string `json:"phrase"`
	All    bool   `json:"all"`
}

func (b *MCP) registerDeletePhrase(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "phrasemark_delete_phrase",
		Description: "Delete one saved phrase, or every phrase when all is true.",
		InputSchema: kit.InputSchema(map[string]any{
			"phrase": map[string]any{"type": "string"},
			"all":    map[string]any{"type": "boolean"},
		}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*deleteReq)
		if r.All {
			err := registry.ClearPhrases(ctx, b.Store)
			b.Audit.RecordErr(ctx, audit.ClearPhrases, "", "", err)
			if err != nil {
				return nil, err
			}
			return map[string]any{"deleted": true}, nil
		}
		ok, err := registry.DeletePhrase(ctx, b.Store, r.Phrase)
		if ok || err != nil {
			b.Audit.RecordErr(ctx, audit.DeletePhrase, strings.TrimSpace(r.Phrase), "", err)
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"deleted": ok}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[deleteReq])
}

type enabledReq struct {
	Enabled bool `json:"enabled"`
}

func (b *MCP) registerSetEnabled(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "phrasemark_set_enabled",
		Description: "Turn highlighting on or off everywhere.",
		InputSchema: kit.InputSchema(map[string]any{
			"enabled": map[string]any{"type": "boolean"},
		}, "enabled"),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*enabledReq)
		err := registry.SetEnabled(ctx, b.Store, r.Enabled)
		b.Audit.RecordErr(ctx, audit.SetEnabled, "", strconv.FormatBool(r.Enabled), err)
		if err != nil {
			return nil, err
		}
		return Response{Success: true}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[enabledReq])
}

func (b *MCP) registerStyles(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "phrasemark_styles",
		Description: "List the predefined highlight styles.",
		InputSchema: kit.InputSchema(map[string]any{}),
	}
	endpoint := func(context.Context, any) (any, error) {
		return map[string]any{"styles": phrase.Predefined}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[struct{}])
}

type auditReq struct {
	Action string `json:"action"`
	Phrase string `json:"phrase"`
	Limit  int    `json:"limit"`
}

func (b *MCP) registerAudit(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "phrasemark_audit",
		Description: "List recent phrase registry edits, newest first.",
		InputSchema: kit.InputSchema(map[string]any{
			"action": map[string]any{"type": "string", "enum": []string{audit.PutPhrase, audit.DeletePhrase, audit.ClearPhrases, audit.SetEnabled}},
			"phrase": map[string]any{"type": "string"},
			"limit":  map[string]any{"type": "integer"},
		}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*auditReq)
		entries, err := b.Audit.Query(ctx, audit.Filter{Action: r.Action, Phrase: r.Phrase, Limit: r.Limit})
		if err != nil {
			return nil, err
		}
		return map[string]any{"entries": entries}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[auditReq])
}
