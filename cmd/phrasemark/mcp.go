package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/phrasemark/config"
	"github.com/hazyhaar/phrasemark/mcpquic"
	"github.com/hazyhaar/phrasemark/shield"
)

// runMCP serves the registry tools on stdio.
func runMCP(ctx context.Context, logger *slog.Logger, cfg *config.Config, _ *flag.FlagSet, _ []string) error {
	store, err := openRegistry(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	al, err := openAudit(ctx, logger, cfg, store)
	if err != nil {
		return err
	}
	defer al.Close()
	srv := newMCPServer(store, al, nil, logger)
	logger.Info("mcp: serving on stdio", "database", cfg.Database)
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

var callOpts struct {
	addr     string
	insecure bool
}

func callFlags(fs *flag.FlagSet) {
	fs.StringVar(&callOpts.addr, "addr", "localhost:9444", "MCP QUIC address")
	fs.BoolVar(&callOpts.insecure, "insecure", false, "skip server certificate verification")
}

// runCall calls one tool of a serving phrasemark, or lists the tools when
// no name is given.
func runCall(ctx context.Context, _ *slog.Logger, _ *config.Config, _ *flag.FlagSet, args []string) error {
	c := mcpquic.NewClient(callOpts.addr, mcpquic.ClientTLS(callOpts.insecure))
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close()

	if len(args) == 0 {
		res, err := c.ListTools(ctx)
		if err != nil {
			return err
		}
		for _, t := range res.Tools {
			fmt.Printf("%-28s %s\n", t.Name, t.Description)
		}
		return nil
	}

	params := map[string]any{}
	if len(args) > 1 {
		if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
			return fmt.Errorf("call: arguments: %w", err)
		}
	}
	res, err := c.CallTool(ctx, args[0], params)
	if err != nil {
		return err
	}
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			fmt.Println(tc.Text)
		}
	}
	if res.IsError {
		return fmt.Errorf("call: %s failed", args[0])
	}
	return nil
}

func runHashToken(_ context.Context, _ *slog.Logger, _ *config.Config, _ *flag.FlagSet, _ []string) error {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("hash-token: read token: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return errors.New("hash-token: empty token")
	}
	h, err := shield.HashToken(token)
	if err != nil {
		return err
	}
	fmt.Println(h)
	return nil
}
