// Command phrasemark highlights saved phrases in web pages.
//
// Usage:
//
//	phrasemark serve  -config phrasemark.yaml   # HTTP API, live pages, optional watched pages
//	phrasemark render -url https://example.com  # highlight one page and print it
//	phrasemark watch  -config phrasemark.yaml   # keep configured pages highlighted in Chrome
//	phrasemark mcp    -config phrasemark.yaml   # MCP tools on stdio
//	phrasemark call   -addr host:9444 phrasemark_phrases '{}'
//	phrasemark init   -config phrasemark.yaml   # create and seed the registry
//	phrasemark hash-token                       # bcrypt hash of a token read on stdin
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/phrasemark/audit"
	"github.com/hazyhaar/phrasemark/config"
	"github.com/hazyhaar/phrasemark/registry"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, logger *slog.Logger, cfg *config.Config, fs *flag.FlagSet, args []string) error
	flags func(fs *flag.FlagSet)
}

var commands = []command{
	{name: "serve", usage: "run the HTTP API", run: runServe, flags: serveFlags},
	{name: "render", usage: "highlight one page and print it", run: runRender, flags: renderFlags},
	{name: "watch", usage: "keep the configured pages highlighted", run: runWatch},
	{name: "mcp", usage: "serve the MCP tools on stdio", run: runMCP},
	{name: "call", usage: "call an MCP tool over QUIC", run: runCall, flags: callFlags},
	{name: "init", usage: "create and seed the registry", run: runInit},
	{name: "hash-token", usage: "print the bcrypt hash of a token read on stdin", run: runHashToken},
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var cmd *command
	for i := range commands {
		if commands[i].name == os.Args[1] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		usage()
		os.Exit(2)
	}

	fs := flag.NewFlagSet(cmd.name, flag.ExitOnError)
	configPath := fs.String("config", "", "path to phrasemark.yaml")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	_ = fs.Parse(os.Args[2:])

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFile(*configPath); err != nil {
			logger.Error("phrasemark: config", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, logger, cfg, fs, fs.Args()); err != nil {
		logger.Error("phrasemark: fatal", "command", cmd.name, "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: phrasemark <command> [flags]")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-11s %s\n", c.name, c.usage)
	}
}

// openRegistry opens the SQLite registry and seeds it on first use.
func openRegistry(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*registry.SQLite, error) {
	store, err := registry.OpenSQLite(cfg.Database, registry.SQLiteOptions{Logger: logger})
	if err != nil {
		return nil, err
	}
	fresh, err := cfg.Seed(ctx, store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("seed registry: %w", err)
	}
	if fresh {
		logger.Info("phrasemark: registry seeded", "database", cfg.Database, "phrases", cfg.Phrases.Len())
	}
	return store, nil
}

func runInit(ctx context.Context, logger *slog.Logger, cfg *config.Config, _ *flag.FlagSet, _ []string) error {
	store, err := openRegistry(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	m, err := registry.Phrases(ctx, store)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d phrases\n", cfg.Database, m.Len())
	return nil
}

// openAudit starts the audit log on the registry database and prunes
// entries older than the retention once a day until ctx ends.
func openAudit(ctx context.Context, logger *slog.Logger, cfg *config.Config, store *registry.SQLite) (*audit.Log, error) {
	al, err := audit.Open(store.DB(), audit.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	go func() {
		t := time.NewTicker(24 * time.Hour)
		defer t.Stop()
		for {
			if n, err := al.Cleanup(ctx, cfg.AuditRetention); err != nil {
				logger.Warn("phrasemark: audit cleanup", "error", err)
			} else if n > 0 {
				logger.Info("phrasemark: audit cleanup", "deleted", n)
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return al, nil
}
