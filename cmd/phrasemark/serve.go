package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/phrasemark/audit"
	"github.com/hazyhaar/phrasemark/bridge"
	"github.com/hazyhaar/phrasemark/browser"
	"github.com/hazyhaar/phrasemark/config"
	"github.com/hazyhaar/phrasemark/fetcher"
	"github.com/hazyhaar/phrasemark/mcpquic"
	"github.com/hazyhaar/phrasemark/monitor"
	"github.com/hazyhaar/phrasemark/page"
	"github.com/hazyhaar/phrasemark/registry"
	"github.com/hazyhaar/phrasemark/scheduler"
	"github.com/hazyhaar/phrasemark/server"
)

var serveAddr *string

func serveFlags(fs *flag.FlagSet) {
	serveAddr = fs.String("addr", "", "listen address (overrides config)")
}

func runServe(ctx context.Context, logger *slog.Logger, cfg *config.Config, _ *flag.FlagSet, _ []string) error {
	if *serveAddr != "" {
		cfg.Addr = *serveAddr
	}
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

	loop := scheduler.NewLoop(logger)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go loop.Run(loopCtx)

	pages := page.NewSet()
	srv := server.New(server.Config{
		Store:     store,
		Pages:     pages,
		Scheduler: loop,
		Fetcher:   newFetcher(cfg, logger),
		Debounce:  cfg.Debounce,
		Selection: cfg.SelectionConfig(logger),
		TokenHash: cfg.APITokenHash,
		Audit:     al,
		Logger:    logger,
	})

	// Writes from other processes (init, mcp) reach the open pages.
	rw := registry.WatchSQLite(store, registry.WatchOptions{Interval: cfg.RegistryPoll, Logger: logger})
	go rw.OnChange(ctx, pages.Reapply)

	done := make(chan struct{})
	if len(cfg.Pages) > 0 {
		go func() {
			defer close(done)
			if err := watchPages(ctx, logger, cfg, store, al, pages); err != nil {
				logger.Error("phrasemark: watch", "error", err)
			}
		}()
	} else {
		close(done)
	}

	if cfg.MCPQUICAddr != "" {
		if err := serveMCPQUIC(ctx, logger, cfg, store, al, pages); err != nil {
			return err
		}
	}

	hs := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("phrasemark: listening", "addr", cfg.Addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}
	logger.Info("phrasemark: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		logger.Error("phrasemark: shutdown", "error", err)
	}
	<-done
	if err := pages.Close(shutdownCtx); err != nil {
		logger.Warn("phrasemark: closing pages", "error", err)
	}
	stopLoop()
	<-loop.Done()
	return nil
}

func newFetcher(cfg *config.Config, logger *slog.Logger) *fetcher.Fetcher {
	opts := []fetcher.Option{
		fetcher.WithLogger(logger),
		fetcher.WithClient(&http.Client{Timeout: cfg.Fetch.Timeout}),
	}
	if cfg.Fetch.UserAgent != "" {
		opts = append(opts, fetcher.WithUserAgent(cfg.Fetch.UserAgent))
	}
	return fetcher.New(opts...)
}

// watchPages opens the configured pages in Chrome and keeps them
// highlighted until ctx ends. Captures land in pages.
func watchPages(ctx context.Context, logger *slog.Logger, cfg *config.Config, store registry.Store, al *audit.Log, pages *page.Set) error {
	sinks, err := cfg.BuildSinks(logger)
	if err != nil {
		return err
	}
	defer sinks.Close()

	mgr := browser.NewManager(cfg.BrowserManager(logger))
	if _, err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	mon := monitor.New(monitor.Config{
		Targets:   cfg.Targets(),
		Open:      monitor.BrowserOpener(mgr),
		Registry:  store,
		Pages:     pages,
		Sink:      sinks,
		Debounce:  cfg.Debounce,
		Selection: cfg.SelectionConfig(logger),
		Audit:     al,
		Logger:    logger,
	})
	mgr.OnRecycle(func(*rod.Browser) { mon.Reopen() })
	return mon.Run(ctx)
}

func newMCPServer(store registry.Store, al *audit.Log, pages *page.Set, logger *slog.Logger) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "phrasemark", Version: "1.0.0"}, nil)
	b := &bridge.MCP{Store: store, Audit: al, Logger: logger}
	if pages != nil {
		b.Resolve = pages.Resolve
		b.Pages = pages.IDs
	}
	b.Register(srv)
	return srv
}

func serveMCPQUIC(ctx context.Context, logger *slog.Logger, cfg *config.Config, store registry.Store, al *audit.Log, pages *page.Set) error {
	tlsCfg, err := mcpquic.ServerTLS(cfg.TLSCert, cfg.TLSKey)
	if err != nil {
		return err
	}
	ln, err := mcpquic.Listen(cfg.MCPQUICAddr, tlsCfg, newMCPServer(store, al, pages, logger), logger)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go func() {
		if err := ln.Serve(ctx); err != nil && ctx.Err() == nil {
			logger.Error("phrasemark: mcp quic", "error", err)
		}
	}()
	return nil
}
