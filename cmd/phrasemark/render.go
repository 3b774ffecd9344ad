package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/hazyhaar/phrasemark/browser"
	"github.com/hazyhaar/phrasemark/config"
	"github.com/hazyhaar/phrasemark/dom"
	"github.com/hazyhaar/phrasemark/export"
	"github.com/hazyhaar/phrasemark/highlight"
	"github.com/hazyhaar/phrasemark/registry"
)

var renderOpts struct {
	url, file, mode, format string
}

func renderFlags(fs *flag.FlagSet) {
	fs.StringVar(&renderOpts.url, "url", "", "page to highlight")
	fs.StringVar(&renderOpts.file, "file", "", "local HTML file to highlight")
	fs.StringVar(&renderOpts.mode, "mode", "auto", "acquisition: http, headless, headful or auto")
	fs.StringVar(&renderOpts.format, "format", export.FormatHTML, "output: html, reader or markdown")
}

func runRender(ctx context.Context, logger *slog.Logger, cfg *config.Config, _ *flag.FlagSet, _ []string) error {
	if (renderOpts.url == "") == (renderOpts.file == "") {
		return errors.New("render: exactly one of -url or -file is required")
	}
	if _, err := export.ContentType(renderOpts.format); err != nil {
		return err
	}
	store, err := openRegistry(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	doc, err := acquire(ctx, logger, cfg)
	if err != nil {
		return err
	}
	eng := highlight.New(doc, logger)
	eng.InstallStyles()
	res := eng.Apply(registry.Load(ctx, store, logger))
	logger.Info("render: highlighted", "annotations", res.Annotations, "leaves", res.Leaves)

	return export.New().Write(os.Stdout, doc, renderOpts.format, renderOpts.url)
}

// acquire loads the document. auto fetches over HTTP first and only
// starts Chrome when the response looks like a script-rendered shell.
func acquire(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*dom.Document, error) {
	if renderOpts.file != "" {
		f, err := os.Open(renderOpts.file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return dom.Parse(f)
	}

	mode := renderOpts.mode
	if mode == "http" || mode == "auto" {
		res, err := newFetcher(cfg, logger).Fetch(ctx, renderOpts.url)
		switch {
		case err != nil && mode == "http":
			return nil, err
		case err != nil:
			logger.Warn("render: fetch failed, trying browser", "error", err)
		case mode == "http" || res.Sufficient:
			return res.Document()
		default:
			logger.Info("render: static HTML insufficient, trying browser", "url", res.URL)
		}
		mode = cfg.Browser.Level
	}

	level, err := browser.ParseLevel(mode)
	if err != nil || level == browser.LevelHTTP {
		return nil, fmt.Errorf("render: unknown mode %q", renderOpts.mode)
	}
	bcfg := cfg.BrowserManager(logger)
	bcfg.Level = level
	mgr := browser.NewManager(bcfg)
	if _, err := mgr.Start(ctx); err != nil {
		return nil, err
	}
	defer mgr.Close()

	tab, err := mgr.OpenTab(ctx, renderOpts.url)
	if err != nil {
		return nil, err
	}
	defer tab.Close()
	return tab.Document(ctx)
}
