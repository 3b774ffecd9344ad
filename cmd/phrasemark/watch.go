package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"

	"github.com/hazyhaar/phrasemark/config"
	"github.com/hazyhaar/phrasemark/page"
	"github.com/hazyhaar/phrasemark/registry"
)

// runWatch keeps the configured pages highlighted and streams batches and
// snapshots to the sinks. Phrase edits made through other commands are
// picked up by polling the registry.
func runWatch(ctx context.Context, logger *slog.Logger, cfg *config.Config, _ *flag.FlagSet, _ []string) error {
	if len(cfg.Pages) == 0 {
		return errors.New("watch: no pages configured")
	}
	store, err := openRegistry(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	pages := page.NewSet()
	rw := registry.WatchSQLite(store, registry.WatchOptions{Interval: cfg.RegistryPoll, Logger: logger})
	go rw.OnChange(ctx, pages.Reapply)

	return watchPages(ctx, logger, cfg, store, nil, pages)
}
