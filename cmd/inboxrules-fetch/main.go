package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshsymonds/inboxrules/internal/config"
	"github.com/joshsymonds/inboxrules/internal/fetch"
	"github.com/joshsymonds/inboxrules/internal/rate"
	"github.com/joshsymonds/inboxrules/internal/runtime"
	"github.com/joshsymonds/inboxrules/internal/store"
)

type fetchConfig struct {
	shared   *config.Flags
	max      int
	query    string
	pageSize int
	rps      int
}

func main() {
	cfg := parseFetchFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("inboxrules-fetch failed", "error", err)
		os.Exit(1)
	}
}

func parseFetchFlags() fetchConfig {
	shared := config.RegisterFlags(flag.CommandLine)
	maxResults := flag.Int("max", 50, "maximum number of messages to fetch")
	query := flag.String("query", "", "Gmail search query (default: all mail)")
	pageSize := flag.Int("page-size", 500, "Gmail list page size (<=500)")
	rps := flag.Int("rps", 0, "max Gmail requests per second (default from config)")
	flag.Parse()

	return fetchConfig{
		shared:   shared,
		max:      *maxResults,
		query:    *query,
		pageSize: *pageSize,
		rps:      *rps,
	}
}

func run(cfg fetchConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	settings, err := cfg.shared.Load()
	if err != nil {
		return err
	}
	if cfg.rps > 0 {
		settings.Gmail.RPS = cfg.rps
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger, err := runtime.NewLogger(settings.Run.LogLevel, settings.Run.LogFormat)
	if err != nil {
		return err
	}

	client, err := runtime.NewGmailClient(ctx, settings.Gmail.ConfigDir, runtime.ScopeReadonly)
	if err != nil {
		return fmt.Errorf("create gmail client: %w", err)
	}
	st, err := store.Open(settings.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	var limiter rate.Limiter
	if settings.Gmail.RPS > 0 {
		bucket := rate.NewTokenBucket(settings.Gmail.RPS, settings.Gmail.Burst)
		limiter = bucket
		defer bucket.Stop()
	}

	f := fetch.NewFetcher(client, st, limiter, logger)
	res, err := f.Run(ctx, fetch.Options{Query: cfg.query, Max: cfg.max, PageSize: cfg.pageSize})
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}
	fmt.Fprintf(os.Stdout, "fetched %d of %d messages (%d failed)\n", res.Stored, res.Listed, res.Failed)
	return nil
}
