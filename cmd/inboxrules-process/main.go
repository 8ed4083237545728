package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshsymonds/inboxrules/internal/actions"
	"github.com/joshsymonds/inboxrules/internal/config"
	"github.com/joshsymonds/inboxrules/internal/labels"
	"github.com/joshsymonds/inboxrules/internal/metrics"
	"github.com/joshsymonds/inboxrules/internal/process"
	"github.com/joshsymonds/inboxrules/internal/rate"
	"github.com/joshsymonds/inboxrules/internal/rules"
	"github.com/joshsymonds/inboxrules/internal/runtime"
	"github.com/joshsymonds/inboxrules/internal/store"
)

type processConfig struct {
	shared      *config.Flags
	rulesPath   string
	workers     int
	rps         int
	dryRun      bool
	jsonOut     string
	metricsFile string
}

func main() {
	cfg := parseProcessFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("inboxrules-process failed", "error", err)
		os.Exit(1)
	}
}

func parseProcessFlags() processConfig {
	shared := config.RegisterFlags(flag.CommandLine)
	rulesPath := flag.String("rules", "", "rules JSON file (default from config)")
	workers := flag.Int("workers", 0, "records processed in parallel (default from config)")
	rps := flag.Int("rps", 0, "max Gmail requests per second (default from config)")
	dryRun := flag.Bool("dry-run", false, "report matches; skip modifications")
	jsonOut := flag.String("json", "", "write the run report to this relative path")
	metricsFile := flag.String("metrics-file", "", "write Prometheus metrics to this textfile")
	flag.Parse()

	return processConfig{
		shared:      shared,
		rulesPath:   *rulesPath,
		workers:     *workers,
		rps:         *rps,
		dryRun:      *dryRun,
		jsonOut:     *jsonOut,
		metricsFile: *metricsFile,
	}
}

func run(cfg processConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	settings, err := cfg.shared.Load()
	if err != nil {
		return err
	}
	if cfg.rulesPath != "" {
		settings.Run.RulesFile = cfg.rulesPath
	}
	if cfg.workers > 0 {
		settings.Run.Workers = cfg.workers
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

	set := loadRules(logger, settings.Run.RulesFile)

	st, err := store.Open(settings.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var exec process.Applier
	if !cfg.dryRun {
		client, err := runtime.NewGmailClient(ctx, settings.Gmail.ConfigDir, runtime.ScopeModify)
		if err != nil {
			return fmt.Errorf("create gmail client: %w", err)
		}
		var limiter rate.Limiter
		if settings.Gmail.RPS > 0 {
			bucket := rate.NewTokenBucket(settings.Gmail.RPS, settings.Gmail.Burst)
			limiter = bucket
			defer bucket.Stop()
		}
		// one cache per run
		resolver := labels.NewResolver(client, labels.NewCache(), limiter, logger)
		resolver.Metrics = m
		executor := actions.NewExecutor(client, st, resolver, limiter, logger)
		executor.Metrics = m
		exec = executor
	}

	svc := process.NewService(st, exec, logger)
	svc.Metrics = m
	rep, err := svc.Run(ctx, process.Options{
		Rules:   set.Rules,
		DryRun:  cfg.dryRun,
		Workers: settings.Run.Workers,
	})
	if err != nil {
		return fmt.Errorf("run rules: %w", err)
	}

	if _, err := os.Stdout.WriteString(rep.HumanSummary()); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if cfg.jsonOut != "" {
		if err := process.WriteJSON(rep, cfg.jsonOut); err != nil {
			return fmt.Errorf("write json report: %w", err)
		}
	}
	if cfg.metricsFile != "" {
		if err := metrics.WriteTextfile(cfg.metricsFile, reg); err != nil {
			return err
		}
	}
	return nil
}

// loadRules never fails the run: a missing or broken file means no rules.
func loadRules(logger *slog.Logger, path string) rules.Set {
	set, err := rules.Load(path)
	switch {
	case errors.Is(err, rules.ErrNoRulesFile):
		logger.Warn("rules file not found, running with zero rules", "path", path)
	case err != nil:
		logger.Warn("rules file unreadable, running with zero rules", "path", path, "error", err)
	}
	for _, p := range set.Rejected {
		logger.Warn("rule rejected", "index", p.Index, "rule", p.Name, "reason", p.Reason)
	}
	logger.Info("loaded rules", "path", path, "rules", len(set.Rules), "rejected", len(set.Rejected))
	return set
}
