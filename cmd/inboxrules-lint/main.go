package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshsymonds/inboxrules/internal/config"
	"github.com/joshsymonds/inboxrules/internal/lint"
	"github.com/joshsymonds/inboxrules/internal/process"
	"github.com/joshsymonds/inboxrules/internal/rules"
	"github.com/joshsymonds/inboxrules/internal/runtime"
	"github.com/joshsymonds/inboxrules/internal/store"
)

type lintConfig struct {
	shared    *config.Flags
	rulesPath string
	failOn    string
	jsonOut   bool
}

func main() {
	cfg := parseLintFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("inboxrules-lint failed", "error", err)
		os.Exit(1)
	}
}

func parseLintFlags() lintConfig {
	shared := config.RegisterFlags(flag.CommandLine)
	rulesPath := flag.String("rules", "", "rules JSON file (default from config)")
	failOn := flag.String("fail-on", "invalid,dead", "comma separated lint failures: invalid, dead, conflict")
	jsonOut := flag.Bool("json", false, "print findings as JSON")
	flag.Parse()

	return lintConfig{shared: shared, rulesPath: *rulesPath, failOn: *failOn, jsonOut: *jsonOut}
}

func run(cfg lintConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	settings, err := cfg.shared.Load()
	if err != nil {
		return err
	}
	if cfg.rulesPath != "" {
		settings.Run.RulesFile = cfg.rulesPath
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger, err := runtime.NewLogger(settings.Run.LogLevel, settings.Run.LogFormat)
	if err != nil {
		return err
	}

	// Unlike a real run, a rules file that cannot be read is a lint failure.
	set, err := rules.Load(settings.Run.RulesFile)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	st, err := store.Open(settings.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	svc := process.NewService(st, nil, logger)
	rep, err := lint.Run(ctx, svc, set)
	if err != nil {
		return fmt.Errorf("run lint: %w", err)
	}

	if cfg.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("encode findings: %w", err)
		}
	} else if _, err := os.Stdout.WriteString(rep.HumanSummary()); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if rep.ShouldFail(lint.ParseFailOn(cfg.failOn)) {
		return fmt.Errorf("lint failures matched: %s", cfg.failOn)
	}
	return nil
}
