package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshsymonds/inboxrules/internal/config"
	"github.com/joshsymonds/inboxrules/internal/runtime"
	"github.com/joshsymonds/inboxrules/internal/seed"
	"github.com/joshsymonds/inboxrules/internal/store"
)

type seedConfig struct {
	shared    *config.Flags
	count     int
	cases     bool
	recipient string
}

func main() {
	cfg := parseSeedFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("inboxrules-seed failed", "error", err)
		os.Exit(1)
	}
}

func parseSeedFlags() seedConfig {
	shared := config.RegisterFlags(flag.CommandLine)
	count := flag.Int("count", 20, "number of random records to generate")
	cases := flag.Bool("cases", true, "also insert the fixed rule test cases")
	recipient := flag.String("to", "me@example.com", "recipient address on generated records")
	flag.Parse()

	return seedConfig{shared: shared, count: *count, cases: *cases, recipient: *recipient}
}

func run(cfg seedConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	settings, err := cfg.shared.Load()
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger, err := runtime.NewLogger(settings.Run.LogLevel, settings.Run.LogFormat)
	if err != nil {
		return err
	}
	st, err := store.Open(settings.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	g := seed.NewGenerator(st, logger)
	g.Recipient = cfg.recipient
	recs := g.Random(cfg.count)
	if cfg.cases {
		recs = append(recs, g.Cases()...)
	}
	n, err := g.Insert(ctx, recs)
	if err != nil {
		return fmt.Errorf("seed records: %w", err)
	}
	fmt.Fprintf(os.Stdout, "inserted %d sample records\n", n)
	return nil
}
