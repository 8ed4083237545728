package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshsymonds/inboxrules/internal/gmailctl"
	"github.com/joshsymonds/inboxrules/internal/rules"
	"github.com/joshsymonds/inboxrules/internal/runtime"
)

type importConfig struct {
	gmailctlCfg    string
	gmailctlBinary string
	out            string
	force          bool
}

func main() {
	cfg := parseImportFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("inboxrules-import failed", "error", err)
		os.Exit(1)
	}
}

func parseImportFlags() importConfig {
	gmailctlConfig := flag.String("gmailctl-config", os.ExpandEnv("$HOME/.gmailctl"), "gmailctl config directory")
	gmailctlBin := flag.String("gmailctl-binary", "gmailctl", "gmailctl binary to invoke")
	out := flag.String("out", "rules.json", "rules file to write")
	force := flag.Bool("force", false, "overwrite an existing rules file")
	flag.Parse()

	return importConfig{
		gmailctlCfg:    *gmailctlConfig,
		gmailctlBinary: *gmailctlBin,
		out:            *out,
		force:          *force,
	}
}

func run(cfg importConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := runtime.DefaultLogger()
	export, err := gmailctl.Runner{Binary: cfg.gmailctlBinary, ConfigDir: cfg.gmailctlCfg}.ExportFilters(ctx)
	if err != nil {
		return err
	}
	converted, skipped := gmailctl.Convert(export)
	for _, s := range skipped {
		logger.Warn("filter not converted", "filter", s.Filter, "reason", s.Reason)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !cfg.force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(cfg.out, flags, 0o600) // #nosec G304 - path supplied by the operator
	if err != nil {
		return fmt.Errorf("create %s: %w", cfg.out, err)
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Rules []rules.Rule `json:"rules"`
	}{Rules: converted}); err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	logger.Info("wrote rules", "path", cfg.out, "rules", len(converted), "skipped", len(skipped))
	return nil
}
