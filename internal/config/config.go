// Package config loads the settings shared by the inboxrules binaries.
//
// Values are layered: built-in defaults, then an optional TOML file, then an
// optional .env file, then the process environment. Command-line flags are
// applied last by each binary.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/joshsymonds/inboxrules/internal/store"
)

// Config is the merged configuration.
type Config struct {
	Database store.Config `toml:"database"`
	Gmail    GmailConfig  `toml:"gmail"`
	Run      RunConfig    `toml:"run"`
}

// GmailConfig controls API access.
type GmailConfig struct {
	ConfigDir string `toml:"config_dir"`
	RPS       int    `toml:"rps"`
	Burst     int    `toml:"burst"`
}

// RunConfig controls a rules run.
type RunConfig struct {
	RulesFile string `toml:"rules_file"`
	Workers   int    `toml:"workers"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Database: store.Config{
			Driver:  "postgres",
			Host:    "localhost",
			Port:    "5432",
			User:    "postgres",
			DBName:  "gmail_automation",
			SSLMode: "disable",
		},
		Gmail: GmailConfig{
			ConfigDir: os.ExpandEnv("$HOME/.gmailctl"),
			RPS:       4,
			Burst:     4,
		},
		Run: RunConfig{
			RulesFile: "rules.json",
			Workers:   1,
			LogLevel:  "info",
			LogFormat: "text",
		},
	}
}

// Load builds a Config from defaults, the TOML file at tomlPath and the .env
// file at envPath. Either path may be empty. A missing file is only an error
// when required is true for it.
func Load(tomlPath string, tomlRequired bool, envPath string, envRequired bool) (Config, error) {
	cfg := Default()
	if tomlPath != "" {
		if _, err := toml.DecodeFile(tomlPath, &cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) || tomlRequired {
				return Config{}, fmt.Errorf("load config %s: %w", tomlPath, err)
			}
		}
	}
	if envPath != "" {
		// godotenv never overrides variables already set in the environment.
		if err := godotenv.Load(envPath); err != nil {
			if !errors.Is(err, fs.ErrNotExist) || envRequired {
				return Config{}, fmt.Errorf("load env file %s: %w", envPath, err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("DB_DRIVER", &c.Database.Driver)
	str("DB_NAME", &c.Database.DBName)
	str("DB_USER", &c.Database.User)
	str("DB_PASSWORD", &c.Database.Password)
	str("DB_HOST", &c.Database.Host)
	str("DB_PORT", &c.Database.Port)
	str("DB_SSLMODE", &c.Database.SSLMode)
	str("INBOXRULES_GMAIL_DIR", &c.Gmail.ConfigDir)
	str("INBOXRULES_RULES", &c.Run.RulesFile)
	str("INBOXRULES_LOG_LEVEL", &c.Run.LogLevel)
	str("INBOXRULES_LOG_FORMAT", &c.Run.LogFormat)
	return errors.Join(
		num("INBOXRULES_WORKERS", &c.Run.Workers),
		num("INBOXRULES_RPS", &c.Gmail.RPS),
	)
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Database.DBName == "" {
		errs = append(errs, errors.New("database name must not be empty"))
	}
	if c.Run.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Run.Workers))
	}
	if c.Gmail.RPS < 0 {
		errs = append(errs, fmt.Errorf("rps must not be negative, got %d", c.Gmail.RPS))
	}
	return errors.Join(errs...)
}
