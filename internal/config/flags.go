package config

import (
	"flag"
)

const (
	defaultConfigPath = "inboxrules.toml"
	defaultEnvPath    = ".env"
)

// Flags holds the command-line settings every binary accepts. Empty values
// leave the loaded configuration alone.
type Flags struct {
	ConfigPath string
	EnvPath    string
	GmailDir   string
	DBDriver   string
	DBName     string
	LogLevel   string
	LogFormat  string
}

// RegisterFlags adds the shared flags to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.ConfigPath, "config", defaultConfigPath, "TOML config file")
	fs.StringVar(&f.EnvPath, "env-file", defaultEnvPath, "dotenv file with DB_* variables")
	fs.StringVar(&f.GmailDir, "gmail-config", "", "gmailctl auth directory (default $HOME/.gmailctl)")
	fs.StringVar(&f.DBDriver, "db-driver", "", "database driver: postgres, mysql or sqlite")
	fs.StringVar(&f.DBName, "db-name", "", "database name (file path for sqlite)")
	fs.StringVar(&f.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&f.LogFormat, "log-format", "", "log format: text or json")
	return f
}

// Load reads the configuration and applies the flag overrides. Files that
// were named explicitly must exist.
func (f *Flags) Load() (Config, error) {
	cfg, err := Load(f.ConfigPath, f.ConfigPath != defaultConfigPath, f.EnvPath, f.EnvPath != defaultEnvPath)
	if err != nil {
		return Config{}, err
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Gmail.ConfigDir, f.GmailDir)
	override(&cfg.Database.Driver, f.DBDriver)
	override(&cfg.Database.DBName, f.DBName)
	override(&cfg.Run.LogLevel, f.LogLevel)
	override(&cfg.Run.LogFormat, f.LogFormat)
	return cfg, nil
}
