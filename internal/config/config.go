// Package config defines the server configuration. Values arrive already
// parsed: a TOML file and/or flag overrides applied by the caller.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Strategy names accepted by Config.Strategy.
const (
	StrategySingle = "single"
	StrategyPool   = "pool"
	StrategyAsync  = "async"
)

// Duration wraps time.Duration so it can be written as "30s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the top-level server configuration.
type Config struct {
	ListenAddr  string   `toml:"listen-addr"`
	Strategy    string   `toml:"strategy"`     // single | pool | async
	Workers     int      `toml:"workers"`      // Worker count for the pool strategy.
	MaxProcs    int      `toml:"max-procs"`    // Scheduler threads for the async strategy, 0 to use all cores.
	IdleTimeout Duration `toml:"idle-timeout"` // Close connections idle this long, 0 to disable.
	Admin       Admin    `toml:"admin"`
	Log         Log      `toml:"log"`
}

// Admin configures the observability HTTP server.
type Admin struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// Log configures logging output.
type Log struct {
	Level      string `toml:"level"`
	File       string `toml:"file"` // Empty logs to stderr only.
	MaxSizeMB  int    `toml:"max-size-mb"`
	MaxBackups int    `toml:"max-backups"`
}

// DefaultConfig returns the configuration used when no file or flags are
// given.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "127.0.0.1:7878",
		Strategy:   StrategyPool,
		Workers:    4,
		MaxProcs:   0,
		Admin: Admin{
			Enabled: true,
			Addr:    "127.0.0.1:8080",
		},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// FromFile loads configuration from a TOML file on top of the defaults.
func FromFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "load config %s", path)
	}
	return cfg, nil
}

// Validate checks the configuration for values no strategy can run with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen-addr must not be empty")
	}

	switch c.Strategy {
	case StrategySingle, StrategyAsync:
	case StrategyPool:
		if c.Workers <= 0 {
			return errors.Errorf("workers must be positive, got %d", c.Workers)
		}
	default:
		return errors.Errorf("unknown strategy %q (want single, pool or async)", c.Strategy)
	}

	if c.MaxProcs < 0 {
		return errors.Errorf("max-procs must not be negative, got %d", c.MaxProcs)
	}
	if c.IdleTimeout.Duration < 0 {
		return errors.New("idle-timeout must not be negative")
	}
	return nil
}
