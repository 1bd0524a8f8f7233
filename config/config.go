/*
Package config loads server configuration from a TOML file with
sensible defaults.

PURPOSE:
  Keeps deployment knobs (listen address, database path, scheduler
  cadence) out of the code. A missing config file is not an error -
  the defaults run a local single-node instance out of the box.

USAGE:
  cfg, err := config.Load("./incentive.toml")
  if err != nil {
      log.Fatal(err)
  }
*/
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level server configuration.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Database   DatabaseConfig   `toml:"database"`
	Allocation AllocationConfig `toml:"allocation"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// DatabaseConfig controls SQLite persistence.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// AllocationConfig controls the background monthly allocation scheduler.
type AllocationConfig struct {
	// SchedulerEnabled turns the background run on. When false the
	// only way to credit a period is the admin trigger endpoint.
	SchedulerEnabled bool `toml:"scheduler_enabled"`

	// CheckInterval is how often the scheduler checks whether the
	// current period still needs a run, e.g. "1h".
	CheckInterval string `toml:"check_interval"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "./data/incentive.db",
		},
		Allocation: AllocationConfig{
			SchedulerEnabled: true,
			CheckInterval:    "1h",
		},
	}
}

// Load reads the TOML file at path over the defaults. A missing file
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the loaded values for obvious mistakes.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path must not be empty")
	}
	if _, err := c.CheckInterval(); err != nil {
		return err
	}
	return nil
}

// Addr returns the host:port the HTTP server binds to.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// CheckInterval parses the scheduler cadence.
func (c Config) CheckInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Allocation.CheckInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid allocation check_interval %q: %w", c.Allocation.CheckInterval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("allocation check_interval must be positive")
	}
	return d, nil
}
