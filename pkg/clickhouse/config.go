package clickhouse

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the connection settings for the paging cache's ClickHouse.
// The engine only needs a small pool: reads are short positional range
// scans and writes are batched portions, so the driver's heavier tuning
// knobs are left at their defaults.
type Config struct {
	Addresses    []string      `env:"CLICKHOUSE_ADDRESSES" envSeparator:"," envDefault:"localhost:9000"`
	Database     string        `env:"CLICKHOUSE_DATABASE" envDefault:"default"`
	Username     string        `env:"CLICKHOUSE_USERNAME" envDefault:"default"`
	Password     string        `env:"CLICKHOUSE_PASSWORD" envDefault:""`
	DialTimeout  time.Duration `env:"CLICKHOUSE_DIAL_TIMEOUT" envDefault:"30s"`
	MaxOpenConns int           `env:"CLICKHOUSE_MAX_OPEN_CONNS" envDefault:"5"`
	MaxIdleConns int           `env:"CLICKHOUSE_MAX_IDLE_CONNS" envDefault:"2"`
	TLSEnabled   bool          `env:"CLICKHOUSE_TLS_ENABLED" envDefault:"false"` // dial with TLS (skip-verify, for managed instances)
	Debug        bool          `env:"CLICKHOUSE_DEBUG" envDefault:"false"`       // forward driver debug output to the logger
}

// Load reads the configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse clickhouse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if len(c.Addresses) == 0 {
		return errors.New("invalid addresses: must not be empty")
	}
	if c.Database == "" {
		return errors.New("invalid database: must not be empty")
	}
	if c.DialTimeout <= 0 {
		return errors.New("invalid dial timeout: must be greater than 0")
	}
	return nil
}
