package store

import (
	"fmt"
	"time"
)

// Config selects and configures the report store.
type Config struct {
	// Driver is memory, sqlite or postgres.
	Driver string `mapstructure:"driver" json:"driver"`
	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `mapstructure:"dsn" json:"dsn"`

	MaxOpenConns    int           `mapstructure:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" json:"conn_max_lifetime"`
	// MaxRetries is the number of connection attempts before giving up.
	MaxRetries int `mapstructure:"max_retries" json:"max_retries"`
	// SlowQueryThreshold marks queries logged as slow.
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold" json:"slow_query_threshold"`
	// LogLevel is the query log level: silent, error, warn or info.
	LogLevel string `mapstructure:"log_level" json:"log_level"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.Driver == DriverSQLite && c.DSN == "" {
		c.DSN = "devflow.db"
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.SlowQueryThreshold == 0 {
		c.SlowQueryThreshold = 200 * time.Millisecond
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
}

// Validate checks the store configuration.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("store: unknown driver %q (want memory, sqlite or postgres)", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("store: dsn is required for driver %s", c.Driver)
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("store: max_idle_conns (%d) must be <= max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}
