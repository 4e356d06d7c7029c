package scheduler

import (
	"fmt"
	"time"

	"github.com/kbukum/devflow/retry"
)

// Config holds scheduler settings.
type Config struct {
	// MaxParallel bounds how many nodes of a wave run at once. Zero means
	// unlimited.
	MaxParallel int `mapstructure:"max_parallel" json:"max_parallel"`
	// ManualRetryTimeout is how long a manual retry waits for a decision.
	ManualRetryTimeout time.Duration `mapstructure:"manual_retry_timeout" json:"manual_retry_timeout"`
	// DefaultTimeout applies to nodes whose profile sets no timeout.
	DefaultTimeout time.Duration `mapstructure:"default_timeout" json:"default_timeout"`
	// WorkDir is the directory commands run in unless the request sets one.
	WorkDir string `mapstructure:"work_dir" json:"work_dir"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.ManualRetryTimeout == 0 {
		c.ManualRetryTimeout = retry.DefaultManualTimeout
	}
	if c.WorkDir == "" {
		c.WorkDir = "."
	}
}

// Validate checks the scheduler configuration.
func (c *Config) Validate() error {
	if c.MaxParallel < 0 {
		return fmt.Errorf("scheduler: max_parallel must be >= 0, got %d", c.MaxParallel)
	}
	if c.ManualRetryTimeout < 0 {
		return fmt.Errorf("scheduler: manual_retry_timeout must be >= 0")
	}
	if c.DefaultTimeout < 0 {
		return fmt.Errorf("scheduler: default_timeout must be >= 0")
	}
	return nil
}
