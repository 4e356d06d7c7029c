package notify

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxFailures = 5
	DefaultCooldown    = 30 * time.Second
)

// Config configures the webhook notifier.
type Config struct {
	// Enabled delivers notification nodes to URL. When off they only log.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	URL string `yaml:"url" mapstructure:"url"`

	// Timeout bounds a single delivery.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// Headers are added to every request, e.g. an Authorization token.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`

	// MaxFailures consecutive failures open the breaker.
	MaxFailures int `yaml:"max_failures" mapstructure:"max_failures"`

	// Cooldown is how long the breaker stays open before a trial request.
	Cooldown time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
}

// Validate checks the configuration when the notifier is enabled.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URL == "" {
		return errors.New("notify: url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("notify: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("notify: url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("notify: url has no host")
	}
	return nil
}
