package docker

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Config holds Docker executor settings.
type Config struct {
	Host         string `mapstructure:"host" json:"host"`
	APIVersion   string `mapstructure:"api_version" json:"api_version"`
	DefaultImage string `mapstructure:"default_image" json:"default_image"`
	// Pull controls whether a missing image is pulled before the run.
	Pull bool `mapstructure:"pull" json:"pull"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "unix:///var/run/docker.sock"
	}
	if c.DefaultImage == "" {
		c.DefaultImage = "ubuntu:22.04"
	}
}

// Validate checks the Docker configuration.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("docker: host is required")
	}
	return nil
}

// parseMemory converts memory strings like "512m", "1g" to bytes.
func parseMemory(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("docker: empty memory string")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "gi"), strings.HasSuffix(s, "gb"):
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "mi"), strings.HasSuffix(s, "mb"):
		multiplier = 1024 * 1024
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "g"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "g")
	case strings.HasSuffix(s, "m"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "k"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "k")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("docker: parse memory %q: %w", s, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("docker: memory must be non-negative: %d", val)
	}
	return val * multiplier, nil
}

// parseCPU converts CPU strings like "0.5", "1", "500m" to nanocpus.
func parseCPU(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("docker: empty CPU string")
	}
	if strings.HasSuffix(s, "m") {
		val, err := strconv.ParseFloat(strings.TrimSuffix(s, "m"), 64)
		if err != nil {
			return 0, fmt.Errorf("docker: parse CPU %q: %w", s, err)
		}
		return int64(val * 1e6), nil
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("docker: parse CPU %q: %w", s, err)
	}
	return int64(val * 1e9), nil
}
