package logger

import (
	"fmt"
	"slices"
)

var (
	levels  = []string{"trace", "debug", "info", "warn", "error", "fatal"}
	formats = []string{"json", "console"}
	outputs = []string{"stdout", "stderr"}
)

// Config is the logging section of the devflow config file.
type Config struct {
	Level     string `yaml:"level" mapstructure:"level"`
	Format    string `yaml:"format" mapstructure:"format"`
	Output    string `yaml:"output" mapstructure:"output"`
	NoColor   bool   `yaml:"no_color" mapstructure:"no_color"`
	Timestamp bool   `yaml:"timestamp" mapstructure:"timestamp"`
	Caller    bool   `yaml:"caller" mapstructure:"caller"`
}

// ApplyDefaults fills info/console/stdout. Timestamps are always on.
func (c *Config) ApplyDefaults() {
	c.Level = orDefault(c.Level, "info")
	c.Format = orDefault(c.Format, "console")
	c.Output = orDefault(c.Output, "stdout")
	c.Timestamp = true
}

func (c *Config) Validate() error {
	for _, f := range []struct {
		key, val string
		allowed  []string
	}{
		{"level", c.Level, levels},
		{"format", c.Format, formats},
		{"output", c.Output, outputs},
	} {
		if !slices.Contains(f.allowed, f.val) {
			return fmt.Errorf("logging.%s must be one of %v (got: %s)", f.key, f.allowed, f.val)
		}
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
