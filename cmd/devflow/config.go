package main

import (
	"fmt"

	"github.com/kbukum/devflow/archive"
	"github.com/kbukum/devflow/config"
	"github.com/kbukum/devflow/executor/docker"
	"github.com/kbukum/devflow/executor/local"
	"github.com/kbukum/devflow/executor/ssh"
	"github.com/kbukum/devflow/notify"
	"github.com/kbukum/devflow/observability"
	"github.com/kbukum/devflow/scheduler"
	"github.com/kbukum/devflow/server"
	"github.com/kbukum/devflow/store"
)

// serviceName selects config.yml lookup paths and the DEVFLOW_ env prefix.
const serviceName = "devflow"

// Config is the full devflow configuration.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Server        server.Config        `yaml:"server" mapstructure:"server"`
	Scheduler     scheduler.Config     `yaml:"scheduler" mapstructure:"scheduler"`
	Executor      ExecutorConfig       `yaml:"executor" mapstructure:"executor"`
	Store         store.Config         `yaml:"store" mapstructure:"store"`
	Archive       archive.Config       `yaml:"archive" mapstructure:"archive"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
	Notify        notify.Config        `yaml:"notify" mapstructure:"notify"`

	// FlowsDir is loaded into the session manager by "devflow serve".
	FlowsDir string `yaml:"flows_dir" mapstructure:"flows_dir"`
}

// ExecutorConfig configures the host shell and the optional remote
// executors. Docker and SSH profiles fail with EXECUTOR_ERROR unless
// enabled here.
type ExecutorConfig struct {
	local.Config `yaml:",inline" mapstructure:",squash"`

	Docker DockerConfig `yaml:"docker" mapstructure:"docker"`
	SSH    SSHConfig    `yaml:"ssh" mapstructure:"ssh"`
}

type DockerConfig struct {
	Enabled       bool `yaml:"enabled" mapstructure:"enabled"`
	docker.Config `yaml:",inline" mapstructure:",squash"`
}

type SSHConfig struct {
	Enabled    bool `yaml:"enabled" mapstructure:"enabled"`
	ssh.Config `yaml:",inline" mapstructure:",squash"`
}

// ApplyDefaults fills every section.
func (c *Config) ApplyDefaults() {
	c.ServiceConfig.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.Scheduler.ApplyDefaults()
	c.Executor.Config.ApplyDefaults()
	if c.Executor.Docker.Enabled {
		c.Executor.Docker.Config.ApplyDefaults()
	}
	if c.Executor.SSH.Enabled {
		c.Executor.SSH.Config.ApplyDefaults()
	}
	c.Store.ApplyDefaults()
	c.Archive.ApplyDefaults()
	c.Observability.ApplyDefaults()
	c.Notify.ApplyDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	checks := []struct {
		section string
		check   func() error
	}{
		{"server", c.Server.Validate},
		{"scheduler", c.Scheduler.Validate},
		{"store", c.Store.Validate},
		{"archive", c.Archive.Validate},
		{"observability", c.Observability.Validate},
		{"notify", c.Notify.Validate},
	}
	if c.Executor.Docker.Enabled {
		checks = append(checks, struct {
			section string
			check   func() error
		}{"executor.docker", c.Executor.Docker.Config.Validate})
	}
	for _, ch := range checks {
		if err := ch.check(); err != nil {
			return fmt.Errorf("config.%s: %w", ch.section, err)
		}
	}
	return nil
}

// loadConfig reads config.yml, .env and DEVFLOW_* variables. Empty paths
// fall back to the default lookup.
func loadConfig(configFile, envFile string) (*Config, error) {
	var opts []config.LoaderOption
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	if envFile != "" {
		opts = append(opts, config.WithEnvFile(envFile))
	}
	cfg := &Config{}
	if err := config.LoadConfig(serviceName, cfg, opts...); err != nil {
		return nil, err
	}
	return cfg, nil
}
