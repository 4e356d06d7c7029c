// Package local runs node commands in the host shell.
package local

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"github.com/kbukum/devflow/executor"
)

// Config configures the host shell executor.
type Config struct {
	// Shell is the interpreter invoked with -c. Defaults to $SHELL, then /bin/sh.
	Shell string `yaml:"shell,omitempty" mapstructure:"shell"`
	// GracePeriod is how long to wait after SIGTERM before SIGKILL.
	GracePeriod time.Duration `yaml:"grace_period,omitempty" mapstructure:"grace_period"`
	// SampleInterval is how often CPU and memory are read while a command runs.
	SampleInterval time.Duration `yaml:"sample_interval,omitempty" mapstructure:"sample_interval"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Shell == "" {
		c.Shell = os.Getenv("SHELL")
	}
	if c.Shell == "" {
		c.Shell = "/bin/sh"
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = 5 * time.Second
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = DefaultSampleInterval
	}
}

// Executor runs commands as a child process group of this process.
type Executor struct {
	cfg Config
}

// New creates a host shell executor.
func New(cfg Config) *Executor {
	cfg.ApplyDefaults()
	return &Executor{cfg: cfg}
}

// Execute runs req.Command with the configured shell. On timeout or
// cancellation the whole process group gets SIGTERM, then SIGKILL after
// the grace period.
func (e *Executor) Execute(ctx context.Context, req executor.Request) (*executor.Result, error) {
	if req.Command == "" {
		return nil, fmt.Errorf("local: command is required")
	}

	runCtx, cancel := executor.WithTimeout(ctx, req)
	defer cancel()

	c := exec.CommandContext(runCtx, e.cfg.Shell, "-c", req.Command) //nolint:gosec // running user commands is the purpose of this package
	c.Dir = req.Dir
	c.Env = mergeEnv(executor.EnvList(req.Env))

	stdout := executor.NewStreamWriter("stdout", req.Lines)
	stderr := executor.NewStreamWriter("stderr", req.Lines)
	c.Stdout = stdout
	c.Stderr = stderr

	// Process group so the whole tree is signalled.
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}
		return syscall.Kill(-c.Process.Pid, syscall.SIGTERM)
	}
	c.WaitDelay = e.cfg.GracePeriod

	start := time.Now()
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("local: start %s: %w", e.cfg.Shell, err)
	}
	s := newSampler(e.cfg.SampleInterval)
	stopSampling := s.start(c.Process.Pid)
	waitErr := c.Wait()
	duration := time.Since(start)
	stopSampling()
	stdout.Flush()
	stderr.Flush()

	result := &executor.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: c.ProcessState.ExitCode(),
		Duration: duration,
	}
	cpu, mem := peaks(c.ProcessState, duration)
	result.MaxCPU = max(s.cpuPeak, cpu)
	result.MaxMemoryMB = max(s.memPeak, mem)

	if executor.TimedOut(ctx, runCtx) {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if ctx.Err() != nil {
		return result, fmt.Errorf("local: killed by context: %w", ctx.Err())
	}
	if waitErr != nil {
		if _, ok := waitErr.(*exec.ExitError); !ok {
			return result, fmt.Errorf("local: wait: %w", waitErr)
		}
	}
	return result, nil
}

// mergeEnv merges additional env vars with the current environment.
func mergeEnv(extra []string) []string {
	if len(extra) == 0 {
		return nil // inherit parent env
	}
	return append(os.Environ(), extra...)
}

// peaks derives figures from the child's rusage at exit. CPU is the
// average over the whole run in percent of one core, a floor for the
// sampled peak of short commands that finish between samples.
func peaks(ps *os.ProcessState, wall time.Duration) (cpu, memMB float64) {
	if ps == nil {
		return 0, 0
	}
	ru, ok := ps.SysUsage().(*syscall.Rusage)
	if !ok || ru == nil {
		return 0, 0
	}
	if wall > 0 {
		busy := ps.UserTime() + ps.SystemTime()
		cpu = float64(busy) / float64(wall) * 100
	}
	rss := float64(ru.Maxrss)
	if runtime.GOOS == "darwin" {
		memMB = rss / (1024 * 1024)
	} else {
		memMB = rss / 1024
	}
	return cpu, memMB
}

var _ executor.Executor = (*Executor)(nil)
