package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/kbukum/devflow/executor"
	"github.com/kbukum/devflow/retry"
	"github.com/kbukum/devflow/runstate"
)

// Builder turns a node config into a shell command.
type Builder interface {
	Build(config map[string]any, inv Invocation) (string, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(config map[string]any, inv Invocation) (string, error)

// Build calls f.
func (f BuilderFunc) Build(config map[string]any, inv Invocation) (string, error) {
	return f(config, inv)
}

// CommandCapability runs the command produced by Builder on Executor.
type CommandCapability struct {
	Builder  Builder
	Executor executor.Executor
}

// Attempt builds and runs the command. A non-zero exit, a timeout or an
// executor error fails the attempt.
func (c *CommandCapability) Attempt(ctx context.Context, inv Invocation) AttemptResult {
	cmd, err := c.Builder.Build(inv.Node.Config, inv)
	if err != nil {
		return Failed("%s", err.Error())
	}
	if strings.TrimSpace(cmd) == "" {
		return Failed("Execution failed")
	}

	env := make(map[string]string, len(inv.Env))
	for k, v := range inv.Env {
		env[k] = v
	}
	for k, v := range EnvVars(inv.Node.Config) {
		env[k] = v
	}

	res, err := c.Executor.Execute(ctx, executor.Request{
		NodeID:  inv.Node.ID,
		Command: cmd,
		Dir:     inv.WorkDir,
		Env:     env,
		Profile: inv.Profile,
		Lines:   inv.Logs,
	})
	if err != nil {
		return Failed("%s", err.Error())
	}

	metrics := runstate.Metrics{CPUPeak: res.MaxCPU, MemPeakMB: res.MaxMemoryMB}
	if res.TimedOut || res.ExitCode != 0 {
		return AttemptResult{Error: commandFailure(res), Metrics: metrics}
	}
	return Succeeded(metrics)
}

func commandFailure(res *executor.Result) *retry.Failure {
	reason := fmt.Sprintf("exit code %d", res.ExitCode)
	if res.TimedOut {
		reason = "command timed out"
	}
	output := strings.TrimSpace(res.Stderr)
	if output == "" {
		output = strings.TrimSpace(res.Stdout)
	}
	msg := reason
	if output != "" {
		msg += "\n" + output
	}
	code := res.ExitCode
	return &retry.Failure{Message: msg, ExitCode: &code}
}
