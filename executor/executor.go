package executor

import (
	"context"
	"time"
)

// DefaultTimeout bounds a command when neither the request nor its
// profile sets one.
const DefaultTimeout = 300 * time.Second

// LineSink receives output line by line. stream is "stdout" or "stderr".
type LineSink func(stream, line string)

// Request describes one shell command to run.
type Request struct {
	NodeID  string
	Command string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
	Profile Profile
	Lines   LineSink
}

// EffectiveTimeout returns the request timeout, then the profile timeout,
// then DefaultTimeout.
func (r Request) EffectiveTimeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	if t := r.Profile.Timeout(); t > 0 {
		return t
	}
	return DefaultTimeout
}

// Result is the structured outcome of a command. A non-zero exit is a
// result, not an error.
type Result struct {
	Stdout      string        `json:"stdout"`
	Stderr      string        `json:"stderr"`
	ExitCode    int           `json:"exitCode"`
	MaxCPU      float64       `json:"maxCpu"`
	MaxMemoryMB float64       `json:"maxMemoryMb"`
	Duration    time.Duration `json:"duration"`
	TimedOut    bool          `json:"timedOut"`
}

// Executor runs commands in some environment. Errors are reserved for
// failures to run the command at all.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, req Request) (*Result, error)

// Execute calls f(ctx, req).
func (f Func) Execute(ctx context.Context, req Request) (*Result, error) { return f(ctx, req) }

// WithTimeout derives the execution context for req. TimedOut reports
// whether that context expired while the parent was still live.
func WithTimeout(ctx context.Context, req Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, req.EffectiveTimeout())
}

// TimedOut reports whether runCtx hit its deadline independently of parent.
func TimedOut(parent, runCtx context.Context) bool {
	return parent.Err() == nil && runCtx.Err() == context.DeadlineExceeded
}
