package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrManualCancelled ends a manual retry that was cancelled or timed out.
var ErrManualCancelled = errors.New("manual retry cancelled")

// AttemptError records one failed attempt.
type AttemptError struct {
	NodeID    string    `json:"nodeId"`
	NodeLabel string    `json:"nodeLabel"`
	Message   string    `json:"message"`
	ExitCode  *int      `json:"exitCode,omitempty"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *AttemptError) Error() string {
	if e.ExitCode != nil {
		return fmt.Sprintf("%s attempt %d: %s (exit code %d)", e.NodeID, e.Attempt, e.Message, *e.ExitCode)
	}
	return fmt.Sprintf("%s attempt %d: %s", e.NodeID, e.Attempt, e.Message)
}

// Failure is returned by an attempt function to report a failure with an
// optional process exit code.
type Failure struct {
	Message  string
	ExitCode *int
}

func (f *Failure) Error() string { return f.Message }

// Gate blocks a manual retry until the user confirms it. It returns false
// when the retry is cancelled, times out or ctx ends.
type Gate interface {
	Await(ctx context.Context, nodeID string, attempt int) bool
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context, nodeID string, attempt int) bool

func (f GateFunc) Await(ctx context.Context, nodeID string, attempt int) bool {
	return f(ctx, nodeID, attempt)
}

// Options configures a retried node execution.
type Options struct {
	Policy    Policy
	NodeID    string
	NodeLabel string

	// OnAttempt runs before each attempt.
	OnAttempt func(attempt int)
	// OnRetry runs after a failure that will be retried, with the delay
	// before the next attempt (zero for auto and manual).
	OnRetry func(failed *AttemptError, delay time.Duration)
	// Gate is consulted before every manual retry. A nil gate cancels.
	Gate Gate
	// Sleep waits for d or until ctx ends. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Outcome is the result of Do.
type Outcome[T any] struct {
	Success  bool
	Value    T
	Attempts int
	// Err is the last attempt error, nil on success.
	Err *AttemptError
	// Errors holds every failed attempt in order.
	Errors []*AttemptError
	// Cause is why the loop stopped early: a context error or
	// ErrManualCancelled. Nil when attempts ran out or succeeded.
	Cause error
}

// Do runs fn until it succeeds or the policy gives up.
func Do[T any](ctx context.Context, opts Options, fn func(ctx context.Context, attempt int) (T, error)) Outcome[T] {
	var out Outcome[T]
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	maxRuns := opts.Policy.MaxRuns()

	for attempt := 1; attempt <= maxRuns; attempt++ {
		if err := ctx.Err(); err != nil {
			out.Cause = err
			return out
		}

		if opts.OnAttempt != nil {
			opts.OnAttempt(attempt)
		}
		out.Attempts = attempt

		value, err := fn(ctx, attempt)
		if err == nil {
			out.Success = true
			out.Value = value
			out.Err = nil
			return out
		}

		attemptErr := newAttemptError(opts, attempt, err)
		out.Err = attemptErr
		out.Errors = append(out.Errors, attemptErr)

		if attempt == maxRuns {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			out.Cause = ctxErr
			return out
		}

		delay := opts.Policy.Delay(attempt + 1)
		if opts.OnRetry != nil {
			opts.OnRetry(attemptErr, delay)
		}

		switch opts.Policy.Strategy {
		case StrategyExponential:
			if err := sleep(ctx, delay); err != nil {
				out.Cause = err
				return out
			}
		case StrategyManual:
			if opts.Gate == nil || !opts.Gate.Await(ctx, opts.NodeID, attempt+1) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					out.Cause = ctxErr
				} else {
					out.Cause = ErrManualCancelled
					out.Err = &AttemptError{
						NodeID:    opts.NodeID,
						NodeLabel: opts.NodeLabel,
						Message:   ErrManualCancelled.Error(),
						Attempt:   attempt,
						Timestamp: time.Now(),
					}
				}
				return out
			}
		}
	}
	return out
}

func newAttemptError(opts Options, attempt int, err error) *AttemptError {
	ae := &AttemptError{
		NodeID:    opts.NodeID,
		NodeLabel: opts.NodeLabel,
		Message:   err.Error(),
		Attempt:   attempt,
		Timestamp: time.Now(),
	}
	var f *Failure
	if errors.As(err, &f) {
		ae.ExitCode = f.ExitCode
	}
	return ae
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
