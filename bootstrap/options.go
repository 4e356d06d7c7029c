package bootstrap

import (
	"io"
	"time"

	"github.com/kbukum/devflow/logger"
)

// Option configures the App during creation.
type Option func(*appOptions)

type appOptions struct {
	logger          *logger.Logger
	gracefulTimeout *time.Duration
	summary         io.Writer
	signals         bool
}

func resolveOptions(opts []Option) *appOptions {
	o := &appOptions{signals: true}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger. Without it the logger is built from the
// config's Logging section and installed as the global logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *appOptions) {
		o.logger = l
	}
}

// WithGracefulTimeout bounds the shutdown phase.
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *appOptions) {
		o.gracefulTimeout = &d
	}
}

// WithSummaryOutput sets where the startup summary is printed. Pass
// io.Discard to silence it.
func WithSummaryOutput(w io.Writer) Option {
	return func(o *appOptions) {
		o.summary = w
	}
}

// WithoutSignals stops the App from listening for SIGINT/SIGTERM. Only the
// context ends Run or cancels a RunTask task.
func WithoutSignals() Option {
	return func(o *appOptions) {
		o.signals = false
	}
}
