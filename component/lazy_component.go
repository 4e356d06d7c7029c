package component

import (
	"context"
	"fmt"
	"sync"
)

// Lazy defers an expensive connection, such as a Docker daemon client,
// until the first call that needs it. A failed init is retried on the
// next call.
type Lazy[T any] struct {
	name  string
	mu    sync.Mutex
	value T
	ready bool
	init  func(ctx context.Context) (T, error)
	close func(T) error
}

// NewLazy creates a lazy value built by init.
func NewLazy[T any](name string, init func(context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{name: name, init: init}
}

// WithCloser sets the function that releases the value.
func (l *Lazy[T]) WithCloser(fn func(T) error) *Lazy[T] {
	l.close = fn
	return l
}

// Get returns the value, initializing it on first use.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ready {
		return l.value, nil
	}
	v, err := l.init(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to initialize %s: %w", l.name, err)
	}
	l.value = v
	l.ready = true
	return v, nil
}

// Initialized reports whether Get has succeeded.
func (l *Lazy[T]) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

// Close releases the value if it was initialized.
func (l *Lazy[T]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.ready {
		return nil
	}
	l.ready = false
	if l.close != nil {
		return l.close(l.value)
	}
	return nil
}
