package notify

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects deliveries.
var ErrCircuitOpen = errors.New("webhook circuit is open")

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker opens after maxFailures consecutive failures and lets one trial
// call through once cooldown has passed. The trial closes it on success
// and reopens it on failure.
type breaker struct {
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
	onChange    func(from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool
}

func newBreaker(maxFailures int, cooldown time.Duration) *breaker {
	return &breaker{maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
}

// Execute runs fn unless the breaker is open.
func (b *breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	b.record(err)
	return err
}

func (b *breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.current() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.trial {
			return false
		}
		b.trial = true
		return true
	default:
		return false
	}
}

func (b *breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		b.to(StateClosed)
		return
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.openedAt = b.now()
		b.to(StateOpen)
	}
}

// current moves an expired open breaker to half-open. Callers hold mu.
func (b *breaker) current() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.to(StateHalfOpen)
	}
	return b.state
}

func (b *breaker) to(s State) {
	if b.state == s {
		return
	}
	from := b.state
	b.state = s
	b.trial = false
	if s == StateClosed {
		b.failures = 0
	}
	if b.onChange != nil {
		b.onChange(from, s)
	}
}
