package retry

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/kbukum/devflow/validation"
)

// Strategy selects how failed attempts are retried.
type Strategy string

const (
	StrategyNone        Strategy = "none"
	StrategyAuto        Strategy = "auto"
	StrategyExponential Strategy = "exponential"
	StrategyManual      Strategy = "manual"
)

// MaxBackoff caps the exponential delay.
const MaxBackoff = 30 * time.Second

// ConfigKey is the node config key holding a retry policy.
const ConfigKey = "retryPolicy"

// Policy is a node's retry policy.
type Policy struct {
	Strategy    Strategy `json:"strategy" validate:"required,oneof=none auto exponential manual"`
	MaxAttempts int      `json:"maxAttempts" validate:"gte=0"`
	BackoffMs   int      `json:"backoffMs" validate:"gte=0"`
}

// DefaultPolicy is used when a node declares no policy.
func DefaultPolicy() Policy {
	return Policy{Strategy: StrategyNone, MaxAttempts: 2, BackoffMs: 1000}
}

// MaxRuns is the total number of attempts the policy allows.
func (p Policy) MaxRuns() int {
	if p.Strategy == StrategyNone || p.Strategy == "" {
		return 1
	}
	return 1 + p.MaxAttempts
}

// Delay returns the wait before the given attempt (1-based). Only the
// exponential strategy waits: BackoffMs before attempt 2, doubling for
// each later attempt, capped at MaxBackoff.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Strategy != StrategyExponential || attempt <= 1 {
		return 0
	}
	if p.BackoffMs >= int(MaxBackoff/time.Millisecond) {
		return MaxBackoff
	}
	d := time.Duration(p.BackoffMs) * time.Millisecond
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= MaxBackoff {
			return MaxBackoff
		}
	}
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}

// ParsePolicy reads the retryPolicy entry of a node config. Missing fields
// keep their defaults; a missing entry yields DefaultPolicy.
func ParsePolicy(config map[string]any) (Policy, error) {
	p := DefaultPolicy()
	raw, ok := config[ConfigKey]
	if !ok || raw == nil {
		return p, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return p, err
	}
	if err := dec.Decode(raw); err != nil {
		return DefaultPolicy(), fmt.Errorf("%s: %w", ConfigKey, err)
	}
	if err := validation.Validate(p); err != nil {
		return DefaultPolicy(), err
	}
	return p, nil
}
