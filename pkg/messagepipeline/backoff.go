package messagepipeline

import (
	"fmt"
	"time"
)

// BackoffPolicy decides how long the consumer pauses between pulls while it is
// filling a batch. It is used by one consumer at a time and is not safe for
// concurrent use.
type BackoffPolicy interface {
	// Reset is called at the start of every batch.
	Reset()
	// Delay returns the pause after a pull that returned received messages.
	Delay(received int) time.Duration
}

// Backoff policy names accepted by NewBackoffPolicy.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// FixedBackoff pauses for Interval after a pull that returned messages and not
// at all after an empty pull.
type FixedBackoff struct {
	Interval time.Duration
}

func (b *FixedBackoff) Reset() {}

func (b *FixedBackoff) Delay(received int) time.Duration {
	if received > 0 {
		return b.Interval
	}
	return 0
}

// ExponentialBackoff pauses for Initial after a pull that returned messages.
// Consecutive empty pulls grow the pause by Multiplier each time, up to Max.
type ExponentialBackoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	current time.Duration
}

func (b *ExponentialBackoff) Reset() {
	b.current = 0
}

func (b *ExponentialBackoff) Delay(received int) time.Duration {
	if received > 0 {
		b.current = 0
		return b.Initial
	}
	if b.current == 0 {
		b.current = b.Initial
	} else {
		b.current = time.Duration(float64(b.current) * b.Multiplier)
	}
	if b.Max > 0 && b.current > b.Max {
		b.current = b.Max
	}
	return b.current
}

// NewBackoffPolicy builds a policy by name. Max and multiplier only apply to the
// exponential policy.
func NewBackoffPolicy(kind string, interval, max time.Duration, multiplier float64) (BackoffPolicy, error) {
	if interval < 0 {
		return nil, fmt.Errorf("backoff interval cannot be negative: %s", interval)
	}
	switch kind {
	case "", BackoffFixed:
		return &FixedBackoff{Interval: interval}, nil
	case BackoffExponential:
		if multiplier < 1 {
			return nil, fmt.Errorf("exponential backoff multiplier must be >= 1, got %v", multiplier)
		}
		return &ExponentialBackoff{Initial: interval, Max: max, Multiplier: multiplier}, nil
	default:
		return nil, fmt.Errorf("unknown backoff policy %q", kind)
	}
}
