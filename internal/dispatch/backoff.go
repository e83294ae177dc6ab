package dispatch

import (
	"math/rand"
	"time"

	"sms-dispatch/internal/sms"
)

// Priority-tuned delay bounds. Every computed backoff is clamped into the
// [base, max] band of the message's priority.
var delayBounds = map[sms.Priority]struct{ base, max time.Duration }{
	sms.PriorityUrgent: {500 * time.Millisecond, 60 * time.Second},
	sms.PriorityHigh:   {1 * time.Second, 180 * time.Second},
	sms.PriorityNormal: {2 * time.Second, 300 * time.Second},
	sms.PriorityLow:    {5 * time.Second, 600 * time.Second},
}

func jitterFactor(strategy sms.RetryStrategy) float64 {
	switch strategy {
	case sms.RetryExponential:
		return 0.10
	case sms.RetryLinear:
		return 0.05
	default:
		return 0.20
	}
}

// Backoff computes the delay before retry number attempt (0-based), with
// bounded jitter on top of the strategy curve.
func Backoff(strategy sms.RetryStrategy, priority sms.Priority, attempt int) time.Duration {
	bounds, ok := delayBounds[priority]
	if !ok {
		bounds = delayBounds[sms.PriorityNormal]
	}

	var raw time.Duration
	switch strategy {
	case sms.RetryExponential:
		raw = bounds.base << uint(attempt)
	case sms.RetryLinear:
		raw = bounds.base * time.Duration(attempt+1)
	default:
		raw = bounds.base
	}

	delay := time.Duration(float64(raw) * (1 + jitterFactor(strategy)*rand.Float64()))

	if delay < bounds.base {
		delay = bounds.base
	}
	if delay > bounds.max {
		delay = bounds.max
	}
	return delay
}
