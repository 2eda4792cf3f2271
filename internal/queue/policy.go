package queue

import (
	"math"
	"strings"
	"time"
)

// RetryPolicy is the single source of truth for retry decisions: how long to
// wait before the next attempt, and whether an error is worth retrying at
// all. It carries no state.
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RetryableErrors []string
}

// DefaultRetryPolicy returns the canonical policy: 3 attempts, 60s initial
// delay, exponential ×2, capped at one hour.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 60 * time.Second,
		MaxDelay:     3600 * time.Second,
		Multiplier:   2.0,
		RetryableErrors: []string{
			"connection",
			"timeout",
			"temporary",
			"rate limit",
		},
	}
}

// DelayFor returns the backoff delay before the given attempt number:
// min(MaxDelay, InitialDelay × Multiplier^attempt).
func (p RetryPolicy) DelayFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt)))
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	return delay
}

// IsRetryable reports whether the error text matches any configured
// retryable substring. Matching is case-insensitive.
func (p RetryPolicy) IsRetryable(errText string) bool {
	lower := strings.ToLower(errText)
	for _, s := range p.RetryableErrors {
		if strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}
