package webhooks

import "time"

const (
	exponentialBase = 60 * time.Second
	linearStep      = 300 * time.Second
	fixedDelay      = 600 * time.Second
	defaultDelay    = 60 * time.Second

	// 2^20 minutes is already ~2 years; larger shifts overflow time.Duration.
	maxExponent = 20
)

// RetryDelay returns the backoff after the given number of failed attempts.
func RetryDelay(attempt int, strategy RetryStrategy) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch strategy {
	case RetryExponential:
		exp := attempt
		if exp > maxExponent {
			exp = maxExponent
		}
		return time.Duration(1<<uint(exp)) * exponentialBase
	case RetryLinear:
		return time.Duration(attempt) * linearStep
	case RetryFixed:
		return fixedDelay
	default:
		return defaultDelay
	}
}

// NextRetryAt schedules the next attempt, or returns nil when attempt has
// reached maxRetries.
func NextRetryAt(attempt int, strategy RetryStrategy, maxRetries int, now time.Time) *time.Time {
	if attempt >= maxRetries {
		return nil
	}
	next := now.Add(RetryDelay(attempt, strategy))
	return &next
}
