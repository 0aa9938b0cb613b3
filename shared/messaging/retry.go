package messaging

import "time"

// RetryPolicy is a bounded linear backoff: attempt n waits n × BaseDelay and
// no attempt past MaxAttempts is scheduled.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 3 * time.Second}
}

// Delay returns the wait before the given 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * p.BaseDelay
}

// Allows reports whether attempt may still be scheduled.
func (p RetryPolicy) Allows(attempt int) bool {
	return attempt <= p.MaxAttempts
}
