package probe

import "time"

const (
	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = 10 * time.Second
)

// RetryStrategy defines the wait before a retry
type RetryStrategy interface {
	// NextRetry returns the wait before retry number attempt (1 is the first
	// retry). Values below 1 mean no wait.
	NextRetry(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff retry strategy
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultBackoff waits 1s, 2s, 4s, 8s and then 10s for every further retry
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: DefaultBackoffBase,
		MaxDelay:     DefaultBackoffCap,
		Multiplier:   2,
	}
}

// NextRetry calculates min(InitialDelay * Multiplier^(attempt-1), MaxDelay)
func (s *ExponentialBackoff) NextRetry(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	delay := float64(s.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= s.Multiplier
		if delay > float64(s.MaxDelay) {
			return s.MaxDelay
		}
	}

	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}
