package probe

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxRetries is the number of extra attempts after a timed out probe
const DefaultMaxRetries = 3

// RetryResult is the terminal outcome of a retry sequence
type RetryResult struct {
	Success bool
	// Attempts is the number of probes actually performed
	Attempts int
	Kind     ErrorKind
	Err      error
	Message  string
	// ResponseTime is the elapsed time of the successful attempt
	ResponseTime time.Duration
	// Elapsed covers the whole sequence including backoff waits
	Elapsed time.Duration
}

// RetryController wraps a Prober with bounded, failure-kind aware retries
type RetryController struct {
	logger     *zap.Logger
	prober     Prober
	strategy   RetryStrategy
	maxRetries int
	timeout    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// RetryOption customizes a RetryController
type RetryOption func(*RetryController)

// WithStrategy replaces the default exponential backoff
func WithStrategy(s RetryStrategy) RetryOption {
	return func(rc *RetryController) { rc.strategy = s }
}

// WithMaxRetries sets how many extra attempts a timed out probe gets
func WithMaxRetries(n int) RetryOption {
	return func(rc *RetryController) {
		if n >= 0 {
			rc.maxRetries = n
		}
	}
}

// WithTimeout sets the per-attempt connection timeout
func WithTimeout(d time.Duration) RetryOption {
	return func(rc *RetryController) {
		if d > 0 {
			rc.timeout = d
		}
	}
}

// NewRetryController creates a retry controller around prober
func NewRetryController(prober Prober, logger *zap.Logger, opts ...RetryOption) *RetryController {
	rc := &RetryController{
		logger:     logger.Named("retry"),
		prober:     prober,
		strategy:   DefaultBackoff(),
		maxRetries: DefaultMaxRetries,
		timeout:    DefaultProbeTimeout,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// CheckWithRetry probes host:port. Only timeouts are retried; any other
// failure ends the sequence after the attempt that produced it.
func (rc *RetryController) CheckWithRetry(ctx context.Context, host string, port int) RetryResult {
	start := time.Now()
	var last ProbeResult
	attempts := 0

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if attempt > 0 {
			wait := rc.strategy.NextRetry(attempt)
			rc.logger.Debug("Retrying port probe",
				zap.String("host", host),
				zap.Int("port", port),
				zap.Int("retry", attempt),
				zap.Int("max_retries", rc.maxRetries),
				zap.Duration("backoff", wait))

			if err := rc.sleep(ctx, wait); err != nil {
				// shutdown interrupted the backoff; report what we have
				break
			}
		}

		attempts++
		last = rc.prober.Probe(ctx, host, port, rc.timeout)
		if last.Reachable {
			return RetryResult{
				Success:      true,
				Attempts:     attempts,
				ResponseTime: last.Elapsed,
				Elapsed:      time.Since(start),
			}
		}

		if !last.Kind.Retryable() {
			rc.logger.Debug("Port probe failed with terminal error",
				zap.String("host", host),
				zap.Int("port", port),
				zap.String("kind", string(last.Kind)),
				zap.Error(last.Err))
			break
		}
	}

	return RetryResult{
		Attempts: attempts,
		Kind:     last.Kind,
		Err:      last.Err,
		Message:  last.Message(),
		Elapsed:  time.Since(start),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
