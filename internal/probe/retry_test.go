package probe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedProber replays results and repeats the last one when exhausted
type scriptedProber struct {
	mu       sync.Mutex
	results  []ProbeResult
	calls    int
	timeouts []time.Duration
}

func (p *scriptedProber) Probe(_ context.Context, _ string, _ int, timeout time.Duration) ProbeResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeouts = append(p.timeouts, timeout)
	i := p.calls
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	p.calls++
	return p.results[i]
}

func newTestController(p Prober, waits *[]time.Duration, opts ...RetryOption) *RetryController {
	rc := NewRetryController(p, zap.NewNop(), opts...)
	rc.sleep = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
	return rc
}

var timedOut = ProbeResult{Kind: ErrorKindTimeout, Err: context.DeadlineExceeded, Elapsed: 5 * time.Second}

func TestRetryController_AlwaysTimesOut(t *testing.T) {
	p := &scriptedProber{results: []ProbeResult{timedOut}}
	var waits []time.Duration
	rc := newTestController(p, &waits, WithMaxRetries(3))

	res := rc.CheckWithRetry(context.Background(), "10.255.255.1", 80)

	assert.False(t, res.Success)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, 4, p.calls)
	assert.Equal(t, ErrorKindTimeout, res.Kind)
	assert.Equal(t, "Connection timeout", res.Message)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, waits)
}

func TestRetryController_RefusedStopsImmediately(t *testing.T) {
	refused := ProbeResult{Kind: ErrorKindRefused, Err: errors.New("connect: connection refused")}
	p := &scriptedProber{results: []ProbeResult{refused}}
	var waits []time.Duration
	rc := newTestController(p, &waits, WithMaxRetries(3))

	res := rc.CheckWithRetry(context.Background(), "127.0.0.1", 9)

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, ErrorKindRefused, res.Kind)
	assert.Empty(t, waits, "terminal failures must not wait")
	assert.Contains(t, res.Message, "refused")
}

func TestRetryController_DNSFailureIsTerminal(t *testing.T) {
	p := &scriptedProber{results: []ProbeResult{{Kind: ErrorKindDNS, Err: errors.New("no such host")}}}
	var waits []time.Duration
	rc := newTestController(p, &waits)

	res := rc.CheckWithRetry(context.Background(), "invalid-host-name-12345", 80)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, waits)
}

func TestRetryController_SucceedsAfterTimeouts(t *testing.T) {
	ok := ProbeResult{Reachable: true, Elapsed: 12 * time.Millisecond}
	p := &scriptedProber{results: []ProbeResult{timedOut, timedOut, ok}}
	var waits []time.Duration
	rc := newTestController(p, &waits, WithTimeout(750*time.Millisecond))

	res := rc.CheckWithRetry(context.Background(), "db", 5432)

	require.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 12*time.Millisecond, res.ResponseTime)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
	for _, to := range p.timeouts {
		assert.Equal(t, 750*time.Millisecond, to)
	}
}

func TestRetryController_TimeoutThenRefused(t *testing.T) {
	refused := ProbeResult{Kind: ErrorKindRefused, Err: errors.New("connection refused")}
	p := &scriptedProber{results: []ProbeResult{timedOut, refused}}
	var waits []time.Duration
	rc := newTestController(p, &waits)

	res := rc.CheckWithRetry(context.Background(), "db", 5432)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, ErrorKindRefused, res.Kind)
	assert.Len(t, waits, 1)
}

func TestRetryController_ZeroRetries(t *testing.T) {
	p := &scriptedProber{results: []ProbeResult{timedOut}}
	var waits []time.Duration
	rc := newTestController(p, &waits, WithMaxRetries(0))

	res := rc.CheckWithRetry(context.Background(), "db", 5432)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, waits)
}

func TestRetryController_CanceledDuringBackoff(t *testing.T) {
	p := &scriptedProber{results: []ProbeResult{timedOut}}
	rc := NewRetryController(p, zap.NewNop(),
		WithStrategy(&ExponentialBackoff{InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan RetryResult, 1)
	go func() { done <- rc.CheckWithRetry(ctx, "db", 5432) }()

	select {
	case res := <-done:
		assert.False(t, res.Success)
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, ErrorKindTimeout, res.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("backoff wait ignored context cancellation")
	}
}
