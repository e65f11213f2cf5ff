package probe

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"
)

// DefaultProbeTimeout bounds a single TCP connection attempt
const DefaultProbeTimeout = 5 * time.Second

// ErrorKind classifies a failed probe. Only ErrorKindTimeout is retryable.
type ErrorKind string

const (
	ErrorKindNone        ErrorKind = ""
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindRefused     ErrorKind = "refused"
	ErrorKindDNS         ErrorKind = "dns"
	ErrorKindUnreachable ErrorKind = "unreachable"
	ErrorKindCanceled    ErrorKind = "canceled"
	ErrorKindOther       ErrorKind = "other"
)

// Retryable reports whether waiting can resolve a failure of this kind
func (k ErrorKind) Retryable() bool {
	return k == ErrorKindTimeout
}

// ProbeResult is the outcome of one connection attempt
type ProbeResult struct {
	Reachable bool
	Elapsed   time.Duration
	Kind      ErrorKind
	Err       error
}

// Message is the human readable cause of a failed probe
func (r ProbeResult) Message() string {
	switch {
	case r.Reachable:
		return ""
	case r.Kind == ErrorKindTimeout:
		return "Connection timeout"
	case r.Err != nil:
		return r.Err.Error()
	default:
		return string(r.Kind)
	}
}

// Prober performs a single reachability probe
type Prober interface {
	Probe(ctx context.Context, host string, port int, timeout time.Duration) ProbeResult
}

// TCPProber probes by opening and immediately closing a TCP connection
type TCPProber struct{}

// NewTCPProber creates a TCP prober
func NewTCPProber() *TCPProber {
	return &TCPProber{}
}

// Probe dials host:port and reports how long the handshake took
func (p *TCPProber) Probe(ctx context.Context, host string, port int, timeout time.Duration) ProbeResult {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	elapsed := time.Since(start)
	if err != nil {
		return ProbeResult{Elapsed: elapsed, Kind: Classify(err), Err: err}
	}
	_ = conn.Close()

	return ProbeResult{Reachable: true, Elapsed: elapsed}
}

// Classify maps a dial error onto an ErrorKind. DNS failures are terminal
// even when the resolver itself timed out.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorKindDNS
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorKindCanceled
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return ErrorKindRefused
	}
	if errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return ErrorKindUnreachable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTimeout
	}
	return ErrorKindOther
}
