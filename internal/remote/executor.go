package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultTimeout bounds a whole remote session, handshake included
const DefaultTimeout = 30 * time.Second

// RemoteCommand describes one command to run on a remote host
type RemoteCommand struct {
	Host     string
	Port     int
	Username string
	// Secret is a PEM encoded private key or a password
	Secret  string
	Command string
	// Timeout overrides the executor default when positive
	Timeout time.Duration
}

// RemoteResult is the outcome of one remote command. Stdout and Stderr hold
// whatever was produced before the session ended.
type RemoteResult struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
	Err      error
}

// Executor runs a single command on a remote host
type Executor interface {
	Run(ctx context.Context, cmd RemoteCommand) RemoteResult
}

// SSHExecutor runs commands over SSH, one connection per call
type SSHExecutor struct {
	logger          *zap.Logger
	timeout         time.Duration
	hostKeyCallback ssh.HostKeyCallback
}

// Option customizes an SSHExecutor
type Option func(*SSHExecutor)

// WithTimeout sets the default session timeout
func WithTimeout(d time.Duration) Option {
	return func(e *SSHExecutor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithHostKeyCallback sets how server host keys are verified
func WithHostKeyCallback(cb ssh.HostKeyCallback) Option {
	return func(e *SSHExecutor) {
		if cb != nil {
			e.hostKeyCallback = cb
		}
	}
}

// KnownHostsCallback builds a host key callback from OpenSSH known_hosts files
func KnownHostsCallback(files ...string) (ssh.HostKeyCallback, error) {
	cb, err := knownhosts.New(files...)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return cb, nil
}

// NewSSHExecutor creates an SSH executor. Host keys are not verified unless
// WithHostKeyCallback is given.
func NewSSHExecutor(logger *zap.Logger, opts ...Option) *SSHExecutor {
	e := &SSHExecutor{
		logger:          logger.Named("remote"),
		timeout:         DefaultTimeout,
		hostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WorkingDir is the directory a command runs in for the given user
func WorkingDir(username string) string {
	if username == "root" {
		return "/root"
	}
	return "/home/" + username
}

// Run opens a session, runs cmd.Command once and closes everything before
// returning. Only exit status 0 counts as success.
func (e *SSHExecutor) Run(ctx context.Context, cmd RemoteCommand) RemoteResult {
	timeout := e.timeout
	if cmd.Timeout > 0 {
		timeout = cmd.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result := RemoteResult{ExitCode: -1}
	var stdout, stderr bytes.Buffer

	err := e.run(ctx, cmd, &stdout, &stderr, &result)

	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.Elapsed = time.Since(start)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w after %s: %v", ErrSessionTimeout, timeout, err)
		}
		result.Err = err
		e.logger.Warn("Remote command failed",
			zap.String("host", cmd.Host),
			zap.String("user", cmd.Username),
			zap.Int("exit_code", result.ExitCode),
			zap.Duration("elapsed", result.Elapsed),
			zap.Error(err))
		return result
	}

	result.Success = true
	e.logger.Debug("Remote command succeeded",
		zap.String("host", cmd.Host),
		zap.Duration("elapsed", result.Elapsed))
	return result
}

func (e *SSHExecutor) run(ctx context.Context, cmd RemoteCommand, stdout, stderr *bytes.Buffer, result *RemoteResult) error {
	port := cmd.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(cmd.Host, strconv.Itoa(port))

	config := &ssh.ClientConfig{
		User:            cmd.Username,
		Auth:            authMethods(cmd.Secret),
		HostKeyCallback: e.hostKeyCallback,
	}
	if deadline, ok := ctx.Deadline(); ok {
		config.Timeout = time.Until(deadline)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	// closing the connection unblocks a handshake or session stuck on I/O
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	session.Stdout = stdout
	session.Stderr = stderr

	line := fmt.Sprintf("cd %s && %s", shellQuote(WorkingDir(cmd.Username)), cmd.Command)
	err = session.Run(line)

	var exitErr *ssh.ExitError
	var missingErr *ssh.ExitMissingError
	switch {
	case err == nil:
		result.ExitCode = 0
		return nil
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
		return fmt.Errorf("%w: %d", ErrNonZeroExit, result.ExitCode)
	case errors.As(err, &missingErr):
		return ErrExitStatusMissing
	default:
		return fmt.Errorf("remote command failed: %w", err)
	}
}

// authMethods uses secret as a private key when it parses as one and as a
// password otherwise
func authMethods(secret string) []ssh.AuthMethod {
	if signer, err := ssh.ParsePrivateKey([]byte(secret)); err == nil {
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}
	}
	return []ssh.AuthMethod{
		ssh.Password(secret),
		ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = secret
			}
			return answers, nil
		}),
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
