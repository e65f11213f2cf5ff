package check

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/port-monitor/internal/model"
	"github.com/t77yq/port-monitor/internal/probe"
	"github.com/t77yq/port-monitor/internal/remote"
)

// PortChecker runs a port probe sequence with retries
type PortChecker interface {
	CheckWithRetry(ctx context.Context, host string, port int) probe.RetryResult
}

// Checker produces a CheckResult for a task
type Checker interface {
	Check(ctx context.Context, task *model.Task) model.CheckResult
}

// Dispatcher routes a task to the strategy for its target and normalizes the
// outcome into a CheckResult
type Dispatcher struct {
	logger   *zap.Logger
	ports    PortChecker
	executor remote.Executor
	now      func() time.Time
}

// NewDispatcher creates a check dispatcher
func NewDispatcher(ports PortChecker, executor remote.Executor, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger:   logger.Named("check"),
		ports:    ports,
		executor: executor,
		now:      time.Now,
	}
}

// Check evaluates task once. It never fails: every error, including a panic
// inside a checker, ends up as a failed CheckResult.
func (d *Dispatcher) Check(ctx context.Context, task *model.Task) (result model.CheckResult) {
	result = model.CheckResult{
		ID:       uuid.NewString(),
		TaskID:   task.ID,
		Kind:     task.Kind(),
		Attempts: 1,
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Checker panicked",
				zap.String("task_id", task.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			result.Outcome = model.OutcomeFailed
			result.ResponseTimeMs = nil
			result.ErrorDetail = fmt.Sprintf("internal error: %v", r)
		}
		result.Timestamp = d.now()
	}()

	switch target := task.Target.(type) {
	case model.PortTarget:
		d.checkPort(ctx, target, &result)
	case model.ScriptTarget:
		d.checkScript(ctx, target, &result)
	default:
		result.Outcome = model.OutcomeFailed
		result.ErrorDetail = model.ErrMissingTarget.Error()
	}
	return result
}

func (d *Dispatcher) checkPort(ctx context.Context, target model.PortTarget, result *model.CheckResult) {
	rr := d.ports.CheckWithRetry(ctx, target.Host, target.Port)
	if rr.Attempts > 0 {
		result.Attempts = rr.Attempts
	}

	if rr.Success {
		result.Outcome = model.OutcomeSuccess
		result.ResponseTimeMs = model.Millis(rr.ResponseTime)
		return
	}

	result.Outcome = model.OutcomeFailed
	result.ResponseTimeMs = model.Millis(rr.Elapsed)
	result.ErrorDetail = PortErrorDetail(rr.Message, result.Attempts)
}

func (d *Dispatcher) checkScript(ctx context.Context, target model.ScriptTarget, result *model.CheckResult) {
	rr := d.executor.Run(ctx, remote.RemoteCommand{
		Host:     target.Host,
		Port:     target.Port,
		Username: target.Credentials.Username,
		Secret:   target.Credentials.Secret,
		Command:  target.Command,
	})

	result.ResponseTimeMs = model.Millis(rr.Elapsed)
	result.Output = ScriptOutput(rr.Stdout, rr.Stderr)
	if rr.Success {
		result.Outcome = model.OutcomeSuccess
		return
	}

	result.Outcome = model.OutcomeFailed
	result.ErrorDetail = ScriptErrorDetail(rr)
}

// PortErrorDetail appends the retry count when more than one attempt was made
func PortErrorDetail(message string, attempts int) string {
	if message == "" {
		message = "connection failed"
	}
	if attempts > 1 {
		return fmt.Sprintf("%s (failed after %d retries)", message, attempts-1)
	}
	return message
}

// ScriptErrorDetail describes a failed remote run
func ScriptErrorDetail(rr remote.RemoteResult) string {
	if rr.ExitCode > 0 {
		detail := fmt.Sprintf("command exited with code %d", rr.ExitCode)
		if stderr := strings.TrimSpace(rr.Stderr); stderr != "" {
			detail += ": " + firstLine(stderr)
		}
		return detail
	}
	if rr.Err != nil {
		return rr.Err.Error()
	}
	return "remote command failed"
}

// ScriptOutput joins the captured streams, stdout first
func ScriptOutput(stdout, stderr string) string {
	stdout = strings.TrimRight(stdout, "\n")
	stderr = strings.TrimRight(stderr, "\n")
	switch {
	case stderr == "":
		return stdout
	case stdout == "":
		return stderr
	default:
		return stdout + "\n" + stderr
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
