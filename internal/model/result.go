package model

import "time"

// CheckOutcome represents the outcome of one check
type CheckOutcome string

const (
	OutcomeSuccess CheckOutcome = "success"
	OutcomeFailed  CheckOutcome = "failed"
)

// CheckResult is the normalized outcome of one tick. It is appended to the
// check log and never mutated afterwards.
type CheckResult struct {
	ID             string       `json:"id"`
	TaskID         string       `json:"task_id"`
	Kind           TaskKind     `json:"kind"`
	Outcome        CheckOutcome `json:"outcome"`
	ResponseTimeMs *int64       `json:"response_time_ms,omitempty"`
	ErrorDetail    string       `json:"error_detail,omitempty"`
	Output         string       `json:"output,omitempty"`
	Attempts       int          `json:"attempts"`
	Timestamp      time.Time    `json:"timestamp"`
}

// Failed reports whether the check failed
func (r CheckResult) Failed() bool {
	return r.Outcome == OutcomeFailed
}

// Millis converts d to a response time value
func Millis(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}
