package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// TaskKind identifies the check strategy of a task
type TaskKind string

const (
	TaskKindPort   TaskKind = "port"
	TaskKindScript TaskKind = "script"
)

// RunState controls whether a live timer exists for a task
type RunState string

const (
	RunStateStopped RunState = "stopped"
	RunStateRunning RunState = "running"
)

// DefaultSSHPort is used for script targets that don't name a port
const DefaultSSHPort = 22

// Target is the kind-specific part of a task. It is implemented only by
// PortTarget and ScriptTarget.
type Target interface {
	Kind() TaskKind
	// Address returns host:port of the endpoint
	Address() string
	Validate() error
	isTarget()
}

// PortTarget is checked by opening a TCP connection
type PortTarget struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (PortTarget) Kind() TaskKind { return TaskKindPort }
func (PortTarget) isTarget()      {}

func (t PortTarget) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t PortTarget) Validate() error {
	if strings.TrimSpace(t.Host) == "" {
		return invalid("host", ErrMissingHost)
	}
	if t.Port < 1 || t.Port > 65535 {
		return invalid("port", ErrInvalidPort)
	}
	return nil
}

// Credentials authenticate a remote shell session. Secret is either a
// password or a PEM encoded private key.
type Credentials struct {
	Username string `json:"username"`
	Secret   string `json:"-"`
}

// ScriptTarget is checked by running Command over SSH
type ScriptTarget struct {
	Host        string      `json:"host"`
	Port        int         `json:"port,omitempty"`
	Credentials Credentials `json:"credentials"`
	Command     string      `json:"command"`
}

func (ScriptTarget) Kind() TaskKind { return TaskKindScript }
func (ScriptTarget) isTarget()      {}

func (t ScriptTarget) Address() string {
	port := t.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

func (t ScriptTarget) Validate() error {
	if strings.TrimSpace(t.Host) == "" {
		return invalid("host", ErrMissingHost)
	}
	if t.Port < 0 || t.Port > 65535 {
		return invalid("port", ErrInvalidPort)
	}
	if t.Credentials.Username == "" || t.Credentials.Secret == "" {
		return invalid("credentials", ErrMissingCredentials)
	}
	if strings.TrimSpace(t.Command) == "" {
		return invalid("command", ErrMissingCommand)
	}
	return nil
}

// Task represents a monitoring unit
type Task struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Target   Target   `json:"-"`
	Interval Interval `json:"interval"`
	RunState RunState `json:"run_state"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Kind returns the kind of the task's target, or "" when the target is unset
func (t *Task) Kind() TaskKind {
	if t.Target == nil {
		return ""
	}
	return t.Target.Kind()
}

// Validate checks everything a timer needs before it is created
func (t *Task) Validate() error {
	if t.Target == nil {
		return invalid("target", ErrMissingTarget)
	}
	if err := t.Target.Validate(); err != nil {
		return err
	}
	if _, err := t.Interval.Duration(); err != nil {
		return err
	}
	return nil
}

// String is used in log lines
func (t *Task) String() string {
	if t.Target == nil {
		return fmt.Sprintf("%s (%s)", t.Name, t.ID)
	}
	return fmt.Sprintf("%s (%s %s)", t.Name, t.Kind(), t.Target.Address())
}
