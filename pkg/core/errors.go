package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Registry and lifecycle errors
var (
	ErrJobNotFound       = errors.New("crewrun: job not found")
	ErrJobExists         = errors.New("crewrun: job already exists")
	ErrInvalidTransition = errors.New("crewrun: invalid status transition")
	ErrJobFinalized      = errors.New("crewrun: job already finished")
	ErrJobBusy           = errors.New("crewrun: job is owned by another executor")
	ErrNoAgent           = errors.New("crewrun: no agent for task")
)

// Validation errors
var (
	ErrEmptyGoal           = errors.New("crewrun: project goal is required")
	ErrGoalTooLong         = errors.New("crewrun: project goal exceeds size limit")
	ErrInvalidTaskID       = errors.New("crewrun: invalid task id (must be alphanumeric, start with letter)")
	ErrInvalidJobID        = errors.New("crewrun: invalid job id")
	ErrTooManyTasks        = errors.New("crewrun: too many tasks in job")
	ErrNoTasks             = errors.New("crewrun: job has no tasks")
	ErrTaskIndexOutOfRange = errors.New("crewrun: task index out of range")
	ErrInvalidMemoryType   = errors.New("crewrun: invalid memory type")
	ErrEmptyMessages       = errors.New("crewrun: at least one message is required")
	ErrMalformedRequest    = errors.New("crewrun: malformed request body")
)

// Client-side errors
var (
	ErrOffline          = errors.New("crewrun: offline")
	ErrNoCachedResponse = errors.New("crewrun: no cached response")
)

// ErrorKind is the structured category reported alongside every
// user-visible failure.
type ErrorKind string

const (
	KindConfiguration        ErrorKind = "configuration"
	KindTransient            ErrorKind = "transient"
	KindCriticalFailure      ErrorKind = "critical_failure"
	KindNonCriticalFailure   ErrorKind = "non_critical_failure"
	KindCheckpointCorruption ErrorKind = "checkpoint_corruption"
	KindConnectivity         ErrorKind = "connectivity"
	KindTimeout              ErrorKind = "timeout"
	KindNotFound             ErrorKind = "not_found"
	KindInvalidRequest       ErrorKind = "invalid_request"
	KindConflict             ErrorKind = "conflict"
	KindInternal             ErrorKind = "internal"
)

// ErrorInfo is the wire form of an error: a kind plus a readable message.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// NewErrorInfo classifies err. It returns nil for a nil error.
func NewErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{Kind: KindOf(err), Message: err.Error()}
}

// ConfigurationError is implemented by errors that make a job impossible to
// run as submitted. They are never retried.
type ConfigurationError interface {
	error
	configurationError()
}

// CyclicDependencyError reports a dependency cycle. TaskID is a task on the
// cycle and Path lists the cycle starting and ending at TaskID.
type CyclicDependencyError struct {
	TaskID string
	Path   []string
}

func (e *CyclicDependencyError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("cyclic dependency at task %q", e.TaskID)
	}
	return fmt.Sprintf("cyclic dependency at task %q: %s", e.TaskID, strings.Join(e.Path, " -> "))
}

func (*CyclicDependencyError) configurationError() {}

// UnknownDependencyError reports a dependsOn entry naming no task in the job.
type UnknownDependencyError struct {
	TaskID     string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %q depends on unknown task %q", e.TaskID, e.Dependency)
}

func (*UnknownDependencyError) configurationError() {}

// DuplicateTaskError reports two tasks sharing an id.
type DuplicateTaskError struct {
	TaskID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("duplicate task id %q", e.TaskID)
}

func (*DuplicateTaskError) configurationError() {}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce ConfigurationError
	return errors.As(err, &ce)
}

// TaskFailedError is returned when a task exhausts its retries.
type TaskFailedError struct {
	TaskID   string
	Attempts int
	Critical bool
	Err      error
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s failed after %d attempt(s): %v", e.TaskID, e.Attempts, e.Err)
}

func (e *TaskFailedError) Unwrap() error {
	return e.Err
}

// TimeoutError is recorded when a job run exceeds its deadline on every attempt
// or does not stop within the drain grace period.
type TimeoutError struct {
	JobID    string
	Timeout  time.Duration
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s timed out after %d attempt(s) (last timeout %v)", e.JobID, e.Attempts, e.Timeout)
}

// CheckpointCorruptionError describes an unreadable checkpoint. Stores log it
// and report the checkpoint as missing.
type CheckpointCorruptionError struct {
	JobID string
	Path  string
	Err   error
}

func (e *CheckpointCorruptionError) Error() string {
	return fmt.Sprintf("checkpoint for job %s is corrupt (%s): %v", e.JobID, e.Path, e.Err)
}

func (e *CheckpointCorruptionError) Unwrap() error {
	return e.Err
}

// ConnectivityError wraps a failure to reach the server.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s: server unreachable: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// NoRetryError indicates an error that should not be retried.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// RetryAfterError indicates an error that should be retried after a delay.
type RetryAfterError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return &RetryAfterError{Err: err, Delay: d}
}

// KindOf maps err onto the error taxonomy. Unclassified errors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var (
		taskErr    *TaskFailedError
		timeoutErr *TimeoutError
		connErr    *ConnectivityError
		corruptErr *CheckpointCorruptionError
		retryAfter *RetryAfterError
	)
	switch {
	case IsConfigurationError(err):
		return KindConfiguration
	case errors.As(err, &taskErr):
		if taskErr.Critical {
			return KindCriticalFailure
		}
		return KindNonCriticalFailure
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &connErr), errors.Is(err, ErrOffline):
		return KindConnectivity
	case errors.As(err, &corruptErr):
		return KindCheckpointCorruption
	case errors.Is(err, ErrJobNotFound), errors.Is(err, ErrNoCachedResponse):
		return KindNotFound
	case errors.Is(err, ErrEmptyGoal), errors.Is(err, ErrGoalTooLong),
		errors.Is(err, ErrInvalidTaskID), errors.Is(err, ErrInvalidJobID),
		errors.Is(err, ErrTooManyTasks),
		errors.Is(err, ErrNoTasks), errors.Is(err, ErrTaskIndexOutOfRange),
		errors.Is(err, ErrInvalidMemoryType), errors.Is(err, ErrEmptyMessages),
		errors.Is(err, ErrMalformedRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrJobExists), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrJobFinalized), errors.Is(err, ErrJobBusy):
		return KindConflict
	case errors.As(err, &retryAfter):
		return KindTransient
	}
	return KindInternal
}
