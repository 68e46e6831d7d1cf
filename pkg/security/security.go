// Package security provides validation, sanitization, and limits for crewrun.
package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/crewrun/pkg/core"
)

// Security limits and configuration
const (
	// MaxTaskIDLength is the maximum length for task ids
	MaxTaskIDLength = 128

	// MaxJobIDLength is the maximum length for job ids
	MaxJobIDLength = 64

	// MaxTasksPerJob is the hard limit on tasks in one job
	MaxTasksPerJob = 256

	// MaxGoalLength is the maximum size in bytes of a project goal (64KB)
	MaxGoalLength = 64 << 10

	// MaxRetries is the hard limit for retry attempts
	MaxRetries = 20

	// MaxConcurrency is the hard limit for concurrently running jobs
	MaxConcurrency = 1000

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096
)

// validTaskID matches alphanumeric, hyphens, underscores, and dots
var validTaskID = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// validJobID matches ids that are safe to use as a single path segment
var validJobID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-]*$`)

// ValidateTaskID validates a task id
func ValidateTaskID(id string) error {
	if id == "" || len(id) > MaxTaskIDLength || !validTaskID.MatchString(id) {
		return fmt.Errorf("%w: %q", core.ErrInvalidTaskID, id)
	}
	return nil
}

// ValidateJobID validates a job id. Job ids name checkpoint directories, so
// anything that could escape the store root is rejected.
func ValidateJobID(id string) error {
	if id == "" || len(id) > MaxJobIDLength || !validJobID.MatchString(id) {
		return fmt.Errorf("%w: %q", core.ErrInvalidJobID, id)
	}
	return nil
}

// ValidateGoal validates a project goal
func ValidateGoal(goal string) error {
	if strings.TrimSpace(goal) == "" {
		return core.ErrEmptyGoal
	}
	if len(goal) > MaxGoalLength {
		return core.ErrGoalTooLong
	}
	return nil
}

// ValidateTasks checks the size of a task list and every task id in it.
// Dependency structure is checked by the graph package.
func ValidateTasks(tasks []core.TaskSpec) error {
	if len(tasks) == 0 {
		return core.ErrNoTasks
	}
	if len(tasks) > MaxTasksPerJob {
		return core.ErrTooManyTasks
	}
	for _, t := range tasks {
		if err := ValidateTaskID(t.ID); err != nil {
			return err
		}
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// SanitizeErrorInfo returns a copy of info with a sanitized message.
func SanitizeErrorInfo(info *core.ErrorInfo) *core.ErrorInfo {
	if info == nil {
		return nil
	}
	return &core.ErrorInfo{Kind: info.Kind, Message: SanitizeErrorMessage(info.Message)}
}

// ClampRetries ensures retry count is within limits
func ClampRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRetries {
		return MaxRetries
	}
	return n
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
