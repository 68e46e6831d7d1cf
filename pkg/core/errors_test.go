package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"cycle", &CyclicDependencyError{TaskID: "a"}, KindConfiguration},
		{"unknown dep", fmt.Errorf("submit: %w", &UnknownDependencyError{TaskID: "a", Dependency: "x"}), KindConfiguration},
		{"duplicate", &DuplicateTaskError{TaskID: "a"}, KindConfiguration},
		{"critical", &TaskFailedError{TaskID: "b", Critical: true, Err: base}, KindCriticalFailure},
		{"non-critical", &TaskFailedError{TaskID: "b", Err: base}, KindNonCriticalFailure},
		{"timeout", &TimeoutError{JobID: "j", Timeout: time.Second}, KindTimeout},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"connectivity", &ConnectivityError{Op: "chat", Err: base}, KindConnectivity},
		{"offline", ErrOffline, KindConnectivity},
		{"corrupt", &CheckpointCorruptionError{JobID: "j", Err: base}, KindCheckpointCorruption},
		{"not found", fmt.Errorf("get: %w", ErrJobNotFound), KindNotFound},
		{"invalid", ErrEmptyGoal, KindInvalidRequest},
		{"conflict", ErrInvalidTransition, KindConflict},
		{"retry after", RetryAfter(time.Second, base), KindTransient},
		{"other", base, KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestCyclicDependencyError_Message(t *testing.T) {
	err := &CyclicDependencyError{TaskID: "a", Path: []string{"a", "b", "a"}}
	assert.Contains(t, err.Error(), "a -> b -> a")
	assert.True(t, IsConfigurationError(err))
}

func TestTaskFailedError_Unwrap(t *testing.T) {
	base := errors.New("boom")
	err := &TaskFailedError{TaskID: "b", Attempts: 4, Err: base}

	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "4 attempt(s)")
}

func TestNoRetryAndRetryAfter(t *testing.T) {
	base := errors.New("boom")

	var noRetry *NoRetryError
	assert.True(t, errors.As(NoRetry(base), &noRetry))
	assert.ErrorIs(t, NoRetry(base), base)

	var retryAfter *RetryAfterError
	assert.True(t, errors.As(RetryAfter(time.Minute, base), &retryAfter))
	assert.Equal(t, time.Minute, retryAfter.Delay)
}

func TestNewErrorInfo(t *testing.T) {
	assert.Nil(t, NewErrorInfo(nil))

	info := NewErrorInfo(&UnknownDependencyError{TaskID: "a", Dependency: "x"})
	assert.Equal(t, KindConfiguration, info.Kind)
	assert.Contains(t, info.Message, `unknown task "x"`)
}
