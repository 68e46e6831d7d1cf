package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/crewrun/pkg/core"
)

// ---------------------------------------------------------------------------
// Helper types used across multiple tests
// ---------------------------------------------------------------------------

type reviewArgs struct {
	Goal    string            `json:"goal"`
	Context map[string]string `json:"context"`
}

type reviewResult struct {
	Verdict string `json:"verdict"`
}

func testInput() core.TaskInput {
	return core.TaskInput{
		JobID:   "job-1",
		Goal:    "ship it",
		Task:    core.TaskSpec{ID: "code_review"},
		Context: map[string]string{"feature_implementation": "diff"},
	}
}

// ---------------------------------------------------------------------------
// NewHandler – rejection
// ---------------------------------------------------------------------------

func TestNewHandler_RejectsNil(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil")
}

func TestNewHandler_RejectsTypedNil(t *testing.T) {
	var fn func(ctx context.Context, in core.TaskInput) error
	_, err := NewHandler(fn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil")
}

func TestNewHandler_RejectsNonFunction(t *testing.T) {
	_, err := NewHandler("not a function")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "function")
}

func TestNewHandler_RejectsBadSignatures(t *testing.T) {
	bad := []any{
		func() error { return nil },
		func(ctx context.Context) error { return nil },
		func(a, b string) error { return nil },
		func(in core.TaskInput) string { return "" },
		func(in core.TaskInput) (string, string) { return "", "" },
		func(in core.TaskInput) (string, string, error) { return "", "", nil },
	}
	for _, fn := range bad {
		_, err := NewHandler(fn)
		assert.Error(t, err)
	}
}

// ---------------------------------------------------------------------------
// Execute
// ---------------------------------------------------------------------------

func TestExecute_TaskInputPassthrough(t *testing.T) {
	h, err := NewHandler(func(ctx context.Context, in core.TaskInput) (string, error) {
		return in.Task.ID + ":" + in.Context["feature_implementation"], nil
	})
	require.NoError(t, err)
	assert.True(t, h.HasContext)

	out, err := h.Execute(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, core.Text("code_review:diff"), out)
}

func TestExecute_DecodesTypedArgs(t *testing.T) {
	h, err := NewHandler(func(args reviewArgs) (reviewResult, error) {
		return reviewResult{Verdict: args.Goal + "/" + args.Context["feature_implementation"]}, nil
	})
	require.NoError(t, err)
	assert.False(t, h.HasContext)

	out, err := h.Execute(context.Background(), testInput())
	require.NoError(t, err)

	s, err := out.Persist()
	require.NoError(t, err)
	assert.JSONEq(t, `{"verdict":"ship it/diff"}`, s)
}

func TestExecute_PersistableResult(t *testing.T) {
	h, err := NewHandler(func(ctx context.Context, in core.TaskInput) (core.Persistable, error) {
		return core.Text("ok"), nil
	})
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, core.Text("ok"), out)
}

func TestExecute_NilPersistableResult(t *testing.T) {
	h, err := NewHandler(func(ctx context.Context, in core.TaskInput) (core.Persistable, error) {
		return nil, nil
	})
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, core.Text(""), out)
}

func TestExecute_ErrorOnlyHandler(t *testing.T) {
	var seen string
	h, err := NewHandler(func(ctx context.Context, in core.TaskInput) error {
		seen = in.JobID
		return nil
	})
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, core.Text(""), out)
	assert.Equal(t, "job-1", seen)
}

func TestExecute_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	h, err := NewHandler(func(ctx context.Context, in core.TaskInput) (string, error) {
		return "", boom
	})
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), testInput())
	assert.ErrorIs(t, err, boom)
}

func TestExecute_UndecodableArgsAreNotRetried(t *testing.T) {
	h, err := NewHandler(func(n int) error { return nil })
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), testInput())
	var noRetry *core.NoRetryError
	assert.ErrorAs(t, err, &noRetry)
}
