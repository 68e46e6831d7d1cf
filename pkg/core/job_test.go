package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{StatusQueued, StatusInitializing, true},
		{StatusQueued, StatusRunning, true},
		{StatusInitializing, StatusRunning, true},
		{StatusRunning, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusQueued, StatusFailed, true},
		{StatusRunning, StatusQueued, false},
		{StatusRunning, StatusInitializing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusCompleted, false},
		{StatusFailed, StatusRunning, false},
		{StatusQueued, StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
}

func TestJob_CloneIsDeep(t *testing.T) {
	job := &Job{
		ID:    "job-1",
		Tasks: []TaskSpec{{ID: "a"}, {ID: "b", DependsOn: []string{"a"}}},
		Result: &JobResult{
			Completed: []string{"a"},
			Outputs:   map[string]string{"a": "out"},
			Error:     &ErrorInfo{Kind: KindInternal, Message: "boom"},
		},
	}

	c := job.Clone()
	c.Tasks[1].DependsOn[0] = "changed"
	c.Result.Outputs["a"] = "changed"
	c.Result.Completed[0] = "changed"
	c.Result.Error.Message = "changed"

	assert.Equal(t, "a", job.Tasks[1].DependsOn[0])
	assert.Equal(t, "out", job.Result.Outputs["a"])
	assert.Equal(t, "a", job.Result.Completed[0])
	assert.Equal(t, "boom", job.Result.Error.Message)
}

func TestJob_CloneNil(t *testing.T) {
	var job *Job
	assert.Nil(t, job.Clone())
}

func TestCheckpoint_IsCompleted(t *testing.T) {
	cp := &Checkpoint{CompletedTasks: []string{"a", "b"}}
	assert.True(t, cp.IsCompleted("b"))
	assert.False(t, cp.IsCompleted("c"))
}

func TestOutputs_Persist(t *testing.T) {
	s, err := Text("hello").Persist()
	assert.NoError(t, err)
	assert.Equal(t, "hello", s)

	s, err = JSON{Value: map[string]int{"b": 2, "a": 1}}.Persist()
	assert.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, s)

	_, err = JSON{Value: make(chan int)}.Persist()
	assert.Error(t, err)
}

func TestSnapshotEvent(t *testing.T) {
	job := &Job{ID: "j", Status: StatusFailed, Progress: 40, Result: &JobResult{
		Error: &ErrorInfo{Kind: KindCriticalFailure, Message: "task b failed"},
	}}

	ev := SnapshotEvent(job)

	assert.Equal(t, "j", ev.JobID)
	assert.Equal(t, StatusFailed, ev.Status)
	assert.Equal(t, 40, ev.Progress)
	assert.Equal(t, "Job is failed", ev.Message)
	if assert.NotNil(t, ev.Error) {
		assert.Equal(t, KindCriticalFailure, ev.Error.Kind)
	}
	assert.False(t, ev.Timestamp.IsZero())
}
