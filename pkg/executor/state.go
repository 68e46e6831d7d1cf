package executor

import (
	"slices"
	"time"

	"github.com/jdziat/crewrun/pkg/core"
)

// runState is the in-memory progress of one run. It is owned by the run's
// goroutine.
type runState struct {
	kind       core.JobKind
	total      int
	completed  []string
	outputs    map[string]string
	incomplete []core.TaskFailure
}

func newRunState(kind core.JobKind, total int) *runState {
	return &runState{
		kind:    kind,
		total:   total,
		outputs: make(map[string]string),
	}
}

// restore seeds the state from a checkpoint. completed must already be
// filtered to tasks of the job.
func (s *runState) restore(completed []string, outputs map[string]string) {
	for _, id := range completed {
		s.record(id, outputs[id])
	}
}

func (s *runState) record(taskID, output string) {
	if !slices.Contains(s.completed, taskID) {
		s.completed = append(s.completed, taskID)
	}
	s.outputs[taskID] = output
}

// progress is the share of tasks processed so far, failed ones included.
func (s *runState) progress() int {
	if s.total == 0 {
		return 100
	}
	return (len(s.completed) + len(s.incomplete)) * 100 / s.total
}

// inputs returns the outputs of task's dependencies and the dependencies
// that have none because they did not complete.
func (s *runState) inputs(task core.TaskSpec) (map[string]string, []string) {
	if len(task.DependsOn) == 0 {
		return nil, nil
	}
	ctx := make(map[string]string, len(task.DependsOn))
	var missing []string
	for _, dep := range task.DependsOn {
		if out, ok := s.outputs[dep]; ok {
			ctx[dep] = out
		} else {
			missing = append(missing, dep)
		}
	}
	return ctx, missing
}

func (s *runState) result() *core.JobResult {
	r := &core.JobResult{
		Kind:       s.kind,
		Completed:  slices.Clone(s.completed),
		Incomplete: slices.Clone(s.incomplete),
		Outputs:    make(map[string]string, len(s.outputs)),
	}
	for k, v := range s.outputs {
		r.Outputs[k] = v
	}
	return r
}

func (s *runState) checkpoint(jobID string) *core.Checkpoint {
	cp := &core.Checkpoint{
		JobID:          jobID,
		CompletedTasks: slices.Clone(s.completed),
		TaskOutputs:    make(map[string]string, len(s.completed)),
		SavedAt:        time.Now().UTC(),
	}
	for _, id := range s.completed {
		cp.TaskOutputs[id] = s.outputs[id]
	}
	return cp
}
