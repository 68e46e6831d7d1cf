package core

import (
	"slices"
	"time"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusQueued       JobStatus = "queued"
	StatusInitializing JobStatus = "initializing"
	StatusRunning      JobStatus = "running"
	StatusCompleted    JobStatus = "completed"
	StatusFailed       JobStatus = "failed"

	// StatusNotFound only appears on the wire, for subscribers of unknown jobs.
	StatusNotFound JobStatus = "not_found"
)

var statusRank = map[JobStatus]int{
	StatusQueued:       0,
	StatusInitializing: 1,
	StatusRunning:      2,
	StatusCompleted:    3,
	StatusFailed:       3,
}

// Valid reports whether s is a lifecycle status.
func (s JobStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// IsTerminal reports whether no further transitions are possible from s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a job in status s may move to next.
// Staying in the same non-terminal status is allowed so progress can be
// updated while running.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() {
		return false
	}
	return statusRank[next] >= statusRank[s]
}

// After reports whether s is strictly later in the lifecycle than other.
func (s JobStatus) After(other JobStatus) bool {
	return statusRank[s] > statusRank[other]
}

// JobKind distinguishes normal runs from single-task replays.
type JobKind string

const (
	KindRun    JobKind = "run"
	KindReplay JobKind = "replay"
)

// TaskSpec describes one unit of work within a job. It is immutable once the
// job has been submitted.
type TaskSpec struct {
	ID          string   `json:"id"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Critical    bool     `json:"critical"`
	Handler     string   `json:"handler,omitempty"`
	Agent       string   `json:"agent,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Clone returns a deep copy of the task.
func (t TaskSpec) Clone() TaskSpec {
	t.DependsOn = slices.Clone(t.DependsOn)
	return t
}

// JobOptions are the per-job switches forwarded to the agent layer.
type JobOptions struct {
	Memory         bool `json:"memory"`
	Tools          bool `json:"tools"`
	NonInteractive bool `json:"non_interactive"`
	Delegation     bool `json:"delegation"`
}

// Job is one request to run an ordered set of dependent tasks toward a goal.
// Records are owned by the registry; callers only ever see copies.
type Job struct {
	ID          string     `gorm:"primaryKey;size:36" json:"job_id"`
	Kind        JobKind    `gorm:"size:16;default:'run'" json:"kind"`
	Goal        string     `gorm:"type:text" json:"project_goal"`
	CodebaseDir string     `gorm:"size:1024" json:"codebase_dir,omitempty"`
	ProcessType string     `gorm:"size:32" json:"process_type,omitempty"`
	Model       string     `gorm:"size:255" json:"model,omitempty"`
	Options     JobOptions `gorm:"serializer:json" json:"options"`
	Tasks       []TaskSpec `gorm:"serializer:json" json:"tasks"`
	Status      JobStatus  `gorm:"index;size:20;default:'queued'" json:"status"`
	Progress    int        `gorm:"default:0" json:"progress"`
	Message     string     `gorm:"type:text" json:"message,omitempty"`
	Result      *JobResult `gorm:"serializer:json" json:"result,omitempty"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Tasks != nil {
		c.Tasks = make([]TaskSpec, len(j.Tasks))
		for i, t := range j.Tasks {
			c.Tasks[i] = t.Clone()
		}
	}
	c.Result = j.Result.Clone()
	return &c
}

// TaskFailure records a task that exhausted its retries.
type TaskFailure struct {
	TaskID   string    `json:"task_id"`
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	Attempts int       `json:"attempts"`
}

// JobResult is the final record of a run or replay.
type JobResult struct {
	Kind       JobKind           `json:"kind"`
	Completed  []string          `json:"completed_tasks,omitempty"`
	Incomplete []TaskFailure     `json:"incomplete_tasks,omitempty"`
	Outputs    map[string]string `json:"task_outputs,omitempty"`
	Error      *ErrorInfo        `json:"error,omitempty"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Clone returns a deep copy of the result.
func (r *JobResult) Clone() *JobResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Completed = slices.Clone(r.Completed)
	c.Incomplete = slices.Clone(r.Incomplete)
	if r.Outputs != nil {
		c.Outputs = make(map[string]string, len(r.Outputs))
		for k, v := range r.Outputs {
			c.Outputs[k] = v
		}
	}
	if r.Error != nil {
		e := *r.Error
		c.Error = &e
	}
	return &c
}

// Checkpoint is the durable record of a job's completed tasks and their
// serialized outputs.
type Checkpoint struct {
	JobID          string            `json:"job_id"`
	CompletedTasks []string          `json:"completed_tasks"`
	TaskOutputs    map[string]string `json:"task_outputs"`
	SavedAt        time.Time         `json:"saved_at"`
}

// IsCompleted reports whether taskID is recorded as completed.
func (c *Checkpoint) IsCompleted(taskID string) bool {
	return slices.Contains(c.CompletedTasks, taskID)
}
