package core

import "context"

// Starter is the interface for starting long-running components.
type Starter interface {
	Start(ctx context.Context) error
}

// CheckpointStore persists per-job execution progress.
type CheckpointStore interface {
	// Save atomically replaces the job's checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error

	// Load returns the job's checkpoint. An unreadable checkpoint is
	// reported as not found, never as an error.
	Load(ctx context.Context, jobID string) (*Checkpoint, bool, error)

	// Clear removes the job's checkpoint. Clearing a missing checkpoint is
	// not an error.
	Clear(ctx context.Context, jobID string) error
}

// JobStore is the durable backing of the job registry.
type JobStore interface {
	SaveJob(ctx context.Context, job *Job) error
	LoadJobs(ctx context.Context) ([]*Job, error)
	DeleteJobs(ctx context.Context, ids []string) error
}

// Persistable is implemented by task outputs. Persist returns the string form
// stored in checkpoints and handed to dependent tasks.
type Persistable interface {
	Persist() (string, error)
}

// TaskInput is everything a task handler receives.
type TaskInput struct {
	JobID       string            `json:"job_id"`
	Goal        string            `json:"goal"`
	CodebaseDir string            `json:"codebase_dir,omitempty"`
	Model       string            `json:"model,omitempty"`
	Options     JobOptions        `json:"options"`
	Task        TaskSpec          `json:"task"`
	Context     map[string]string `json:"context,omitempty"`
	Missing     []string          `json:"missing,omitempty"`
	Attempt     int               `json:"attempt"`
	Replay      bool              `json:"replay"`
}
