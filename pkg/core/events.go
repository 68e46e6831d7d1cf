package core

import "time"

// ProgressEvent is an advisory status update about a job. Only the latest
// event per job is retained, by the progress hub.
type ProgressEvent struct {
	JobID     string     `json:"job_id"`
	Status    JobStatus  `json:"status"`
	Progress  int        `json:"progress"`
	Message   string     `json:"message"`
	TaskID    string     `json:"task_id,omitempty"`
	Result    *JobResult `json:"result,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(jobID string, status JobStatus, progress int, message string) ProgressEvent {
	return ProgressEvent{
		JobID:     jobID,
		Status:    status,
		Progress:  progress,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// SnapshotEvent describes the registry's current view of a job.
func SnapshotEvent(job *Job) ProgressEvent {
	ev := NewEvent(job.ID, job.Status, job.Progress, job.Message)
	if job.Message == "" {
		ev.Message = "Job is " + string(job.Status)
	}
	ev.Result = job.Result.Clone()
	if job.Result != nil && job.Result.Error != nil {
		e := *job.Result.Error
		ev.Error = &e
	}
	return ev
}

// Role is the author of a context message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContextMessage is one entry in a session buffer or chat history.
type ContextMessage struct {
	Role         Role   `json:"role"`
	Content      string `json:"content"`
	ApproxTokens int    `json:"approx_tokens,omitempty"`
}
