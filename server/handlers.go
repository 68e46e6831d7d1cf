package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jdziat/crewrun/pkg/agent"
	"github.com/jdziat/crewrun/pkg/core"
	"github.com/jdziat/crewrun/pkg/graph"
	"github.com/jdziat/crewrun/pkg/security"
)

// ProjectRequest is the body of POST /projects. Tasks default to the
// standard development plan.
type ProjectRequest struct {
	ProjectGoal    string          `json:"project_goal"`
	CodebaseDir    string          `json:"codebase_dir"`
	ProcessType    string          `json:"process_type"`
	Model          string          `json:"model"`
	Memory         bool            `json:"memory"`
	Tools          bool            `json:"tools"`
	NonInteractive bool            `json:"non_interactive"`
	Delegation     bool            `json:"delegation"`
	Tasks          []core.TaskSpec `json:"tasks,omitempty"`
}

// ProjectResponse acknowledges a queued job.
type ProjectResponse struct {
	JobID       string         `json:"job_id"`
	Status      core.JobStatus `json:"status"`
	ProjectGoal string         `json:"project_goal,omitempty"`
	CodebaseDir string         `json:"codebase_dir,omitempty"`
	Message     string         `json:"message,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// JobSummary is the public view of a job.
type JobSummary struct {
	JobID       string          `json:"job_id"`
	Kind        core.JobKind    `json:"kind"`
	Status      core.JobStatus  `json:"status"`
	Progress    int             `json:"progress"`
	Message     string          `json:"message,omitempty"`
	ProjectGoal string          `json:"project_goal"`
	CodebaseDir string          `json:"codebase_dir,omitempty"`
	Tasks       []string        `json:"tasks"`
	Result      *core.JobResult `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Summarize converts a job record to its public view.
func Summarize(job *core.Job) JobSummary {
	ids := make([]string, len(job.Tasks))
	for i, t := range job.Tasks {
		ids[i] = t.ID
	}
	return JobSummary{
		JobID:       job.ID,
		Kind:        job.Kind,
		Status:      job.Status,
		Progress:    job.Progress,
		Message:     job.Message,
		ProjectGoal: job.Goal,
		CodebaseDir: job.CodebaseDir,
		Tasks:       ids,
		Result:      job.Result,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}

// ReplayRequest is the body of POST /tasks/replay. The task is picked by
// its index in the execution order of the source job's tasks, or of the
// standard plan when no job is named.
type ReplayRequest struct {
	TaskIndex   int    `json:"task_index"`
	JobID       string `json:"job_id,omitempty"`
	ProjectGoal string `json:"project_goal,omitempty"`
}

// MemoryResetRequest is the body of POST /memory/reset.
type MemoryResetRequest struct {
	MemoryType string `json:"memory_type"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Messages    []core.ContextMessage `json:"messages"`
	CodebaseDir string                `json:"codebase_dir,omitempty"`
	Model       string                `json:"model,omitempty"`
}

// ChatResponse answers POST /chat.
type ChatResponse struct {
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse is a plain acknowledgement.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Version string `json:"version,omitempty"`
}

// HealthResponse answers GET /health.
type HealthResponse struct {
	Status           string         `json:"status"`
	Timestamp        time.Time      `json:"timestamp"`
	ActiveWebsockets map[string]int `json:"active_websockets"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:  "online",
		Message: "crewrun server is running",
		Version: s.version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:           "ok",
		Timestamp:        time.Now().UTC(),
		ActiveWebsockets: s.hub.Counts(),
	})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req ProjectRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := security.ValidateGoal(req.ProjectGoal); err != nil {
		s.writeError(w, r, err)
		return
	}

	tasks := req.Tasks
	if len(tasks) == 0 {
		tasks = agent.DefaultTasks()
	}
	if err := security.ValidateTasks(tasks); err != nil {
		s.writeError(w, r, err)
		return
	}
	// Cycles and unknown dependencies are rejected at submission.
	if _, err := graph.New(tasks); err != nil {
		s.writeError(w, r, err)
		return
	}

	job, err := s.enqueue(r.Context(), &core.Job{
		Kind:        core.KindRun,
		Goal:        req.ProjectGoal,
		CodebaseDir: req.CodebaseDir,
		ProcessType: req.ProcessType,
		Model:       req.Model,
		Options: core.JobOptions{
			Memory:         req.Memory,
			Tools:          req.Tools,
			NonInteractive: req.NonInteractive,
			Delegation:     req.Delegation,
		},
		Tasks: tasks,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ProjectResponse{
		JobID:       job.ID,
		Status:      job.Status,
		ProjectGoal: job.Goal,
		CodebaseDir: job.CodebaseDir,
		CreatedAt:   job.CreatedAt,
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, _ *http.Request) {
	jobs := s.registry.List()
	out := make([]JobSummary, len(jobs))
	for i, job := range jobs {
		out[i] = Summarize(job)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("job_id")
	job, ok := s.registry.Get(id)
	if !ok {
		s.writeError(w, r, fmt.Errorf("%w: %s", core.ErrJobNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, Summarize(job))
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req ReplayRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	tasks := agent.DefaultTasks()
	goal := req.ProjectGoal
	var codebase, model string
	if req.JobID != "" {
		src, ok := s.registry.Get(req.JobID)
		if !ok {
			s.writeError(w, r, fmt.Errorf("%w: %s", core.ErrJobNotFound, req.JobID))
			return
		}
		tasks, codebase, model = src.Tasks, src.CodebaseDir, src.Model
		if goal == "" {
			goal = src.Goal
		}
	}

	g, err := graph.New(tasks)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	task, err := g.At(req.TaskIndex)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %d not in [0, %d)", err, req.TaskIndex, g.Len()))
		return
	}
	if goal == "" {
		goal = "Replay of task " + task.ID
	}

	job, err := s.enqueue(r.Context(), &core.Job{
		Kind:        core.KindReplay,
		Goal:        goal,
		CodebaseDir: codebase,
		Model:       model,
		Tasks:       []core.TaskSpec{task},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, ProjectResponse{
		JobID:       job.ID,
		Status:      job.Status,
		ProjectGoal: job.Goal,
		Message:     fmt.Sprintf("Replaying task %s", task.ID),
		CreatedAt:   job.CreatedAt,
	})
}

func (s *Server) handleResetMemory(w http.ResponseWriter, r *http.Request) {
	var req MemoryResetRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.MemoryType == "" {
		req.MemoryType = agent.MemoryAll
	}
	if !agent.ValidMemoryType(req.MemoryType) {
		s.writeError(w, r, fmt.Errorf("%w: %q", core.ErrInvalidMemoryType, req.MemoryType))
		return
	}

	if m, ok := s.agent.(agent.MemoryResetter); ok {
		if err := m.ResetMemory(r.Context(), req.MemoryType); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusAccepted, StatusResponse{
		Status:  "success",
		Message: fmt.Sprintf("Reset %s memory", req.MemoryType),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Messages) == 0 {
		s.writeError(w, r, core.ErrEmptyMessages)
		return
	}

	c, ok := s.agent.(agent.Chatter)
	if !ok {
		s.writeError(w, r, fmt.Errorf("%w: chat not supported", core.ErrNoAgent))
		return
	}

	messages := req.Messages
	if s.chat.NeedsCompaction(messages) {
		messages = s.chat.Compact(messages)
	}
	reply, err := c.Chat(r.Context(), agent.ChatRequest{
		Messages:    messages,
		CodebaseDir: req.CodebaseDir,
		Model:       req.Model,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Response: reply, Timestamp: time.Now().UTC()})
}

// enqueue registers the job, announces it on the hub and hands it to the
// submitter. A job the submitter refuses is failed immediately so it does
// not linger as queued.
func (s *Server) enqueue(ctx context.Context, job *core.Job) (*core.Job, error) {
	created, err := s.registry.Create(ctx, job)
	if err != nil {
		return nil, err
	}
	s.hub.Publish(created.ID, core.SnapshotEvent(created))

	if err := s.submitter.Submit(created.ID); err != nil {
		result := &core.JobResult{
			Kind:       created.Kind,
			Error:      security.SanitizeErrorInfo(core.NewErrorInfo(err)),
			FinishedAt: time.Now().UTC(),
		}
		msg := "Job rejected: " + err.Error()
		if ferr := s.registry.Finish(context.WithoutCancel(ctx), created.ID, core.StatusFailed, result, msg); ferr != nil {
			s.logger.Error("failed to reject job", "job_id", created.ID, "error", ferr)
		}
		if failed, ok := s.registry.Get(created.ID); ok {
			s.hub.Publish(created.ID, core.SnapshotEvent(failed))
		}
		return nil, fmt.Errorf("submit job %s: %w", created.ID, err)
	}

	s.logger.Info("job queued", "job_id", created.ID, "kind", created.Kind, "tasks", len(created.Tasks))
	return created, nil
}
