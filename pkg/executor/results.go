package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jdziat/crewrun/pkg/core"
)

// taskArtifact is written to {results}/{job_id}/{task_id}.json.
type taskArtifact struct {
	TaskID    string          `json:"task_id"`
	Kind      core.JobKind    `json:"kind"`
	Output    string          `json:"output,omitempty"`
	Error     *core.ErrorInfo `json:"error,omitempty"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
}

// summary is written to {results}/{job_id}/summary.json when a run ends.
type summary struct {
	JobID  string          `json:"job_id"`
	Goal   string          `json:"project_goal"`
	Status core.JobStatus  `json:"status"`
	Result *core.JobResult `json:"result"`
}

// replayArtifact is written to {results}/replays/{task_id}_{timestamp}.json.
type replayArtifact struct {
	JobID  string          `json:"job_id"`
	TaskID string          `json:"task_id"`
	Goal   string          `json:"project_goal"`
	Result *core.JobResult `json:"result"`
}

// ReplayDir is the results subdirectory holding replay artifacts.
const ReplayDir = "replays"

func (e *Executor) writeTaskArtifact(jobID string, a taskArtifact) {
	if e.resultsDir == "" {
		return
	}
	a.Timestamp = time.Now().UTC()
	e.writeArtifact(filepath.Join(e.resultsDir, jobID, a.TaskID+".json"), a)
}

func (e *Executor) writeSummary(job *core.Job, status core.JobStatus, result *core.JobResult) {
	if e.resultsDir == "" {
		return
	}
	e.writeArtifact(filepath.Join(e.resultsDir, job.ID, "summary.json"), summary{
		JobID:  job.ID,
		Goal:   job.Goal,
		Status: status,
		Result: result,
	})
}

func (e *Executor) writeReplayArtifact(job *core.Job, result *core.JobResult) {
	if e.resultsDir == "" || len(job.Tasks) == 0 {
		return
	}
	taskID := job.Tasks[0].ID
	name := fmt.Sprintf("%s_%s.json", taskID, result.FinishedAt.Format("20060102T150405"))
	e.writeArtifact(filepath.Join(e.resultsDir, ReplayDir, name), replayArtifact{
		JobID:  job.ID,
		TaskID: taskID,
		Goal:   job.Goal,
		Result: result,
	})
}

// writeArtifact stores v as indented JSON. Artifacts are a convenience for
// humans; failures are logged and never affect the job.
func (e *Executor) writeArtifact(path string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		e.logger.Warn("failed to encode result artifact", "path", path, "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		e.logger.Warn("failed to create results directory", "path", path, "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		e.logger.Warn("failed to write result artifact", "path", path, "error", err)
	}
}
