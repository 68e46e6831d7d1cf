package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdziat/crewrun/pkg/agent"
	"github.com/jdziat/crewrun/pkg/core"
	"github.com/jdziat/crewrun/pkg/graph"
	"github.com/jdziat/crewrun/pkg/jobctx"
	"github.com/jdziat/crewrun/pkg/metrics"
	"github.com/jdziat/crewrun/pkg/progress"
	"github.com/jdziat/crewrun/pkg/registry"
	"github.com/jdziat/crewrun/pkg/security"
)

// Executor drives jobs through their lifecycle. It is safe for concurrent
// use; the registry's claim keeps two runs of the same job apart.
type Executor struct {
	registry    *registry.Registry
	agent       agent.Agent
	hub         *progress.Hub
	checkpoints core.CheckpointStore
	policy      RetryPolicy
	resultsDir  string
	logger      *slog.Logger
}

// New creates an executor that runs tasks through a.
func New(reg *registry.Registry, a agent.Agent, opts ...Option) *Executor {
	e := &Executor{
		registry: reg,
		agent:    a,
		policy:   DefaultRetryPolicy(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt.apply(e)
	}
	return e
}

// Run executes the job until it completes, fails or ctx ends.
//
// A job that reaches a terminal status returns nil when completed and the
// failure otherwise. When ctx ends first, Run returns ctx.Err() and leaves
// the job running with its checkpoint in place, ready to be resumed.
func (e *Executor) Run(ctx context.Context, jobID string) error {
	release, err := e.registry.Claim(jobID)
	if err != nil {
		return err
	}
	defer release()

	job, ok := e.registry.Get(jobID)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", core.ErrJobFinalized, jobID, job.Status)
	}

	metrics.JobsRunning.Inc()
	defer metrics.JobsRunning.Dec()

	if job.Kind == core.KindReplay {
		return e.replay(ctx, job)
	}
	return e.run(ctx, job)
}

func (e *Executor) run(ctx context.Context, job *core.Job) error {
	start := time.Now()
	log := e.logger.With("job_id", job.ID)

	if err := e.advance(ctx, job.ID, core.StatusInitializing, 0, "Initializing crew"); err != nil {
		return err
	}

	g, err := graph.New(job.Tasks)
	if err != nil {
		log.Error("invalid task graph", "error", err)
		return e.fail(ctx, job, nil, err, start)
	}

	state := newRunState(job.Kind, g.Len())
	message := "Starting execution"
	if cp := e.loadCheckpoint(ctx, log, job.ID); cp != nil {
		state.restore(g.Known(cp.CompletedTasks), cp.TaskOutputs)
		if n := len(state.completed); n > 0 {
			message = fmt.Sprintf("Resuming from checkpoint (%d/%d tasks done)", n, g.Len())
			log.Info("resuming from checkpoint", "completed", n, "total", g.Len())
		}
	}
	if err := e.advance(ctx, job.ID, core.StatusRunning, state.progress(), message); err != nil {
		return err
	}

	for _, task := range g.Remaining(state.completed) {
		if err := ctx.Err(); err != nil {
			log.Info("run interrupted", "before_task", task.ID, "error", err)
			return err
		}

		output, attempts, err := e.runTask(ctx, job, task, state)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				log.Info("run interrupted", "task_id", task.ID, "error", ctxErr)
				return ctxErr
			}
			failure := &core.TaskFailedError{TaskID: task.ID, Attempts: attempts, Critical: task.Critical, Err: err}
			if task.Critical {
				log.Error("critical task failed", "task_id", task.ID, "attempts", attempts, "error", err)
				return e.fail(ctx, job, state, failure, start)
			}

			log.Warn("non-critical task failed, continuing", "task_id", task.ID, "attempts", attempts, "error", err)
			info := security.SanitizeErrorInfo(core.NewErrorInfo(failure))
			state.incomplete = append(state.incomplete, core.TaskFailure{
				TaskID:   task.ID,
				Kind:     info.Kind,
				Message:  info.Message,
				Attempts: attempts,
			})
			e.writeTaskArtifact(job.ID, taskArtifact{TaskID: task.ID, Kind: job.Kind, Error: info, Attempts: attempts})
			if err := e.report(ctx, job.ID, state, task.ID, fmt.Sprintf("Task %s failed, continuing", task.ID)); err != nil {
				return err
			}
			continue
		}

		state.record(task.ID, output)
		e.saveCheckpoint(ctx, log, state.checkpoint(job.ID))
		e.writeTaskArtifact(job.ID, taskArtifact{TaskID: task.ID, Kind: job.Kind, Output: output, Attempts: attempts})
		if err := e.report(ctx, job.ID, state, task.ID, fmt.Sprintf("Completed task %s", task.ID)); err != nil {
			return err
		}
	}

	return e.complete(ctx, job, state, start)
}

// runTask executes one task with retries and returns its persisted output.
func (e *Executor) runTask(ctx context.Context, job *core.Job, task core.TaskSpec, state *runState) (string, int, error) {
	input := core.TaskInput{
		JobID:       job.ID,
		Goal:        job.Goal,
		CodebaseDir: job.CodebaseDir,
		Model:       job.Model,
		Options:     job.Options,
		Task:        task,
		Replay:      job.Kind == core.KindReplay,
	}
	input.Context, input.Missing = state.inputs(task)

	var output string
	attempts, err := e.policy.do(ctx, func(attempt int) error {
		input.Attempt = attempt
		out, err := e.invoke(ctx, input)
		if err != nil {
			metrics.TaskAttempts.WithLabelValues("failure").Inc()
			return err
		}
		s, err := persist(out)
		if err != nil {
			metrics.TaskAttempts.WithLabelValues("failure").Inc()
			return core.NoRetry(err)
		}
		metrics.TaskAttempts.WithLabelValues("success").Inc()
		output = s
		return nil
	}, func(n int, delay time.Duration, err error) {
		metrics.TaskRetries.Inc()
		e.logger.Warn("task failed, retrying",
			"job_id", job.ID, "task_id", task.ID,
			"attempt", n, "delay", delay, "error", err)
	})
	return output, attempts, err
}

// invoke calls the agent, turning a panic into a task error.
func (e *Executor) invoke(ctx context.Context, input core.TaskInput) (out core.Persistable, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", input.Task.ID, r)
		}
	}()

	tctx := jobctx.WithTask(ctx, jobctx.TaskInfo{
		JobID:   input.JobID,
		TaskID:  input.Task.ID,
		Attempt: input.Attempt,
		Replay:  input.Replay,
	})
	return e.agent.Execute(tctx, input.Task.ID, input)
}

func persist(out core.Persistable) (string, error) {
	if out == nil {
		return "", nil
	}
	return out.Persist()
}

// advance moves the job forward to status. It is a no-op when the job is
// already there or further along, which is the case for resumed runs.
func (e *Executor) advance(ctx context.Context, jobID string, status core.JobStatus, pct int, message string) error {
	job, ok := e.registry.Get(jobID)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}
	if job.Status == status || job.Status.After(status) {
		return nil
	}
	if err := e.registry.UpdateStatus(ctx, jobID, status, pct, message); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	e.publish(jobID, core.NewEvent(jobID, status, pct, message))
	return nil
}

// report records the partial result and progress after a task and
// publishes it. Registry writes come first; events only echo them.
func (e *Executor) report(ctx context.Context, jobID string, state *runState, taskID, message string) error {
	result := state.result()
	if err := e.registry.UpdateResult(ctx, jobID, result); err != nil {
		return fmt.Errorf("update job result: %w", err)
	}
	pct := state.progress()
	if err := e.registry.UpdateStatus(ctx, jobID, core.StatusRunning, pct, message); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}

	ev := core.NewEvent(jobID, core.StatusRunning, pct, message)
	ev.TaskID = taskID
	e.publish(jobID, ev)
	return nil
}

func (e *Executor) complete(ctx context.Context, job *core.Job, state *runState, start time.Time) error {
	ctx = context.WithoutCancel(ctx)

	result := state.result()
	result.FinishedAt = time.Now().UTC()

	message := "Job completed successfully"
	if n := len(result.Incomplete); n > 0 {
		message = fmt.Sprintf("Job completed with %d incomplete task(s)", n)
	}
	if err := e.registry.Finish(ctx, job.ID, core.StatusCompleted, result, message); err != nil {
		return fmt.Errorf("finish job: %w", err)
	}

	ev := core.NewEvent(job.ID, core.StatusCompleted, 100, message)
	ev.Result = result
	e.publish(job.ID, ev)

	if job.Kind == core.KindReplay {
		e.writeReplayArtifact(job, result)
	} else {
		e.clearCheckpoint(ctx, job.ID)
		e.writeSummary(job, core.StatusCompleted, result)
	}
	e.observe(job.Kind, core.StatusCompleted, start)
	e.logger.Info("job completed", "job_id", job.ID, "kind", job.Kind,
		"completed", len(result.Completed), "incomplete", len(result.Incomplete),
		"duration", time.Since(start))
	return nil
}

// fail marks the job failed with cause. The checkpoint is kept.
func (e *Executor) fail(ctx context.Context, job *core.Job, state *runState, cause error, start time.Time) error {
	ctx = context.WithoutCancel(ctx)

	result := &core.JobResult{Kind: job.Kind}
	pct := 0
	if state != nil {
		result = state.result()
		pct = state.progress()
	}
	result.Error = security.SanitizeErrorInfo(core.NewErrorInfo(cause))
	result.FinishedAt = time.Now().UTC()

	message := "Job failed: " + result.Error.Message
	if err := e.registry.Finish(ctx, job.ID, core.StatusFailed, result, message); err != nil {
		e.logger.Error("failed to record job failure", "job_id", job.ID, "error", err)
		return errors.Join(cause, err)
	}

	ev := core.NewEvent(job.ID, core.StatusFailed, pct, message)
	ev.Result = result
	ev.Error = result.Error
	e.publish(job.ID, ev)

	if job.Kind == core.KindReplay {
		e.writeReplayArtifact(job, result)
	} else {
		e.writeSummary(job, core.StatusFailed, result)
	}
	e.observe(job.Kind, core.StatusFailed, start)
	return cause
}

func (e *Executor) publish(jobID string, ev core.ProgressEvent) {
	if e.hub != nil {
		e.hub.Publish(jobID, ev)
	}
}

func (e *Executor) observe(kind core.JobKind, status core.JobStatus, start time.Time) {
	metrics.JobsTotal.WithLabelValues(string(kind), string(status)).Inc()
	metrics.JobDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
}

func (e *Executor) loadCheckpoint(ctx context.Context, log *slog.Logger, jobID string) *core.Checkpoint {
	if e.checkpoints == nil {
		return nil
	}
	cp, found, err := e.checkpoints.Load(ctx, jobID)
	if err != nil {
		log.Warn("checkpoint load failed, starting over", "error", err)
		return nil
	}
	if !found {
		return nil
	}
	return cp
}

// saveCheckpoint persists progress. A failed save is logged and the run
// continues; the next save or a fresh start covers it.
func (e *Executor) saveCheckpoint(ctx context.Context, log *slog.Logger, cp *core.Checkpoint) {
	if e.checkpoints == nil {
		return
	}
	if err := e.checkpoints.Save(ctx, cp); err != nil {
		log.Warn("failed to save checkpoint", "error", err)
	}
}

func (e *Executor) clearCheckpoint(ctx context.Context, jobID string) {
	if e.checkpoints == nil {
		return
	}
	if err := e.checkpoints.Clear(ctx, jobID); err != nil {
		e.logger.Warn("failed to clear checkpoint", "job_id", jobID, "error", err)
	}
}
