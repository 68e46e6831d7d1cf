package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/jdziat/crewrun/pkg/core"
)

// replay runs the single task of a replay job in isolation. Dependencies are
// ignored, no checkpoint is read or written, and the result is marked as a
// replay.
func (e *Executor) replay(ctx context.Context, job *core.Job) error {
	start := time.Now()
	log := e.logger.With("job_id", job.ID)

	if err := e.advance(ctx, job.ID, core.StatusInitializing, 0, "Preparing replay"); err != nil {
		return err
	}
	if len(job.Tasks) != 1 {
		return e.fail(ctx, job, nil, fmt.Errorf("%w: replay needs exactly one task, got %d", core.ErrNoTasks, len(job.Tasks)), start)
	}

	task := job.Tasks[0].Clone()
	task.DependsOn = nil
	if err := e.advance(ctx, job.ID, core.StatusRunning, 0, "Replaying task "+task.ID); err != nil {
		return err
	}

	state := newRunState(core.KindReplay, 1)
	output, attempts, err := e.runTask(ctx, job, task, state)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Error("replayed task failed", "task_id", task.ID, "attempts", attempts, "error", err)
		return e.fail(ctx, job, state, &core.TaskFailedError{TaskID: task.ID, Attempts: attempts, Critical: true, Err: err}, start)
	}

	state.record(task.ID, output)
	return e.complete(ctx, job, state, start)
}
