package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/crewrun/pkg/core"
	"github.com/jdziat/crewrun/pkg/metrics"
	"github.com/jdziat/crewrun/pkg/registry"
	"github.com/jdziat/crewrun/pkg/schedule"
)

// ErrQueueFull is returned by Submit when no more jobs can wait for a slot.
var ErrQueueFull = errors.New("crewrun: worker queue is full")

// Runner runs one job to completion. *executor.Executor implements it.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, jobID string) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, jobID string) error { return f(ctx, jobID) }

// Worker runs submitted jobs, each in its own goroutine.
type Worker struct {
	registry *registry.Registry
	runner   Runner
	config   Config
	logger   *slog.Logger

	queue   chan string
	mu      sync.Mutex
	pending map[string]struct{}
	wg      sync.WaitGroup
}

// New creates a worker that runs jobs of reg through runner.
func New(reg *registry.Registry, runner Runner, opts ...Option) *Worker {
	config := DefaultConfig()
	for _, opt := range opts {
		opt.apply(&config)
	}

	return &Worker{
		registry: reg,
		runner:   runner,
		config:   config,
		logger:   config.Logger,
		queue:    make(chan string, config.QueueSize),
		pending:  make(map[string]struct{}),
	}
}

// Config returns the effective configuration.
func (w *Worker) Config() Config {
	return w.config
}

// Submit queues a job for execution. Submitting a job that is already
// queued or running is a no-op.
func (w *Worker) Submit(jobID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.pending[jobID]; ok {
		return nil
	}
	select {
	case w.queue <- jobID:
		w.pending[jobID] = struct{}{}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, jobID)
	}
}

// Pending returns the number of jobs queued or running.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Start resubmits unfinished jobs and processes the queue. Blocks until ctx
// is cancelled. Runs in flight are cancelled with ctx and resume from their
// checkpoints on the next start.
func (w *Worker) Start(ctx context.Context) error {
	w.Recover()

	if w.config.RetentionSchedule != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			schedule.Run(ctx, w.config.RetentionSchedule, "retention", w.logger, w.Sweep)
		}()
	}

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.processLoop(ctx)
	}

	<-ctx.Done()
	w.wg.Wait()
	return ctx.Err()
}

// Recover submits every job the registry holds in a non-terminal status and
// returns how many were submitted.
func (w *Worker) Recover() int {
	n := 0
	for _, job := range w.registry.Unfinished() {
		if err := w.Submit(job.ID); err != nil {
			w.logger.Error("failed to resubmit unfinished job", "job_id", job.ID, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		w.logger.Info("resubmitted unfinished jobs", "count", n)
	}
	return n
}

func (w *Worker) processLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-w.queue:
			w.process(ctx, jobID)
			w.mu.Lock()
			delete(w.pending, jobID)
			w.mu.Unlock()
		}
	}
}

// process runs a job under the timeout wrapper.
func (w *Worker) process(ctx context.Context, jobID string) {
	log := w.logger.With("job_id", jobID)
	timeout := w.config.Timeout

	for attempt := 1; attempt <= w.config.TimeoutAttempts; attempt++ {
		abandoned, err := w.runAttempt(ctx, jobID, timeout)
		if ctx.Err() != nil {
			log.Info("worker stopping, job left for recovery")
			return
		}
		if abandoned {
			log.Error("job run ignored cancellation, abandoning it", "attempt", attempt, "timeout", timeout)
			w.failTimeout(ctx, jobID, timeout, attempt)
			return
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			if err != nil {
				w.logRunError(log, err)
			}
			return
		}

		log.Warn("job run timed out", "attempt", attempt, "timeout", timeout)
		if attempt < w.config.TimeoutAttempts {
			timeout = time.Duration(float64(timeout) * w.config.TimeoutMultiplier)
		}
	}

	w.failTimeout(ctx, jobID, timeout, w.config.TimeoutAttempts)
}

// runAttempt runs the job with a deadline. If the run does not return
// within the drain grace after its context ends, it is abandoned.
func (w *Worker) runAttempt(ctx context.Context, jobID string, timeout time.Duration) (abandoned bool, err error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- w.runner.Run(runCtx, jobID)
	}()

	select {
	case err := <-done:
		return false, err
	case <-runCtx.Done():
	}

	grace := time.NewTimer(w.config.DrainGrace)
	defer grace.Stop()
	select {
	case err := <-done:
		return false, err
	case <-grace.C:
		return true, runCtx.Err()
	}
}

func (w *Worker) logRunError(log *slog.Logger, err error) {
	switch {
	case errors.Is(err, core.ErrJobFinalized):
		log.Debug("job already finished")
	case errors.Is(err, core.ErrJobNotFound):
		log.Warn("job vanished before it could run")
	case errors.Is(err, core.ErrJobBusy):
		log.Warn("job is already running elsewhere")
	default:
		log.Info("job run ended with error", "kind", core.KindOf(err), "error", err)
	}
}

// failTimeout marks the job failed with a timeout reason. A job that
// finished in the meantime is left alone.
func (w *Worker) failTimeout(ctx context.Context, jobID string, timeout time.Duration, attempts int) {
	job, ok := w.registry.Get(jobID)
	if !ok || job.Status.IsTerminal() {
		return
	}

	info := core.NewErrorInfo(&core.TimeoutError{JobID: jobID, Timeout: timeout, Attempts: attempts})
	result := job.Result.Clone()
	if result == nil {
		result = &core.JobResult{Kind: job.Kind}
	}
	result.Error = info
	result.FinishedAt = time.Now().UTC()
	message := "Job failed: " + info.Message

	err := retryWithBackoff(ctx, w.config.StoreRetry, func() error {
		return w.registry.Finish(ctx, jobID, core.StatusFailed, result, message)
	})
	if err != nil {
		if errors.Is(err, core.ErrJobFinalized) {
			return
		}
		w.logger.Error("failed to record job timeout", "job_id", jobID, "error", err)
		return
	}

	if w.config.Hub != nil {
		ev := core.NewEvent(jobID, core.StatusFailed, job.Progress, message)
		ev.Error = info
		ev.Result = result
		w.config.Hub.Publish(jobID, ev)
	}
	metrics.JobsTotal.WithLabelValues(string(job.Kind), string(core.StatusFailed)).Inc()
}

// Sweep removes finished jobs older than the retention age, along with
// their checkpoints and progress topics.
func (w *Worker) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-w.config.RetentionMaxAge)
	ids, err := w.registry.Prune(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if w.config.Hub != nil {
			w.config.Hub.Forget(id)
		}
		if w.config.Checkpoints != nil {
			if err := w.config.Checkpoints.Clear(ctx, id); err != nil {
				w.logger.Warn("failed to clear checkpoint of pruned job", "job_id", id, "error", err)
			}
		}
	}
	if len(ids) > 0 {
		w.logger.Info("pruned finished jobs", "count", len(ids), "cutoff", cutoff)
	}
	return nil
}
