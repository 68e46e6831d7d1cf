// Package registry holds the authoritative table of jobs.
//
// Every mutation goes through Registry methods. Readers receive deep copies,
// so HTTP handlers and executors never share a *core.Job. When a JobStore is
// configured each change is written through to it before it becomes visible,
// and Restore reloads the table after a restart.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/crewrun/pkg/core"
)

// Registry is a concurrency-safe keyed store of job records.
type Registry struct {
	mu      sync.RWMutex
	jobs    map[string]*core.Job
	claimed map[string]struct{}

	store  core.JobStore
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Registry.
type Option interface {
	apply(*Registry)
}

type optionFunc func(*Registry)

func (f optionFunc) apply(r *Registry) { f(r) }

// WithStore writes every change through to store.
func WithStore(store core.JobStore) Option {
	return optionFunc(func(r *Registry) {
		r.store = store
	})
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(r *Registry) {
		r.logger = l
	})
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(r *Registry) {
		r.now = now
	})
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		jobs:    make(map[string]*core.Job),
		claimed: make(map[string]struct{}),
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt.apply(r)
	}
	return r
}

// Restore loads every job from the configured store. It is a no-op without a
// store.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	jobs, err := r.store.LoadJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore jobs: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range jobs {
		r.jobs[j.ID] = j
	}
	return len(jobs), nil
}

// Create registers a new job in the queued state. A missing id is filled
// with a UUID.
func (r *Registry) Create(ctx context.Context, job *core.Job) (*core.Job, error) {
	next := job.Clone()
	if next.ID == "" {
		next.ID = uuid.New().String()
	}
	if next.Kind == "" {
		next.Kind = core.KindRun
	}
	now := r.now()
	next.Status = core.StatusQueued
	next.Progress = 0
	next.CreatedAt = now
	next.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[next.ID]; exists {
		return nil, fmt.Errorf("%w: %s", core.ErrJobExists, next.ID)
	}
	if err := r.persist(ctx, next); err != nil {
		return nil, err
	}
	r.jobs[next.ID] = next
	return next.Clone(), nil
}

// Get returns a copy of the job.
func (r *Registry) Get(jobID string) (*core.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[jobID]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

// List returns copies of every job, oldest first.
func (r *Registry) List() []*core.Job {
	r.mu.RLock()
	out := make([]*core.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.Clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *core.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Unfinished returns copies of every job that has not reached a terminal
// status, oldest first.
func (r *Registry) Unfinished() []*core.Job {
	all := r.List()
	out := all[:0]
	for _, j := range all {
		if !j.Status.IsTerminal() {
			out = append(out, j)
		}
	}
	return out
}

// UpdateStatus moves the job forward to status and records progress and
// message. Backward moves and changes to finished jobs are rejected.
func (r *Registry) UpdateStatus(ctx context.Context, jobID string, status core.JobStatus, progress int, message string) error {
	return r.mutate(ctx, jobID, func(j *core.Job) error {
		if err := checkTransition(j, status); err != nil {
			return err
		}
		j.Status = status
		j.Progress = clampProgress(progress)
		j.Message = message
		return nil
	})
}

// UpdateResult replaces the result of a job that is still in progress.
func (r *Registry) UpdateResult(ctx context.Context, jobID string, result *core.JobResult) error {
	return r.mutate(ctx, jobID, func(j *core.Job) error {
		if j.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", core.ErrJobFinalized, jobID, j.Status)
		}
		j.Result = result.Clone()
		return nil
	})
}

// Finish moves the job to a terminal status and stores its result in one
// step.
func (r *Registry) Finish(ctx context.Context, jobID string, status core.JobStatus, result *core.JobResult, message string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", core.ErrInvalidTransition, status)
	}
	return r.mutate(ctx, jobID, func(j *core.Job) error {
		if err := checkTransition(j, status); err != nil {
			return err
		}
		j.Status = status
		if status == core.StatusCompleted {
			j.Progress = 100
		}
		j.Message = message
		j.Result = result.Clone()
		return nil
	})
}

// Claim marks the caller as the only writer of the job until release is
// called. A second claim on the same job fails with core.ErrJobBusy.
func (r *Registry) Claim(jobID string) (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[jobID]; !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}
	if _, busy := r.claimed[jobID]; busy {
		return nil, fmt.Errorf("%w: %s", core.ErrJobBusy, jobID)
	}
	r.claimed[jobID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.claimed, jobID)
			r.mu.Unlock()
		})
	}, nil
}

// Prune removes finished, unclaimed jobs last updated before cutoff and
// returns their ids.
func (r *Registry) Prune(ctx context.Context, cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, j := range r.jobs {
		if _, busy := r.claimed[id]; busy {
			continue
		}
		if j.Status.IsTerminal() && j.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	slices.Sort(ids)

	if r.store != nil {
		if err := r.store.DeleteJobs(ctx, ids); err != nil {
			return nil, fmt.Errorf("prune jobs: %w", err)
		}
	}
	for _, id := range ids {
		delete(r.jobs, id)
	}
	return ids, nil
}

// Len returns the number of jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// mutate applies fn to a copy of the job, persists the copy and only then
// swaps it in. The lock is held across the write so stored rows never lag
// behind a later in-memory change.
func (r *Registry) mutate(ctx context.Context, jobID string, fn func(*core.Job) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.UpdatedAt = r.now()
	if err := r.persist(ctx, next); err != nil {
		return err
	}
	r.jobs[jobID] = next
	return nil
}

func (r *Registry) persist(ctx context.Context, job *core.Job) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveJob(ctx, job.Clone()); err != nil {
		r.logger.Error("failed to persist job", "job_id", job.ID, "error", err)
		return fmt.Errorf("persist job %s: %w", job.ID, err)
	}
	return nil
}

func checkTransition(j *core.Job, next core.JobStatus) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", core.ErrJobFinalized, j.ID, j.Status)
	}
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, j.Status, next)
	}
	return nil
}

func clampProgress(p int) int {
	return max(0, min(p, 100))
}
