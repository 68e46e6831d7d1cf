// Package crewrun runs goal-directed jobs made of dependent tasks, with
// checkpointed resume, bounded retries and live progress.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages and wires a complete server stack from a
// configuration.
//
// Basic usage:
//
//	cfg, _ := config.Load("crewrun.yaml")
//	agents := crewrun.NewAgentRegistry(nil)
//	agents.Register("requirements_analysis", func(ctx context.Context, in crewrun.TaskInput) (string, error) {
//	    return analyse(in.Goal)
//	})
//
//	stack, _ := crewrun.Open(cfg, agents)
//	defer stack.Close()
//	stack.Run(ctx)
package crewrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/jdziat/crewrun/pkg/agent"
	"github.com/jdziat/crewrun/pkg/checkpoint"
	"github.com/jdziat/crewrun/pkg/config"
	"github.com/jdziat/crewrun/pkg/contextbuf"
	"github.com/jdziat/crewrun/pkg/core"
	"github.com/jdziat/crewrun/pkg/executor"
	"github.com/jdziat/crewrun/pkg/progress"
	"github.com/jdziat/crewrun/pkg/registry"
	"github.com/jdziat/crewrun/pkg/schedule"
	"github.com/jdziat/crewrun/pkg/storage"
	"github.com/jdziat/crewrun/pkg/worker"
	"github.com/jdziat/crewrun/server"
)

// Version is reported by the server's root endpoint.
var Version = "0.1.0"

// Type aliases for the public API
type (
	// Job is one request to run an ordered set of dependent tasks.
	Job = core.Job

	// JobStatus is the lifecycle state of a job.
	JobStatus = core.JobStatus

	// TaskSpec describes one task of a job.
	TaskSpec = core.TaskSpec

	// TaskInput is everything a task handler receives.
	TaskInput = core.TaskInput

	// JobResult is the final record of a job.
	JobResult = core.JobResult

	// Checkpoint records the completed tasks of a job.
	Checkpoint = core.Checkpoint

	// ProgressEvent is an advisory status update.
	ProgressEvent = core.ProgressEvent

	// Persistable is implemented by task outputs.
	Persistable = core.Persistable

	// Text is a plain-text task output.
	Text = core.Text

	// JSON is a task output persisted as JSON.
	JSON = core.JSON

	// NoRetryError marks a task error as permanent.
	NoRetryError = core.NoRetryError

	// RetryAfterError asks for a minimum delay before the next attempt.
	RetryAfterError = core.RetryAfterError

	// Agent executes tasks.
	Agent = agent.Agent

	// AgentFunc adapts a function to Agent.
	AgentFunc = agent.Func

	// AgentRegistry dispatches tasks to agents by handler name.
	AgentRegistry = agent.Registry

	// Config is the complete configuration.
	Config = config.Config
)

// Job status constants
const (
	StatusQueued       = core.StatusQueued
	StatusInitializing = core.StatusInitializing
	StatusRunning      = core.StatusRunning
	StatusCompleted    = core.StatusCompleted
	StatusFailed       = core.StatusFailed
)

// Re-exported errors
var (
	ErrJobNotFound  = core.ErrJobNotFound
	ErrJobFinalized = core.ErrJobFinalized
	ErrJobBusy      = core.ErrJobBusy
	ErrNoAgent      = core.ErrNoAgent
)

// NoRetry marks err as permanent.
func NoRetry(err error) error { return core.NoRetry(err) }

// NewAgentRegistry creates an agent registry with an optional fallback.
func NewAgentRegistry(fallback Agent) *AgentRegistry { return agent.NewRegistry(fallback) }

// DefaultTasks returns the standard development plan.
func DefaultTasks() []TaskSpec { return agent.DefaultTasks() }

// Stack is a fully wired crewrun server.
type Stack struct {
	Config      *config.Config
	DB          *gorm.DB
	Storage     *storage.GormStorage
	Registry    *registry.Registry
	Hub         *progress.Hub
	Checkpoints core.CheckpointStore
	Agent       agent.Agent
	Executor    *executor.Executor
	Worker      *worker.Worker
	Server      *server.Server
	Logger      *slog.Logger
}

// StackOption configures Open.
type StackOption interface {
	apply(*stackOptions)
}

type stackOptionFunc func(*stackOptions)

func (f stackOptionFunc) apply(o *stackOptions) { f(o) }

type stackOptions struct {
	logger *slog.Logger
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) StackOption {
	return stackOptionFunc(func(o *stackOptions) {
		o.logger = l
	})
}

// Open builds the stack described by cfg. a runs the tasks; when nil, the
// remote agent at cfg.Agent.BaseURL is used. Durable jobs are restored
// from storage before Open returns.
func Open(cfg *config.Config, a Agent, opts ...StackOption) (*Stack, error) {
	o := &stackOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt.apply(o)
	}
	log := o.logger

	if a == nil {
		if cfg.Agent.BaseURL == "" {
			return nil, fmt.Errorf("%w: pass an agent or set agent.base_url", core.ErrNoAgent)
		}
		a = agent.NewRemote(agent.RemoteConfig{
			BaseURL:       cfg.Agent.BaseURL,
			Timeout:       cfg.Agent.Timeout,
			RatePerSecond: cfg.Agent.RatePerSecond,
			Burst:         cfg.Agent.Burst,
			APIKey:        cfg.Agent.APIKey,
		}, log)
	}

	var pool []storage.PoolOption
	if cfg.Storage.Driver == storage.DriverPostgres {
		pool = append(pool,
			storage.MaxOpenConns(cfg.Storage.MaxOpenConns),
			storage.MaxIdleConns(cfg.Storage.MaxIdleConns),
		)
	}
	db, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN, pool...)
	if err != nil {
		return nil, err
	}
	s := &Stack{Config: cfg, DB: db, Agent: a, Logger: log}

	ctx := context.Background()
	s.Storage = storage.NewGormStorage(db)
	if err := s.Storage.Migrate(ctx); err != nil {
		_ = storage.Close(db)
		return nil, fmt.Errorf("migrate storage: %w", err)
	}

	s.Registry = registry.New(registry.WithStore(s.Storage), registry.WithLogger(log))
	n, err := s.Registry.Restore(ctx)
	if err != nil {
		_ = storage.Close(db)
		return nil, fmt.Errorf("restore jobs: %w", err)
	}
	log.Info("jobs restored", "count", n)

	s.Hub = progress.NewHub(progress.WithBufferSize(cfg.Progress.BufferSize))

	switch cfg.Checkpoint.Backend {
	case "database":
		s.Checkpoints = s.Storage.Checkpoints(log)
	default:
		s.Checkpoints = checkpoint.NewFileStore(cfg.Checkpoint.Dir, checkpoint.WithLogger(log))
	}

	s.Executor = executor.New(s.Registry, a,
		executor.WithHub(s.Hub),
		executor.WithCheckpoints(s.Checkpoints),
		executor.WithRetryPolicy(executor.RetryPolicy{
			MaxRetries: cfg.Executor.MaxRetries,
			BaseDelay:  cfg.Executor.BackoffBase,
			MaxDelay:   cfg.Executor.MaxBackoff,
		}),
		executor.WithResultsDir(cfg.Results.Dir),
		executor.WithLogger(log),
	)

	workerOpts := []worker.Option{
		worker.Concurrency(cfg.Executor.Concurrency),
		worker.WithTimeout(cfg.Executor.JobTimeout, cfg.Executor.TimeoutAttempts, cfg.Executor.TimeoutMultiplier),
		worker.WithDrainGrace(cfg.Executor.DrainGrace),
		worker.WithHub(s.Hub),
		worker.WithCheckpoints(s.Checkpoints),
		worker.WithLogger(log),
	}
	if cfg.Retention.Schedule != "" {
		sched, err := schedule.Parse(cfg.Retention.Schedule)
		if err != nil {
			_ = storage.Close(db)
			return nil, fmt.Errorf("retention schedule: %w", err)
		}
		workerOpts = append(workerOpts, worker.WithRetention(sched, cfg.Retention.MaxAge))
	}
	s.Worker = worker.New(s.Registry, s.Executor, workerOpts...)

	s.Server = server.New(s.Registry, s.Hub, s.Worker, a,
		server.WithLogger(log),
		server.WithVersion(Version),
		server.WithSendTimeout(cfg.Server.WSSendTimeout),
		server.WithChatHistory(contextbuf.ChatHistory{
			MaxMessages: cfg.Client.ChatMaxMessages,
			KeepRecent:  cfg.Client.ChatKeepRecent,
		}),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	)
	return s, nil
}

// Run starts the worker and serves the API until ctx ends. It returns once
// both have stopped.
func (s *Stack) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerDone := make(chan error, 1)
	go func() { workerDone <- s.Worker.Start(ctx) }()

	serveErr := s.Server.ListenAndServe(ctx, s.Config.Server.Addr)
	cancel()
	workerErr := <-workerDone

	if errors.Is(workerErr, context.Canceled) {
		workerErr = nil
	}
	return errors.Join(serveErr, workerErr)
}

// Close releases the database.
func (s *Stack) Close() error {
	s.Hub.Close()
	return storage.Close(s.DB)
}
