package executor

import (
	"log/slog"

	"github.com/jdziat/crewrun/pkg/core"
	"github.com/jdziat/crewrun/pkg/progress"
	"github.com/jdziat/crewrun/pkg/security"
)

// Option configures an Executor.
type Option interface {
	apply(*Executor)
}

type optionFunc func(*Executor)

func (f optionFunc) apply(e *Executor) { f(e) }

// WithHub publishes progress events to h.
func WithHub(h *progress.Hub) Option {
	return optionFunc(func(e *Executor) {
		e.hub = h
	})
}

// WithCheckpoints enables checkpointing. Without a store every run starts
// from the first task.
func WithCheckpoints(s core.CheckpointStore) Option {
	return optionFunc(func(e *Executor) {
		e.checkpoints = s
	})
}

// WithRetryPolicy sets the per-task retry policy. MaxRetries is clamped to
// security.MaxRetries.
func WithRetryPolicy(p RetryPolicy) Option {
	return optionFunc(func(e *Executor) {
		p.MaxRetries = security.ClampRetries(p.MaxRetries)
		e.policy = p
	})
}

// WithResultsDir writes per-task and summary artifacts under dir.
func WithResultsDir(dir string) Option {
	return optionFunc(func(e *Executor) {
		e.resultsDir = dir
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	})
}
