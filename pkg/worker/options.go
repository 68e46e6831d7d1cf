package worker

import (
	"log/slog"
	"time"

	"github.com/jdziat/crewrun/pkg/core"
	"github.com/jdziat/crewrun/pkg/progress"
	"github.com/jdziat/crewrun/pkg/schedule"
	"github.com/jdziat/crewrun/pkg/security"
)

// Option configures a Worker.
type Option interface {
	apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) apply(c *Config) { f(c) }

// Config holds worker configuration.
type Config struct {
	// Concurrency is the number of jobs run at the same time.
	// Default: 4
	Concurrency int

	// Timeout is the deadline of the first attempt of a job run.
	// Default: 600s
	Timeout time.Duration

	// TimeoutAttempts is the number of attempts before a job is failed
	// with a timeout.
	// Default: 3
	TimeoutAttempts int

	// TimeoutMultiplier scales the deadline of every further attempt.
	// Default: 1.5
	TimeoutMultiplier float64

	// DrainGrace is how long a cancelled run may take to return before it
	// is abandoned.
	// Default: 30s
	DrainGrace time.Duration

	// QueueSize bounds the number of jobs waiting for a slot.
	// Default: 1024
	QueueSize int

	// StoreRetry governs registry writes made by the worker itself.
	StoreRetry RetryConfig

	// RetentionSchedule triggers sweeps of old finished jobs. Nil disables
	// retention.
	RetentionSchedule schedule.Schedule

	// RetentionMaxAge is the age after which a finished job is removed.
	// Default: 7 days
	RetentionMaxAge time.Duration

	Hub         *progress.Hub
	Checkpoints core.CheckpointStore
	Logger      *slog.Logger
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:       4,
		Timeout:           600 * time.Second,
		TimeoutAttempts:   3,
		TimeoutMultiplier: 1.5,
		DrainGrace:        30 * time.Second,
		QueueSize:         1024,
		StoreRetry:        DefaultRetryConfig(),
		RetentionMaxAge:   7 * 24 * time.Hour,
		Logger:            slog.Default(),
	}
}

// Concurrency sets how many jobs run at once.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) Option {
	return optionFunc(func(c *Config) {
		c.Concurrency = security.ClampConcurrency(n)
	})
}

// WithTimeout sets the timeout wrapper: the first attempt's deadline, the
// number of attempts and the factor applied to the deadline per attempt.
// Non-positive values keep the defaults.
func WithTimeout(timeout time.Duration, attempts int, multiplier float64) Option {
	return optionFunc(func(c *Config) {
		if timeout > 0 {
			c.Timeout = timeout
		}
		if attempts > 0 {
			c.TimeoutAttempts = attempts
		}
		if multiplier > 0 {
			c.TimeoutMultiplier = multiplier
		}
	})
}

// WithDrainGrace sets how long a cancelled run may take to return.
func WithDrainGrace(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d > 0 {
			c.DrainGrace = d
		}
	})
}

// WithQueueSize bounds the number of jobs waiting for a slot.
func WithQueueSize(n int) Option {
	return optionFunc(func(c *Config) {
		if n > 0 {
			c.QueueSize = n
		}
	})
}

// WithStoreRetry configures retries for the worker's own registry writes.
func WithStoreRetry(cfg RetryConfig) Option {
	return optionFunc(func(c *Config) {
		c.StoreRetry = cfg
	})
}

// WithRetention removes finished jobs older than maxAge on every tick of s.
func WithRetention(s schedule.Schedule, maxAge time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.RetentionSchedule = s
		if maxAge > 0 {
			c.RetentionMaxAge = maxAge
		}
	})
}

// WithHub lets the worker publish timeout failures and forget pruned jobs.
func WithHub(h *progress.Hub) Option {
	return optionFunc(func(c *Config) {
		c.Hub = h
	})
}

// WithCheckpoints lets retention sweeps clear checkpoints of pruned jobs.
func WithCheckpoints(s core.CheckpointStore) Option {
	return optionFunc(func(c *Config) {
		c.Checkpoints = s
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	})
}
