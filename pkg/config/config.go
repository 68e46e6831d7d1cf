// Package config loads crewrun configuration from an optional file and
// CREWRUN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jdziat/crewrun/pkg/logging"
	"github.com/jdziat/crewrun/pkg/schedule"
)

// EnvPrefix prefixes every environment override, e.g.
// CREWRUN_SERVER_ADDR or CREWRUN_EXECUTOR_MAX_RETRIES.
const EnvPrefix = "CREWRUN"

// Config is the complete configuration of the server and the client.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Results    ResultsConfig    `mapstructure:"results"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Client     ClientConfig     `mapstructure:"client"`
	Log        logging.Config   `mapstructure:"log"`
}

// ServerConfig configures the HTTP and WebSocket surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	WSSendTimeout   time.Duration `mapstructure:"ws_send_timeout"`
}

// StorageConfig selects the durable job store.
type StorageConfig struct {
	Driver       string `mapstructure:"driver"` // sqlite | postgres
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// CheckpointConfig selects where checkpoints live.
type CheckpointConfig struct {
	Backend string `mapstructure:"backend"` // file | database
	Dir     string `mapstructure:"dir"`
}

// ExecutorConfig configures task retries and the job timeout wrapper.
type ExecutorConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	Concurrency       int           `mapstructure:"concurrency"`
	JobTimeout        time.Duration `mapstructure:"job_timeout"`
	TimeoutAttempts   int           `mapstructure:"timeout_attempts"`
	TimeoutMultiplier float64       `mapstructure:"timeout_multiplier"`
	DrainGrace        time.Duration `mapstructure:"drain_grace"`
}

// ProgressConfig configures the progress hub.
type ProgressConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// RetentionConfig configures the sweep of old finished jobs. An empty
// schedule disables it.
type RetentionConfig struct {
	Schedule string        `mapstructure:"schedule"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

// ResultsConfig configures result artifacts. An empty dir disables them.
type ResultsConfig struct {
	Dir string `mapstructure:"dir"`
}

// AgentConfig points at the external agent service. An empty base URL
// leaves task execution to agents registered in code.
type AgentConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	APIKey        string        `mapstructure:"api_key"`
}

// ClientConfig configures the terminal client.
type ClientConfig struct {
	ServerURL          string        `mapstructure:"server_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxTokens          int           `mapstructure:"max_tokens"`
	CompactRatio       float64       `mapstructure:"compact_ratio"`
	CachePath          string        `mapstructure:"cache_path"`
	CachePruneSchedule string        `mapstructure:"cache_prune_schedule"`
	CacheMaxAge        time.Duration `mapstructure:"cache_max_age"`
	ChatMaxMessages    int           `mapstructure:"chat_max_messages"`
	ChatKeepRecent     int           `mapstructure:"chat_keep_recent"`
}

var defaults = map[string]any{
	"server.addr":             ":8000",
	"server.read_timeout":     30 * time.Second,
	"server.write_timeout":    30 * time.Second,
	"server.shutdown_timeout": 15 * time.Second,
	"server.ws_send_timeout":  5 * time.Second,

	"storage.driver":         "sqlite",
	"storage.dsn":            "crewrun.db",
	"storage.max_open_conns": 25,
	"storage.max_idle_conns": 5,

	"checkpoint.backend": "file",
	"checkpoint.dir":     "checkpoints",

	"executor.max_retries":        3,
	"executor.backoff_base":       2 * time.Second,
	"executor.max_backoff":        2 * time.Minute,
	"executor.concurrency":        4,
	"executor.job_timeout":        600 * time.Second,
	"executor.timeout_attempts":   3,
	"executor.timeout_multiplier": 1.5,
	"executor.drain_grace":        30 * time.Second,

	"progress.buffer_size": 64,

	"retention.schedule": "@hourly",
	"retention.max_age":  7 * 24 * time.Hour,

	"results.dir": "",

	"agent.base_url":        "",
	"agent.timeout":         5 * time.Minute,
	"agent.rate_per_second": 0.0,
	"agent.burst":           1,
	"agent.api_key":         "",

	"client.server_url":           "http://localhost:8000",
	"client.timeout":              30 * time.Second,
	"client.max_tokens":           100000,
	"client.compact_ratio":        0.8,
	"client.cache_path":           "offline_cache.db",
	"client.cache_prune_schedule": "@daily",
	"client.cache_max_age":        30 * 24 * time.Hour,
	"client.chat_max_messages":    20,
	"client.chat_keep_recent":     10,

	"log.level":  "info",
	"log.format": "json",
	"log.output": "stdout",
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with nothing but defaults applied.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver))
	}
	switch c.Checkpoint.Backend {
	case "file", "database":
	default:
		errs = append(errs, fmt.Errorf("checkpoint.backend must be file or database, got %q", c.Checkpoint.Backend))
	}
	if c.Checkpoint.Backend == "file" && c.Checkpoint.Dir == "" {
		errs = append(errs, errors.New("checkpoint.dir is required for the file backend"))
	}
	if c.Executor.MaxRetries < 0 {
		errs = append(errs, errors.New("executor.max_retries must not be negative"))
	}
	if c.Executor.Concurrency < 1 {
		errs = append(errs, errors.New("executor.concurrency must be at least 1"))
	}
	if c.Executor.JobTimeout <= 0 {
		errs = append(errs, errors.New("executor.job_timeout must be positive"))
	}
	if c.Executor.TimeoutAttempts < 1 {
		errs = append(errs, errors.New("executor.timeout_attempts must be at least 1"))
	}
	if c.Executor.TimeoutMultiplier < 1 {
		errs = append(errs, errors.New("executor.timeout_multiplier must be at least 1"))
	}
	if c.Client.CompactRatio <= 0 || c.Client.CompactRatio > 1 {
		errs = append(errs, errors.New("client.compact_ratio must be in (0, 1]"))
	}
	for key, expr := range map[string]string{
		"retention.schedule":          c.Retention.Schedule,
		"client.cache_prune_schedule": c.Client.CachePruneSchedule,
	} {
		if expr == "" {
			continue
		}
		if _, err := schedule.Parse(expr); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
