// Package config loads devflow's project configuration: a YAML file over
// built-in defaults, with DEVFLOW_* environment variables taking precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/log"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/pool"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/stuck"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/telemetry"
)

// Status backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// FileName is the config file looked up in the state directory.
const FileName = "devflow.yaml"

// Config is the full project configuration.
type Config struct {
	// StateDir holds status records, findings and plan descriptions.
	StateDir string `yaml:"state_dir"`
	// PlansDir defaults to <state_dir>/plans.
	PlansDir string `yaml:"plans_dir,omitempty"`
	Backend  string `yaml:"backend"`

	Pool      PoolConfig       `yaml:"pool"`
	Run       RunConfig        `yaml:"run"`
	Stuck     StuckConfig      `yaml:"stuck"`
	Agent     AgentConfig      `yaml:"agent"`
	Log       log.Config       `yaml:"log"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// PoolConfig bounds task execution.
type PoolConfig struct {
	MaxConcurrent   int           `yaml:"max_concurrent"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff"`
	TaskTimeout     time.Duration `yaml:"task_timeout"`
	// CacheSize is the number of agent results kept; 0 disables caching.
	CacheSize int `yaml:"cache_size"`
}

// RunConfig tunes the orchestrator's dispatch loop.
type RunConfig struct {
	// MaxBatch caps the tasks dispatched per scheduling round; 0 means no cap.
	MaxBatch      int  `yaml:"max_batch"`
	PhasePriority bool `yaml:"phase_priority"`
	// RequeueFailed puts failed tasks with retry budget back to pending
	// when a run starts.
	RequeueFailed bool `yaml:"requeue_failed"`
}

// StuckConfig controls stuck detection and the cross-run retry ceiling.
type StuckConfig struct {
	Threshold  time.Duration `yaml:"threshold"`
	Interval   time.Duration `yaml:"interval"`
	MaxRetries int           `yaml:"max_retries"`
}

// AgentConfig describes the external agent command.
type AgentConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args,omitempty"`
	Env     []string      `yaml:"env,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
	// NonRetryableExitCodes fail a task without pool retries.
	NonRetryableExitCodes []int `yaml:"non_retryable_exit_codes,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint served during a run.
type MetricsConfig struct {
	// Addr is the listen address, e.g. ":9090"; empty disables the endpoint.
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	pc := pool.DefaultConfig()
	return Config{
		StateDir: ".devflow",
		Backend:  BackendFile,
		Pool: PoolConfig{
			MaxConcurrent:   pc.MaxConcurrent,
			MaxRetries:      pc.MaxRetries,
			RetryBackoff:    pc.RetryBackoff,
			MaxRetryBackoff: pc.MaxRetryBackoff,
			TaskTimeout:     30 * time.Minute,
			CacheSize:       256,
		},
		Run: RunConfig{
			RequeueFailed: true,
		},
		Stuck: StuckConfig{
			Threshold:  time.Hour,
			Interval:   time.Minute,
			MaxRetries: stuck.DefaultMaxRetries,
		},
		Agent: AgentConfig{
			Command: "claude",
			Args:    []string{"--print"},
			Timeout: 30 * time.Minute,
		},
		Log:       log.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
	}
}

// ResolvedPlansDir returns PlansDir, defaulting to <state_dir>/plans.
func (c Config) ResolvedPlansDir() string {
	if c.PlansDir != "" {
		return c.PlansDir
	}
	return filepath.Join(c.StateDir, "plans")
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error: the defaults are used.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, errors.NewFileUnmarshalError(path, "YAML", err)
			}
		case os.IsNotExist(err):
		default:
			return cfg, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to read config file "+path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func Save(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileMarshal, "failed to marshal config", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeDirectoryFailed, "failed to create config directory", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to write config file "+path, err)
	}
	return nil
}

// Validate rejects values the components can't run with.
func (c Config) Validate() error {
	var problems []string
	if c.StateDir == "" {
		problems = append(problems, "state_dir must not be empty")
	}
	if c.Backend != BackendFile && c.Backend != BackendSQLite {
		problems = append(problems, fmt.Sprintf("backend must be %q or %q, got %q", BackendFile, BackendSQLite, c.Backend))
	}
	if c.Pool.MaxConcurrent < 1 {
		problems = append(problems, "pool.max_concurrent must be at least 1")
	}
	if c.Pool.MaxRetries < 0 {
		problems = append(problems, "pool.max_retries must not be negative")
	}
	if c.Pool.CacheSize < 0 {
		problems = append(problems, "pool.cache_size must not be negative")
	}
	if c.Stuck.Threshold <= 0 {
		problems = append(problems, "stuck.threshold must be positive")
	}
	if c.Stuck.Interval <= 0 {
		problems = append(problems, "stuck.interval must be positive")
	}
	if c.Stuck.MaxRetries < 0 {
		problems = append(problems, "stuck.max_retries must not be negative")
	}
	if strings.TrimSpace(c.Agent.Command) == "" {
		problems = append(problems, "agent.command must not be empty")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		problems = append(problems, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New(errors.ErrCodeConfigInvalid, "invalid configuration: "+strings.Join(problems, "; ")).
		WithSuggestion("Fix " + FileName + " or the DEVFLOW_* environment variables")
}

// PoolSettings converts the pool section for pool.New. Cache, logger,
// metrics and tracer are left for the caller.
func (c Config) PoolSettings() pool.Config {
	return pool.Config{
		MaxConcurrent:   c.Pool.MaxConcurrent,
		MaxRetries:      c.Pool.MaxRetries,
		RetryBackoff:    c.Pool.RetryBackoff,
		MaxRetryBackoff: c.Pool.MaxRetryBackoff,
		TaskTimeout:     c.Pool.TaskTimeout,
	}
}

type binding struct {
	key string
	set func(c *Config, v string) error
}

func durationVar(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func intVar(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolVar(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func stringVar(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

var envBindings = []binding{
	{"DEVFLOW_STATE_DIR", stringVar(func(c *Config) *string { return &c.StateDir })},
	{"DEVFLOW_PLANS_DIR", stringVar(func(c *Config) *string { return &c.PlansDir })},
	{"DEVFLOW_BACKEND", stringVar(func(c *Config) *string { return &c.Backend })},
	{"DEVFLOW_POOL_MAX_CONCURRENT", intVar(func(c *Config) *int { return &c.Pool.MaxConcurrent })},
	{"DEVFLOW_POOL_MAX_RETRIES", intVar(func(c *Config) *int { return &c.Pool.MaxRetries })},
	{"DEVFLOW_POOL_TASK_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Pool.TaskTimeout })},
	{"DEVFLOW_POOL_CACHE_SIZE", intVar(func(c *Config) *int { return &c.Pool.CacheSize })},
	{"DEVFLOW_RUN_MAX_BATCH", intVar(func(c *Config) *int { return &c.Run.MaxBatch })},
	{"DEVFLOW_STUCK_THRESHOLD", durationVar(func(c *Config) *time.Duration { return &c.Stuck.Threshold })},
	{"DEVFLOW_STUCK_INTERVAL", durationVar(func(c *Config) *time.Duration { return &c.Stuck.Interval })},
	{"DEVFLOW_STUCK_MAX_RETRIES", intVar(func(c *Config) *int { return &c.Stuck.MaxRetries })},
	{"DEVFLOW_AGENT_COMMAND", stringVar(func(c *Config) *string { return &c.Agent.Command })},
	{"DEVFLOW_AGENT_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Agent.Timeout })},
	{"DEVFLOW_LOG_LEVEL", func(c *Config, v string) error { return c.Log.Level.UnmarshalText([]byte(v)) }},
	{"DEVFLOW_LOG_FORMAT", func(c *Config, v string) error { return c.Log.Format.UnmarshalText([]byte(v)) }},
	{"DEVFLOW_TELEMETRY_ENABLED", boolVar(func(c *Config) *bool { return &c.Telemetry.Enabled })},
	{"DEVFLOW_TELEMETRY_ENDPOINT", stringVar(func(c *Config) *string { return &c.Telemetry.Endpoint })},
	{"DEVFLOW_METRICS_ADDR", stringVar(func(c *Config) *string { return &c.Metrics.Addr })},
}

// ApplyEnv overrides fields from DEVFLOW_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(b.key)
		if !ok {
			continue
		}
		if err := b.set(c, strings.TrimSpace(v)); err != nil {
			return errors.Wrap(errors.ErrCodeConfigInvalid, fmt.Sprintf("invalid %s=%q", b.key, v), err)
		}
	}
	return nil
}

// EnvKeys lists the environment variables ApplyEnv reads.
func EnvKeys() []string {
	keys := make([]string, len(envBindings))
	for i, b := range envBindings {
		keys[i] = b.key
	}
	return keys
}
