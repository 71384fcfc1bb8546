package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/log"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ".devflow", cfg.StateDir)
	assert.Equal(t, BackendFile, cfg.Backend)
	assert.Equal(t, 3, cfg.Pool.MaxConcurrent)
	assert.Equal(t, 2, cfg.Stuck.MaxRetries)
	assert.Equal(t, filepath.Join(".devflow", "plans"), cfg.ResolvedPlansDir())
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Pool, cfg.Pool)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	content := `state_dir: /var/lib/devflow
plans_dir: plans
backend: sqlite
pool:
  max_concurrent: 5
  task_timeout: 90s
stuck:
  threshold: 2h
agent:
  command: my-agent
  args: [run, --json]
  non_retryable_exit_codes: [2, 64]
log:
  level: debug
  format: json
metrics:
  addr: ":9090"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/devflow", cfg.StateDir)
	assert.Equal(t, "plans", cfg.ResolvedPlansDir())
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, 5, cfg.Pool.MaxConcurrent)
	assert.Equal(t, 90*time.Second, cfg.Pool.TaskTimeout)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, DefaultConfig().Pool.MaxRetries, cfg.Pool.MaxRetries)
	assert.Equal(t, 2*time.Hour, cfg.Stuck.Threshold)
	assert.Equal(t, time.Minute, cfg.Stuck.Interval)
	assert.Equal(t, "my-agent", cfg.Agent.Command)
	assert.Equal(t, []string{"run", "--json"}, cfg.Agent.Args)
	assert.Equal(t, []int{2, 64}, cfg.Agent.NonRetryableExitCodes)
	assert.Equal(t, log.LevelDebug, cfg.Log.Level)
	assert.Equal(t, log.FormatJSON, cfg.Log.Format)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("malformed YAML", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("pool: [unclosed"), 0o644))
		_, err := Load(path)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeFileUnmarshal))
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.yaml")
		require.NoError(t, os.WriteFile(path, []byte("backend: postgres\npool:\n  max_concurrent: 0\n"), 0o644))
		_, err := Load(path)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeConfigInvalid))
		assert.Contains(t, err.Error(), "backend")
		assert.Contains(t, err.Error(), "pool.max_concurrent")
	})
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"DEVFLOW_BACKEND":             "sqlite",
		"DEVFLOW_POOL_MAX_CONCURRENT": "8",
		"DEVFLOW_STUCK_THRESHOLD":     "45m",
		"DEVFLOW_TELEMETRY_ENABLED":   "true",
		"DEVFLOW_LOG_LEVEL":           "warn",
		"DEVFLOW_AGENT_COMMAND":       " codex ",
	}))
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, 8, cfg.Pool.MaxConcurrent)
	assert.Equal(t, 45*time.Minute, cfg.Stuck.Threshold)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, log.LevelWarn, cfg.Log.Level)
	assert.Equal(t, "codex", cfg.Agent.Command)
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"DEVFLOW_POOL_MAX_CONCURRENT", "many"},
		{"DEVFLOW_STUCK_INTERVAL", "5"},
		{"DEVFLOW_TELEMETRY_ENABLED", "sure"},
		{"DEVFLOW_LOG_FORMAT", "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := DefaultConfig()
			err := cfg.ApplyEnv(envMap(map[string]string{tt.key: tt.value}))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodeConfigInvalid))
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  max_concurrent: 5\n"), 0o644))
	t.Setenv("DEVFLOW_POOL_MAX_CONCURRENT", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Pool.MaxConcurrent)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)
	cfg := DefaultConfig()
	cfg.Backend = BackendSQLite
	cfg.Stuck.Threshold = 3 * time.Hour

	require.NoError(t, Save(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "threshold: 3h0m0s")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Backend, loaded.Backend)
	assert.Equal(t, cfg.Stuck, loaded.Stuck)
	assert.Equal(t, cfg.Pool, loaded.Pool)
	assert.Equal(t, cfg.Agent, loaded.Agent)
}

func TestPoolSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pool.TaskTimeout = time.Minute
	pc := cfg.PoolSettings()
	assert.Equal(t, cfg.Pool.MaxConcurrent, pc.MaxConcurrent)
	assert.Equal(t, time.Minute, pc.TaskTimeout)
	assert.Nil(t, pc.Cache)
}

func TestEnvKeys(t *testing.T) {
	keys := EnvKeys()
	assert.Contains(t, keys, "DEVFLOW_STATE_DIR")
	assert.Contains(t, keys, "DEVFLOW_METRICS_ADDR")
	for _, k := range keys {
		assert.Regexp(t, `^DEVFLOW_[A-Z_]+$`, k)
	}
}
