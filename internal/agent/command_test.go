package agent

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/log"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/pool"
)

func shell(t *testing.T, script string) *CommandInvoker {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	inv, err := NewCommandInvoker("sh", "-c", script)
	require.NoError(t, err)
	inv.Logger = log.Discard()
	return inv
}

var req = Request{
	PlanID:      "roadmap",
	TaskID:      "2.1",
	Phase:       "Phase 2: API",
	Description: "Add handlers in api/handlers.go",
	Files:       []string{"api/handlers.go"},
	Attempt:     1,
}

func TestCommandInvokerSuccess(t *testing.T) {
	inv := shell(t, "cat")

	resp, err := inv.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Zero(t, resp.ExitCode)
	assert.Contains(t, resp.Output, "task 2.1 of plan roadmap")
	assert.Contains(t, resp.Output, "- api/handlers.go")
}

func TestCommandInvokerFailures(t *testing.T) {
	tests := []struct {
		name          string
		script        string
		nonRetryable  []int
		wantPermanent bool
		wantError     string
	}{
		{
			name:      "exit code with stderr",
			script:    "echo 'rate limited' >&2; exit 3",
			wantError: "rate limited",
		},
		{
			name:          "non-retryable exit code",
			script:        "exit 4",
			nonRetryable:  []int{4},
			wantPermanent: true,
			wantError:     "exited with code 4",
		},
		{
			name:      "structured failure",
			script:    `echo '{"success": false, "output": "partial", "error": "tests failed"}'`,
			wantError: "tests failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := shell(t, tt.script)
			inv.NonRetryableExitCodes = tt.nonRetryable

			resp, err := inv.Invoke(context.Background(), req)
			require.Error(t, err)
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Error, tt.wantError)
			assert.Equal(t, tt.wantPermanent, pool.IsPermanent(err))
			assert.True(t, errors.HasCode(err, errors.ErrCodeAgentFailed))
		})
	}
}

func TestCommandInvokerStructuredSuccess(t *testing.T) {
	inv := shell(t, `echo '{"success": true, "output": "all done"}'`)

	resp, err := inv.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "all done", resp.Output)
}

func TestCommandInvokerTimeout(t *testing.T) {
	inv := shell(t, "exec sleep 5")
	inv.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := inv.Invoke(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeAgentTimeout))
	assert.False(t, pool.IsPermanent(err))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestNewCommandInvokerMissingCommand(t *testing.T) {
	_, err := NewCommandInvoker("devflow-no-such-agent")
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigInvalid))
}

func TestBuildPromptRetry(t *testing.T) {
	retry := req
	retry.Attempt = 2
	retry.LastError = "compile error"

	prompt, err := BuildPrompt(retry)
	require.NoError(t, err)
	assert.Contains(t, prompt, "This is attempt 2.")
	assert.Contains(t, prompt, "compile error")

	first, err := BuildPrompt(req)
	require.NoError(t, err)
	assert.NotContains(t, first, "attempt")
}
