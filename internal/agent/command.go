package agent

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/log"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/pool"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/telemetry"
)

const (
	// maxErrorTail bounds how much stderr is kept in a failure message.
	maxErrorTail = 2048
	// waitDelay bounds how long a killed agent's children may hold its
	// output pipes open.
	waitDelay = 500 * time.Millisecond
)

// CommandInvoker runs an external command per task, writing the prompt to
// its stdin. Stdout is the agent's output; when it is a JSON object with a
// "success" field it is decoded as a Response.
type CommandInvoker struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	// Timeout bounds one invocation; zero means no limit.
	Timeout time.Duration
	// NonRetryableExitCodes are exit codes that fail the task for good.
	NonRetryableExitCodes []int
	Logger                *log.Logger
}

// NewCommandInvoker verifies command exists on PATH.
func NewCommandInvoker(command string, args ...string) (*CommandInvoker, error) {
	if _, err := exec.LookPath(command); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "agent command not found: "+command, err).
			WithSuggestion("Set agent.command in devflow.yaml to an executable on PATH")
	}
	return &CommandInvoker{Command: command, Args: args}, nil
}

// Invoke runs the command once.
func (c *CommandInvoker) Invoke(ctx context.Context, req Request) (Response, error) {
	logger := log.OrDefault(c.Logger).WithComponent("agent")

	ctx, span := telemetry.StartAgentSpan(ctx, c.Command, req.TaskID)
	defer span.End()

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	prompt, err := BuildPrompt(req)
	if err != nil {
		return Response{}, pool.Permanent(err)
	}

	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = waitDelay
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	resp := Response{Duration: time.Since(start)}
	telemetry.RecordDuration(span, "agent", resp.Duration)

	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		err := errors.New(errors.ErrCodeAgentTimeout,
			fmt.Sprintf("agent did not finish task %s within %s", req.TaskID, c.Timeout))
		telemetry.RecordError(span, err)
		return resp, err
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case stderrors.As(runErr, &exitErr):
		resp.ExitCode = exitErr.ExitCode()
	default:
		telemetry.RecordError(span, runErr)
		return resp, errors.Wrap(errors.ErrCodeAgentFailed, "failed to run agent", runErr)
	}

	resp.Output = stdout.String()
	resp.Success = resp.ExitCode == 0
	if resp.ExitCode != 0 {
		resp.Error = tail(stderr.String(), maxErrorTail)
		if resp.Error == "" {
			resp.Error = fmt.Sprintf("agent exited with code %d", resp.ExitCode)
		}
	}
	decodeStructured(&resp)

	logger.DebugContext(ctx, "agent finished",
		"task", req.TaskID,
		"attempt", req.Attempt,
		"exit_code", resp.ExitCode,
		"success", resp.Success,
		"duration", resp.Duration,
	)

	if !resp.Success {
		err := c.failure(req, resp)
		telemetry.RecordError(span, err)
		return resp, err
	}
	telemetry.RecordSuccess(span)
	return resp, nil
}

func (c *CommandInvoker) failure(req Request, resp Response) error {
	err := errors.New(errors.ErrCodeAgentFailed,
		fmt.Sprintf("agent reported failure for task %s: %s", req.TaskID, resp.Error))
	for _, code := range c.NonRetryableExitCodes {
		if resp.ExitCode == code {
			return pool.Permanent(err)
		}
	}
	return err
}

// decodeStructured replaces the raw output with the agent's own verdict
// when stdout is a JSON response object.
func decodeStructured(resp *Response) {
	trimmed := strings.TrimSpace(resp.Output)
	if !strings.HasPrefix(trimmed, "{") {
		return
	}
	var structured struct {
		Success *bool  `json:"success"`
		Output  string `json:"output"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(trimmed), &structured); err != nil || structured.Success == nil {
		return
	}
	resp.Output = structured.Output
	if !*structured.Success {
		resp.Success = false
		if structured.Error != "" {
			resp.Error = structured.Error
		} else if resp.Error == "" {
			resp.Error = "agent reported failure"
		}
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
