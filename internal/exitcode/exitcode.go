package exitcode

import (
	"os"
	"strings"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// InvalidPlan indicates a plan, dependency graph, constraint or config
	// that failed validation
	InvalidPlan = 3

	// NotFound indicates a missing plan, task or file
	NotFound = 4

	// Conflict indicates a rejected state transition or a concurrent writer
	Conflict = 5

	// ExecutionFailed indicates one or more tasks failed during a run
	ExecutionFailed = 6

	// Interrupted indicates the command was stopped by SIGINT or SIGTERM
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	if err == nil {
		Exit(Success)
		return
	}

	code := DetermineExitCode(err)
	Exit(code)
}

// DetermineExitCode maps an error to an exit code. Coded errors map by
// category; anything else falls back to message matching for cobra's
// usage errors.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	if code := errors.CodeOf(err); code != "" {
		return fromCode(code)
	}

	errMsg := strings.ToLower(err.Error())

	// Usage errors
	if strings.Contains(errMsg, "invalid flag") || strings.Contains(errMsg, "unknown command") {
		return UsageError
	}
	if strings.Contains(errMsg, "unknown flag") || strings.Contains(errMsg, "unknown shorthand flag") {
		return UsageError
	}
	if strings.Contains(errMsg, "required flag") || (strings.Contains(errMsg, "accepts") && strings.Contains(errMsg, "arg(s)")) {
		return UsageError
	}

	if strings.Contains(errMsg, "invalid dependency graph") {
		return InvalidPlan
	}

	// Default to general error
	return GeneralError
}

func fromCode(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodePlanNotFound, errors.ErrCodeTaskNotFound, errors.ErrCodeRunNotFound,
		errors.ErrCodeFileNotFound:
		return NotFound
	case errors.ErrCodeAlreadyInitialized, errors.ErrCodeStaleVersion, errors.ErrCodeInvalidStatus,
		errors.ErrCodeStoreLocked, errors.ErrCodeRetryExhausted:
		return Conflict
	case errors.ErrCodeAgentFailed, errors.ErrCodeAgentTimeout, errors.ErrCodeStuckTimeout,
		errors.ErrCodePoolTerminated, errors.ErrCodePoolWaitTimeout:
		return ExecutionFailed
	}

	switch {
	case strings.HasPrefix(string(code), "GRAPH-"), strings.HasPrefix(string(code), "CONFIG-"):
		return InvalidPlan
	case code == errors.ErrCodeFileUnmarshal:
		return InvalidPlan
	default:
		return GeneralError
	}
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags or arguments)"
	case InvalidPlan:
		return "Invalid plan, graph or configuration"
	case NotFound:
		return "Plan, task or file not found"
	case Conflict:
		return "Rejected transition or concurrent update"
	case ExecutionFailed:
		return "Task execution failed"
	case Interrupted:
		return "Interrupted by signal"
	default:
		return "Unknown error"
	}
}
