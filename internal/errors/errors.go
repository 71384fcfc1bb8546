package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Graph validation errors (GRAPH-001 to GRAPH-099)
	ErrCodeGraphCycle          ErrorCode = "GRAPH-001"
	ErrCodeGraphInvalidRef     ErrorCode = "GRAPH-002"
	ErrCodeGraphSelfDependency ErrorCode = "GRAPH-003"
	ErrCodeGraphDuplicateID    ErrorCode = "GRAPH-004"
	ErrCodeGraphInvalid        ErrorCode = "GRAPH-005"

	// Status store errors (STATUS-001 to STATUS-099)
	ErrCodePlanNotFound       ErrorCode = "STATUS-001"
	ErrCodeTaskNotFound       ErrorCode = "STATUS-002"
	ErrCodeAlreadyInitialized ErrorCode = "STATUS-003"
	ErrCodeStaleVersion       ErrorCode = "STATUS-004"
	ErrCodeInvalidStatus      ErrorCode = "STATUS-005"
	ErrCodeStoreLocked        ErrorCode = "STATUS-006"
	ErrCodeRunNotFound        ErrorCode = "STATUS-007"

	// Pool errors (POOL-001 to POOL-099)
	ErrCodePoolClosed      ErrorCode = "POOL-001"
	ErrCodePoolWaitTimeout ErrorCode = "POOL-002"
	ErrCodePoolTerminated  ErrorCode = "POOL-003"
	ErrCodePoolTaskInvalid ErrorCode = "POOL-004"

	// Stuck-task errors (STUCK-001 to STUCK-099)
	ErrCodeStuckTimeout   ErrorCode = "STUCK-001"
	ErrCodeRetryExhausted ErrorCode = "STUCK-002"

	// Agent errors (AGENT-001 to AGENT-099)
	ErrCodeAgentFailed  ErrorCode = "AGENT-001"
	ErrCodeAgentTimeout ErrorCode = "AGENT-002"

	// Configuration errors (CONFIG-001 to CONFIG-099)
	ErrCodeConfigInvalid     ErrorCode = "CONFIG-001"
	ErrCodeConstraintInvalid ErrorCode = "CONFIG-002"

	// File I/O errors (IO-001 to IO-099)
	ErrCodeFileNotFound    ErrorCode = "IO-001"
	ErrCodeFileReadFailed  ErrorCode = "IO-002"
	ErrCodeFileWriteFailed ErrorCode = "IO-003"
	ErrCodeDirectoryFailed ErrorCode = "IO-004"
	ErrCodeFileUnmarshal   ErrorCode = "IO-005"
	ErrCodeFileMarshal     ErrorCode = "IO-006"
)

// WorkflowError represents an enhanced error with code, suggestions, and documentation
type WorkflowError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	DocsURL     string
	Cause       error
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(": %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  • %s", suggestion))
		}
	}

	if e.DocsURL != "" {
		b.WriteString(fmt.Sprintf("\n\nDocumentation: %s", e.DocsURL))
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *WorkflowError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a WorkflowError carrying the same code.
// This lets package-level sentinels match errors that carry extra context.
func (e *WorkflowError) Is(target error) bool {
	t, ok := target.(*WorkflowError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates a new WorkflowError
func New(code ErrorCode, message string) *WorkflowError {
	return &WorkflowError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new WorkflowError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *WorkflowError {
	return &WorkflowError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *WorkflowError) WithSuggestion(suggestion string) *WorkflowError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *WorkflowError) WithSuggestions(suggestions ...string) *WorkflowError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDocs adds a documentation URL to the error
func (e *WorkflowError) WithDocs(url string) *WorkflowError {
	e.DocsURL = url
	return e
}

// CodeOf returns the code of the first WorkflowError in err's chain, or ""
func CodeOf(err error) ErrorCode {
	var wfErr *WorkflowError
	if errors.As(err, &wfErr) {
		return wfErr.Code
	}
	return ""
}

// HasCode reports whether any WorkflowError in err's chain carries code
func HasCode(err error, code ErrorCode) bool {
	return errors.Is(err, &WorkflowError{Code: code})
}

// Common error constructors for frequently used errors

// NewPlanNotFoundError creates a plan status not found error
func NewPlanNotFoundError(planID string) *WorkflowError {
	return New(ErrCodePlanNotFound, fmt.Sprintf("no status recorded for plan: %s", planID)).
		WithSuggestion("Run 'devflow init --plan <plan-file>' to initialize the plan").
		WithSuggestion("Check the --state-dir and --plan-id flags")
}

// NewTaskNotFoundError creates a task not found error
func NewTaskNotFoundError(planID, taskID string) *WorkflowError {
	return New(ErrCodeTaskNotFound, fmt.Sprintf("task %s not found in plan %s", taskID, planID)).
		WithSuggestion("Run 'devflow ready --all' to list task IDs")
}

// NewAlreadyInitializedError creates an error for re-initializing an existing plan
func NewAlreadyInitializedError(planID string) *WorkflowError {
	return New(ErrCodeAlreadyInitialized, fmt.Sprintf("plan %s is already initialized", planID)).
		WithSuggestion("Plan re-initialization does not merge; remove the status record to start over")
}

// NewStaleVersionError creates an optimistic concurrency conflict error
func NewStaleVersionError(planID string, expected, actual int64) *WorkflowError {
	return New(ErrCodeStaleVersion,
		fmt.Sprintf("status for plan %s changed concurrently (expected version %d, found %d)", planID, expected, actual)).
		WithSuggestion("Reload the plan status and retry the update").
		WithSuggestion("Make sure only one orchestrator writes to this plan at a time")
}

// NewStuckTimeoutError creates the synthetic error recorded for stuck tasks
func NewStuckTimeoutError(taskID, age, threshold string) *WorkflowError {
	return New(ErrCodeStuckTimeout,
		fmt.Sprintf("task %s made no progress for %s (threshold %s); the agent never responded", taskID, age, threshold))
}

// NewFileNotFoundError creates a file not found error
func NewFileNotFoundError(path string) *WorkflowError {
	return New(ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path)).
		WithSuggestion("Check if the file path is correct").
		WithSuggestion("Verify the file exists and you have read permissions")
}

// NewFileUnmarshalError creates an unmarshal error
func NewFileUnmarshalError(path string, format string, cause error) *WorkflowError {
	return Wrap(ErrCodeFileUnmarshal, fmt.Sprintf("failed to parse %s file: %s", format, path), cause).
		WithSuggestion("Check the file syntax and format").
		WithSuggestion(fmt.Sprintf("Ensure the file is valid %s", format))
}
