package ux

import (
	"fmt"
	"strings"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
)

// ErrorWithSuggestion wraps an error with helpful recovery suggestions
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface
func (e *ErrorWithSuggestion) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%v\n\n💡 Suggestion: %s", e.Err, e.Suggestion)
	}
	return e.Err.Error()
}

// Unwrap provides access to the underlying error
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// NewErrorWithSuggestion creates a new error with a suggestion
func NewErrorWithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// EnhanceError adds a recovery suggestion to errors that don't already
// carry one. Coded errors print their own suggestions and pass through.
func EnhanceError(err error) error {
	if err == nil {
		return nil
	}

	if errors.CodeOf(err) != "" {
		return err
	}

	errMsg := err.Error()

	if strings.Contains(errMsg, "no such file or directory") {
		if strings.Contains(errMsg, "devflow.yaml") {
			return NewErrorWithSuggestion(err,
				"Create a config with 'devflow init' or pass --config")
		}
		return NewErrorWithSuggestion(err,
			"Check the path, or the --state-dir and --plans-dir flags")
	}

	if strings.Contains(errMsg, "executable file not found") {
		return NewErrorWithSuggestion(err,
			"Set agent.command in devflow.yaml to an executable on your PATH")
	}

	if strings.Contains(errMsg, "database is locked") || strings.Contains(errMsg, "SQLITE_BUSY") {
		return NewErrorWithSuggestion(err,
			"Another devflow process is writing the status database; retry once it finishes")
	}

	if strings.Contains(errMsg, "permission denied") {
		return NewErrorWithSuggestion(err,
			"Check file permissions and ensure you have access to the state directory")
	}

	if strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no route to host") {
		return NewErrorWithSuggestion(err,
			"Check telemetry.endpoint, or disable tracing with DEVFLOW_TELEMETRY_ENABLED=false")
	}

	if strings.Contains(errMsg, "address already in use") {
		return NewErrorWithSuggestion(err,
			"Pick another --metrics-addr or leave it empty to disable the metrics endpoint")
	}

	if strings.Contains(errMsg, "failed to") {
		return NewErrorWithSuggestion(err,
			fmt.Sprintf("Next steps: %s", SuggestNextSteps()))
	}

	return err
}

// FormatError provides consistent error formatting with context
func FormatError(err error, context string) error {
	if err == nil {
		return nil
	}

	enhanced := EnhanceError(err)
	if context != "" {
		return fmt.Errorf("%s: %w", context, enhanced)
	}
	return enhanced
}
