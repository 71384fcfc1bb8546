// Package health runs environment checks before work is dispatched.
//
// Each Checker verifies one thing devflow depends on: a writable state
// directory, a readable status backend, an agent command on PATH, and
// stored plans whose dependency graphs still build.
//
//	m := health.NewManager()
//	m.AddChecker(health.NewStateDirChecker(dir))
//	m.AddChecker(health.NewAgentChecker("claude"))
//	results := m.Check(ctx)
package health

import (
	"context"
	"time"
)

// Checker defines the interface for health checks.
type Checker interface {
	// Name returns the unique name of this check, lowercase with hyphens.
	Name() string

	// Check performs the check. It should respect the context deadline.
	Check(ctx context.Context) *Result
}

// Status represents the health check status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Result represents the result of a health check.
type Result struct {
	Status  Status         `json:"status" yaml:"status"`
	Message string         `json:"message" yaml:"message"`
	Details map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	Latency time.Duration  `json:"latency" yaml:"latency"`
}

// NewResult creates a new health check result with the given status and message.
func NewResult(status Status, message string) *Result {
	return &Result{
		Status:  status,
		Message: message,
		Details: make(map[string]any),
	}
}

// WithDetail adds a detail to the result and returns the result for chaining.
func (r *Result) WithDetail(key string, value any) *Result {
	r.Details[key] = value
	return r
}

// Healthy creates a healthy result with the given message.
func Healthy(message string) *Result {
	return NewResult(StatusHealthy, message)
}

// Degraded creates a degraded result with the given message.
func Degraded(message string) *Result {
	return NewResult(StatusDegraded, message)
}

// Unhealthy creates an unhealthy result with the given message.
func Unhealthy(message string) *Result {
	return NewResult(StatusUnhealthy, message)
}
