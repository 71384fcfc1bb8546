// Package agent is the boundary to the external long-running agent that
// carries out a task.
package agent

import (
	"context"
	"time"
)

// Request describes one task handed to an agent.
type Request struct {
	PlanID      string   `json:"planId"`
	TaskID      string   `json:"taskId"`
	Phase       string   `json:"phase"`
	Description string   `json:"description"`
	Files       []string `json:"files,omitempty"`
	// Attempt starts at 1.
	Attempt int `json:"attempt"`
	// LastError is the previous failure, if this is a retry.
	LastError string `json:"lastError,omitempty"`
}

// Response is what the agent reported back.
type Response struct {
	Success  bool          `json:"success"`
	Output   string        `json:"output"`
	Error    string        `json:"error,omitempty"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
}

// Invoker runs a task through an agent. A returned error means the
// invocation itself broke; a Response with Success false means the agent
// ran and reported failure.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) (Response, error)

func (f InvokerFunc) Invoke(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
