package domain

import "fmt"

// TaskStatus is the lifecycle state of a plan task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusSkipped    TaskStatus = "skipped"
)

// AllStatuses lists every status in summary order.
var AllStatuses = []TaskStatus{
	StatusPending,
	StatusInProgress,
	StatusCompleted,
	StatusFailed,
	StatusSkipped,
}

// ParseTaskStatus validates a status name.
func ParseTaskStatus(value string) (TaskStatus, error) {
	s := TaskStatus(value)
	if err := s.Validate(); err != nil {
		return "", err
	}
	return s, nil
}

// Validate checks if the status is one of the known values
func (s TaskStatus) Validate() error {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid task status %q: must be pending, in_progress, completed, failed, or skipped", string(s))
	}
}

// Satisfied reports whether dependents of a task in this status may start.
func (s TaskStatus) Satisfied() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// IsTerminal reports whether the status ends the task's lifecycle.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// String returns the string representation
func (s TaskStatus) String() string {
	return string(s)
}
