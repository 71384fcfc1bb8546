package domain

import (
	"fmt"
	"strings"
)

// Priority is the admission priority of work submitted to the task pool.
type Priority int

// Valid priority levels, lowest first so that larger values run earlier.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// ParsePriority parses HIGH, NORMAL or LOW, case-insensitively.
func ParsePriority(value string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "HIGH":
		return PriorityHigh, nil
	case "NORMAL", "":
		return PriorityNormal, nil
	case "LOW":
		return PriorityLow, nil
	default:
		return PriorityNormal, fmt.Errorf("invalid priority %q: must be HIGH, NORMAL, or LOW", value)
	}
}

// Validate checks if the priority is valid
func (p Priority) Validate() error {
	if p < PriorityLow || p > PriorityHigh {
		return fmt.Errorf("invalid priority %d: must be HIGH, NORMAL, or LOW", int(p))
	}
	return nil
}

// String returns the string representation
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// IsHigherThan checks if this priority is higher than another
func (p Priority) IsHigherThan(other Priority) bool {
	return p > other
}
