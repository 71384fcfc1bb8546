package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// TaskID identifies a task within a plan.
// The canonical form is <phase>.<index> (e.g. "3.2"), but any non-blank
// token without whitespace is accepted.
type TaskID string

var (
	canonicalTaskID = regexp.MustCompile(`^(\d+)\.(\d+)$`)

	// maxTaskIDLength is the maximum allowed length for a task ID
	maxTaskIDLength = 100
)

// NewTaskID creates a new TaskID value object with validation
func NewTaskID(value string) (TaskID, error) {
	id := TaskID(value)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate checks if the task ID is valid
func (t TaskID) Validate() error {
	s := string(t)

	if s == "" {
		return fmt.Errorf("task ID cannot be empty")
	}

	if len(s) > maxTaskIDLength {
		return fmt.Errorf("task ID %q exceeds maximum length of %d characters", s, maxTaskIDLength)
	}

	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return fmt.Errorf("task ID %q cannot contain whitespace", s)
	}

	return nil
}

// IsCanonical reports whether the ID has the <phase>.<index> form.
func (t TaskID) IsCanonical() bool {
	return canonicalTaskID.MatchString(string(t))
}

// PhasePrefix returns the leading phase number of the ID, if it has one.
// "3.2" yields 3; "A" yields false.
func (t TaskID) PhasePrefix() (int, bool) {
	s := string(t)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	if end < len(s) && s[end] != '.' {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// String returns the string representation
func (t TaskID) String() string {
	return string(t)
}
