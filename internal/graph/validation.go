package graph

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
)

// IssueKind classifies a graph validation problem.
type IssueKind string

const (
	IssueCycle            IssueKind = "cycle"
	IssueInvalidReference IssueKind = "invalid_reference"
	IssueSelfDependency   IssueKind = "self_dependency"
	IssueDuplicateID      IssueKind = "duplicate_id"
)

// Issue is one problem found while building a graph.
type Issue struct {
	Kind IssueKind `json:"kind"`
	// Task is the offending task; for cycles, the first task on the path.
	Task domain.TaskID `json:"task"`
	// Reference is the dependency that could not be resolved.
	Reference domain.TaskID   `json:"reference,omitempty"`
	Cycle     []domain.TaskID `json:"cycle,omitempty"`
}

// Code maps the issue onto the shared error taxonomy.
func (i Issue) Code() errors.ErrorCode {
	switch i.Kind {
	case IssueCycle:
		return errors.ErrCodeGraphCycle
	case IssueInvalidReference:
		return errors.ErrCodeGraphInvalidRef
	case IssueSelfDependency:
		return errors.ErrCodeGraphSelfDependency
	case IssueDuplicateID:
		return errors.ErrCodeGraphDuplicateID
	default:
		return errors.ErrCodeGraphInvalid
	}
}

// String renders the issue for humans.
func (i Issue) String() string {
	switch i.Kind {
	case IssueCycle:
		parts := make([]string, len(i.Cycle))
		for n, id := range i.Cycle {
			parts[n] = string(id)
		}
		return "dependency cycle: " + strings.Join(parts, " -> ")
	case IssueInvalidReference:
		return fmt.Sprintf("task %s depends on unknown task %s", i.Task, i.Reference)
	case IssueSelfDependency:
		return fmt.Sprintf("task %s depends on itself", i.Task)
	case IssueDuplicateID:
		return fmt.Sprintf("task ID %s is declared more than once", i.Task)
	default:
		return fmt.Sprintf("%s: %s", i.Kind, i.Task)
	}
}

// ValidationError aggregates every issue found by Build. It is fatal to
// plan initialization and never repaired automatically.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return "invalid dependency graph: " + e.Issues[0].String()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "invalid dependency graph: %d issues", len(e.Issues))
	for _, issue := range e.Issues {
		b.WriteString("\n  - ")
		b.WriteString(issue.String())
	}
	return b.String()
}

// Unwrap exposes one coded error per issue so callers can match kinds
// with errors.Is.
func (e *ValidationError) Unwrap() []error {
	errs := make([]error, len(e.Issues))
	for i, issue := range e.Issues {
		errs[i] = errors.New(issue.Code(), issue.String())
	}
	return errs
}

// Of returns the issues of the given kind.
func (e *ValidationError) Of(kind IssueKind) []Issue {
	var out []Issue
	for _, issue := range e.Issues {
		if issue.Kind == kind {
			out = append(out, issue)
		}
	}
	return out
}

// Report is the on-disk shape of a validation result.
type Report struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

// NewReport builds a report from the result of Build.
func NewReport(err error) Report {
	var verr *ValidationError
	if stderrors.As(err, &verr) {
		return Report{Valid: false, Issues: verr.Issues}
	}
	return Report{Valid: err == nil, Issues: []Issue{}}
}

// WriteReport writes the JSON report for err to w.
func WriteReport(w io.Writer, err error) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewReport(err))
}
