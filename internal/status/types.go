// Package status is the durable, crash-recoverable record of a plan's task
// states. Every mutation rewrites the whole per-plan aggregate.
package status

import (
	"time"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/graph"
)

// FailureKind tells an agent that reported failure apart from one that
// never answered.
type FailureKind string

const (
	FailureNone         FailureKind = ""
	FailureError        FailureKind = "error"
	FailureStuckTimeout FailureKind = "stuck_timeout"
)

// Task is one unit of work in a plan. Dependents are derived from the
// graph and never stored.
type Task struct {
	ID           domain.TaskID     `json:"id"`
	Phase        string            `json:"phase"`
	Description  string            `json:"description"`
	Status       domain.TaskStatus `json:"status"`
	Dependencies []domain.TaskID   `json:"dependencies"`
	Files        []string          `json:"files,omitempty"`

	RetryCount  int         `json:"retryCount"`
	LastError   string      `json:"lastError,omitempty"`
	FailureKind FailureKind `json:"failureKind,omitempty"`
	Notes       string      `json:"notes,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	FindingsRef string      `json:"findingsRef,omitempty"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	FailedAt    *time.Time `json:"failedAt,omitempty"`
}

// PhaseNumber returns the numeric phase the task belongs to.
func (t Task) PhaseNumber() int {
	return domain.PhaseNumber(t.Phase, t.ID)
}

// Summary holds the per-status counters of a plan.
type Summary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Count returns the counter for s.
func (s Summary) Count(st domain.TaskStatus) int {
	switch st {
	case domain.StatusPending:
		return s.Pending
	case domain.StatusInProgress:
		return s.InProgress
	case domain.StatusCompleted:
		return s.Completed
	case domain.StatusFailed:
		return s.Failed
	case domain.StatusSkipped:
		return s.Skipped
	default:
		return 0
	}
}

// Recount derives a summary from the task list.
func Recount(tasks []Task) Summary {
	s := Summary{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case domain.StatusPending:
			s.Pending++
		case domain.StatusInProgress:
			s.InProgress++
		case domain.StatusCompleted:
			s.Completed++
		case domain.StatusFailed:
			s.Failed++
		case domain.StatusSkipped:
			s.Skipped++
		}
	}
	return s
}

// Run is one orchestrator execution, kept for reporting only.
type Run struct {
	RunID          string     `json:"runId"`
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	CompletedCount int        `json:"completedCount"`
	FailedCount    int        `json:"failedCount"`
}

// PlanStatus is the root aggregate for one plan.
type PlanStatus struct {
	PlanID string `json:"planId"`
	// Version increments on every persisted write; backends reject writes
	// whose expected version is stale.
	Version       int64     `json:"version"`
	Tasks         []Task    `json:"tasks"`
	Summary       Summary   `json:"summary"`
	CurrentPhase  string    `json:"currentPhase"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
	Runs          []Run     `json:"runs"`
}

// Task returns the task with the given ID.
func (ps *PlanStatus) Task(id domain.TaskID) (Task, bool) {
	if i := ps.indexOf(id); i >= 0 {
		return ps.Tasks[i], true
	}
	return Task{}, false
}

func (ps *PlanStatus) indexOf(id domain.TaskID) int {
	for i := range ps.Tasks {
		if ps.Tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// StatusOf returns a lookup of task ID to status.
func (ps *PlanStatus) StatusOf() map[domain.TaskID]domain.TaskStatus {
	out := make(map[domain.TaskID]domain.TaskStatus, len(ps.Tasks))
	for _, t := range ps.Tasks {
		out[t.ID] = t.Status
	}
	return out
}

// Nodes converts the task list into graph input.
func (ps *PlanStatus) Nodes() []graph.Node {
	nodes := make([]graph.Node, len(ps.Tasks))
	for i, t := range ps.Tasks {
		nodes[i] = graph.Node{ID: t.ID, Dependencies: t.Dependencies}
	}
	return nodes
}

// Graph builds a fresh dependency graph from the task list.
func (ps *PlanStatus) Graph() (*graph.Graph, error) {
	return graph.Build(ps.Nodes())
}

// TasksByStatus returns the tasks in s, in declaration order.
func (ps *PlanStatus) TasksByStatus(s domain.TaskStatus) []Task {
	var out []Task
	for _, t := range ps.Tasks {
		if t.Status == s {
			out = append(out, t)
		}
	}
	return out
}

// Progress is a coarse completion figure for display.
type Progress struct {
	Total   int     `json:"total"`
	Done    int     `json:"done"`
	Percent float64 `json:"percent"`
}

// Progress counts completed and skipped tasks as done.
func (ps *PlanStatus) Progress() Progress {
	s := Recount(ps.Tasks)
	p := Progress{Total: s.Total, Done: s.Completed + s.Skipped}
	if p.Total > 0 {
		p.Percent = float64(p.Done) * 100 / float64(p.Total)
	}
	return p
}

// Clone returns a deep copy so callers can't mutate stored state.
func (ps *PlanStatus) Clone() *PlanStatus {
	if ps == nil {
		return nil
	}
	out := *ps
	out.Tasks = make([]Task, len(ps.Tasks))
	for i, t := range ps.Tasks {
		t.Dependencies = append([]domain.TaskID(nil), t.Dependencies...)
		t.Files = append([]string(nil), t.Files...)
		t.StartedAt = cloneTime(t.StartedAt)
		t.CompletedAt = cloneTime(t.CompletedAt)
		t.FailedAt = cloneTime(t.FailedAt)
		out.Tasks[i] = t
	}
	out.Runs = make([]Run, len(ps.Runs))
	for i, r := range ps.Runs {
		r.CompletedAt = cloneTime(r.CompletedAt)
		out.Runs[i] = r
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// currentPhase is the label of the lowest-numbered phase that still has
// unsatisfied work, or the last phase once everything is done.
func currentPhase(tasks []Task) string {
	best, bestLabel := -1, ""
	last, lastLabel := -1, ""
	for _, t := range tasks {
		n := t.PhaseNumber()
		if n >= last {
			last, lastLabel = n, t.Phase
		}
		if t.Status.Satisfied() {
			continue
		}
		if best == -1 || n < best {
			best, bestLabel = n, t.Phase
		}
	}
	if best == -1 {
		return lastLabel
	}
	return bestLabel
}

// Extras are the optional fields merged into a task on a transition.
// Empty fields leave the stored value untouched.
type Extras struct {
	Notes       string
	Error       string
	Reason      string
	FindingsRef string
	FailureKind FailureKind
	// CountRetry increments the retry counter as part of the transition.
	CountRetry bool
}

// Seed is one task of an external plan description, used once to
// initialize a plan.
type Seed struct {
	ID           domain.TaskID   `json:"id" yaml:"id"`
	Phase        string          `json:"phase" yaml:"phase"`
	Description  string          `json:"description" yaml:"description"`
	Dependencies []domain.TaskID `json:"dependencies" yaml:"dependencies"`
	Files        []string        `json:"files,omitempty" yaml:"files,omitempty"`
}

// SummaryIssue is one counter that disagreed with a recount.
type SummaryIssue struct {
	Field    string `json:"field"`
	Recorded int    `json:"recorded"`
	Actual   int    `json:"actual"`
}

func diffSummary(recorded, actual Summary) []SummaryIssue {
	pairs := []struct {
		field string
		r, a  int
	}{
		{"total", recorded.Total, actual.Total},
		{"pending", recorded.Pending, actual.Pending},
		{"inProgress", recorded.InProgress, actual.InProgress},
		{"completed", recorded.Completed, actual.Completed},
		{"failed", recorded.Failed, actual.Failed},
		{"skipped", recorded.Skipped, actual.Skipped},
	}
	var issues []SummaryIssue
	for _, p := range pairs {
		if p.r != p.a {
			issues = append(issues, SummaryIssue{Field: p.field, Recorded: p.r, Actual: p.a})
		}
	}
	return issues
}
