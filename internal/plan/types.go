// Package plan reads plan descriptions: the phased task list a plan's
// status is initialized from, plus optional scheduling constraints.
package plan

import (
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/constraints"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
)

// Plan is a plan description as written by its author.
type Plan struct {
	ID          string                   `json:"id" yaml:"id"`
	Title       string                   `json:"title,omitempty" yaml:"title,omitempty"`
	Tasks       []Task                   `json:"tasks" yaml:"tasks"`
	Constraints *constraints.Constraints `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// Task is a single unit of work in the plan.
type Task struct {
	ID           domain.TaskID   `json:"id" yaml:"id"`
	Phase        string          `json:"phase" yaml:"phase"`
	Description  string          `json:"description" yaml:"description"`
	Dependencies []domain.TaskID `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Files        []string        `json:"files,omitempty" yaml:"files,omitempty"`
	// Priority is the pool admission priority: HIGH, NORMAL (default) or LOW.
	Priority string `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// Seeds converts the task list into status seeds.
func (p *Plan) Seeds() []status.Seed {
	seeds := make([]status.Seed, len(p.Tasks))
	for i, t := range p.Tasks {
		seeds[i] = status.Seed{
			ID:           t.ID,
			Phase:        t.Phase,
			Description:  t.Description,
			Dependencies: append([]domain.TaskID(nil), t.Dependencies...),
			Files:        append([]string(nil), t.Files...),
		}
	}
	return seeds
}

// Priorities maps task IDs to their parsed priority. Validate has already
// rejected unknown values, so parse errors fall back to NORMAL.
func (p *Plan) Priorities() map[domain.TaskID]domain.Priority {
	out := make(map[domain.TaskID]domain.Priority, len(p.Tasks))
	for _, t := range p.Tasks {
		pr, err := domain.ParsePriority(t.Priority)
		if err != nil {
			pr = domain.PriorityNormal
		}
		out[t.ID] = pr
	}
	return out
}
