package plan

import (
	"fmt"
	"strings"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/graph"
)

// Validate checks if the Task is valid on its own.
func (t *Task) Validate() error {
	if err := t.ID.Validate(); err != nil {
		return fmt.Errorf("invalid task ID: %w", err)
	}

	if strings.TrimSpace(t.Phase) == "" {
		return fmt.Errorf("phase cannot be empty")
	}

	for i, dep := range t.Dependencies {
		if err := dep.Validate(); err != nil {
			return fmt.Errorf("dependency at index %d has invalid task ID: %w", i, err)
		}
	}

	if _, err := domain.ParsePriority(t.Priority); err != nil {
		return err
	}

	return nil
}

// Validate checks every task, then the dependency graph as a whole and the
// constraints against it. Graph problems come back as one
// *graph.ValidationError listing every issue.
func (p *Plan) Validate() error {
	if len(p.Tasks) == 0 {
		return errors.New(errors.ErrCodeGraphInvalid, "plan must have at least one task")
	}

	nodes := make([]graph.Node, len(p.Tasks))
	for i, task := range p.Tasks {
		if err := task.Validate(); err != nil {
			return errors.Wrap(errors.ErrCodeGraphInvalid,
				fmt.Sprintf("task at index %d (%s) is invalid", i, task.ID), err)
		}
		nodes[i] = graph.Node{ID: task.ID, Dependencies: task.Dependencies}
	}

	g, err := graph.Build(nodes)
	if err != nil {
		return err
	}

	return p.Constraints.Validate(g.Has)
}
