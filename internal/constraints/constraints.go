// Package constraints holds plan-level scheduling overrides: sequential
// groups, parallel phase groups and pipeline-start triggers.
package constraints

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
)

// Pipeline unlocks Phase as soon as Trigger completes, without waiting
// for the rest of the earlier phases.
type Pipeline struct {
	Phase   int           `yaml:"phase" json:"phase"`
	Trigger domain.TaskID `yaml:"trigger" json:"trigger"`
}

// Constraints is the parsed constraint metadata of a plan. A nil
// *Constraints imposes nothing.
type Constraints struct {
	// Sequential groups run strictly in the listed order.
	Sequential [][]domain.TaskID `yaml:"sequential" json:"sequential"`
	// Parallel groups list phase numbers allowed to overlap.
	Parallel  [][]int    `yaml:"parallel" json:"parallel"`
	Pipelines []Pipeline `yaml:"pipelines" json:"pipelines"`
}

// Load reads constraints from a YAML file.
func Load(path string) (*Constraints, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFoundError(path)
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("failed to read constraints file %s", path), err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, errors.NewFileUnmarshalError(path, "YAML", err)
	}
	return c, nil
}

// Parse decodes constraints from YAML.
func Parse(data []byte) (*Constraints, error) {
	var c Constraints
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks constraint references against the plan's task IDs.
func (c *Constraints) Validate(known func(domain.TaskID) bool) error {
	if c == nil {
		return nil
	}

	seen := make(map[domain.TaskID]int)
	for gi, group := range c.Sequential {
		for _, id := range group {
			if !known(id) {
				return invalid("sequential group %d references unknown task %s", gi, id)
			}
			if prev, dup := seen[id]; dup {
				return invalid("task %s appears in sequential groups %d and %d", id, prev, gi)
			}
			seen[id] = gi
		}
	}

	for gi, group := range c.Parallel {
		if len(group) < 2 {
			return invalid("parallel group %d needs at least two phases", gi)
		}
	}

	for _, p := range c.Pipelines {
		if !known(p.Trigger) {
			return invalid("pipeline for phase %d references unknown trigger task %s", p.Phase, p.Trigger)
		}
		if n, ok := p.Trigger.PhasePrefix(); ok && n >= p.Phase {
			return invalid("pipeline trigger %s must belong to a phase before %d", p.Trigger, p.Phase)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.New(errors.ErrCodeConstraintInvalid, fmt.Sprintf(format, args...)).
		WithSuggestion("Check the task IDs and phase numbers in the constraints file")
}

// ArePhasesParallel reports whether phases a and b share a parallel group.
func (c *Constraints) ArePhasesParallel(a, b int) bool {
	if c == nil {
		return false
	}
	for _, group := range c.Parallel {
		hasA, hasB := false, false
		for _, p := range group {
			hasA = hasA || p == a
			hasB = hasB || p == b
		}
		if hasA && hasB {
			return true
		}
	}
	return false
}

// PipelineTriggers returns the tasks whose completion unlocks phase.
func (c *Constraints) PipelineTriggers(phase int) []domain.TaskID {
	if c == nil {
		return nil
	}
	var out []domain.TaskID
	for _, p := range c.Pipelines {
		if p.Phase == phase {
			out = append(out, p.Trigger)
		}
	}
	return out
}

// SequentialPredecessor returns the task that must finish before id
// according to its sequential group.
func (c *Constraints) SequentialPredecessor(id domain.TaskID) (domain.TaskID, bool) {
	if c == nil {
		return "", false
	}
	for _, group := range c.Sequential {
		for i, member := range group {
			if member == id {
				if i == 0 {
					return "", false
				}
				return group[i-1], true
			}
		}
	}
	return "", false
}
