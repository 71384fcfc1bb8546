// Package graph builds and validates the task dependency graph of a plan.
//
// A Graph is derived data: it is rebuilt from the task list for every
// scheduling decision and never persisted.
package graph

import (
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
)

// Node is one task as seen by the graph builder.
type Node struct {
	ID           domain.TaskID
	Dependencies []domain.TaskID
}

// Graph holds forward (task -> dependencies) and reverse
// (task -> dependents) adjacency, both in declaration order.
type Graph struct {
	ids        []domain.TaskID
	position   map[domain.TaskID]int
	deps       map[domain.TaskID][]domain.TaskID
	dependents map[domain.TaskID][]domain.TaskID
}

// Build constructs the graph and validates it. Validation is not
// fail-fast: every duplicate ID, unknown reference, self-dependency and
// cycle is collected into a single *ValidationError.
func Build(nodes []Node) (*Graph, error) {
	g := &Graph{
		ids:        make([]domain.TaskID, 0, len(nodes)),
		position:   make(map[domain.TaskID]int, len(nodes)),
		deps:       make(map[domain.TaskID][]domain.TaskID, len(nodes)),
		dependents: make(map[domain.TaskID][]domain.TaskID, len(nodes)),
	}

	var issues []Issue

	for _, n := range nodes {
		if _, dup := g.position[n.ID]; dup {
			issues = append(issues, Issue{Kind: IssueDuplicateID, Task: n.ID})
			continue
		}
		g.position[n.ID] = len(g.ids)
		g.ids = append(g.ids, n.ID)
		g.deps[n.ID] = dedupe(n.Dependencies)
	}

	// Second pass so forward references resolve.
	for _, id := range g.ids {
		for _, dep := range g.deps[id] {
			switch {
			case dep == id:
				issues = append(issues, Issue{Kind: IssueSelfDependency, Task: id, Reference: dep})
			case !g.Has(dep):
				issues = append(issues, Issue{Kind: IssueInvalidReference, Task: id, Reference: dep})
			default:
				g.dependents[dep] = append(g.dependents[dep], id)
			}
		}
	}

	for _, cycle := range g.findCycles() {
		issues = append(issues, Issue{Kind: IssueCycle, Task: cycle[0], Cycle: cycle})
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return g, nil
}

type color uint8

const (
	white color = iota
	gray
	black
)

// findCycles runs one DFS over the whole graph with shared coloring, so
// every node is expanded exactly once. Each back edge yields the path
// slice from the first occurrence of the repeated node, closed with it.
func (g *Graph) findCycles() [][]domain.TaskID {
	colors := make(map[domain.TaskID]color, len(g.ids))
	var (
		path   []domain.TaskID
		cycles [][]domain.TaskID
		visit  func(id domain.TaskID)
	)

	visit = func(id domain.TaskID) {
		colors[id] = gray
		path = append(path, id)

		for _, dep := range g.deps[id] {
			if dep == id || !g.Has(dep) {
				continue
			}
			switch colors[dep] {
			case white:
				visit(dep)
			case gray:
				start := indexOf(path, dep)
				cycle := make([]domain.TaskID, 0, len(path)-start+1)
				cycle = append(cycle, path[start:]...)
				cycle = append(cycle, dep)
				cycles = append(cycles, cycle)
			}
		}

		path = path[:len(path)-1]
		colors[id] = black
	}

	for _, id := range g.ids {
		if colors[id] == white {
			visit(id)
		}
	}
	return cycles
}

// Has reports whether id is a task in the graph.
func (g *Graph) Has(id domain.TaskID) bool {
	_, ok := g.position[id]
	return ok
}

// IDs returns all task IDs in declaration order.
func (g *Graph) IDs() []domain.TaskID {
	return append([]domain.TaskID(nil), g.ids...)
}

// Len returns the number of tasks.
func (g *Graph) Len() int {
	return len(g.ids)
}

// Position returns the declaration index of id, or -1.
func (g *Graph) Position(id domain.TaskID) int {
	if p, ok := g.position[id]; ok {
		return p
	}
	return -1
}

// Dependencies returns the tasks id waits on.
func (g *Graph) Dependencies(id domain.TaskID) []domain.TaskID {
	return append([]domain.TaskID(nil), g.deps[id]...)
}

// Dependents returns the tasks waiting on id.
func (g *Graph) Dependents(id domain.TaskID) []domain.TaskID {
	return append([]domain.TaskID(nil), g.dependents[id]...)
}

// Roots returns tasks without dependencies, in declaration order.
func (g *Graph) Roots() []domain.TaskID {
	var roots []domain.TaskID
	for _, id := range g.ids {
		if len(g.deps[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// TopologicalOrder returns every task after all of its dependencies.
// Among tasks that become available together, declaration order wins.
func (g *Graph) TopologicalOrder() []domain.TaskID {
	remaining := make(map[domain.TaskID]int, len(g.ids))
	for _, id := range g.ids {
		remaining[id] = len(g.deps[id])
	}

	ready := newPositionQueue(g)
	for _, id := range g.ids {
		if remaining[id] == 0 {
			ready.push(id)
		}
	}

	order := make([]domain.TaskID, 0, len(g.ids))
	for ready.Len() > 0 {
		id := ready.pop()
		order = append(order, id)
		for _, next := range g.dependents[id] {
			remaining[next]--
			if remaining[next] == 0 {
				ready.push(next)
			}
		}
	}
	return order
}

func dedupe(ids []domain.TaskID) []domain.TaskID {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[domain.TaskID]bool, len(ids))
	out := make([]domain.TaskID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func indexOf(path []domain.TaskID, id domain.TaskID) int {
	for i, p := range path {
		if p == id {
			return i
		}
	}
	return 0
}
