// Package analysis derives read-only planning figures from a plan status:
// the critical path and how much parallelism the remaining work allows.
package analysis

import (
	"fmt"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/graph"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
)

// NotApplicable is the speedup label when there is nothing left to run.
const NotApplicable = "N/A"

// Report is the outcome of Analyze.
type Report struct {
	// CriticalPath is the longest dependency chain, root first.
	CriticalPath []domain.TaskID `json:"criticalPath"`
	PathLength   int             `json:"pathLength"`
	// RemainingOnPath counts the critical path tasks not yet completed
	// or skipped.
	RemainingOnPath int `json:"remainingOnPath"`

	Ready        []domain.TaskID `json:"ready"`
	Blocked      []domain.TaskID `json:"blocked"`
	ReadyCount   int             `json:"readyCount"`
	BlockedCount int             `json:"blockedCount"`
	PendingCount int             `json:"pendingCount"`

	// SpeedupFactor is pending work divided by the remaining path length,
	// an upper bound on useful parallelism. Zero when Speedup is N/A.
	SpeedupFactor float64 `json:"speedupFactor"`
	Speedup       string  `json:"speedup"`
}

// Analyze computes the critical path and the ready/blocked split. When g
// is nil it is built from ps; an invalid graph yields an error.
func Analyze(ps *status.PlanStatus, g *graph.Graph) (Report, error) {
	if g == nil {
		var err error
		if g, err = ps.Graph(); err != nil {
			return Report{}, err
		}
	}

	statuses := ps.StatusOf()
	var r Report

	r.CriticalPath = CriticalPath(g)
	r.PathLength = len(r.CriticalPath)
	for _, id := range r.CriticalPath {
		if !statuses[id].Satisfied() {
			r.RemainingOnPath++
		}
	}

	for _, t := range ps.Tasks {
		if t.Status != domain.StatusPending {
			continue
		}
		r.PendingCount++
		if dependenciesMet(t, statuses) {
			r.Ready = append(r.Ready, t.ID)
		} else {
			r.Blocked = append(r.Blocked, t.ID)
		}
	}
	r.ReadyCount = len(r.Ready)
	r.BlockedCount = len(r.Blocked)

	r.SpeedupFactor, r.Speedup = speedup(r.PendingCount, r.RemainingOnPath)
	return r, nil
}

func dependenciesMet(t status.Task, statuses map[domain.TaskID]domain.TaskStatus) bool {
	for _, dep := range t.Dependencies {
		if !statuses[dep].Satisfied() {
			return false
		}
	}
	return true
}

func speedup(pending, remaining int) (float64, string) {
	if remaining == 0 && pending == 0 {
		return 0, NotApplicable
	}
	if remaining == 0 {
		remaining = 1
	}
	f := float64(pending) / float64(remaining)
	return f, fmt.Sprintf("%.1fx", f)
}

// CriticalPath returns the longest chain that starts at a root and follows
// dependents. Each task's longest tail is computed once, walking the
// topological order backwards, so shared subgraphs are never revisited.
// Ties go to the task declared first.
func CriticalPath(g *graph.Graph) []domain.TaskID {
	if g == nil || g.Len() == 0 {
		return nil
	}

	order := g.TopologicalOrder()
	length := make(map[domain.TaskID]int, len(order))
	next := make(map[domain.TaskID]domain.TaskID, len(order))

	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		best, bestNext := 0, domain.TaskID("")
		for _, d := range g.Dependents(id) {
			// Dependents come in declaration order, so strict > keeps the first.
			if l := length[d]; l > best {
				best, bestNext = l, d
			}
		}
		length[id] = best + 1
		if best > 0 {
			next[id] = bestNext
		}
	}

	var start domain.TaskID
	for _, root := range g.Roots() {
		if start == "" || length[root] > length[start] {
			start = root
		}
	}

	path := []domain.TaskID{start}
	for id := start; ; {
		n, ok := next[id]
		if !ok {
			break
		}
		path = append(path, n)
		id = n
	}
	return path
}
