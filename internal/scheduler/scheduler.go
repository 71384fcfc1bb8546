// Package scheduler decides which plan tasks are safe to start next.
package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/constraints"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/graph"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/log"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/metrics"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
)

// PhaseCompletionThreshold is the satisfied fraction at which an earlier
// phase stops gating later phases.
const PhaseCompletionThreshold = 0.80

// Tier is the selection tier a task was surfaced from.
type Tier string

const (
	TierInProgress Tier = "in_progress"
	TierFailed     Tier = "failed"
	TierPending    Tier = "pending"
	TierNone       Tier = "none"
)

// Options tunes a single scheduling decision.
type Options struct {
	// MaxTasks caps the batch; values <= 0 mean no limit.
	MaxTasks int
	// IgnoreDeps bypasses dependency and phase checks. Unmet dependencies
	// are still reported in BlockedBy.
	IgnoreDeps bool
	// PhasePriority restricts pending output to the earliest phase that
	// has any eligible task.
	PhasePriority bool
	// SkipInProgress and SkipFailed let callers that already track their
	// own running and failed work go straight to pending tasks.
	SkipInProgress bool
	SkipFailed     bool
}

// RankedTask is one task of a batch with its scheduling context.
type RankedTask struct {
	ID           domain.TaskID     `json:"id"`
	Phase        string            `json:"phase"`
	PhaseNumber  int               `json:"phaseNumber"`
	Description  string            `json:"description"`
	Status       domain.TaskStatus `json:"status"`
	Tier         Tier              `json:"tier"`
	Dependencies []domain.TaskID   `json:"dependencies"`
	Dependents   []domain.TaskID   `json:"dependents"`
	BlockedBy    []domain.TaskID   `json:"blockedBy,omitempty"`
	Files        []string          `json:"files,omitempty"`

	ConflictsWith    []domain.TaskID `json:"conflictsWith,omitempty"`
	ConflictingFiles []string        `json:"conflictingFiles,omitempty"`
}

// SkipReasonCode enumerates why a pending task was held back.
type SkipReasonCode string

const (
	SkipReasonDepsUnmet  SkipReasonCode = "deps-unmet"
	SkipReasonPhaseGated SkipReasonCode = "phase-gated"
	SkipReasonSequential SkipReasonCode = "sequential"
	SkipReasonPhaseFocus SkipReasonCode = "phase-focus"
	SkipReasonBatchLimit SkipReasonCode = "batch-limit"
)

// SkipReason explains why a task was excluded from the batch.
type SkipReason struct {
	Reason SkipReasonCode `json:"reason"`
	Detail string         `json:"detail,omitempty"`
}

// Batch is the result of one scheduling decision.
type Batch struct {
	Tasks []RankedTask `json:"tasks"`
	Tier  Tier         `json:"tier"`
	// CrossPhaseExecution is set when the batch spans more than one phase.
	CrossPhaseExecution bool                         `json:"crossPhaseExecution"`
	ActivePhases        []int                        `json:"activePhases,omitempty"`
	Skipped             map[domain.TaskID]SkipReason `json:"skipped,omitempty"`
	ConflictPairs       int                          `json:"conflictPairs"`
}

// IDs returns the task IDs of the batch in order.
func (b Batch) IDs() []domain.TaskID {
	out := make([]domain.TaskID, len(b.Tasks))
	for i, t := range b.Tasks {
		out[i] = t.ID
	}
	return out
}

// Scheduler selects ready tasks. The zero value is usable.
type Scheduler struct {
	Logger  *log.Logger
	Metrics *metrics.Metrics
}

// Next is shorthand for a zero Scheduler's Next.
func Next(ps *status.PlanStatus, g *graph.Graph, c *constraints.Constraints, opts Options) (Batch, error) {
	return (&Scheduler{}).Next(ps, g, c, opts)
}

// Next selects the next batch. Tiers are consulted in strict order: tasks
// already in progress, then failed tasks, then eligible pending tasks. The
// first tier that yields anything forms the whole batch. A nil g is built
// from ps; a plan whose graph does not validate yields no batch.
func (s *Scheduler) Next(ps *status.PlanStatus, g *graph.Graph, c *constraints.Constraints, opts Options) (Batch, error) {
	if g == nil {
		var err error
		if g, err = ps.Graph(); err != nil {
			return Batch{Tier: TierNone}, err
		}
	}
	sel := newSelection(ps, g, c, opts)

	batch := Batch{Tier: TierNone}
	switch {
	case !opts.SkipInProgress && sel.collect(domain.StatusInProgress, TierInProgress, &batch):
	case !opts.SkipFailed && sel.collect(domain.StatusFailed, TierFailed, &batch):
	default:
		sel.collectPending(&batch)
	}

	batch.ConflictPairs = annotateConflicts(batch.Tasks)
	batch.ActivePhases = activePhases(batch.Tasks)
	batch.CrossPhaseExecution = len(batch.ActivePhases) > 1

	s.record(ps, batch)
	return batch, nil
}

func (s *Scheduler) record(ps *status.PlanStatus, batch Batch) {
	if s.Metrics != nil {
		skipped := make(map[string]int)
		for _, r := range batch.Skipped {
			skipped[string(r.Reason)]++
		}
		s.Metrics.SchedulerBatch(string(batch.Tier), len(batch.Tasks), skipped, batch.ConflictPairs)
	}
	if s.Logger != nil {
		s.Logger.Debug("ready batch selected",
			"plan", ps.PlanID,
			"tier", batch.Tier,
			"tasks", len(batch.Tasks),
			"skipped", len(batch.Skipped),
			"cross_phase", batch.CrossPhaseExecution,
		)
	}
}

type phaseStats struct {
	total     int
	satisfied int
}

func (p phaseStats) open() bool {
	if p.total == 0 || p.satisfied == p.total {
		return true
	}
	return float64(p.satisfied)/float64(p.total) >= PhaseCompletionThreshold
}

type selection struct {
	ps     *status.PlanStatus
	g      *graph.Graph
	c      *constraints.Constraints
	opts   Options
	status map[domain.TaskID]domain.TaskStatus
	phases map[int]*phaseStats
	order  []int
}

func newSelection(ps *status.PlanStatus, g *graph.Graph, c *constraints.Constraints, opts Options) *selection {
	sel := &selection{
		ps:     ps,
		g:      g,
		c:      c,
		opts:   opts,
		status: ps.StatusOf(),
		phases: make(map[int]*phaseStats),
	}
	for _, t := range ps.Tasks {
		n := t.PhaseNumber()
		st, ok := sel.phases[n]
		if !ok {
			st = &phaseStats{}
			sel.phases[n] = st
			sel.order = append(sel.order, n)
		}
		st.total++
		if t.Status.Satisfied() {
			st.satisfied++
		}
	}
	sort.Ints(sel.order)
	return sel
}

func (sel *selection) limit(n int) int {
	if sel.opts.MaxTasks > 0 && n > sel.opts.MaxTasks {
		return sel.opts.MaxTasks
	}
	return n
}

// collect fills batch with every task in st, returning false when none exist.
func (sel *selection) collect(st domain.TaskStatus, tier Tier, batch *Batch) bool {
	var picked []RankedTask
	for _, t := range sel.ps.Tasks {
		if t.Status == st {
			picked = append(picked, sel.rank(t, tier))
		}
	}
	if len(picked) == 0 {
		return false
	}
	batch.Tier = tier
	batch.Tasks = picked[:sel.limit(len(picked))]
	return true
}

func (sel *selection) collectPending(batch *Batch) {
	var candidates []RankedTask
	for _, t := range sel.ps.Tasks {
		if t.Status != domain.StatusPending {
			continue
		}

		rt := sel.rank(t, TierPending)
		unmet := sel.unmetDependencies(t)

		if !sel.opts.IgnoreDeps {
			if len(unmet) > 0 {
				batch.skip(t.ID, SkipReasonDepsUnmet, "waiting on "+joinIDs(unmet))
				continue
			}
			if gated, detail := sel.phaseGated(rt.PhaseNumber); gated {
				batch.skip(t.ID, SkipReasonPhaseGated, detail)
				continue
			}
		} else {
			rt.BlockedBy = unmet
		}

		if prev, ok := sel.c.SequentialPredecessor(t.ID); ok && !sel.status[prev].Satisfied() {
			batch.skip(t.ID, SkipReasonSequential, "runs after "+string(prev))
			continue
		}

		candidates = append(candidates, rt)
	}

	// Phase first, then declaration order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].PhaseNumber < candidates[j].PhaseNumber
	})

	if sel.opts.PhasePriority && len(candidates) > 0 {
		focus := candidates[0].PhaseNumber
		kept := candidates[:0]
		for _, rt := range candidates {
			if rt.PhaseNumber == focus {
				kept = append(kept, rt)
			} else {
				batch.skip(rt.ID, SkipReasonPhaseFocus, fmt.Sprintf("focusing on phase %d", focus))
			}
		}
		candidates = kept
	}

	n := sel.limit(len(candidates))
	for _, rt := range candidates[n:] {
		batch.skip(rt.ID, SkipReasonBatchLimit, fmt.Sprintf("batch limited to %d tasks", sel.opts.MaxTasks))
	}
	batch.Tasks = candidates[:n]
	if n > 0 {
		batch.Tier = TierPending
	}
}

func (sel *selection) unmetDependencies(t status.Task) []domain.TaskID {
	var unmet []domain.TaskID
	for _, dep := range t.Dependencies {
		if !sel.status[dep].Satisfied() {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

// phaseGated reports whether an earlier, insufficiently complete phase
// holds back phase p.
func (sel *selection) phaseGated(p int) (bool, string) {
	for _, trigger := range sel.c.PipelineTriggers(p) {
		if sel.status[trigger] == domain.StatusCompleted {
			return false, ""
		}
	}

	for _, q := range sel.order {
		if q >= p {
			break
		}
		st := sel.phases[q]
		if st.open() || sel.c.ArePhasesParallel(q, p) {
			continue
		}
		pct := float64(st.satisfied) * 100 / float64(st.total)
		return true, fmt.Sprintf("phase %d is %.0f%% complete (needs %.0f%%)", q, pct, PhaseCompletionThreshold*100)
	}
	return false, ""
}

func (sel *selection) rank(t status.Task, tier Tier) RankedTask {
	rt := RankedTask{
		ID:           t.ID,
		Phase:        t.Phase,
		PhaseNumber:  t.PhaseNumber(),
		Description:  t.Description,
		Status:       t.Status,
		Tier:         tier,
		Dependencies: append([]domain.TaskID(nil), t.Dependencies...),
		Files:        taskFiles(t.Description, t.Files),
	}
	if sel.g != nil {
		rt.Dependents = sel.g.Dependents(t.ID)
	}
	return rt
}

func (b *Batch) skip(id domain.TaskID, code SkipReasonCode, detail string) {
	if b.Skipped == nil {
		b.Skipped = make(map[domain.TaskID]SkipReason)
	}
	b.Skipped[id] = SkipReason{Reason: code, Detail: detail}
}

func activePhases(tasks []RankedTask) []int {
	seen := make(map[int]bool)
	var out []int
	for _, t := range tasks {
		if !seen[t.PhaseNumber] {
			seen[t.PhaseNumber] = true
			out = append(out, t.PhaseNumber)
		}
	}
	sort.Ints(out)
	return out
}

func joinIDs(ids []domain.TaskID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}
