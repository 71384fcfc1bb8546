package scheduler

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/constraints"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/metrics"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
)

func task(id, phase string, st domain.TaskStatus, deps ...domain.TaskID) status.Task {
	return status.Task{ID: domain.TaskID(id), Phase: phase, Status: st, Dependencies: deps}
}

func plan(tasks ...status.Task) *status.PlanStatus {
	return &status.PlanStatus{PlanID: "test", Tasks: tasks}
}

func next(t *testing.T, ps *status.PlanStatus, c *constraints.Constraints, opts Options) Batch {
	t.Helper()
	g, err := ps.Graph()
	require.NoError(t, err)
	b, err := Next(ps, g, c, opts)
	require.NoError(t, err)
	return b
}

func TestDiamondReadiness(t *testing.T) {
	ps := plan(
		task("A", "1", domain.StatusCompleted),
		task("B", "1", domain.StatusCompleted, "A"),
		task("C", "1", domain.StatusPending, "A"),
		task("D", "1", domain.StatusPending, "B", "C"),
	)

	b := next(t, ps, nil, Options{})
	assert.Equal(t, []domain.TaskID{"C"}, b.IDs())
	assert.Equal(t, SkipReasonDepsUnmet, b.Skipped["D"].Reason)
	assert.Equal(t, "waiting on C", b.Skipped["D"].Detail)

	ps.Tasks[2].Status = domain.StatusCompleted
	b = next(t, ps, nil, Options{})
	assert.Equal(t, []domain.TaskID{"D"}, b.IDs())
	assert.Equal(t, []domain.TaskID{"B", "C"}, b.Tasks[0].Dependencies)
	assert.Empty(t, b.Skipped)
}

func TestDiamondSkippedCountsAsSatisfied(t *testing.T) {
	ps := plan(
		task("A", "1", domain.StatusCompleted),
		task("B", "1", domain.StatusSkipped, "A"),
		task("C", "1", domain.StatusCompleted, "A"),
		task("D", "1", domain.StatusPending, "B", "C"),
	)
	assert.Equal(t, []domain.TaskID{"D"}, next(t, ps, nil, Options{}).IDs())
}

func TestPriorityTiers(t *testing.T) {
	ps := plan(
		task("1.1", "1", domain.StatusPending),
		task("1.2", "1", domain.StatusPending),
		task("1.3", "1", domain.StatusInProgress),
		task("1.4", "1", domain.StatusPending),
		task("1.5", "1", domain.StatusPending),
		task("1.6", "1", domain.StatusPending),
	)

	b := next(t, ps, nil, Options{MaxTasks: 3})
	assert.Equal(t, []domain.TaskID{"1.3"}, b.IDs())
	assert.Equal(t, TierInProgress, b.Tier)

	// Failed work is surfaced before any pending task.
	ps.Tasks[2].Status = domain.StatusFailed
	b = next(t, ps, nil, Options{MaxTasks: 3})
	assert.Equal(t, []domain.TaskID{"1.3"}, b.IDs())
	assert.Equal(t, TierFailed, b.Tier)

	b = next(t, ps, nil, Options{MaxTasks: 3, SkipInProgress: true, SkipFailed: true})
	assert.Equal(t, []domain.TaskID{"1.1", "1.2", "1.4"}, b.IDs())
	assert.Equal(t, TierPending, b.Tier)
	assert.Equal(t, SkipReasonBatchLimit, b.Skipped["1.5"].Reason)
	assert.Equal(t, SkipReasonBatchLimit, b.Skipped["1.6"].Reason)
}

func TestTierCapsAtMaxTasks(t *testing.T) {
	ps := plan(
		task("1.1", "1", domain.StatusInProgress),
		task("1.2", "1", domain.StatusInProgress),
		task("1.3", "1", domain.StatusInProgress),
	)
	assert.Len(t, next(t, ps, nil, Options{MaxTasks: 2}).Tasks, 2)
	assert.Len(t, next(t, ps, nil, Options{}).Tasks, 3)
}

func TestEmptyBatch(t *testing.T) {
	ps := plan(task("1.1", "1", domain.StatusCompleted))
	b := next(t, ps, nil, Options{})
	assert.Empty(t, b.Tasks)
	assert.Equal(t, TierNone, b.Tier)
	assert.False(t, b.CrossPhaseExecution)
}

func phasedPlan(phase1Done int) *status.PlanStatus {
	var tasks []status.Task
	for i := 1; i <= 10; i++ {
		st := domain.StatusPending
		if i <= phase1Done {
			st = domain.StatusCompleted
		}
		tasks = append(tasks, task("1."+string(rune('0'+i%10)), "Phase 1", st))
	}
	tasks = append(tasks, task("2.1", "Phase 2", domain.StatusPending))
	return plan(tasks...)
}

func TestPhaseGating(t *testing.T) {
	tests := []struct {
		name      string
		done      int
		wantPhase bool
	}{
		{"phase one barely started", 2, false},
		{"just under threshold", 7, false},
		{"at threshold", 8, true},
		{"complete", 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := phasedPlan(tt.done)
			b := next(t, ps, nil, Options{})
			assert.Equal(t, tt.wantPhase, containsID(b.IDs(), "2.1"))
			if !tt.wantPhase {
				assert.Equal(t, SkipReasonPhaseGated, b.Skipped["2.1"].Reason)
			}
		})
	}
}

func TestCrossPhaseExecution(t *testing.T) {
	ps := phasedPlan(8)
	b := next(t, ps, nil, Options{})
	assert.True(t, b.CrossPhaseExecution)
	assert.Equal(t, []int{1, 2}, b.ActivePhases)
	// Phase order first, so 2.1 comes last.
	assert.Equal(t, domain.TaskID("2.1"), b.Tasks[len(b.Tasks)-1].ID)
}

func TestPhasePriority(t *testing.T) {
	ps := phasedPlan(8)
	b := next(t, ps, nil, Options{PhasePriority: true})
	assert.Len(t, b.Tasks, 2)
	assert.Equal(t, []int{1}, b.ActivePhases)
	assert.False(t, b.CrossPhaseExecution)
	assert.Equal(t, SkipReasonPhaseFocus, b.Skipped["2.1"].Reason)
}

func TestParallelGroupOverride(t *testing.T) {
	ps := phasedPlan(2)
	c := &constraints.Constraints{Parallel: [][]int{{1, 2}}}
	b := next(t, ps, c, Options{})
	assert.True(t, containsID(b.IDs(), "2.1"))
}

func TestPipelineTriggerUnlocksPhase(t *testing.T) {
	ps := phasedPlan(0)
	c := &constraints.Constraints{Pipelines: []constraints.Pipeline{{Phase: 2, Trigger: "1.1"}}}

	b := next(t, ps, c, Options{})
	assert.False(t, containsID(b.IDs(), "2.1"))

	ps.Tasks[0].Status = domain.StatusCompleted
	b = next(t, ps, c, Options{})
	assert.True(t, containsID(b.IDs(), "2.1"))
}

func TestSkippedPipelineTriggerKeepsPhaseGated(t *testing.T) {
	ps := phasedPlan(0)
	ps.Tasks[0].Status = domain.StatusSkipped
	c := &constraints.Constraints{Pipelines: []constraints.Pipeline{{Phase: 2, Trigger: "1.1"}}}

	b := next(t, ps, c, Options{})
	assert.False(t, containsID(b.IDs(), "2.1"))
	assert.Equal(t, SkipReasonPhaseGated, b.Skipped["2.1"].Reason)
}

func TestSequentialGroup(t *testing.T) {
	ps := plan(
		task("1.1", "1", domain.StatusPending),
		task("1.2", "1", domain.StatusPending),
		task("1.3", "1", domain.StatusPending),
	)
	c := &constraints.Constraints{Sequential: [][]domain.TaskID{{"1.1", "1.2", "1.3"}}}

	b := next(t, ps, c, Options{})
	assert.Equal(t, []domain.TaskID{"1.1"}, b.IDs())
	assert.Equal(t, SkipReasonSequential, b.Skipped["1.2"].Reason)

	ps.Tasks[0].Status = domain.StatusCompleted
	assert.Equal(t, []domain.TaskID{"1.2"}, next(t, ps, c, Options{}).IDs())
}

func TestIgnoreDeps(t *testing.T) {
	ps := plan(
		task("2.1", "Phase 2", domain.StatusPending, "1.1"),
		task("1.1", "Phase 1", domain.StatusPending),
		task("1.2", "Phase 1", domain.StatusPending),
	)

	b := next(t, ps, nil, Options{IgnoreDeps: true})
	assert.Equal(t, []domain.TaskID{"1.1", "1.2", "2.1"}, b.IDs())
	assert.Equal(t, []domain.TaskID{"1.1"}, b.Tasks[2].BlockedBy)
	assert.Empty(t, b.Tasks[0].BlockedBy)
	assert.Equal(t, []domain.TaskID{"2.1"}, b.Tasks[0].Dependents)
}

func TestFileConflicts(t *testing.T) {
	ps := plan(
		status.Task{ID: "1.1", Phase: "1", Status: domain.StatusPending,
			Description: "Add retries to internal/pool/pool.go and update README.md"},
		status.Task{ID: "1.2", Phase: "1", Status: domain.StatusPending,
			Description: "Document pool behaviour in README.md."},
		status.Task{ID: "1.3", Phase: "1", Status: domain.StatusPending,
			Description: "Unrelated work", Files: []string{"./internal/pool/pool.go"}},
		status.Task{ID: "1.4", Phase: "1", Status: domain.StatusPending,
			Description: "No files at all"},
	)

	b := next(t, ps, nil, Options{})
	require.Len(t, b.Tasks, 4, "conflicts never drop tasks")

	byID := make(map[domain.TaskID]RankedTask)
	for _, rt := range b.Tasks {
		byID[rt.ID] = rt
	}

	assert.ElementsMatch(t, []domain.TaskID{"1.2", "1.3"}, byID["1.1"].ConflictsWith)
	assert.Equal(t, []string{"README.md", "internal/pool/pool.go"}, byID["1.1"].ConflictingFiles)
	assert.Equal(t, []domain.TaskID{"1.1"}, byID["1.2"].ConflictsWith)
	assert.Equal(t, []string{"README.md"}, byID["1.2"].ConflictingFiles)
	assert.Equal(t, []string{"internal/pool/pool.go"}, byID["1.3"].ConflictingFiles)
	assert.Empty(t, byID["1.4"].ConflictsWith)
	assert.Equal(t, 2, b.ConflictPairs)
}

func TestSchedulerRecordsMetrics(t *testing.T) {
	_, m := metrics.NewRegistry()
	s := &Scheduler{Metrics: m}

	ps := plan(
		task("A", "1", domain.StatusPending),
		task("B", "1", domain.StatusPending, "A"),
	)
	g, err := ps.Graph()
	require.NoError(t, err)
	_, err = s.Next(ps, g, nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchedulerBatches.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchedulerSkipped.WithLabelValues("deps-unmet")))
}

func TestNilGraphIsDerived(t *testing.T) {
	ps := plan(task("A", "1", domain.StatusPending), task("B", "1", domain.StatusPending, "A"))
	b, err := Next(ps, nil, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, []domain.TaskID{"A"}, b.IDs())
	assert.Equal(t, []domain.TaskID{"B"}, b.Tasks[0].Dependents)
}

func TestNilGraphWithCycleFails(t *testing.T) {
	ps := plan(
		task("A", "1", domain.StatusPending, "B"),
		task("B", "1", domain.StatusPending, "A"),
		task("C", "1", domain.StatusPending),
	)
	b, err := Next(ps, nil, nil, Options{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeGraphCycle))
	assert.Empty(t, b.Tasks)
	assert.Equal(t, TierNone, b.Tier)
}

func containsID(ids []domain.TaskID, id domain.TaskID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
