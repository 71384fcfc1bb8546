package status

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/graph"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/log"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/metrics"
)

// Sentinel errors, matched with errors.Is by code.
var (
	ErrPlanNotFound       = errors.New(errors.ErrCodePlanNotFound, "plan status not found")
	ErrTaskNotFound       = errors.New(errors.ErrCodeTaskNotFound, "task not found")
	ErrAlreadyInitialized = errors.New(errors.ErrCodeAlreadyInitialized, "plan already initialized")
	ErrStaleVersion       = errors.New(errors.ErrCodeStaleVersion, "stale status version")
	ErrRunNotFound        = errors.New(errors.ErrCodeRunNotFound, "run not found")
)

// Backend persists whole plan aggregates.
type Backend interface {
	// Read returns the stored aggregate or an error matching ErrPlanNotFound.
	Read(ctx context.Context, planID string) (*PlanStatus, error)
	// Write stores ps if the stored version equals expected (0 meaning
	// "not stored yet"); otherwise it returns an error matching
	// ErrStaleVersion.
	Write(ctx context.Context, ps *PlanStatus, expected int64) error
	// List returns the IDs of all stored plans.
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Source supplies the task list of a plan that has no stored status yet.
type Source interface {
	Seeds(ctx context.Context, planID string) ([]Seed, error)
}

// DefaultWriteAttempts bounds read-modify-write retries after a stale write.
const DefaultWriteAttempts = 5

// Manager is the only sanctioned mutation path for plan status.
// Mutations are serialized in-process; the backend's version check guards
// against other processes.
type Manager struct {
	backend       Backend
	source        Source
	logger        *log.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
	writeAttempts int

	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithSource enables auto-initialization on first Load.
func WithSource(src Source) Option {
	return func(m *Manager) { m.source = src }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithWriteAttempts overrides DefaultWriteAttempts.
func WithWriteAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.writeAttempts = n
		}
	}
}

// NewManager creates a Manager over backend.
func NewManager(backend Backend, opts ...Option) *Manager {
	m := &Manager{
		backend:       backend,
		now:           time.Now,
		writeAttempts: DefaultWriteAttempts,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = log.OrDefault(m.logger).WithComponent("status")
	return m
}

// Load returns the plan aggregate. A plan with no stored status is
// initialized from the Source, when one is configured.
func (m *Manager) Load(ctx context.Context, planID string) (*PlanStatus, error) {
	if err := validatePlanID(planID); err != nil {
		return nil, err
	}

	ps, err := m.backend.Read(ctx, planID)
	if err == nil {
		return ps, nil
	}
	if !stderrors.Is(err, ErrPlanNotFound) || m.source == nil {
		return nil, err
	}

	seeds, serr := m.source.Seeds(ctx, planID)
	if serr != nil {
		return nil, fmt.Errorf("loading plan description for %s: %w", planID, serr)
	}
	ps, err = m.Initialize(ctx, planID, seeds)
	if stderrors.Is(err, ErrAlreadyInitialized) {
		// Another writer initialized it between our read and write.
		return m.backend.Read(ctx, planID)
	}
	return ps, err
}

// Initialize creates the status record of a plan. It is one-time:
// an existing plan is never merged and ErrAlreadyInitialized is returned.
func (m *Manager) Initialize(ctx context.Context, planID string, seeds []Seed) (*PlanStatus, error) {
	if err := validatePlanID(planID); err != nil {
		return nil, err
	}

	tasks := make([]Task, len(seeds))
	nodes := make([]graph.Node, len(seeds))
	for i, s := range seeds {
		if err := s.ID.Validate(); err != nil {
			return nil, errors.Wrap(errors.ErrCodeGraphInvalid, fmt.Sprintf("task at index %d is invalid", i), err)
		}
		tasks[i] = Task{
			ID:           s.ID,
			Phase:        s.Phase,
			Description:  s.Description,
			Status:       domain.StatusPending,
			Dependencies: append([]domain.TaskID(nil), s.Dependencies...),
			Files:        append([]string(nil), s.Files...),
		}
		nodes[i] = graph.Node{ID: s.ID, Dependencies: s.Dependencies}
	}
	if _, err := graph.Build(nodes); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.backend.Read(ctx, planID); err == nil {
		return nil, errors.NewAlreadyInitializedError(planID)
	} else if !stderrors.Is(err, ErrPlanNotFound) {
		return nil, err
	}

	ps := &PlanStatus{
		PlanID:        planID,
		Tasks:         tasks,
		Summary:       Recount(tasks),
		CurrentPhase:  currentPhase(tasks),
		LastUpdatedAt: m.now().UTC(),
		Runs:          []Run{},
	}
	if err := m.write(ctx, "initialize", ps, 0); err != nil {
		if stderrors.Is(err, ErrStaleVersion) {
			return nil, errors.NewAlreadyInitializedError(planID)
		}
		return nil, err
	}

	m.logger.InfoContext(ctx, "plan initialized", "plan", planID, "tasks", len(tasks))
	return ps.Clone(), nil
}

// Save writes the whole aggregate. ps.Version must be the version it was
// loaded at; a stale aggregate is rejected with ErrStaleVersion.
func (m *Manager) Save(ctx context.Context, ps *PlanStatus) error {
	if err := validatePlanID(ps.PlanID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := ps.Clone()
	next.LastUpdatedAt = m.now().UTC()
	if err := m.write(ctx, "save", next, ps.Version); err != nil {
		return err
	}
	ps.Version = next.Version
	ps.LastUpdatedAt = next.LastUpdatedAt
	return nil
}

// UpdateTaskStatus transitions one task, stamps the matching timestamp,
// merges extras and recomputes the summary. It returns false, without
// writing, when the task does not exist.
func (m *Manager) UpdateTaskStatus(ctx context.Context, planID string, taskID domain.TaskID, to domain.TaskStatus, extras Extras) (bool, error) {
	if err := to.Validate(); err != nil {
		return false, errors.Wrap(errors.ErrCodeInvalidStatus, "cannot update task status", err)
	}

	found := false
	err := m.mutate(ctx, planID, "update", func(ps *PlanStatus) (bool, error) {
		i := ps.indexOf(taskID)
		if i < 0 {
			found = false
			return false, nil
		}
		found = true
		applyTransition(&ps.Tasks[i], to, extras, m.now().UTC())
		return true, nil
	})
	if err != nil {
		return false, err
	}

	if found {
		m.metrics.Transition(string(to))
		m.logger.DebugContext(ctx, "task status updated", "plan", planID, "task", taskID, "status", to)
	} else {
		m.logger.WarnContext(ctx, "status update for unknown task", "plan", planID, "task", taskID)
	}
	return found, nil
}

// TransitionFunc decides a transition from the task as currently stored.
// Returning an error aborts the write.
type TransitionFunc func(t Task) (domain.TaskStatus, Extras, error)

// TransitionWith runs decide against a fresh read under the manager lock
// and applies its transition in the same write, so no other writer can
// change the task in between. It returns the task as stored afterwards.
func (m *Manager) TransitionWith(ctx context.Context, planID string, taskID domain.TaskID, decide TransitionFunc) (Task, error) {
	var out Task
	var to domain.TaskStatus
	err := m.mutate(ctx, planID, "transition", func(ps *PlanStatus) (bool, error) {
		i := ps.indexOf(taskID)
		if i < 0 {
			return false, errors.NewTaskNotFoundError(planID, string(taskID))
		}
		next, extras, err := decide(ps.Tasks[i])
		if err != nil {
			return false, err
		}
		if err := next.Validate(); err != nil {
			return false, errors.Wrap(errors.ErrCodeInvalidStatus, "cannot update task status", err)
		}
		to = next
		applyTransition(&ps.Tasks[i], next, extras, m.now().UTC())
		out = ps.Tasks[i]
		return true, nil
	})
	if err != nil {
		return Task{}, err
	}

	m.metrics.Transition(string(to))
	m.logger.DebugContext(ctx, "task status updated", "plan", planID, "task", taskID, "status", to)
	return out, nil
}

func applyTransition(t *Task, to domain.TaskStatus, extras Extras, now time.Time) {
	t.Status = to

	switch to {
	case domain.StatusInProgress:
		t.StartedAt = &now
		t.CompletedAt = nil
		t.FailedAt = nil
		t.FailureKind = FailureNone
	case domain.StatusCompleted, domain.StatusSkipped:
		t.CompletedAt = &now
		t.FailedAt = nil
		t.FailureKind = FailureNone
	case domain.StatusFailed:
		t.FailedAt = &now
		t.CompletedAt = nil
		t.FailureKind = FailureError
	case domain.StatusPending:
		// Retry history (count and last error) survives a reset.
		t.StartedAt = nil
		t.CompletedAt = nil
		t.FailedAt = nil
		t.FailureKind = FailureNone
	}

	if extras.Notes != "" {
		t.Notes = extras.Notes
	}
	if extras.Error != "" {
		t.LastError = extras.Error
	}
	if extras.Reason != "" {
		t.Reason = extras.Reason
	}
	if extras.FindingsRef != "" {
		t.FindingsRef = extras.FindingsRef
	}
	if extras.FailureKind != FailureNone && to == domain.StatusFailed {
		t.FailureKind = extras.FailureKind
	}
	if extras.CountRetry {
		t.RetryCount++
	}
}

// IncrementRetryCount bumps a task's retry counter and returns the new value.
func (m *Manager) IncrementRetryCount(ctx context.Context, planID string, taskID domain.TaskID) (int, error) {
	count := -1
	err := m.mutate(ctx, planID, "retry", func(ps *PlanStatus) (bool, error) {
		i := ps.indexOf(taskID)
		if i < 0 {
			return false, errors.NewTaskNotFoundError(planID, string(taskID))
		}
		ps.Tasks[i].RetryCount++
		count = ps.Tasks[i].RetryCount
		return true, nil
	})
	return count, err
}

// Validate recounts the summary and reports every mismatched counter. The
// aggregate is only rewritten when something was wrong, so calling it on a
// consistent plan is a pure read.
func (m *Manager) Validate(ctx context.Context, planID string) ([]SummaryIssue, error) {
	var issues []SummaryIssue
	err := m.mutate(ctx, planID, "validate", func(ps *PlanStatus) (bool, error) {
		actual := Recount(ps.Tasks)
		issues = diffSummary(ps.Summary, actual)
		return len(issues) > 0, nil
	})
	if err != nil {
		return nil, err
	}

	if len(issues) > 0 {
		m.metrics.SummaryRepair(len(issues))
		m.logger.WarnContext(ctx, "summary counters repaired", "plan", planID, "issues", len(issues))
	}
	return issues, nil
}

// StartRun appends a new run entry and returns it.
func (m *Manager) StartRun(ctx context.Context, planID string) (Run, error) {
	run := Run{RunID: uuid.NewString()}
	err := m.mutate(ctx, planID, "start_run", func(ps *PlanStatus) (bool, error) {
		run.StartedAt = m.now().UTC()
		ps.Runs = append(ps.Runs, run)
		return true, nil
	})
	if err != nil {
		return Run{}, err
	}
	m.logger.InfoContext(ctx, "run started", "plan", planID, "run", run.RunID)
	return run, nil
}

// CompleteRun closes a run, counting tasks that completed or failed since
// it started.
func (m *Manager) CompleteRun(ctx context.Context, planID, runID string) (Run, error) {
	var run Run
	err := m.mutate(ctx, planID, "complete_run", func(ps *PlanStatus) (bool, error) {
		for i := range ps.Runs {
			if ps.Runs[i].RunID != runID {
				continue
			}
			now := m.now().UTC()
			r := &ps.Runs[i]
			r.CompletedAt = &now
			r.CompletedCount, r.FailedCount = 0, 0
			for _, t := range ps.Tasks {
				if t.Status == domain.StatusCompleted && t.CompletedAt != nil && !t.CompletedAt.Before(r.StartedAt) {
					r.CompletedCount++
				}
				if t.Status == domain.StatusFailed && t.FailedAt != nil && !t.FailedAt.Before(r.StartedAt) {
					r.FailedCount++
				}
			}
			run = *r
			return true, nil
		}
		return false, errors.New(errors.ErrCodeRunNotFound, fmt.Sprintf("run %s not found in plan %s", runID, planID))
	})
	if err != nil {
		return Run{}, err
	}
	m.logger.InfoContext(ctx, "run completed", "plan", planID, "run", runID,
		"completed", run.CompletedCount, "failed", run.FailedCount)
	return run, nil
}

// List returns the IDs of all stored plans.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.backend.List(ctx)
}

// mutate runs a read-modify-write cycle. fn reports whether it changed the
// aggregate; unchanged aggregates are not written. Stale writes are retried
// against a fresh read.
func (m *Manager) mutate(ctx context.Context, planID, op string, fn func(ps *PlanStatus) (bool, error)) error {
	if err := validatePlanID(planID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < m.writeAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		ps, err := m.backend.Read(ctx, planID)
		if err != nil {
			return err
		}

		changed, err := fn(ps)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		ps.Summary = Recount(ps.Tasks)
		ps.CurrentPhase = currentPhase(ps.Tasks)
		ps.LastUpdatedAt = m.now().UTC()

		err = m.write(ctx, op, ps, ps.Version)
		if err == nil {
			return nil
		}
		if !stderrors.Is(err, ErrStaleVersion) {
			return err
		}
		lastErr = err
		m.logger.DebugContext(ctx, "stale status write, retrying", "plan", planID, "op", op, "attempt", attempt+1)
	}
	return lastErr
}

func (m *Manager) write(ctx context.Context, op string, ps *PlanStatus, expected int64) error {
	start := time.Now()
	ps.Version = expected + 1
	err := m.backend.Write(ctx, ps, expected)
	m.metrics.StoreWrite(op, time.Since(start), err)
	if err != nil {
		ps.Version = expected
		if stderrors.Is(err, ErrStaleVersion) {
			m.metrics.StoreConflict()
		} else {
			m.metrics.RecordError("status", err)
		}
	}
	return err
}

func validatePlanID(planID string) error {
	if strings.TrimSpace(planID) == "" {
		return errors.New(errors.ErrCodeConfigInvalid, "plan ID cannot be empty")
	}
	if strings.ContainsAny(planID, `/\`) || strings.Contains(planID, "..") {
		return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("plan ID %q must not contain path separators", planID))
	}
	return nil
}
