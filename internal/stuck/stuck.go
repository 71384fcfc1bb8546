// Package stuck reconciles tasks whose agent stopped answering and decides
// which failed tasks may run again.
package stuck

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/log"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/metrics"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
)

// DefaultMaxRetries is the retry ceiling when none is configured.
const DefaultMaxRetries = 2

// Sentinel errors, matched with errors.Is by code.
var (
	ErrRetryExhausted = errors.New(errors.ErrCodeRetryExhausted, "retry budget exhausted")
	ErrNotFailed      = errors.New(errors.ErrCodeInvalidStatus, "only failed tasks can be requeued")

	errNoLongerStuck = stderrors.New("task no longer in progress")
)

// Store is the slice of the status manager this package needs.
type Store interface {
	Load(ctx context.Context, planID string) (*status.PlanStatus, error)
	TransitionWith(ctx context.Context, planID string, taskID domain.TaskID, decide status.TransitionFunc) (status.Task, error)
	IncrementRetryCount(ctx context.Context, planID string, taskID domain.TaskID) (int, error)
}

// Manager detects stuck tasks and requeues failed ones within a retry
// ceiling.
type Manager struct {
	store      Store
	maxRetries int
	logger     *log.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxRetries sets the retry ceiling. Negative values are treated as 0.
func WithMaxRetries(n int) Option {
	return func(m *Manager) {
		if n < 0 {
			n = 0
		}
		m.maxRetries = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New returns a Manager backed by store.
func New(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = log.OrDefault(m.logger).WithComponent("stuck")
	return m
}

// MaxRetries returns the configured retry ceiling.
func (m *Manager) MaxRetries() int {
	return m.maxRetries
}

// DetectStuck fails every in-progress task that started more than
// threshold ago. Each one is recorded with a synthetic timeout error and
// FailureKind stuck_timeout. It returns the tasks as they were before the
// transition.
func (m *Manager) DetectStuck(ctx context.Context, planID string, threshold time.Duration) ([]status.Task, error) {
	ps, err := m.store.Load(ctx, planID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	var stuck []status.Task
	for _, t := range ps.TasksByStatus(domain.StatusInProgress) {
		if t.StartedAt == nil || now.Sub(*t.StartedAt) <= threshold {
			continue
		}

		started := *t.StartedAt
		timeout := errors.NewStuckTimeoutError(string(t.ID), Age(t, now), threshold.String())
		_, err := m.store.TransitionWith(ctx, planID, t.ID, func(cur status.Task) (domain.TaskStatus, status.Extras, error) {
			// The task may have finished or restarted since the snapshot.
			if cur.Status != domain.StatusInProgress || cur.StartedAt == nil || !cur.StartedAt.Equal(started) {
				return "", status.Extras{}, errNoLongerStuck
			}
			return domain.StatusFailed, status.Extras{
				Error:       timeout.Error(),
				FailureKind: status.FailureStuckTimeout,
			}, nil
		})
		if stderrors.Is(err, errNoLongerStuck) || errors.HasCode(err, errors.ErrCodeTaskNotFound) {
			m.logger.DebugContext(ctx, "stuck candidate moved on", "plan", planID, "task", t.ID)
			continue
		}
		if err != nil {
			return stuck, fmt.Errorf("failing stuck task %s: %w", t.ID, err)
		}

		m.logger.WarnContext(ctx, "stuck task failed",
			"plan", planID,
			"task", t.ID,
			"started", Age(t, now),
			"threshold", threshold,
		)
		stuck = append(stuck, t)
	}

	m.metrics.Stuck(len(stuck))
	return stuck, nil
}

// Age renders how long ago t started, e.g. "3 hours ago".
func Age(t status.Task, now time.Time) string {
	if t.StartedAt == nil {
		return "never"
	}
	return humanize.RelTime(*t.StartedAt, now, "ago", "from now")
}

// IncrementRetryCount bumps the retry counter of a task.
func (m *Manager) IncrementRetryCount(ctx context.Context, planID string, taskID domain.TaskID) (int, error) {
	return m.store.IncrementRetryCount(ctx, planID, taskID)
}

// RetryableTasks returns failed tasks still under the retry ceiling.
func (m *Manager) RetryableTasks(ps *status.PlanStatus) []status.Task {
	var out []status.Task
	for _, t := range ps.TasksByStatus(domain.StatusFailed) {
		if t.RetryCount < m.maxRetries {
			out = append(out, t)
		}
	}
	return out
}

// ExhaustedTasks returns failed tasks that reached the retry ceiling.
func (m *Manager) ExhaustedTasks(ps *status.PlanStatus) []status.Task {
	var out []status.Task
	for _, t := range ps.TasksByStatus(domain.StatusFailed) {
		if t.RetryCount >= m.maxRetries {
			out = append(out, t)
		}
	}
	return out
}

// Requeue moves a failed task back to pending and increments its retry
// count, returning the new count. Exhausted tasks are refused with
// ErrRetryExhausted unless force is set.
func (m *Manager) Requeue(ctx context.Context, planID string, taskID domain.TaskID, force bool) (int, error) {
	var seen int
	t, err := m.store.TransitionWith(ctx, planID, taskID, func(t status.Task) (domain.TaskStatus, status.Extras, error) {
		seen = t.RetryCount
		if t.Status != domain.StatusFailed {
			return "", status.Extras{}, errors.New(errors.ErrCodeInvalidStatus,
				fmt.Sprintf("task %s is %s; %s", taskID, t.Status, ErrNotFailed.Message))
		}
		if !force && t.RetryCount >= m.maxRetries {
			return "", status.Extras{}, errors.New(errors.ErrCodeRetryExhausted,
				fmt.Sprintf("task %s already retried %d of %d times", taskID, t.RetryCount, m.maxRetries)).
				WithSuggestion("Pass --force to retry anyway, or mark the task skipped")
		}
		return domain.StatusPending, status.Extras{
			Reason:     fmt.Sprintf("retry %d", t.RetryCount+1),
			CountRetry: true,
		}, nil
	})
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeRetryExhausted) {
			return seen, err
		}
		return 0, err
	}

	m.metrics.Requeue()
	m.logger.InfoContext(ctx, "task requeued", "plan", planID, "task", taskID, "retry", t.RetryCount)
	return t.RetryCount, nil
}

// RequeueRetryable requeues every failed task still under the ceiling.
func (m *Manager) RequeueRetryable(ctx context.Context, planID string) ([]domain.TaskID, error) {
	ps, err := m.store.Load(ctx, planID)
	if err != nil {
		return nil, err
	}
	var requeued []domain.TaskID
	for _, t := range m.RetryableTasks(ps) {
		if _, err := m.Requeue(ctx, planID, t.ID, false); err != nil {
			return requeued, err
		}
		requeued = append(requeued, t.ID)
	}
	return requeued, nil
}

// Watch runs DetectStuck every interval until ctx ends. onStuck, when set,
// receives each non-empty detection. Errors are logged and the loop keeps
// going; Watch returns nil once ctx is done.
func (m *Manager) Watch(ctx context.Context, planID string, threshold, interval time.Duration, onStuck func([]status.Task)) error {
	if interval <= 0 {
		return errors.New(errors.ErrCodeConfigInvalid, "stuck watch interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stuck, err := m.DetectStuck(ctx, planID, threshold)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				m.logger.LogError(ctx, "stuck detection failed", err)
				continue
			}
			if len(stuck) > 0 && onStuck != nil {
				onStuck(stuck)
			}
		}
	}
}
