package orchestrator

import (
	"context"
	stderrors "errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/agent"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/log"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/pool"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/stuck"
)

const plan = "roadmap"

type fixture struct {
	dir   string
	store *status.Manager
	stuck *stuck.Manager
}

func setup(t *testing.T, seeds ...status.Seed) *fixture {
	t.Helper()
	dir := t.TempDir()
	store := status.NewManager(status.NewFileBackend(dir), status.WithLogger(log.Discard()))
	_, err := store.Initialize(context.Background(), plan, seeds)
	require.NoError(t, err)
	return &fixture{
		dir:   dir,
		store: store,
		stuck: stuck.New(store, stuck.WithLogger(log.Discard()), stuck.WithMaxRetries(2)),
	}
}

func seed(id string, deps ...string) status.Seed {
	s := status.Seed{ID: domain.TaskID(id), Phase: "Phase 1", Description: "task " + id}
	for _, d := range deps {
		s.Dependencies = append(s.Dependencies, domain.TaskID(d))
	}
	return s
}

func (f *fixture) orchestrator(inv agent.Invoker, pc pool.Config, cfg Config, opts ...Option) *Orchestrator {
	pc.Logger = log.Discard()
	cfg.PlanID = plan
	opts = append([]Option{WithLogger(log.Discard())}, opts...)
	return New(f.store, f.stuck, pool.New(pc), inv, cfg, opts...)
}

func (f *fixture) task(t *testing.T, id domain.TaskID) status.Task {
	t.Helper()
	ps, err := f.store.Load(context.Background(), plan)
	require.NoError(t, err)
	task, ok := ps.Task(id)
	require.True(t, ok)
	return task
}

func (f *fixture) mark(t *testing.T, id domain.TaskID, st domain.TaskStatus) {
	t.Helper()
	_, err := f.store.UpdateTaskStatus(context.Background(), plan, id, st, status.Extras{})
	require.NoError(t, err)
}

// recorder is an invoker that logs the order tasks were invoked in.
type recorder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (r *recorder) Invoke(_ context.Context, req agent.Request) (agent.Response, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req.TaskID)
	r.mu.Unlock()
	if err := r.fail[req.TaskID]; err != nil {
		return agent.Response{}, err
	}
	return agent.Response{Success: true, Output: "did " + req.TaskID}, nil
}

func (r *recorder) index(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.calls {
		if c == id {
			return i
		}
	}
	return -1
}

func TestRunDiamond(t *testing.T) {
	f := setup(t, seed("A"), seed("B", "A"), seed("C", "A"), seed("D", "B", "C"))
	inv := &recorder{}

	var mu sync.Mutex
	var transitions []domain.TaskStatus
	o := f.orchestrator(inv, pool.Config{MaxConcurrent: 2}, Config{},
		WithFindings(agent.NewFindingsWriter(f.dir)),
		WithObserver(func(_ domain.TaskID, to domain.TaskStatus, _ error) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		}),
	)

	sum, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, sum.Dispatched)
	assert.Equal(t, 4, sum.Completed)
	assert.Zero(t, sum.Failed)
	assert.False(t, sum.Interrupted)
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, 4, sum.Final.Completed)

	require.Len(t, inv.calls, 4)
	assert.Equal(t, 0, inv.index("A"))
	assert.Equal(t, 3, inv.index("D"), "D waits for both B and C")

	d := f.task(t, "D")
	assert.Equal(t, domain.StatusCompleted, d.Status)
	require.NotEmpty(t, d.FindingsRef)
	content, err := os.ReadFile(agent.NewFindingsWriter(f.dir).Path(d.FindingsRef))
	require.NoError(t, err)
	assert.Contains(t, string(content), "did D")

	assert.Len(t, transitions, 8, "one in_progress and one completed per task")

	ps, err := f.store.Load(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, ps.Runs, 1)
	assert.NotNil(t, ps.Runs[0].CompletedAt)
	assert.Equal(t, 4, ps.Runs[0].CompletedCount)
}

func TestRunFailureBlocksDependents(t *testing.T) {
	f := setup(t, seed("A"), seed("B", "A"), seed("C"))
	inv := &recorder{fail: map[string]error{"A": pool.Permanent(stderrors.New("compile error"))}}

	o := f.orchestrator(inv, pool.Config{MaxConcurrent: 3, MaxRetries: 2}, Config{})
	sum, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Completed)
	assert.Equal(t, 1, sum.Final.Pending)

	a := f.task(t, "A")
	assert.Equal(t, domain.StatusFailed, a.Status)
	assert.Contains(t, a.LastError, "compile error")
	assert.Equal(t, status.FailureError, a.FailureKind)
	assert.Equal(t, domain.StatusPending, f.task(t, "B").Status)
	assert.Equal(t, -1, inv.index("B"))
	assert.Len(t, inv.calls, 2, "permanent failures are not retried")
}

func TestRunReportedFailureIsRetried(t *testing.T) {
	f := setup(t, seed("A"))
	var attempts atomic.Int32
	inv := agent.InvokerFunc(func(_ context.Context, req agent.Request) (agent.Response, error) {
		n := attempts.Add(1)
		assert.Equal(t, int(n), req.Attempt)
		if n == 1 {
			return agent.Response{Success: false, Error: "flaky"}, nil
		}
		assert.Contains(t, req.LastError, "flaky")
		return agent.Response{Success: true}, nil
	})

	o := f.orchestrator(inv, pool.Config{MaxConcurrent: 1, MaxRetries: 1}, Config{})
	sum, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Completed)
	assert.EqualValues(t, 2, attempts.Load())
}

func TestRunRespectsConcurrencyBound(t *testing.T) {
	var seeds []status.Seed
	for _, id := range []string{"1.1", "1.2", "1.3", "1.4", "1.5", "1.6"} {
		seeds = append(seeds, seed(id))
	}
	f := setup(t, seeds...)

	var running, peak atomic.Int32
	inv := agent.InvokerFunc(func(context.Context, agent.Request) (agent.Response, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return agent.Response{Success: true}, nil
	})

	o := f.orchestrator(inv, pool.Config{MaxConcurrent: 2}, Config{})
	sum, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Completed)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunRequeuesAndResumes(t *testing.T) {
	f := setup(t, seed("A"), seed("B"), seed("C"))
	f.mark(t, "A", domain.StatusFailed)
	f.mark(t, "B", domain.StatusInProgress)
	f.mark(t, "C", domain.StatusFailed)
	for i := 0; i < 2; i++ {
		_, err := f.store.IncrementRetryCount(context.Background(), plan, "C")
		require.NoError(t, err)
	}

	inv := &recorder{}
	o := f.orchestrator(inv, pool.Config{MaxConcurrent: 2}, Config{RequeueFailed: true, ResumeInterrupted: true})
	sum, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.TaskID{"A"}, sum.Requeued)
	assert.Equal(t, []domain.TaskID{"B"}, sum.Resumed)
	assert.Equal(t, 2, sum.Completed)

	a := f.task(t, "A")
	assert.Equal(t, domain.StatusCompleted, a.Status)
	assert.Equal(t, 1, a.RetryCount)
	assert.Equal(t, ReasonResumed, f.task(t, "B").Reason)
	// C has used its retry budget and stays failed.
	assert.Equal(t, domain.StatusFailed, f.task(t, "C").Status)
	assert.Equal(t, -1, inv.index("C"))
}

func TestRunCachesIdenticalWork(t *testing.T) {
	a := seed("A")
	a.Description = "Regenerate the API docs"
	b := seed("B", "A")
	b.Description = "Regenerate the API docs"
	f := setup(t, a, b)

	cache, err := pool.NewLRUCache(8)
	require.NoError(t, err)
	inv := &recorder{}

	o := f.orchestrator(inv, pool.Config{MaxConcurrent: 1, Cache: cache}, Config{CacheRoot: f.dir})
	sum, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Completed)
	assert.Equal(t, 1, sum.Cached)
	assert.Len(t, inv.calls, 1)
	assert.Equal(t, "result reused from cache", f.task(t, "B").Notes)
}

func TestRunCancellationRevertsRunningTasks(t *testing.T) {
	f := setup(t, seed("A"), seed("B", "A"))

	started := make(chan struct{})
	inv := agent.InvokerFunc(func(ctx context.Context, _ agent.Request) (agent.Response, error) {
		close(started)
		<-ctx.Done()
		return agent.Response{}, ctx.Err()
	})

	o := f.orchestrator(inv, pool.Config{MaxConcurrent: 1}, Config{ShutdownTimeout: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	sum, err := o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, sum.Interrupted)
	assert.Zero(t, sum.Failed)

	a := f.task(t, "A")
	assert.Equal(t, domain.StatusPending, a.Status)
	assert.Equal(t, ReasonInterrupted, a.Reason)

	ps, err := f.store.Load(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, ps.Runs, 1)
	assert.NotNil(t, ps.Runs[0].CompletedAt, "the run record is closed after cancellation")
}

func TestRunRejectsUnknownPlan(t *testing.T) {
	f := setup(t, seed("A"))
	o := New(f.store, f.stuck, pool.New(pool.Config{Logger: log.Discard()}), &recorder{}, Config{PlanID: "missing"},
		WithLogger(log.Discard()))

	_, err := o.Run(context.Background())
	require.Error(t, err)
}
