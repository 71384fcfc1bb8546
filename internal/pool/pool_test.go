package pool

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/log"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/metrics"
)

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}
	p := New(cfg)
	t.Cleanup(func() {
		_ = p.Shutdown(time.Second)
		p.Drain()
	})
	return p
}

func wait(t *testing.T, f *Future) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := f.Wait(ctx)
	require.NoError(t, err, "task %s never finished", f.ID())
	return r
}

func value(v any) Work {
	return func(context.Context) (any, error) { return v, nil }
}

func TestConcurrencyBound(t *testing.T) {
	p := newTestPool(t, Config{MaxConcurrent: 3})
	p.Start(context.Background())

	var running, peak atomic.Int32
	var futures []*Future
	for i := 0; i < 20; i++ {
		f, err := p.Submit(Task{
			ID: fmt.Sprintf("t%d", i),
			Work: func(context.Context) (any, error) {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return nil, nil
			},
		})
		require.NoError(t, err)
		futures = append(futures, f)
		assert.LessOrEqual(t, p.Running(), 3)
	}

	require.NoError(t, p.WaitForCompletion(context.Background(), 5*time.Second))

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
	for _, f := range futures {
		r, ok := f.Result()
		require.True(t, ok)
		assert.Equal(t, StateCompleted, r.State)
	}

	stats := p.Stats()
	assert.Equal(t, 20, stats.Submitted)
	assert.Equal(t, 20, stats.Completed)
	assert.Zero(t, stats.Running)
}

func TestPriorityOrder(t *testing.T) {
	p := newTestPool(t, Config{MaxConcurrent: 1})

	var mu sync.Mutex
	var order []string
	record := func(id string) Work {
		return func(context.Context) (any, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return nil, nil
		}
	}

	tasks := []Task{
		{ID: "low", Priority: domain.PriorityLow},
		{ID: "normal-1", Priority: domain.PriorityNormal},
		{ID: "high-1", Priority: domain.PriorityHigh},
		{ID: "normal-2", Priority: domain.PriorityNormal},
		{ID: "high-2", Priority: domain.PriorityHigh},
	}
	for _, task := range tasks {
		task.Work = record(task.ID)
		_, err := p.Submit(task)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, p.Stats().Queued, "nothing runs before Start")

	p.Start(context.Background())
	require.NoError(t, p.WaitForCompletion(context.Background(), 5*time.Second))

	assert.Equal(t, []string{"high-1", "high-2", "normal-1", "normal-2", "low"}, order)
}

func TestCacheShortCircuit(t *testing.T) {
	cache, err := NewLRUCache(16)
	require.NoError(t, err)
	cache.Add("key-a", "from cache")

	_, m := metrics.NewRegistry()
	p := newTestPool(t, Config{MaxConcurrent: 2, Cache: cache, Metrics: m})
	p.Start(context.Background())

	var calls atomic.Int32
	work := func(context.Context) (any, error) {
		calls.Add(1)
		time.Sleep(time.Millisecond)
		return "computed", nil
	}

	f, err := p.Submit(Task{ID: "hit", CacheKey: "key-a", Work: work})
	require.NoError(t, err)
	r := wait(t, f)
	assert.Equal(t, StateCompleted, r.State)
	assert.True(t, r.Cached)
	assert.Zero(t, r.Duration)
	assert.Equal(t, "from cache", r.Value)
	assert.Zero(t, calls.Load())

	f, err = p.Submit(Task{ID: "miss", CacheKey: "key-b", Work: work})
	require.NoError(t, err)
	r = wait(t, f)
	assert.False(t, r.Cached)
	assert.Equal(t, "computed", r.Value)
	assert.Equal(t, int32(1), calls.Load())

	// The worker stored its fresh result.
	f, err = p.Submit(Task{ID: "again", CacheKey: "key-b", Work: work})
	require.NoError(t, err)
	r = wait(t, f)
	assert.True(t, r.Cached)
	assert.Equal(t, int32(1), calls.Load())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PoolCacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PoolCacheMisses))
	assert.Equal(t, 2, cache.Len())
}

func TestQueuedDuplicateServedFromCache(t *testing.T) {
	cache, err := NewLRUCache(16)
	require.NoError(t, err)
	p := newTestPool(t, Config{MaxConcurrent: 1, Cache: cache})

	var calls atomic.Int32
	work := func(context.Context) (any, error) {
		calls.Add(1)
		return "computed", nil
	}

	first, err := p.Submit(Task{ID: "first", CacheKey: "lint:api", Work: work})
	require.NoError(t, err)
	second, err := p.Submit(Task{ID: "second", CacheKey: "lint:api", Work: work})
	require.NoError(t, err)

	p.Start(context.Background())

	r := wait(t, first)
	assert.False(t, r.Cached)
	assert.Equal(t, "computed", r.Value)

	r = wait(t, second)
	assert.True(t, r.Cached)
	assert.Equal(t, "computed", r.Value)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, p.Stats().CacheHits)
}

func TestRetries(t *testing.T) {
	errFlaky := stderrors.New("agent unavailable")

	tests := []struct {
		name         string
		failures     int
		permanent    bool
		wantState    State
		wantAttempts int
	}{
		{"succeeds first time", 0, false, StateCompleted, 1},
		{"recovers within budget", 2, false, StateCompleted, 3},
		{"exhausts retries", 5, false, StateFailed, 3},
		{"permanent error", 5, true, StateFailed, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPool(t, Config{MaxConcurrent: 1, MaxRetries: 2})
			p.Start(context.Background())

			var calls atomic.Int32
			f, err := p.Submit(Task{ID: "flaky", Work: func(context.Context) (any, error) {
				if int(calls.Add(1)) <= tt.failures {
					if tt.permanent {
						return nil, Permanent(errFlaky)
					}
					return nil, errFlaky
				}
				return "ok", nil
			}})
			require.NoError(t, err)

			r := wait(t, f)
			assert.Equal(t, tt.wantState, r.State)
			assert.Equal(t, tt.wantAttempts, r.Attempts)
			assert.Equal(t, int32(tt.wantAttempts), calls.Load())
			if tt.wantState == StateFailed {
				assert.ErrorIs(t, r.Err, errFlaky)
				assert.False(t, IsPermanent(r.Err), "the marker is stripped from results")
			}
		})
	}
}

func TestRetryBackoffDelaysRequeue(t *testing.T) {
	p := newTestPool(t, Config{MaxConcurrent: 1, MaxRetries: 1, RetryBackoff: 30 * time.Millisecond})
	p.Start(context.Background())

	var calls atomic.Int32
	start := time.Now()
	f, err := p.Submit(Task{ID: "slow-retry", Work: func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, stderrors.New("first attempt fails")
		}
		return nil, nil
	}})
	require.NoError(t, err)

	r := wait(t, f)
	assert.Equal(t, StateCompleted, r.State)
	// Randomization keeps the first delay within half of the interval.
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	assert.Equal(t, 1, p.Stats().Retries)
}

func TestPanicIsRecovered(t *testing.T) {
	p := newTestPool(t, Config{MaxConcurrent: 1, MaxRetries: 3})
	p.Start(context.Background())

	f, err := p.Submit(Task{ID: "boom", Work: func(context.Context) (any, error) {
		panic("agent crashed")
	}})
	require.NoError(t, err)

	r := wait(t, f)
	assert.Equal(t, StateFailed, r.State)
	assert.Equal(t, 1, r.Attempts)
	assert.ErrorContains(t, r.Err, "agent crashed")

	// The pool keeps working afterwards.
	f, err = p.Submit(Task{ID: "after", Work: value(1)})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, wait(t, f).State)
}

func TestTaskTimeout(t *testing.T) {
	p := newTestPool(t, Config{MaxConcurrent: 1, TaskTimeout: 20 * time.Millisecond})
	p.Start(context.Background())

	f, err := p.Submit(Task{ID: "hang", Work: func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}})
	require.NoError(t, err)

	r := wait(t, f)
	assert.Equal(t, StateFailed, r.State)
	assert.ErrorIs(t, r.Err, context.DeadlineExceeded)
}

func TestSubmitValidation(t *testing.T) {
	p := newTestPool(t, Config{})

	_, err := p.Submit(Task{Work: value(1)})
	assert.ErrorIs(t, err, ErrInvalidTask)

	_, err = p.Submit(Task{ID: "no-work"})
	assert.ErrorIs(t, err, ErrInvalidTask)

	_, err = p.Submit(Task{ID: "bad", Priority: domain.Priority(9), Work: value(1)})
	assert.ErrorIs(t, err, ErrInvalidTask)
}

func TestWaitForCompletion(t *testing.T) {
	p := newTestPool(t, Config{MaxConcurrent: 1})
	p.Start(context.Background())

	assert.NoError(t, p.WaitForCompletion(context.Background(), time.Millisecond), "idle pool is settled")

	release := make(chan struct{})
	_, err := p.Submit(Task{ID: "blocked", Work: func(context.Context) (any, error) {
		<-release
		return nil, nil
	}})
	require.NoError(t, err)

	assert.ErrorIs(t, p.WaitForCompletion(context.Background(), 20*time.Millisecond), ErrWaitTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.WaitForCompletion(ctx, 0), context.Canceled)

	close(release)
	assert.NoError(t, p.WaitForCompletion(context.Background(), 5*time.Second))
}

func TestShutdownGraceful(t *testing.T) {
	p := newTestPool(t, Config{MaxConcurrent: 1})
	p.Start(context.Background())

	running, err := p.Submit(Task{ID: "running", Work: func(context.Context) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return "done", nil
	}})
	require.NoError(t, err)
	queued, err := p.Submit(Task{ID: "queued", Work: value(1)})
	require.NoError(t, err)

	require.NoError(t, p.Shutdown(5*time.Second))

	assert.Equal(t, StateCompleted, wait(t, running).State)
	r := wait(t, queued)
	assert.Equal(t, StateFailed, r.State)
	assert.ErrorIs(t, r.Err, ErrPoolClosed)
	assert.Zero(t, r.Attempts)

	_, err = p.Submit(Task{ID: "late", Work: value(1)})
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.NoError(t, p.Shutdown(time.Second), "second shutdown is a no-op")
}

func TestShutdownForceTerminates(t *testing.T) {
	p := newTestPool(t, Config{MaxConcurrent: 2})
	p.Start(context.Background())

	var sawCancel atomic.Bool
	straggler, err := p.Submit(Task{ID: "straggler", Work: func(ctx context.Context) (any, error) {
		<-ctx.Done()
		sawCancel.Store(true)
		return nil, ctx.Err()
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Running())

	err = p.Shutdown(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrForceTerminated)

	r := wait(t, straggler)
	assert.Equal(t, StateFailed, r.State)
	assert.ErrorIs(t, r.Err, ErrForceTerminated)

	p.Drain()
	assert.True(t, sawCancel.Load())
	assert.Zero(t, p.Running())
}

func TestShutdownCancelsPendingRetries(t *testing.T) {
	p := newTestPool(t, Config{MaxConcurrent: 1, MaxRetries: 3, RetryBackoff: time.Hour})
	p.Start(context.Background())

	f, err := p.Submit(Task{ID: "retrying", Work: func(context.Context) (any, error) {
		return nil, stderrors.New("transient")
	}})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return p.Stats().Retrying == 1 }, 5*time.Second, time.Millisecond)
	require.NoError(t, p.Shutdown(time.Second))

	r := wait(t, f)
	assert.Equal(t, StateFailed, r.State)
	assert.ErrorIs(t, r.Err, ErrPoolClosed)
	assert.Equal(t, 1, r.Attempts)
}

func TestOneSpanPerAttempt(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	p := newTestPool(t, Config{MaxConcurrent: 1, MaxRetries: 2, Tracer: tp.Tracer("pool-test")})
	p.Start(context.Background())

	var calls atomic.Int32
	f, err := p.Submit(Task{ID: "traced", Work: func(context.Context) (any, error) {
		if calls.Add(1) < 3 {
			return nil, stderrors.New("again")
		}
		return nil, nil
	}})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, wait(t, f).State)

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	for i, s := range spans {
		assert.Equal(t, "task.attempt", s.Name())
		for _, kv := range s.Attributes() {
			if kv.Key == "task.attempt" {
				assert.Equal(t, int64(i+1), kv.Value.AsInt64())
			}
		}
	}
}

func TestPoolMetrics(t *testing.T) {
	_, m := metrics.NewRegistry()
	p := newTestPool(t, Config{MaxConcurrent: 2, MaxRetries: 1, Metrics: m})
	p.Start(context.Background())

	ok, err := p.Submit(Task{ID: "ok", Priority: domain.PriorityHigh, Work: value(1)})
	require.NoError(t, err)
	bad, err := p.Submit(Task{ID: "bad", Work: func(context.Context) (any, error) {
		return nil, stderrors.New("nope")
	}})
	require.NoError(t, err)
	wait(t, ok)
	wait(t, bad)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PoolSubmitted.WithLabelValues("HIGH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PoolSubmitted.WithLabelValues("LOW")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PoolOutcomes.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PoolOutcomes.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PoolRetries))
	assert.Zero(t, testutil.ToFloat64(m.PoolRunning))
	assert.Zero(t, testutil.ToFloat64(m.PoolQueued))
}
