// Package pool runs tasks with bounded concurrency, a priority queue, a
// result cache and retries with exponential backoff.
package pool

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/log"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/metrics"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/telemetry"
)

// Sentinel errors, matched with errors.Is by code.
var (
	ErrPoolClosed      = errors.New(errors.ErrCodePoolClosed, "pool is shut down")
	ErrWaitTimeout     = errors.New(errors.ErrCodePoolWaitTimeout, "timed out waiting for tasks")
	ErrForceTerminated = errors.New(errors.ErrCodePoolTerminated, "task force-terminated at shutdown")
	ErrInvalidTask     = errors.New(errors.ErrCodePoolTaskInvalid, "invalid pool task")
)

// Work is the unit a task executes. The context is cancelled on forced
// shutdown or when TaskTimeout elapses.
type Work func(ctx context.Context) (any, error)

// Task is a unit of work submitted to the pool.
type Task struct {
	ID       string
	Priority domain.Priority
	Work     Work
	// CacheKey enables result caching when non-empty.
	CacheKey string
	Metadata map[string]string
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return stderrors.As(err, &perm)
}

// Config tunes a pool.
type Config struct {
	MaxConcurrent int
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// RetryBackoff is the initial retry delay; it grows exponentially.
	// Zero retries immediately.
	RetryBackoff time.Duration
	// MaxRetryBackoff caps the retry delay.
	MaxRetryBackoff time.Duration
	// TaskTimeout bounds a single attempt; zero means no limit.
	TaskTimeout time.Duration

	Cache   Cache
	Logger  *log.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

// DefaultConfig returns the settings used by the orchestrator.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:   3,
		MaxRetries:      2,
		RetryBackoff:    time.Second,
		MaxRetryBackoff: 30 * time.Second,
	}
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Submitted int `json:"submitted"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Retrying  int `json:"retrying"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	CacheHits int `json:"cacheHits"`
	Retries   int `json:"retries"`
}

type entry struct {
	task     Task
	seq      uint64
	state    State
	attempts int
	backoff  backoff.BackOff
	lastErr  error
	future   *Future
}

// Pool executes submitted tasks with at most MaxConcurrent running at once.
// Submit never blocks; tasks queue until Start and a free slot.
type Pool struct {
	cfg    Config
	logger *log.Logger

	mu       sync.Mutex
	queue    entryHeap
	seq      uint64
	started  bool
	closed   bool
	inflight map[*entry]struct{}
	retries  map[*entry]*time.Timer
	// pending counts submitted tasks that are not terminal yet.
	pending int
	settled chan struct{}
	stats   Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pool. MaxConcurrent below 1 is raised to 1.
func New(cfg Config) *Pool {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	settled := make(chan struct{})
	close(settled)
	return &Pool{
		cfg:      cfg,
		logger:   log.OrDefault(cfg.Logger).WithComponent("pool"),
		inflight: make(map[*entry]struct{}),
		retries:  make(map[*entry]*time.Timer),
		settled:  settled,
		ctx:      context.Background(),
		cancel:   func() {},
	}
}

// Start begins executing queued tasks. Work contexts derive from ctx.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.dispatchLocked()
}

// Submit queues t and returns its future.
func (p *Pool) Submit(t Task) (*Future, error) {
	if t.ID == "" || t.Work == nil {
		return nil, ErrInvalidTask
	}
	if err := t.Priority.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodePoolTaskInvalid, "invalid priority for task "+t.ID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	p.seq++
	e := &entry{
		task:    t,
		seq:     p.seq,
		state:   StateQueued,
		backoff: p.newBackOff(),
		future:  newFuture(t.ID),
	}
	if p.pending == 0 {
		p.settled = make(chan struct{})
	}
	p.pending++
	p.stats.Submitted++
	p.cfg.Metrics.PoolSubmit(t.Priority.String())

	p.queue.push(e)
	p.dispatchLocked()
	return e.future, nil
}

func (p *Pool) newBackOff() backoff.BackOff {
	if p.cfg.RetryBackoff <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RetryBackoff
	if p.cfg.MaxRetryBackoff > 0 {
		b.MaxInterval = p.cfg.MaxRetryBackoff
	}
	return b
}

// dispatchLocked admits queued tasks while slots are free. Cache hits
// complete without taking a slot.
func (p *Pool) dispatchLocked() {
	if !p.started || p.closed {
		return
	}
	for p.queue.Len() > 0 && len(p.inflight) < p.cfg.MaxConcurrent {
		e := p.queue.pop()

		if e.attempts == 0 && p.cfg.Cache != nil && e.task.CacheKey != "" {
			value, hit := p.cfg.Cache.Get(e.task.CacheKey)
			p.cfg.Metrics.PoolCache(hit)
			if hit {
				p.cfg.Metrics.PoolDrop()
				p.stats.CacheHits++
				p.finishLocked(e, Result{State: StateCompleted, Value: value, Cached: true})
				continue
			}
		}

		e.state = StateRunning
		e.attempts++
		p.inflight[e] = struct{}{}
		p.cfg.Metrics.PoolAdmit()
		p.wg.Add(1)
		go p.run(p.ctx, e)
	}
}

func (p *Pool) run(ctx context.Context, e *entry) {
	defer p.wg.Done()

	start := time.Now()
	value, err := p.attempt(ctx, e)
	elapsed := time.Since(start)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.inflight[e]; !ok {
		// Force-terminated by Shutdown; the future is already resolved.
		p.cfg.Metrics.PoolAttemptDone("terminated", elapsed)
		return
	}
	delete(p.inflight, e)

	if err == nil {
		p.cfg.Metrics.PoolAttemptDone("success", elapsed)
		if p.cfg.Cache != nil && e.task.CacheKey != "" {
			p.cfg.Cache.Add(e.task.CacheKey, value)
		}
		p.finishLocked(e, Result{State: StateCompleted, Value: value, Duration: elapsed})
		p.dispatchLocked()
		return
	}

	p.cfg.Metrics.PoolAttemptDone("failure", elapsed)
	e.lastErr = err

	if delay, ok := p.retryDelay(e, err); ok {
		e.state = StateRetrying
		p.stats.Retries++
		p.logger.Warn("task attempt failed, retrying",
			"task", e.task.ID,
			"attempt", e.attempts,
			"delay", delay,
			"error", err.Error(),
		)
		p.retries[e] = time.AfterFunc(delay, func() { p.requeue(e) })
	} else {
		p.logger.WithError(err).Warn("task failed", "task", e.task.ID, "attempts", e.attempts)
		p.finishLocked(e, Result{State: StateFailed, Err: unwrapPermanent(err), Duration: elapsed})
	}
	p.dispatchLocked()
}

func (p *Pool) retryDelay(e *entry, err error) (time.Duration, bool) {
	if p.closed || IsPermanent(err) || e.attempts > p.cfg.MaxRetries {
		return 0, false
	}
	delay := e.backoff.NextBackOff()
	if delay == backoff.Stop {
		return 0, false
	}
	return delay, true
}

// requeue puts a retrying task back at its original priority and sequence.
func (p *Pool) requeue(e *entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.retries[e]; !ok {
		return
	}
	delete(p.retries, e)
	e.state = StateQueued
	p.cfg.Metrics.PoolRequeue()
	p.queue.push(e)
	p.dispatchLocked()
}

func (p *Pool) attempt(ctx context.Context, e *entry) (value any, err error) {
	if p.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TaskTimeout)
		defer cancel()
	}

	ctx, span := telemetry.StartTaskSpan(ctx, p.cfg.Tracer, e.task.ID, e.attempts)
	span.SetAttributes(attribute.String("task.priority", e.task.Priority.String()))
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("task %s panicked: %v", e.task.ID, r))
		}
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}()

	return e.task.Work(ctx)
}

func (p *Pool) finishLocked(e *entry, r Result) {
	if e.state.IsTerminal() {
		return
	}
	e.state = r.State
	r.TaskID = e.task.ID
	r.Attempts = e.attempts

	switch r.State {
	case StateCompleted:
		p.stats.Completed++
		if r.Cached {
			p.cfg.Metrics.PoolOutcome("cached")
		} else {
			p.cfg.Metrics.PoolOutcome("completed")
		}
	default:
		p.stats.Failed++
		p.cfg.Metrics.PoolOutcome("failed")
	}

	e.future.resolve(r)
	p.pending--
	if p.pending == 0 {
		close(p.settled)
	}
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if stderrors.As(err, &perm) && perm.Err != nil {
		return perm.Err
	}
	return err
}

// WaitForCompletion blocks until every submitted task is terminal. It
// returns ErrWaitTimeout when timeout elapses first (zero waits
// indefinitely) and ctx.Err() when ctx ends first.
func (p *Pool) WaitForCompletion(ctx context.Context, timeout time.Duration) error {
	p.mu.Lock()
	settled := p.settled
	p.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-settled:
		return nil
	case <-expired:
		return ErrWaitTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks. Queued tasks and pending retries fail
// with ErrPoolClosed at once; running tasks get up to timeout to finish.
// Stragglers have their context cancelled and fail with
// ErrForceTerminated, which is also returned.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	dropped := 0
	for p.queue.Len() > 0 {
		e := p.queue.pop()
		p.cfg.Metrics.PoolDrop()
		p.finishLocked(e, Result{State: StateFailed, Err: ErrPoolClosed})
		dropped++
	}
	for e, timer := range p.retries {
		timer.Stop()
		delete(p.retries, e)
		p.finishLocked(e, Result{State: StateFailed, Err: ErrPoolClosed})
		dropped++
	}
	settled := p.settled
	running := len(p.inflight)
	p.mu.Unlock()

	p.logger.Info("pool shutting down", "dropped", dropped, "running", running)

	if !waitSettled(settled, timeout) {
		p.mu.Lock()
		terminated := 0
		for e := range p.inflight {
			delete(p.inflight, e)
			p.finishLocked(e, Result{State: StateFailed, Err: ErrForceTerminated})
			terminated++
		}
		p.mu.Unlock()
		p.cancel()

		if terminated > 0 {
			p.logger.Warn("force-terminated running tasks", "count", terminated)
			return fmt.Errorf("%w: %d tasks still running after %s", ErrForceTerminated, terminated, timeout)
		}
		return nil
	}
	p.cancel()
	return nil
}

// waitSettled reports whether settled closed within timeout.
func waitSettled(settled <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-settled:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-settled:
		return true
	case <-timer.C:
		return false
	}
}

// Drain waits for every worker goroutine to return, including those
// abandoned by a forced shutdown.
func (p *Pool) Drain() {
	p.wg.Wait()
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

// Stats returns counters for the pool's lifetime.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Queued = p.queue.Len()
	s.Running = len(p.inflight)
	s.Retrying = len(p.retries)
	return s
}
