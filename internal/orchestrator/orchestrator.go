// Package orchestrator drives a plan to completion: it asks the scheduler
// for ready tasks, runs them through the agent on the task pool and
// records every outcome in the status store.
package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/agent"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/constraints"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/graph"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/log"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/metrics"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/pool"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/scheduler"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/stuck"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/telemetry"
)

// Reasons recorded on tasks the orchestrator puts back to pending.
const (
	ReasonInterrupted = "interrupted before completion"
	ReasonResumed     = "left in progress by an earlier run"
)

// Config describes one run.
type Config struct {
	PlanID      string
	Constraints *constraints.Constraints
	// Priorities sets pool admission priority per task; missing tasks run
	// at NORMAL.
	Priorities map[domain.TaskID]domain.Priority

	// MaxBatch caps tasks dispatched per scheduling round; 0 means no cap.
	MaxBatch      int
	PhasePriority bool
	// RequeueFailed requeues failed tasks that still have retry budget
	// before dispatching.
	RequeueFailed bool
	// ResumeInterrupted resets tasks left in_progress by a crashed run.
	ResumeInterrupted bool

	StuckThreshold time.Duration
	StuckInterval  time.Duration
	// ShutdownTimeout is how long running agents get after cancellation.
	ShutdownTimeout time.Duration
	// CacheRoot is the directory referenced files are hashed relative to.
	// Empty disables result caching keys.
	CacheRoot string

	// MetricsAddr, when set, serves /metrics for the duration of the run.
	MetricsAddr string
}

// Observer is told about every transition the orchestrator records.
type Observer func(id domain.TaskID, to domain.TaskStatus, err error)

// Summary reports what a run did.
type Summary struct {
	RunID       string          `json:"runId"`
	PlanID      string          `json:"planId"`
	Dispatched  int             `json:"dispatched"`
	Completed   int             `json:"completed"`
	Cached      int             `json:"cached"`
	Failed      int             `json:"failed"`
	Requeued    []domain.TaskID `json:"requeued,omitempty"`
	Resumed     []domain.TaskID `json:"resumed,omitempty"`
	Interrupted bool            `json:"interrupted"`
	Duration    time.Duration   `json:"duration"`
	// Final is the status summary after the run.
	Final status.Summary `json:"final"`
}

// Orchestrator runs plans. Create one per run.
type Orchestrator struct {
	store     *status.Manager
	stuck     *stuck.Manager
	pool      *pool.Pool
	invoker   agent.Invoker
	findings  *agent.FindingsWriter
	scheduler *scheduler.Scheduler
	cfg       Config

	logger   *log.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	observer Observer
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the metrics sink and the gatherer served on
// Config.MetricsAddr.
func WithMetrics(mt *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(o *Orchestrator) {
		o.metrics = mt
		o.gatherer = g
	}
}

// WithObserver registers a transition observer.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithFindings sets where successful agent output is stored.
func WithFindings(w *agent.FindingsWriter) Option {
	return func(o *Orchestrator) { o.findings = w }
}

// New wires an orchestrator. The pool must not be started yet; Run starts
// and shuts it down.
func New(store *status.Manager, sm *stuck.Manager, p *pool.Pool, inv agent.Invoker, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		stuck:   sm,
		pool:    p,
		invoker: inv,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = log.OrDefault(o.logger).WithComponent("orchestrator")
	o.scheduler = &scheduler.Scheduler{Logger: o.logger, Metrics: o.metrics}
	return o
}

// Run executes the plan until nothing more can start or ctx is cancelled.
// Cancellation shuts the pool down and puts unfinished tasks back to
// pending; the summary is still returned along with ctx's error.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	start := o.now()
	sum := Summary{PlanID: o.cfg.PlanID}

	ctx, span := telemetry.Tracer("orchestrator").Start(ctx, "orchestrator.run")
	span.SetAttributes(attribute.String("plan.id", o.cfg.PlanID))
	defer span.End()

	ps, err := o.store.Load(ctx, o.cfg.PlanID)
	if err != nil {
		telemetry.RecordError(span, err)
		return sum, err
	}
	g, err := ps.Graph()
	if err != nil {
		telemetry.RecordError(span, err)
		return sum, err
	}
	if err := o.cfg.Constraints.Validate(g.Has); err != nil {
		return sum, err
	}

	if o.cfg.ResumeInterrupted {
		if sum.Resumed, err = o.resumeInterrupted(ctx, ps); err != nil {
			return sum, err
		}
	}
	if o.cfg.RequeueFailed && o.stuck != nil {
		if sum.Requeued, err = o.stuck.RequeueRetryable(ctx, o.cfg.PlanID); err != nil {
			return sum, err
		}
	}

	run, err := o.store.StartRun(ctx, o.cfg.PlanID)
	if err != nil {
		return sum, err
	}
	sum.RunID = run.RunID
	o.logger.InfoContext(ctx, "run started", "plan", o.cfg.PlanID, "run", run.RunID,
		"requeued", len(sum.Requeued), "resumed", len(sum.Resumed))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, egCtx := errgroup.WithContext(runCtx)

	eg.Go(func() error {
		defer cancel()
		return o.dispatch(egCtx, ctx, g, &sum)
	})
	if o.stuck != nil && o.cfg.StuckThreshold > 0 && o.cfg.StuckInterval > 0 {
		eg.Go(func() error {
			return o.stuck.Watch(egCtx, o.cfg.PlanID, o.cfg.StuckThreshold, o.cfg.StuckInterval, o.onStuck)
		})
	}
	if o.cfg.MetricsAddr != "" && o.gatherer != nil {
		eg.Go(func() error { return o.serveMetrics(egCtx) })
	}
	runErr := eg.Wait()

	// Bookkeeping must land even when the caller's context is gone.
	bg := context.WithoutCancel(ctx)
	if _, err := o.store.CompleteRun(bg, o.cfg.PlanID, run.RunID); err != nil {
		o.logger.LogError(bg, "failed to close run record", err)
	}
	if final, err := o.store.Load(bg, o.cfg.PlanID); err == nil {
		sum.Final = final.Summary
	}
	sum.Duration = o.now().Sub(start)
	sum.Interrupted = ctx.Err() != nil

	o.logger.InfoContext(bg, "run finished",
		"plan", o.cfg.PlanID,
		"run", run.RunID,
		"dispatched", sum.Dispatched,
		"completed", sum.Completed,
		"failed", sum.Failed,
		"interrupted", sum.Interrupted,
	)

	if runErr == nil && sum.Interrupted {
		runErr = ctx.Err()
	}
	if runErr != nil {
		telemetry.RecordError(span, runErr)
	} else {
		telemetry.RecordSuccess(span, attribute.Int("tasks.completed", sum.Completed))
	}
	return sum, runErr
}

type outcome struct {
	id     domain.TaskID
	result pool.Result
}

// dispatch is the scheduling loop. It records agent outcomes; the stuck
// watcher only fails tasks that are still in progress under the store lock.
func (o *Orchestrator) dispatch(ctx, parent context.Context, g *graph.Graph, sum *Summary) error {
	// Agents keep running past cancellation until Shutdown's drain window
	// closes, so the pool doesn't inherit ctx's cancellation.
	bg := context.WithoutCancel(parent)
	o.pool.Start(bg)

	results := make(chan outcome)
	inflight := make(map[domain.TaskID]*pool.Future)

	for {
		if ctx.Err() == nil {
			if err := o.schedule(ctx, g, inflight, results, sum); err != nil && ctx.Err() == nil {
				o.shutdown(bg, inflight, results, sum)
				return err
			}
		}

		if len(inflight) == 0 {
			if err := o.pool.Shutdown(0); err != nil {
				o.logger.LogError(bg, "pool shutdown", err)
			}
			o.pool.Drain()
			return nil
		}

		select {
		case oc := <-results:
			delete(inflight, oc.id)
			o.record(bg, oc, sum)
		case <-ctx.Done():
			o.shutdown(bg, inflight, results, sum)
			return nil
		}
	}
}

// schedule submits every task the scheduler currently allows.
func (o *Orchestrator) schedule(ctx context.Context, g *graph.Graph, inflight map[domain.TaskID]*pool.Future, results chan<- outcome, sum *Summary) error {
	ps, err := o.store.Load(ctx, o.cfg.PlanID)
	if err != nil {
		return err
	}
	batch, err := o.scheduler.Next(ps, g, o.cfg.Constraints, scheduler.Options{
		MaxTasks:       o.cfg.MaxBatch,
		PhasePriority:  o.cfg.PhasePriority,
		SkipInProgress: true,
		SkipFailed:     true,
	})
	if err != nil {
		return err
	}
	if len(batch.Tasks) == 0 {
		return nil
	}
	if batch.ConflictPairs > 0 {
		o.logger.WarnContext(ctx, "dispatching tasks that touch the same files",
			"plan", o.cfg.PlanID, "pairs", batch.ConflictPairs)
	}

	for _, rt := range batch.Tasks {
		if _, running := inflight[rt.ID]; running {
			continue
		}
		task, _ := ps.Task(rt.ID)
		if _, err := o.store.UpdateTaskStatus(ctx, o.cfg.PlanID, rt.ID, domain.StatusInProgress, status.Extras{}); err != nil {
			return err
		}
		o.notify(rt.ID, domain.StatusInProgress, nil)

		fut, err := o.pool.Submit(o.poolTask(rt, task))
		if err != nil {
			// Submit only fails once the pool is closing.
			o.revert(context.WithoutCancel(ctx), rt.ID)
			return nil
		}
		inflight[rt.ID] = fut
		sum.Dispatched++

		go func(id domain.TaskID, fut *pool.Future) {
			<-fut.Done()
			r, _ := fut.Result()
			results <- outcome{id: id, result: r}
		}(rt.ID, fut)
	}
	return nil
}

func (o *Orchestrator) poolTask(rt scheduler.RankedTask, t status.Task) pool.Task {
	priority, ok := o.cfg.Priorities[rt.ID]
	if !ok {
		priority = domain.PriorityNormal
	}

	var cacheKey string
	if o.cfg.CacheRoot != "" {
		key, err := agent.CacheKey(o.cfg.CacheRoot, rt.Description, rt.Files)
		if err != nil {
			o.logger.WithError(err).Warn("caching disabled for task", "task", rt.ID)
		} else {
			cacheKey = key
		}
	}

	req := agent.Request{
		PlanID:      o.cfg.PlanID,
		TaskID:      string(rt.ID),
		Phase:       rt.Phase,
		Description: rt.Description,
		Files:       rt.Files,
		Attempt:     t.RetryCount,
		LastError:   t.LastError,
	}

	// Attempts run one at a time, so the closure state needs no lock.
	return pool.Task{
		ID:       string(rt.ID),
		Priority: priority,
		CacheKey: cacheKey,
		Metadata: map[string]string{"phase": rt.Phase},
		Work: func(ctx context.Context) (any, error) {
			req.Attempt++
			resp, err := o.invoker.Invoke(ctx, req)
			if err == nil && !resp.Success {
				err = errors.New(errors.ErrCodeAgentFailed, "agent reported failure: "+resp.Error)
			}
			if err != nil {
				req.LastError = err.Error()
				return nil, err
			}
			return resp, nil
		},
	}
}

// record persists one pool outcome.
func (o *Orchestrator) record(ctx context.Context, oc outcome, sum *Summary) {
	r := oc.result
	switch {
	case r.State == pool.StateCompleted:
		extras := status.Extras{}
		if r.Cached {
			sum.Cached++
			extras.Notes = "result reused from cache"
		}
		if resp, ok := r.Value.(agent.Response); ok && o.findings != nil {
			ref, err := o.findings.Write(o.cfg.PlanID, string(oc.id), resp)
			if err != nil {
				o.logger.LogError(ctx, "failed to write findings", err)
			} else {
				extras.FindingsRef = ref
			}
		}
		o.update(ctx, oc.id, domain.StatusCompleted, extras)
		sum.Completed++
		o.notify(oc.id, domain.StatusCompleted, nil)

	case stderrors.Is(r.Err, pool.ErrPoolClosed), stderrors.Is(r.Err, pool.ErrForceTerminated):
		o.revert(ctx, oc.id)

	default:
		msg := "task failed"
		if r.Err != nil {
			msg = r.Err.Error()
		}
		o.update(ctx, oc.id, domain.StatusFailed, status.Extras{Error: msg})
		sum.Failed++
		o.notify(oc.id, domain.StatusFailed, r.Err)
	}
}

func (o *Orchestrator) revert(ctx context.Context, id domain.TaskID) {
	o.update(ctx, id, domain.StatusPending, status.Extras{Reason: ReasonInterrupted})
	o.notify(id, domain.StatusPending, nil)
}

func (o *Orchestrator) update(ctx context.Context, id domain.TaskID, to domain.TaskStatus, extras status.Extras) {
	if _, err := o.store.UpdateTaskStatus(ctx, o.cfg.PlanID, id, to, extras); err != nil {
		o.logger.LogError(ctx, fmt.Sprintf("failed to record %s for task %s", to, id), err)
	}
}

// shutdown stops the pool and records the outcome of everything still in
// flight. Shutdown resolves every future, so the loop below terminates.
func (o *Orchestrator) shutdown(ctx context.Context, inflight map[domain.TaskID]*pool.Future, results <-chan outcome, sum *Summary) {
	if err := o.pool.Shutdown(o.cfg.ShutdownTimeout); err != nil {
		o.logger.WithError(err).Warn("pool shutdown forced")
	}
	for len(inflight) > 0 {
		oc := <-results
		delete(inflight, oc.id)
		o.record(ctx, oc, sum)
	}
	o.pool.Drain()
}

func (o *Orchestrator) resumeInterrupted(ctx context.Context, ps *status.PlanStatus) ([]domain.TaskID, error) {
	var resumed []domain.TaskID
	for _, t := range ps.TasksByStatus(domain.StatusInProgress) {
		if _, err := o.store.UpdateTaskStatus(ctx, o.cfg.PlanID, t.ID, domain.StatusPending, status.Extras{Reason: ReasonResumed}); err != nil {
			return resumed, err
		}
		resumed = append(resumed, t.ID)
	}
	return resumed, nil
}

func (o *Orchestrator) onStuck(tasks []status.Task) {
	for _, t := range tasks {
		o.notify(t.ID, domain.StatusFailed, fmt.Errorf("no response for %s", stuck.Age(t, o.now())))
	}
}

func (o *Orchestrator) notify(id domain.TaskID, to domain.TaskStatus, err error) {
	if o.observer != nil {
		o.observer(id, to, err)
	}
}

func (o *Orchestrator) serveMetrics(ctx context.Context) error {
	ln, err := net.Listen("tcp", o.cfg.MetricsAddr)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigInvalid, "failed to listen on metrics address "+o.cfg.MetricsAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HandlerFor(o.gatherer))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	o.logger.Info("serving metrics", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
