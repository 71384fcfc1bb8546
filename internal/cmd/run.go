package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/agent"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/metrics"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/orchestrator"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/plan"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/pool"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/progress"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/telemetry"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/ux"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/version"
)

// shutdownGrace is how long running agents get to finish after an interrupt.
const shutdownGrace = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run <plan>",
	Short: "Execute a plan until nothing more can start",
	Long: `Run every task of a plan through the configured agent.

Ready tasks are dispatched to a bounded pool as soon as their dependencies
complete. Failed agent invocations are retried with exponential backoff;
identical work (same description and referenced file contents) is served from
the result cache. Agent output is stored under <state-dir>/findings.

Failed tasks with retry budget left are requeued at start, and tasks left in
progress by a crashed run are reset to pending. On interrupt, running agents
get a grace period before they are cancelled and put back to pending.

Examples:
  devflow run roadmap
  devflow run roadmap --max-concurrent 5 --phase-priority
  devflow run roadmap --metrics-addr :9090 --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().Int("max-concurrent", 0, "maximum agents running at once (default from config)")
	runCmd.Flags().Int("max-batch", -1, "maximum tasks dispatched per scheduling round (default from config)")
	runCmd.Flags().Bool("phase-priority", false, "finish the earliest phase before starting later ones")
	runCmd.Flags().Bool("no-requeue", false, "leave failed tasks failed instead of requeueing retryable ones")
	runCmd.Flags().Bool("no-resume", false, "leave tasks of an interrupted run in progress")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	runCmd.Flags().Duration("grace", shutdownGrace, "how long running agents get to finish after an interrupt")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) (err error) {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	planID := args[0]
	flags := cmd.Flags()
	cfg := e.cfg

	if n, _ := flags.GetInt("max-concurrent"); n > 0 {
		cfg.Pool.MaxConcurrent = n
	}
	if n, _ := flags.GetInt("max-batch"); n >= 0 {
		cfg.Run.MaxBatch = n
	}
	if flags.Changed("phase-priority") {
		cfg.Run.PhasePriority, _ = flags.GetBool("phase-priority")
	}
	if noRequeue, _ := flags.GetBool("no-requeue"); noRequeue {
		cfg.Run.RequeueFailed = false
	}
	if addr, _ := flags.GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}
	noResume, _ := flags.GetBool("no-resume")
	grace, _ := flags.GetDuration("grace")

	ctx := cmd.Context()
	tc := cfg.Telemetry
	tc.ServiceVersion = version.GetInfo().Short()
	shutdownTracing, err := telemetry.InitProvider(ctx, tc)
	if err != nil {
		return ux.FormatError(err, "initializing tracing")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if serr := shutdownTracing(flushCtx); serr != nil {
			e.logger.WithError(serr).Warn("failed to flush traces")
		}
	}()

	ctx, span := telemetry.StartCommandSpan(ctx, "run")
	span.SetAttributes(attribute.String("plan.id", planID))
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}()

	reg, mt := metrics.NewRegistry()
	store, closeStore, err := e.openStore(mt)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			e.logger.WithError(cerr).Warn("failed to close status backend")
		}
	}()

	ps, err := store.Load(ctx, planID)
	if err != nil {
		return err
	}
	c, err := e.constraintsFor(planID)
	if err != nil {
		return err
	}
	priorities := map[domain.TaskID]domain.Priority{}
	if p, err := (plan.DirSource{Dir: cfg.ResolvedPlansDir()}).Load(planID); err == nil {
		priorities = p.Priorities()
	}

	inv, err := agent.NewCommandInvoker(cfg.Agent.Command, cfg.Agent.Args...)
	if err != nil {
		return err
	}
	inv.Env = cfg.Agent.Env
	inv.Timeout = cfg.Agent.Timeout
	inv.NonRetryableExitCodes = cfg.Agent.NonRetryableExitCodes
	inv.Logger = e.logger
	if wd, err := os.Getwd(); err == nil {
		inv.Dir = wd
	}

	pc := cfg.PoolSettings()
	pc.Logger = e.logger
	pc.Metrics = mt
	pc.Tracer = telemetry.Tracer("pool")
	if cfg.Pool.CacheSize > 0 {
		cache, err := pool.NewLRUCache(cfg.Pool.CacheSize)
		if err != nil {
			return err
		}
		pc.Cache = cache
	}
	cacheRoot := ""
	if pc.Cache != nil {
		cacheRoot = inv.Dir
	}

	var progressOut io.Writer = cmd.ErrOrStderr()
	if e.flags.Quiet || e.flags.Format != "text" {
		progressOut = io.Discard
	}
	indicator := progress.NewIndicator(progress.Config{Writer: progressOut, ShowSpinner: true})
	indicator.SetPlan(ps)
	indicator.PrintResumeInfo()

	sm := e.stuckManager(store)
	o := orchestrator.New(store, sm, pool.New(pc), inv, orchestrator.Config{
		PlanID:            planID,
		Constraints:       c,
		Priorities:        priorities,
		MaxBatch:          cfg.Run.MaxBatch,
		PhasePriority:     cfg.Run.PhasePriority,
		RequeueFailed:     cfg.Run.RequeueFailed,
		ResumeInterrupted: !noResume,
		StuckThreshold:    cfg.Stuck.Threshold,
		StuckInterval:     cfg.Stuck.Interval,
		ShutdownTimeout:   grace,
		CacheRoot:         cacheRoot,
		MetricsAddr:       cfg.Metrics.Addr,
	},
		orchestrator.WithLogger(e.logger),
		orchestrator.WithMetrics(mt, reg),
		orchestrator.WithObserver(indicator.UpdateTask),
		orchestrator.WithFindings(agent.NewFindingsWriter(e.paths.FindingsRoot())),
	)

	indicator.Start()
	sum, runErr := o.Run(ctx)
	indicator.Stop()
	indicator.PrintSummary()

	if sum.RunID != "" {
		if err := e.out.Format(runView{Summary: sum}); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if sum.Failed > 0 {
		return errors.New(errors.ErrCodeAgentFailed, fmt.Sprintf("%d of %d dispatched tasks failed", sum.Failed, sum.Dispatched)).
			WithSuggestion(fmt.Sprintf("Inspect failures with 'devflow status %s' and requeue with 'devflow retry %s'", planID, planID))
	}
	return nil
}
