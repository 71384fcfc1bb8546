package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/stuck"
)

var stuckCmd = &cobra.Command{
	Use:   "stuck <plan>",
	Short: "Fail tasks whose agent stopped responding",
	Long: `Find in-progress tasks that started longer ago than the threshold and
mark them failed with a stuck_timeout failure kind, so they show up as
retryable instead of blocking the plan forever.

Failed tasks are then classified against the retry ceiling: retryable tasks
can be requeued with 'devflow retry', exhausted ones need --force or a manual
decision.

Examples:
  devflow stuck roadmap
  devflow stuck roadmap --threshold 30m --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runStuck,
}

func init() {
	stuckCmd.Flags().Duration("threshold", 0, "age after which an in-progress task counts as stuck (default from config)")
	stuckCmd.Flags().Bool("dry-run", false, "only list stuck tasks, don't fail them")

	rootCmd.AddCommand(stuckCmd)
}

func (e *env) stuckManager(store *status.Manager) *stuck.Manager {
	return stuck.New(store,
		stuck.WithMaxRetries(e.cfg.Stuck.MaxRetries),
		stuck.WithLogger(e.logger),
	)
}

func runStuck(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	threshold, _ := cmd.Flags().GetDuration("threshold")
	if threshold <= 0 {
		threshold = e.cfg.Stuck.Threshold
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	ctx := cmd.Context()
	planID := args[0]
	view := stuckView{PlanID: planID, Threshold: threshold, DryRun: dryRun, Stuck: []stuckTask{}}
	now := time.Now()

	err = e.withStore(func(store *status.Manager) error {
		sm := e.stuckManager(store)

		var found []status.Task
		if dryRun {
			ps, err := store.Load(ctx, planID)
			if err != nil {
				return err
			}
			for _, t := range ps.TasksByStatus(domain.StatusInProgress) {
				if t.StartedAt != nil && now.Sub(*t.StartedAt) > threshold {
					found = append(found, t)
				}
			}
		} else {
			var err error
			if found, err = sm.DetectStuck(ctx, planID, threshold); err != nil {
				return err
			}
		}
		for _, t := range found {
			view.Stuck = append(view.Stuck, stuckTask{ID: t.ID, Started: stuck.Age(t, now)})
		}

		ps, err := store.Load(ctx, planID)
		if err != nil {
			return err
		}
		for _, t := range sm.RetryableTasks(ps) {
			view.Retryable = append(view.Retryable, t.ID)
		}
		for _, t := range sm.ExhaustedTasks(ps) {
			view.Exhausted = append(view.Exhausted, t.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return e.out.Format(view)
}
