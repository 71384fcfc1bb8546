package cmd

import (
	"github.com/spf13/cobra"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/scheduler"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
)

var readyCmd = &cobra.Command{
	Use:   "ready <plan>",
	Short: "Show the tasks that are safe to start next",
	Long: `Select the next batch of tasks for a plan.

Tasks already in progress come first, then failed tasks, then pending tasks
whose dependencies are complete and whose phase is not held back by an
earlier, less than 80% complete phase. Parallel-phase and pipeline
constraints relax phase ordering; sequential constraints tighten it. Tasks
in the batch that reference the same files are flagged.

Examples:
  devflow ready roadmap
  devflow ready roadmap --max 3 --explain
  devflow ready roadmap --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runReady,
}

func init() {
	readyCmd.Flags().Int("max", 0, "maximum number of tasks to return (0 = no limit)")
	readyCmd.Flags().Bool("ignore-deps", false, "ignore dependencies and phase ordering; unmet dependencies are still listed")
	readyCmd.Flags().Bool("phase-priority", false, "only return tasks from the earliest phase with eligible work")
	readyCmd.Flags().Bool("explain", false, "list held-back tasks and why")

	rootCmd.AddCommand(readyCmd)
}

func runReady(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	opts := scheduler.Options{}
	opts.MaxTasks, _ = cmd.Flags().GetInt("max")
	opts.IgnoreDeps, _ = cmd.Flags().GetBool("ignore-deps")
	opts.PhasePriority, _ = cmd.Flags().GetBool("phase-priority")
	explain, _ := cmd.Flags().GetBool("explain")

	planID := args[0]
	c, err := e.constraintsFor(planID)
	if err != nil {
		return err
	}

	var view readyView
	err = e.withStore(func(store *status.Manager) error {
		ps, err := store.Load(cmd.Context(), planID)
		if err != nil {
			return err
		}
		g, err := ps.Graph()
		if err != nil {
			return err
		}
		if err := c.Validate(g.Has); err != nil {
			return err
		}
		s := &scheduler.Scheduler{Logger: e.logger}
		batch, err := s.Next(ps, g, c, opts)
		if err != nil {
			return err
		}
		view = readyView{PlanID: planID, Batch: batch, explain: explain}
		return nil
	})
	if err != nil {
		return err
	}
	return e.out.Format(view)
}
