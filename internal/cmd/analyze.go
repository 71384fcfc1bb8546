package cmd

import (
	"github.com/spf13/cobra"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/analysis"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <plan>",
	Short: "Show the critical path and available parallelism",
	Long: `Compute the longest dependency chain of a plan and how much of the
remaining work could run in parallel.

The speedup is pending tasks divided by the critical-path tasks still to do,
an upper bound on what more concurrency can buy. It reads N/A once nothing is
left to run.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}

	var view analysisView
	err = e.withStore(func(store *status.Manager) error {
		ps, err := store.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		report, err := analysis.Analyze(ps, nil)
		if err != nil {
			return err
		}
		view = analysisView{PlanID: args[0], Report: report}
		return nil
	})
	if err != nil {
		return err
	}
	return e.out.Format(view)
}
