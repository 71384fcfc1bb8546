package cmd

import (
	"github.com/spf13/cobra"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
)

var validateCmd = &cobra.Command{
	Use:   "validate <plan>",
	Short: "Recount a plan's summary and repair drifted counters",
	Long: `Recompute the per-status counters of a plan from its task list.

Counters that disagree with the recount are reported and rewritten. Running
validate on a consistent plan changes nothing, so it is safe to run at any
time, including while a run is in progress.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}

	view := validateView{PlanID: args[0], Issues: []status.SummaryIssue{}}
	err = e.withStore(func(store *status.Manager) error {
		issues, err := store.Validate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if issues != nil {
			view.Issues = issues
		}
		return nil
	})
	if err != nil {
		return err
	}
	return e.out.Format(view)
}
