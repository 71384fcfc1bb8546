package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
)

var statusCmd = &cobra.Command{
	Use:   "status [plan]",
	Short: "Show plan progress",
	Long: `Without arguments, list every plan with a status record and its counters.
With a plan ID, show each task's status grouped by phase, the last error of
failed tasks and the most recent run.

Examples:
  devflow status
  devflow status roadmap
  devflow status roadmap --format yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if len(args) == 0 {
		view := planListView{Plans: []planEntry{}}
		err := e.withStore(func(store *status.Manager) error {
			ids, err := store.List(ctx)
			if err != nil {
				return err
			}
			for _, id := range ids {
				ps, err := store.Load(ctx, id)
				if err != nil {
					return err
				}
				view.Plans = append(view.Plans, planEntry{ID: id, Summary: ps.Summary})
			}
			return nil
		})
		if err != nil {
			return err
		}
		return e.out.Format(view)
	}

	var view statusView
	err = e.withStore(func(store *status.Manager) error {
		ps, err := store.Load(ctx, args[0])
		if err != nil {
			return err
		}
		view = statusView{Plan: ps, Progress: ps.Progress(), now: time.Now()}
		return nil
	})
	if err != nil {
		return err
	}
	return e.out.Format(view)
}
