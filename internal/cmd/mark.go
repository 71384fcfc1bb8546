package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
)

var markCmd = &cobra.Command{
	Use:   "mark <plan> <task> <status>",
	Short: "Record a task status transition",
	Long: `Set a task's status to pending, in_progress, completed, failed or skipped.

The matching timestamp is stamped and the plan summary recomputed. Notes,
errors, reasons and findings references are merged into the task; flags left
empty keep the stored value.

Examples:
  devflow mark roadmap 2.3 in_progress
  devflow mark roadmap 2.3 completed --findings findings/roadmap/2.3.md
  devflow mark roadmap 2.4 failed --error "tests did not pass"
  devflow mark roadmap 3.1 skipped --reason "covered by 2.4"`,
	Args: cobra.ExactArgs(3),
	RunE: runMark,
}

func init() {
	markCmd.Flags().String("notes", "", "free-form notes")
	markCmd.Flags().String("error", "", "error message (for failed)")
	markCmd.Flags().String("reason", "", "reason for the transition")
	markCmd.Flags().String("findings", "", "findings reference")

	rootCmd.AddCommand(markCmd)
}

func runMark(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}

	planID := args[0]
	taskID, err := domain.NewTaskID(args[1])
	if err != nil {
		return fmt.Errorf("invalid task ID %q: %w", args[1], err)
	}
	to, err := domain.ParseTaskStatus(args[2])
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidStatus, fmt.Sprintf("invalid status %q", args[2]), err).
			WithSuggestion("Use one of: pending, in_progress, completed, failed, skipped")
	}

	extras := status.Extras{}
	extras.Notes, _ = cmd.Flags().GetString("notes")
	extras.Error, _ = cmd.Flags().GetString("error")
	extras.Reason, _ = cmd.Flags().GetString("reason")
	extras.FindingsRef, _ = cmd.Flags().GetString("findings")

	err = e.withStore(func(store *status.Manager) error {
		found, err := store.UpdateTaskStatus(cmd.Context(), planID, taskID, to, extras)
		if err != nil {
			return err
		}
		if !found {
			return errors.NewTaskNotFoundError(planID, string(taskID))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return e.out.Format(markView{PlanID: planID, TaskID: taskID, Status: to})
}
