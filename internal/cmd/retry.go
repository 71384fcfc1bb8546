package cmd

import (
	stderrors "errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
)

var retryCmd = &cobra.Command{
	Use:   "retry <plan> [task...]",
	Short: "Requeue failed tasks",
	Long: `Move failed tasks back to pending and bump their retry count.

With task IDs, only those tasks are requeued; a task that already used its
retry budget is refused unless --force is given. Without task IDs, every
failed task still under the retry ceiling is requeued.

Examples:
  devflow retry roadmap
  devflow retry roadmap 2.4 3.1
  devflow retry roadmap 2.4 --force`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRetry,
}

func init() {
	retryCmd.Flags().Bool("force", false, "requeue even when the retry budget is exhausted")

	rootCmd.AddCommand(retryCmd)
}

func runRetry(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")

	ctx := cmd.Context()
	planID := args[0]
	view := retryView{PlanID: planID, Requeued: map[domain.TaskID]int{}}

	err = e.withStore(func(store *status.Manager) error {
		sm := e.stuckManager(store)

		if len(args) == 1 {
			ids, err := sm.RequeueRetryable(ctx, planID)
			if err != nil {
				return err
			}
			ps, err := store.Load(ctx, planID)
			if err != nil {
				return err
			}
			for _, id := range ids {
				t, _ := ps.Task(id)
				view.Requeued[id] = t.RetryCount
			}
			return nil
		}

		for _, arg := range args[1:] {
			id := domain.TaskID(arg)
			count, err := sm.Requeue(ctx, planID, id, force)
			switch {
			case err == nil:
				view.Requeued[id] = count
			case errors.HasCode(err, errors.ErrCodeRetryExhausted), errors.HasCode(err, errors.ErrCodeInvalidStatus):
				if view.Refused == nil {
					view.Refused = make(map[domain.TaskID]string)
				}
				msg := err.Error()
				var werr *errors.WorkflowError
				if stderrors.As(err, &werr) {
					msg = werr.Message
				}
				view.Refused[id] = msg
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := e.out.Format(view); err != nil {
		return err
	}
	if len(view.Refused) > 0 {
		return errors.New(errors.ErrCodeRetryExhausted, fmt.Sprintf("%d tasks were not requeued", len(view.Refused)))
	}
	return nil
}
