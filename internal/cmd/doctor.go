package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/health"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/ux"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that devflow can run here",
	Long: `Run environment checks: the state directory is writable, the status
backend is readable and every stored plan still has a valid dependency graph,
and the configured agent command is on PATH.

Exits non-zero when any check is unhealthy.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().Duration("timeout", health.DefaultTimeout, "timeout for each check")

	rootCmd.AddCommand(doctorCmd)
}

// doctorView is the output of `devflow doctor`.
type doctorView struct {
	Status health.Status             `json:"status" yaml:"status"`
	Checks map[string]*health.Result `json:"checks" yaml:"checks"`
}

func (v doctorView) RenderText(w io.Writer) error {
	fmt.Fprintln(w, ux.TitleStyle.Render("devflow doctor"))
	for _, name := range health.SortedNames(v.Checks) {
		r := v.Checks[name]
		mark := ux.SuccessStyle.Render("✓")
		switch r.Status {
		case health.StatusDegraded:
			mark = ux.WarningStyle.Render("!")
		case health.StatusUnhealthy:
			mark = ux.ErrorStyle.Render("✗")
		}
		fmt.Fprintf(w, "  %s %-14s %s\n", mark, name, r.Message)
		if s, ok := r.Details["suggestion"].(string); ok {
			fmt.Fprintln(w, ux.MutedStyle.Render("      "+s))
		}
		if problems, ok := r.Details["problems"].([]string); ok {
			for _, p := range problems {
				fmt.Fprintln(w, ux.MutedStyle.Render("      "+p))
			}
		}
	}
	fmt.Fprintf(w, "\nOverall: %s\n", v.Status)
	return nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	m := health.NewManager().WithTimeout(timeout)
	m.AddChecker(health.NewStateDirChecker(e.cfg.StateDir))
	m.AddChecker(health.NewAgentChecker(e.cfg.Agent.Command))

	var view doctorView
	err = e.withStore(func(store *status.Manager) error {
		m.AddChecker(health.NewStoreChecker(store))
		view.Checks = m.Check(cmd.Context())
		return nil
	})
	if err != nil {
		return err
	}
	view.Status = m.OverallStatus(view.Checks)

	if err := e.out.Format(view); err != nil {
		return err
	}
	if view.Status == health.StatusUnhealthy {
		return fmt.Errorf("environment is %s", view.Status)
	}
	return nil
}
