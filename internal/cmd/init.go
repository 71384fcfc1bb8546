package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/config"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/plan"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/ux"
)

var initCmd = &cobra.Command{
	Use:   "init [plan-file]",
	Short: "Set up the state directory and optionally initialize a plan",
	Long: `Create the .devflow state directory with a default devflow.yaml.

When a plan description (JSON or YAML) is given, it is validated, copied into
the plans directory and its status record is created with every task pending.
Initialization is one-time: a plan that already has a status record is never
merged or overwritten.

Examples:
  # Set up the state directory only
  devflow init

  # Initialize a plan from a description
  devflow init roadmap.yaml

  # Store the plan under a different ID
  devflow init plans/q3.json --id roadmap`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().String("id", "", "plan ID (default is the plan's own id or file name)")
	initCmd.Flags().Bool("force-config", false, "overwrite an existing devflow.yaml with the defaults")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	planID, _ := cmd.Flags().GetString("id")
	forceConfig, _ := cmd.Flags().GetBool("force-config")

	if err := ux.EnsureStateDir(e.paths); err != nil {
		return ux.FormatError(err, "creating state directory")
	}
	plansDir := e.cfg.ResolvedPlansDir()
	if err := os.MkdirAll(plansDir, 0o755); err != nil {
		return ux.FormatError(err, "creating plans directory")
	}

	view := initView{StateDir: e.cfg.StateDir, ConfigFile: e.paths.ConfigFile()}
	if _, err := os.Stat(view.ConfigFile); os.IsNotExist(err) || forceConfig {
		cfg := config.DefaultConfig()
		cfg.Backend = e.cfg.Backend
		if err := config.Save(cfg, view.ConfigFile); err != nil {
			return err
		}
		e.logger.Info("wrote default configuration", "path", view.ConfigFile)
	}

	if len(args) == 1 {
		p, err := plan.Load(args[0])
		if err != nil {
			return err
		}
		if planID != "" {
			p.ID = planID
		}

		view.PlanID = p.ID
		view.Tasks = len(p.Tasks)
		ext := ".json"
		if plan.FormatOf(args[0]) == plan.FormatYAML {
			ext = ".yaml"
		}
		view.PlanFile = filepath.Join(plansDir, p.ID+ext)

		err = e.withStore(func(store *status.Manager) error {
			if _, err := store.Initialize(cmd.Context(), p.ID, p.Seeds()); err != nil {
				return err
			}
			return plan.Save(p, view.PlanFile)
		})
		if err != nil {
			return fmt.Errorf("initializing plan %s: %w", p.ID, err)
		}
	}

	return e.out.Format(view)
}
