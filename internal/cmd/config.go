package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View devflow configuration",
	Long: `Inspect the configuration devflow resolves from devflow.yaml, the
DEVFLOW_* environment variables and command-line flags.

Examples:
  # Show the effective configuration
  devflow config view

  # Show which file is read
  devflow config path

  # List the supported environment variables
  devflow config env
`,
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Display the effective configuration",
	RunE:  runConfigView,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the configuration file path",
	RunE:  runConfigPath,
}

var configEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "List environment variable overrides",
	RunE:  runConfigEnv,
}

func init() {
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configEnvCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigView(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	if e.flags.Format != "text" {
		return e.out.Format(e.cfg)
	}

	data, err := yaml.Marshal(e.cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	path := e.flags.ConfigFile
	if path == "" {
		path = e.paths.ConfigFile()
	}

	state := "not found, using defaults"
	if _, err := os.Stat(path); err == nil {
		state = "exists"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", path, state)
	return nil
}

func runConfigEnv(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, key := range config.EnvKeys() {
		value, set := os.LookupEnv(key)
		if !set {
			fmt.Fprintln(out, key)
			continue
		}
		fmt.Fprintf(out, "%s=%s\n", key, strings.TrimSpace(value))
	}
	return nil
}
