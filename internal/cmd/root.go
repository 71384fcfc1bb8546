package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "devflow",
	Short: "Phased task-plan scheduler and executor",
	Long: `devflow drives a task plan, split into phases and connected by explicit
dependencies, to completion. It keeps a durable record of every task's status,
works out which tasks are safe to start, and runs them through an external
agent with bounded concurrency, caching and retries.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which is cancelled on
// interrupt so long runs can wind down cleanly.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default is <state-dir>/devflow.yaml)")
	rootCmd.PersistentFlags().String("state-dir", "", "state directory (default is the nearest .devflow)")
	rootCmd.PersistentFlags().String("plans-dir", "", "directory holding plan descriptions (default is <state-dir>/plans)")
	rootCmd.PersistentFlags().String("backend", "", "status backend: file or sqlite")
	rootCmd.PersistentFlags().StringP("format", "o", "text", "output format: text, json or yaml")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress progress output")
}
