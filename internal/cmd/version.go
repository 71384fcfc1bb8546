package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/ux"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print version information including version number, git commit,
build date, Go version, and platform.`,
	RunE: runVersion,
}

func init() {
	versionCmd.Flags().BoolP("verbose", "v", false, "show detailed version information")

	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	info := version.GetInfo()
	format, _ := cmd.Flags().GetString("format")
	verbose, _ := cmd.Flags().GetBool("verbose")
	out := cmd.OutOrStdout()

	// Structured output
	if format != "" && format != "text" {
		f, err := ux.NewFormatter(format, &ux.FormatterOptions{Writer: out})
		if err != nil {
			return err
		}
		return f.Format(info)
	}

	if verbose {
		fmt.Fprintln(out, ux.TitleStyle.Render("devflow"))
		fmt.Fprintln(out, ux.MutedStyle.Render("phased task-plan scheduler and executor"))
		fmt.Fprintln(out)
		fmt.Fprintln(out, info.String())
		return nil
	}

	// Default output (short version only)
	fmt.Fprintf(out, "devflow %s\n", info.Short())
	return nil
}
