package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/cmd"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/exitcode"
)

func main() {
	// Create a context that listens for interrupt signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		// A run that was interrupted has already put its tasks back to pending
		if stderrors.Is(err, context.Canceled) && ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "\nOperation cancelled by user")
			stop()
			exitcode.Exit(exitcode.Interrupted)
		}

		cmd.PrintError(os.Stderr, err)
		stop()
		exitcode.ExitWithError(err)
	}
	stop()
	exitcode.Exit(exitcode.Success)
}
