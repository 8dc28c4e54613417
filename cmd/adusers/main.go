package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	a := newApp()
	err := newRootCommand(a).ExecuteContext(ctx)
	// PersistentPostRunE is skipped when a command fails.
	a.close()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, bad.Sprint("Error:"), err)
		os.Exit(1)
	}
}
