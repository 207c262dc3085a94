// Command chatctl drives the conversation engine from a terminal: an interactive chat,
// the workflow catalog, session inspection and a one-off idle sweep. It uses the same
// configuration and session backend as the REST server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"epichat-be/pkg/sandbox"
)

func main() {
	sandbox.ServeWorkerIfRequested()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
