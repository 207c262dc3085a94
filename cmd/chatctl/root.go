package main

import (
	"context"

	"epichat-be/internal/bootstrap"
	"epichat-be/internal/config"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "chatctl",
	Short:         "chatctl - talk to and inspect the epichat engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	backendFlag string
	jsonFlag    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "session backend override (memory, redis, postgres, sqlite)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "print JSON instead of text")

	rootCmd.AddCommand(chatCmd, workflowsCmd, inspectCmd, attachCmd, resetCmd, sweepCmd)
}

// withContainer loads configuration, applies flag overrides and hands a built container
// to fn. The container is closed when fn returns.
func withContainer(ctx context.Context, fn func(*bootstrap.Container) error) error {
	cfg := config.Load()
	if backendFlag != "" {
		cfg.Session.Backend = backendFlag
	}

	c, err := bootstrap.NewContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}
