package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"epichat-be/internal/bootstrap"
	"epichat-be/internal/mapper"

	"github.com/spf13/cobra"
)

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "List the guided workflows and their stages",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd.Context(), func(c *bootstrap.Container) error {
			defs := c.Engine.Workflows().All()
			if jsonFlag {
				return printJSON(cmd, mapper.NewChatMapper().WorkflowsToResponse(defs))
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSTAGES\tSUCCESSOR")
			for _, d := range defs {
				stages := make([]string, len(d.Stages))
				for i, s := range d.Stages {
					stages[i] = s.Name
				}
				successor := d.Handoff.Successor
				if successor == "" {
					successor = "-"
				} else if d.Handoff.AutoStart {
					successor += " (auto)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, strings.Join(stages, " > "), successor)
			}
			return tw.Flush()
		})
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Print the stored state of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd.Context(), func(c *bootstrap.Container) error {
			state, err := c.Engine.Snapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, mapper.NewChatMapper().StateToResponse(state, c.Engine.StageOf(state)))
		})
	},
}

var attachCmd = &cobra.Command{
	Use:   "attach <session-id> <reference>",
	Short: "Attach a dataset reference to a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd.Context(), func(c *bootstrap.Container) error {
			schema, err := c.Engine.AttachData(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, mapper.NewChatMapper().SchemaToResponse(schema))
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd.Context(), func(c *bootstrap.Container) error {
			return c.Engine.Reset(cmd.Context(), args[0])
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire idle sessions once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(cmd.Context(), func(c *bootstrap.Container) error {
			n, err := c.Sweeper.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d session(s)\n", n)
			return nil
		})
	},
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
