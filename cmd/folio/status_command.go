package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"folio/internal/ipc"
	"folio/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, worker, and cache status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status *ipc.StatusResponse
			err := ctx.withClient(func(client *ipc.Client) error {
				callCtx, cancel := callContext(cmd, 0)
				defer cancel()
				resp, err := client.Status(callCtx)
				if err != nil {
					return err
				}
				status = resp
				return nil
			})
			if err != nil && jsonOutput {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), status)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range daemonLines(status, colorize) {
				fmt.Fprintln(stdout, line)
			}
			if err != nil {
				fmt.Fprintln(stdout, renderStatusLine("Connection", statusError, err.Error(), colorize))
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range preflightLines(preflight.RunAll(cmd.Context(), ctx.configValue()), colorize) {
				fmt.Fprintln(stdout, line)
			}

			if status != nil && len(status.Dependencies) > 0 {
				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Dependencies", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, line := range dependencyLines(status.Dependencies, colorize) {
					fmt.Fprintln(stdout, line)
				}
			}

			if status != nil {
				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Cache Generations", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprint(stdout, renderGenerations(status.Generations))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw status as JSON")
	return cmd
}
