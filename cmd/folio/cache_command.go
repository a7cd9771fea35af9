package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"folio/internal/ipc"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the offline cache",
	}

	var jsonOutput bool
	generationsCmd := &cobra.Command{
		Use:   "generations",
		Short: "List cache generations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				callCtx, cancel := callContext(cmd, 0)
				defer cancel()
				resp, err := client.Generations(callCtx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), resp.Generations)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderGenerations(resp.Generations))
				return nil
			})
		},
	}
	generationsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print generations as JSON")

	activateCmd := &cobra.Command{
		Use:   "activate",
		Short: "Delete every generation other than the current static and dynamic ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				callCtx, cancel := callContext(cmd, 0)
				defer cancel()
				resp, err := client.Activate(callCtx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resp.Deleted) == 0 {
					fmt.Fprintln(out, "No stale generations")
					return nil
				}
				for _, name := range resp.Deleted {
					fmt.Fprintf(out, "Deleted %s\n", name)
				}
				return nil
			})
		},
	}

	cacheCmd.AddCommand(generationsCmd, activateCmd)
	return cacheCmd
}
