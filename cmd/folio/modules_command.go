package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"folio/internal/ipc"
)

func newModulesCommand(ctx *commandContext) *cobra.Command {
	modulesCmd := &cobra.Command{
		Use:   "modules",
		Short: "Manage on-demand modules",
	}
	modulesCmd.AddCommand(&cobra.Command{
		Use:   "preload",
		Short: "Schedule pre-warming of the configured common modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				callCtx, cancel := callContext(cmd, 0)
				defer cancel()
				if _, err := client.Preload(callCtx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Module preload scheduled")
				return nil
			})
		},
	})
	return modulesCmd
}
