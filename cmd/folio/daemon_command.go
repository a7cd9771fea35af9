package main

import (
	"time"

	"github.com/spf13/cobra"

	"folio/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var opts daemonrun.Options
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the folio daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level for this run")
	cmd.Flags().BoolVar(&opts.Development, "development", false, "Include source locations in log output")
	cmd.Flags().DurationVar(&opts.StartRetry, "start-retry", 30*time.Second, "Delay between start attempts when cache install fails")
	return cmd
}
