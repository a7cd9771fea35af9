package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"folio/internal/ipc"
	"folio/internal/logging"
	"folio/internal/modules"
	"folio/internal/worker"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage the background execution unit",
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Terminate the background unit; the next task creates a new one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				callCtx, cancel := callContext(cmd, 0)
				defer cancel()
				resp, err := client.TerminateWorker(callCtx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Worker %s\n", workerStateLabel(resp.State))
				return nil
			})
		},
	}

	serveCmd := &cobra.Command{
		Use:    "serve",
		Short:  "Serve the task protocol on stdin/stdout",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			// stdout carries the protocol; logs go to stderr only.
			logger, err := logging.New(logging.Options{
				Level:            cfg.Logging.Level,
				Format:           "json",
				OutputPaths:      []string{"stderr"},
				ErrorOutputPaths: []string{"stderr"},
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logger = logging.NewComponentLogger(logger, "worker")

			loader := modules.NewLoaderFromConfig(cfg, logger)
			unit := worker.NewUnit(logger)
			worker.RegisterBuiltins(unit, loader)
			return unit.Serve(cmd.Context(), os.Stdin, os.Stdout)
		},
	}

	workerCmd.AddCommand(stopCmd, serveCmd)
	return workerCmd
}
