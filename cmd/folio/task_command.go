package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"folio/internal/ipc"
)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Run tasks on the background unit",
	}
	taskCmd.AddCommand(newTaskRunCommand(ctx))
	return taskCmd
}

func newTaskRunCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "run <kind> [payload-json|-]",
		Short: "Run one task and print its result",
		Long:  "Run one task and print its result. Pass - as the payload to read it from stdin.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := strings.TrimSpace(args[0])
			payload, err := readPayload(cmd, args[1:])
			if err != nil {
				return err
			}

			return ctx.withClient(func(client *ipc.Client) error {
				callCtx, cancel := callContext(cmd, timeout+defaultCallTimeout)
				defer cancel()
				resp, err := client.Execute(callCtx, kind, payload, timeout)
				if err != nil {
					return err
				}
				if !resp.OK() {
					return fmt.Errorf("task %s failed (%s): %s", kind, resp.Code, resp.Error)
				}
				return writeResult(cmd.OutOrStdout(), resp.Result)
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Bound the task wait (default: worker.task_timeout_seconds)")
	return cmd
}

func readPayload(cmd *cobra.Command, args []string) (json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	raw := []byte(args[0])
	if args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		raw = data
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("payload must be valid JSON")
	}
	return json.RawMessage(raw), nil
}

func writeResult(w io.Writer, result json.RawMessage) error {
	if len(result) == 0 {
		_, err := fmt.Fprintln(w, "null")
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		buf.Reset()
		buf.Write(result)
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
