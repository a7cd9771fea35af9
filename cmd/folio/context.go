package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"folio/internal/config"
	"folio/internal/ipc"
)

const defaultCallTimeout = 10 * time.Second

// commandContext carries the persistent flags and the lazily loaded config
// shared by every subcommand.
type commandContext struct {
	socketFlag *string
	configFlag *string

	loaded       bool
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(socketFlag, configFlag *string) *commandContext {
	return &commandContext{socketFlag: socketFlag, configFlag: configFlag}
}

func flagValue(flag *string) string {
	if flag == nil {
		return ""
	}
	return strings.TrimSpace(*flag)
}

// ensureConfig loads the config once per invocation and creates its directories.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.loaded {
		return c.config, c.configErr
	}
	c.loaded = true
	cfg, path, exists, err := config.Load(flagValue(c.configFlag))
	c.configPath, c.configExists = path, exists
	if err == nil {
		err = cfg.EnsureDirectories()
	}
	if err != nil {
		c.configErr = err
		return nil, err
	}
	c.config = cfg
	return cfg, nil
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) socketPath() string {
	if socket := flagValue(c.socketFlag); socket != "" {
		return socket
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.SocketPath()
	}
	fallback := config.Default()
	return fallback.SocketPath()
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err != nil {
		return wrapDialError(err, socket)
	}
	defer client.Close()
	return fn(client)
}

// callContext bounds a single RPC issued by cmd.
func callContext(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return context.WithTimeout(parent, timeout)
}

func wrapDialError(err error, socket string) error {
	switch {
	case errors.Is(err, syscall.ENOENT) || os.IsNotExist(err):
		return fmt.Errorf("connect to daemon: socket %s not found; start the daemon with `folio daemon`", socket)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to daemon: socket %s refused the connection; verify the daemon is running", socket)
	default:
		return fmt.Errorf("connect to daemon: %w", err)
	}
}

const skipConfigAnnotation = "folio/skip-config"

// withoutConfig marks cmd so the root pre-run leaves config loading to it.
func withoutConfig(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[skipConfigAnnotation] = "true"
	return cmd
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipConfigAnnotation] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
