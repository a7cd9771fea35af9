package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"folio/internal/config"
	"folio/internal/daemon"
	"folio/internal/ipc"
	"folio/internal/logging"
	"folio/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	socketPath string
	configPath string
	origin     *testsupport.Origin
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	origin := testsupport.NewOrigin(t, map[string]string{
		"/":        "<html>shell</html>",
		"/app.css": "body{}",
	})
	cfg := testsupport.NewConfig(t,
		testsupport.WithUpstream(origin.URL),
		testsupport.WithShell("/", "/app.css"))

	homeDir := filepath.Join(testsupport.BaseDir(cfg), "home")
	t.Setenv("HOME", homeDir)
	configPath := filepath.Join(homeDir, ".config", "folio", "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	d, err := daemon.New(cfg, store, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := filepath.Join(cfg.Paths.DataDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	if err := d.Start(ctx); err != nil {
		cancel()
		srv.Close()
		t.Fatalf("daemon.Start: %v", err)
	}

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Stop()
	})

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		socketPath: socketPath,
		configPath: configPath,
		origin:     origin,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	shell := make([]string, 0, len(cfg.Cache.Shell))
	for _, s := range cfg.Cache.Shell {
		shell = append(shell, fmt.Sprintf("%q", s))
	}
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nlog_dir = %q\nmodules_dir = %q\napi_bind = %q\n\n[cache]\nupstream_url = %q\nshell = [%s]\n",
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.Paths.ModulesDir,
		cfg.Paths.APIBind,
		cfg.Cache.UpstreamURL,
		strings.Join(shell, ", "),
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
