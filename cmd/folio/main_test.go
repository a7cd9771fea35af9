package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "[OK] Running")
	requireContains(t, out, "Uninitialized")
	requireContains(t, out, "folio-static-v1")
	requireContains(t, out, "Upstream origin")
}

func TestStatusCommandJSON(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var decoded struct {
		Running          bool   `json:"running"`
		CacheControlling bool   `json:"cache_controlling"`
		WorkerState      string `json:"worker_state"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("decode status json: %v\n%s", err, out)
	}
	if !decoded.Running || !decoded.CacheControlling || decoded.WorkerState != "uninitialized" {
		t.Fatalf("unexpected status %+v", decoded)
	}
}

func TestStatusWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	missing := filepath.Join(t.TempDir(), "absent.sock")

	out, _, err := runCLI(t, []string{"status"}, missing, env.configPath)
	if err != nil {
		t.Fatalf("status without daemon should still render: %v", err)
	}
	requireContains(t, out, "Not running")
	requireContains(t, out, "start the daemon with `folio daemon`")
}

func TestTaskRunCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"task", "run", "echo", `{"pages":[1,2]}`}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("task run echo: %v", err)
	}
	requireContains(t, out, `"pages": [`)

	_, _, err = runCLI(t, []string{"task", "run", "no-such-kind"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "unknown task kind") {
		t.Fatalf("expected unknown task kind error, got %v", err)
	}

	_, _, err = runCLI(t, []string{"task", "run", "echo", "{oops"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "valid JSON") {
		t.Fatalf("expected payload validation error, got %v", err)
	}
}

func TestTaskRunReadsStdin(t *testing.T) {
	env := setupCLITestEnv(t)

	cmd := newRootCommand()
	var stdout strings.Builder
	cmd.SetOut(&stdout)
	cmd.SetIn(strings.NewReader(`"from stdin"`))
	cmd.SetArgs([]string{"--socket", env.socketPath, "--config", env.configPath, "task", "run", "echo", "-"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("task run from stdin: %v", err)
	}
	requireContains(t, stdout.String(), `"from stdin"`)
}

func TestCacheCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"cache", "generations"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("cache generations: %v", err)
	}
	requireContains(t, out, "folio-static-v1")
	requireContains(t, out, "Entries")

	out, _, err = runCLI(t, []string{"cache", "activate"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("cache activate: %v", err)
	}
	requireContains(t, out, "No stale generations")
}

func TestWorkerStopAndModulesPreload(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, []string{"task", "run", "echo", "1"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("task run: %v", err)
	}
	out, _, err := runCLI(t, []string{"worker", "stop"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("worker stop: %v", err)
	}
	requireContains(t, out, "Worker Terminated")

	out, _, err = runCLI(t, []string{"modules", "preload"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("modules preload: %v", err)
	}
	requireContains(t, out, "Module preload scheduled")
}

func TestStopCommandStopsInProcessDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"stop"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Daemon stopped")
	if env.daemon.Status(context.Background()).Running {
		t.Fatal("expected daemon stopped")
	}

	out, _, err = runCLI(t, []string{"start"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	requireContains(t, out, "Daemon started")
}

func TestStopCommandWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"stop"}, filepath.Join(t.TempDir(), "absent.sock"), env.configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")
}

func TestLogsCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	logPath := filepath.Join(env.cfg.Paths.LogDir, "folio.log")
	if err := os.WriteFile(logPath, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"logs", "-n", "2"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "second\nthird\n" {
		t.Fatalf("unexpected logs output %q", out)
	}
}
