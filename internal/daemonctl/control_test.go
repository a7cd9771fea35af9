package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"folio/internal/daemon"
	"folio/internal/daemonctl"
	"folio/internal/ipc"
	"folio/internal/logging"
	"folio/internal/testsupport"
)

func startIPC(t *testing.T) (*daemon.Daemon, string) {
	t.Helper()
	origin := testsupport.NewOrigin(t, map[string]string{"/": "shell"})
	cfg := testsupport.NewConfig(t, testsupport.WithUpstream(origin.URL))
	store := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	socket := filepath.Join(cfg.Paths.DataDir, "ctl.sock")
	srv, err := ipc.NewServer(ctx, socket, d, logging.NewNop())
	if err != nil {
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)
	return d, socket
}

func TestEnsureStartedStartsIdleDaemon(t *testing.T) {
	d, socket := startIPC(t)
	ctx := context.Background()

	result, err := daemonctl.EnsureStarted(ctx, socket, "/nonexistent/folio", daemonctl.LaunchOptions{}, time.Second)
	if err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	if result.State != daemonctl.StartStateStarted || result.Launched {
		t.Fatalf("unexpected result %+v", result)
	}
	if !d.Status(ctx).Running {
		t.Fatal("expected daemon running")
	}

	result, err = daemonctl.EnsureStarted(ctx, socket, "/nonexistent/folio", daemonctl.LaunchOptions{}, time.Second)
	if err != nil || result.State != daemonctl.StartStateAlreadyRunning {
		t.Fatalf("expected already running, got %+v %v", result, err)
	}
}

func TestEnsureStartedLaunchFailure(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "absent.sock")
	_, err := daemonctl.EnsureStarted(context.Background(), socket, filepath.Join(t.TempDir(), "missing-binary"), daemonctl.LaunchOptions{}, 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected launch failure")
	}
}

func TestStopAndTerminateInProcess(t *testing.T) {
	d, socket := startIPC(t)
	ctx := context.Background()
	if _, err := daemonctl.EnsureStarted(ctx, socket, "", daemonctl.LaunchOptions{}, time.Second); err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}

	result, err := daemonctl.StopAndTerminate(ctx, socket, "", time.Second)
	if err != nil {
		t.Fatalf("StopAndTerminate: %v", err)
	}
	if !result.StopAcknowledged || result.Signaled || result.ForcedKill {
		t.Fatalf("unexpected stop result %+v", result)
	}
	if d.Status(ctx).Running {
		t.Fatal("expected daemon stopped")
	}
}

func TestStopAndTerminateNotRunning(t *testing.T) {
	_, err := daemonctl.StopAndTerminate(context.Background(), filepath.Join(t.TempDir(), "absent.sock"), "", time.Second)
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestReadPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foliod.pid")
	if err := os.WriteFile(path, []byte("4242\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	pid, err := daemonctl.ReadPID(path)
	if err != nil || pid != 4242 {
		t.Fatalf("ReadPID = %d, %v", pid, err)
	}
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := daemonctl.ReadPID(path); err == nil {
		t.Fatal("expected error for invalid pid file")
	}
}
