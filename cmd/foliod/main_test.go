package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRootCommandRejectsUnknownConfigKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("not_a_setting = true\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config", path})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("expected config load error, got %v", err)
	}
}

func TestRootCommandRejectsArguments(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"serve"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected positional arguments to be rejected")
	}
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{"-c", "/tmp/folio.toml", "--log-level", "debug", "--start-retry", "5s"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if got, _ := cmd.Flags().GetString("config"); got != "/tmp/folio.toml" {
		t.Fatalf("config flag = %q", got)
	}
	if got, _ := cmd.Flags().GetString("log-level"); got != "debug" {
		t.Fatalf("log-level flag = %q", got)
	}
	if got, _ := cmd.Flags().GetDuration("start-retry"); got != 5*time.Second {
		t.Fatalf("start-retry flag = %v", got)
	}
}
