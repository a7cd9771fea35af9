package main

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"folio/internal/ipc"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Daemon:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestWorkerStateLabel(t *testing.T) {
	cases := map[string]string{
		"ready":         "Ready",
		"uninitialized": "Uninitialized",
		"":              "Unknown",
	}
	for in, want := range cases {
		if got := workerStateLabel(in); got != want {
			t.Fatalf("workerStateLabel(%q) = %q, want %q", in, got, want)
		}
	}
	if workerStateKind("terminated") != statusWarn || workerStateKind("ready") != statusOK {
		t.Fatal("unexpected worker state kinds")
	}
}

func TestDependencyLines(t *testing.T) {
	lines := dependencyLines([]ipc.DependencyStatus{
		{Name: "Worker", Available: true, Command: "folio"},
		{Name: "Missing", Detail: `binary "x" not found`},
	}, false)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "[OK] Ready (command: folio)") {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if !strings.Contains(lines[1], "[ERROR]") {
		t.Fatalf("unexpected second line %q", lines[1])
	}
}

func TestRenderGenerations(t *testing.T) {
	if got := renderGenerations(nil); got != "No cache generations\n" {
		t.Fatalf("unexpected empty rendering %q", got)
	}
	out := renderGenerations([]ipc.Generation{
		{Name: "folio-static-v2", Entries: 3, Bytes: 2048, CreatedAt: time.Now(), Current: true},
	})
	for _, want := range []string{"folio-static-v2", "2.0 KiB", "yes"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in table:\n%s", want, out)
		}
	}
}

func TestHumanBytes(t *testing.T) {
	if got := humanBytes(512); got != "512 B" {
		t.Fatalf("humanBytes(512) = %q", got)
	}
	if got := humanBytes(5 * 1024 * 1024); got != "5.0 MiB" {
		t.Fatalf("humanBytes(5MiB) = %q", got)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatal("expected non-file writer to disable color")
	}
}
