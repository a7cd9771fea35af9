package logs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeLines(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
}

func TestLastReturnsTrailingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "folio.log")
	writeLines(t, path, "one\ntwo\nthree\nfour\n")

	lines, offset, err := Last(path, 2)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(lines) != 2 || lines[0] != "three" || lines[1] != "four" {
		t.Fatalf("unexpected lines %v", lines)
	}
	if offset != int64(len("one\ntwo\nthree\nfour\n")) {
		t.Fatalf("unexpected offset %d", offset)
	}
}

func TestLastMissingFile(t *testing.T) {
	lines, offset, err := Last(filepath.Join(t.TempDir(), "absent.log"), 10)
	if err != nil || len(lines) != 0 || offset != 0 {
		t.Fatalf("expected empty result, got %v %d %v", lines, offset, err)
	}
}

func TestFollowEmitsAppendedLines(t *testing.T) {
	previous := PollInterval
	PollInterval = 10 * time.Millisecond
	t.Cleanup(func() { PollInterval = previous })
	path := filepath.Join(t.TempDir(), "folio.log")
	writeLines(t, path, "old\n")
	_, offset, err := Last(path, 0)
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var got []string
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, path, offset, func(line string) {
			mu.Lock()
			got = append(got, line)
			mu.Unlock()
		})
	}()

	waitForCount := func(want int) {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			mu.Lock()
			n := len(got)
			mu.Unlock()
			if n >= want {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	writeLines(t, path, "new one\npartial")
	waitForCount(1)
	writeLines(t, path, " done\n")
	waitForCount(2)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "new one" || got[1] != "partial done" {
		t.Fatalf("unexpected followed lines %q", got)
	}
}
