package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"folio/internal/logging"
	"folio/internal/taskproto"
)

type failingSpawner struct{ err error }

func (s failingSpawner) Spawn(context.Context) (Conn, error) { return nil, s.err }

func newEchoSpawner() InProcessSpawner {
	unit := NewUnit(logging.NewNop())
	RegisterBuiltins(unit, nil)
	return InProcessSpawner{Unit: unit, Logger: logging.NewNop()}
}

func TestChannelLifecycle(t *testing.T) {
	var mu sync.Mutex
	var transitions []State
	ch := NewChannel(newEchoSpawner(), logging.NewNop(), WithStateObserver(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, s)
	}))

	if ch.State() != StateUninitialized {
		t.Fatalf("expected uninitialized, got %s", ch.State())
	}
	conn, err := ch.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	again, err := ch.Ensure(context.Background())
	if err != nil || again != conn {
		t.Fatalf("expected the same live connection, got %v (%v)", again, err)
	}
	if ch.State() != StateReady || ch.Spawns() != 1 {
		t.Fatalf("expected one ready unit, got %s/%d", ch.State(), ch.Spawns())
	}

	if err := ch.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if ch.State() != StateTerminated {
		t.Fatalf("expected terminated, got %s", ch.State())
	}
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("terminated unit did not stop")
	}

	if _, err := ch.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure after terminate: %v", err)
	}
	if ch.State() != StateReady || ch.Spawns() != 2 {
		t.Fatalf("expected re-created unit, got %s/%d", ch.State(), ch.Spawns())
	}
	_ = ch.Terminate()

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateInitializing, StateReady, StateTerminated, StateInitializing, StateReady, StateTerminated}
	if len(transitions) != len(want) {
		t.Fatalf("unexpected transitions %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transition %d: want %s got %s", i, want[i], transitions[i])
		}
	}
}

func TestChannelSpawnFailureIsRecoverable(t *testing.T) {
	ch := NewChannel(failingSpawner{err: ErrUnsupported}, logging.NewNop())

	_, err := ch.Ensure(context.Background())
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("expected ErrChannelUnavailable, got %v", err)
	}
	if ch.State() != StateUninitialized {
		t.Fatalf("expected uninitialized after failed spawn, got %s", ch.State())
	}
	if err := ch.Terminate(); err != nil {
		t.Fatalf("Terminate on idle channel: %v", err)
	}
	if ch.State() != StateUninitialized {
		t.Fatalf("terminate must not change an idle channel, got %s", ch.State())
	}
}

func TestChannelUnexpectedExitTerminates(t *testing.T) {
	ch := NewChannel(newEchoSpawner(), logging.NewNop())
	conn, err := ch.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	// Closing the connection directly simulates the unit dying underneath the channel.
	_ = conn.Close()
	waitFor(t, func() bool { return ch.State() == StateTerminated })

	if _, err := ch.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure after crash: %v", err)
	}
	_ = ch.Terminate()
}

func TestInProcessConnRoundTrip(t *testing.T) {
	conn, err := newEchoSpawner().Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer conn.Close()

	env := taskproto.NewEnvelope(KindEcho, json.RawMessage(`{"pages":2}`))
	if err := conn.Send(env); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case reply := <-conn.Replies():
		if reply.ID != env.ID || !reply.OK() || string(reply.Result) != `{"pages":2}` {
			t.Fatalf("unexpected reply %+v", reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}

	_ = conn.Close()
	<-conn.Done()
	if err := conn.Send(env); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed after close, got %v", err)
	}
}

func TestProcessSpawnerMissingBinary(t *testing.T) {
	ch := NewChannel(ProcessSpawner{Command: []string{"folio-binary-that-does-not-exist", "worker"}}, logging.NewNop())
	_, err := ch.Ensure(context.Background())
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("expected ErrChannelUnavailable, got %v", err)
	}
}

const helperEnv = "FOLIO_WORKER_HELPER"

// TestHelperWorkerProcess is not a real test: it is the child process body
// used by TestProcessSpawnerRoundTrip.
func TestHelperWorkerProcess(t *testing.T) {
	switch os.Getenv(helperEnv) {
	case "1":
		unit := NewUnit(logging.NewNop())
		RegisterBuiltins(unit, nil)
		_ = unit.Serve(context.Background(), os.Stdin, os.Stdout)
		os.Exit(0)
	case "stderr":
		fmt.Fprintln(os.Stderr, "last words before exit")
		os.Exit(0)
	default:
		t.Skip("helper process only")
	}
}

func TestProcessSpawnerRoundTrip(t *testing.T) {
	exe, err := os.Executable()
	if err != nil {
		t.Skipf("no test executable: %v", err)
	}
	spawner := ProcessSpawner{
		Command: []string{exe, "-test.run=^TestHelperWorkerProcess$"},
		Env:     []string{helperEnv + "=1"},
		Logger:  logging.NewNop(),
	}
	ch := NewChannel(spawner, logging.NewNop())
	conn, err := ch.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	env := taskproto.NewEnvelope("nonexistent-kind", json.RawMessage(`{}`))
	if err := conn.Send(env); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case reply := <-conn.Replies():
		if reply.ID != env.ID || reply.OK() {
			t.Fatalf("expected unknown-kind error, got %+v", reply)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no reply from worker process")
	}

	if err := ch.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	select {
	case <-conn.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("worker process did not exit")
	}
}

func TestProcessSpawnerKeepsFinalStderr(t *testing.T) {
	exe, err := os.Executable()
	if err != nil {
		t.Skipf("no test executable: %v", err)
	}
	logPath := filepath.Join(t.TempDir(), "worker.log")
	logger, err := logging.New(logging.Options{Level: "debug", Format: "json", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	spawner := ProcessSpawner{
		Command: []string{exe, "-test.run=^TestHelperWorkerProcess$"},
		Env:     []string{helperEnv + "=stderr"},
		Logger:  logger,
	}
	conn, err := spawner.Spawn(context.Background())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	select {
	case <-conn.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("worker process did not exit")
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(content), "last words before exit") {
		t.Fatalf("final stderr line missing from log:\n%s", content)
	}
}

// stuckConn reports its reply stream as finished while the unit behind it is
// still alive until Close.
type stuckConn struct {
	replies chan taskproto.Reply
	done    chan struct{}
	closes  atomic.Int32
}

func newStuckConn() *stuckConn {
	return &stuckConn{replies: make(chan taskproto.Reply), done: make(chan struct{})}
}

func (c *stuckConn) Send(taskproto.Envelope) error   { return nil }
func (c *stuckConn) Replies() <-chan taskproto.Reply { return c.replies }
func (c *stuckConn) Done() <-chan struct{}           { return c.done }
func (c *stuckConn) Close() error                    { c.closes.Add(1); return nil }
func (c *stuckConn) finish()                         { close(c.replies); close(c.done) }

type stuckSpawner struct {
	mu    sync.Mutex
	conns []*stuckConn
}

func (s *stuckSpawner) Spawn(context.Context) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := newStuckConn()
	s.conns = append(s.conns, conn)
	return conn, nil
}

func TestChannelClosesUnitWhenStreamEnds(t *testing.T) {
	spawner := &stuckSpawner{}
	ch := NewChannel(spawner, logging.NewNop())
	if _, err := ch.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	first := spawner.conns[0]
	first.finish()
	waitFor(t, func() bool { return ch.State() == StateTerminated })
	if got := first.closes.Load(); got != 1 {
		t.Fatalf("exited unit closed %d times, want 1", got)
	}

	if _, err := ch.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure after exit: %v", err)
	}
	if ch.Spawns() != 2 {
		t.Fatalf("expected a replacement unit, got %d spawns", ch.Spawns())
	}
	_ = ch.Terminate()
}
