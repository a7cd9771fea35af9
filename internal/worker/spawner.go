package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"folio/internal/deps"
	"folio/internal/logging"
)

// ErrUnsupported reports a host that cannot run a background unit.
var ErrUnsupported = errors.New("background unit not supported")

// InProcessSpawner runs the unit on goroutines inside the current process.
type InProcessSpawner struct {
	Unit   *Unit
	Logger *slog.Logger
}

func (s InProcessSpawner) Spawn(ctx context.Context) (Conn, error) {
	if s.Unit == nil {
		return nil, fmt.Errorf("%w: no unit configured", ErrUnsupported)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reqR, reqW := io.Pipe()
	repR, repW := io.Pipe()
	unitCtx, cancel := context.WithCancel(context.Background())

	go func() {
		err := s.Unit.Serve(unitCtx, reqR, repW)
		_ = reqR.Close()
		_ = repW.CloseWithError(err)
	}()

	closeFn := func() error {
		cancel()
		_ = reqW.Close()
		return repR.Close()
	}
	logger := logging.NewComponentLogger(s.Logger, "worker-conn")
	return newStreamConn(reqW, repR, closeFn, logger), nil
}

// ProcessSpawner runs the unit as a child process speaking the task protocol
// on its stdin and stdout.
type ProcessSpawner struct {
	Command     []string
	Env         []string
	Logger      *slog.Logger
	StopTimeout time.Duration
}

func (s ProcessSpawner) Spawn(ctx context.Context) (Conn, error) {
	if len(s.Command) == 0 {
		return nil, fmt.Errorf("%w: worker command not configured", ErrUnsupported)
	}
	status := deps.CheckBinaries([]deps.Requirement{deps.WorkerRequirement(s.Command)})[0]
	if !status.Available {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, status.Detail)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := logging.NewComponentLogger(s.Logger, "worker-process")
	cmd := exec.Command(status.Path, s.Command[1:]...)
	cmd.Env = append(os.Environ(), s.Env...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	pid := cmd.Process.Pid
	logger.Info("worker process started",
		logging.Int("pid", pid),
		logging.String("command", strings.Join(s.Command, " ")))

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		forwardStderr(stderr, logger)
	}()

	stopTimeout := s.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 5 * time.Second
	}

	var conn *streamConn
	exited := make(chan struct{})
	var waitErr error
	closeFn := func() error {
		_ = stdin.Close()
		select {
		case <-exited:
		case <-time.After(stopTimeout):
			logger.Warn("worker process did not exit; killing",
				logging.Int("pid", pid),
				logging.String(logging.FieldEventType, "worker_kill"),
				logging.String(logging.FieldErrorHint, "a task handler may be ignoring cancellation"),
				logging.String(logging.FieldImpact, "in-flight tasks are abandoned"))
			_ = cmd.Process.Kill()
			<-exited
		}
		var exitErr *exec.ExitError
		if waitErr != nil && !errors.As(waitErr, &exitErr) {
			return waitErr
		}
		return nil
	}
	conn = newStreamConn(stdin, stdout, closeFn, logger)
	// Wait closes the pipes, so both readers must finish first.
	go func() {
		<-conn.Done()
		<-stderrDone
		waitErr = cmd.Wait()
		logger.Info("worker process exited", logging.Int("pid", pid), logging.Error(waitErr))
		close(exited)
	}()
	return conn, nil
}

func forwardStderr(r io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.Debug("worker stderr", logging.String("line", line))
	}
	// Keep draining after an overlong line so the child never blocks on stderr.
	_, _ = io.Copy(io.Discard, r)
}
