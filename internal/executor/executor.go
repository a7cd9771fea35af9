// Package executor turns the asynchronous worker protocol into one awaitable
// result per call.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"folio/internal/logging"
	"folio/internal/taskproto"
	"folio/internal/worker"
)

var (
	// ErrChannelUnavailable reports that no background unit could be created.
	ErrChannelUnavailable = worker.ErrChannelUnavailable
	// ErrTaskFailure matches every handler-reported failure.
	ErrTaskFailure = errors.New("task failed")
	// ErrTimeout reports a task that did not reply within its bounded wait.
	ErrTimeout = errors.New("task timed out")
	// ErrChannelClosed reports a unit that went away before replying.
	ErrChannelClosed = errors.New("worker channel closed")
)

// TaskError carries the reason reported by a task handler.
type TaskError struct {
	Kind   string
	Reason string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.Kind, e.Reason)
}

func (e *TaskError) Is(target error) bool { return target == ErrTaskFailure }

// Task outcomes reported to the observer.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeTimeout     = "timeout"
	OutcomeUnavailable = "unavailable"
	OutcomeClosed      = "closed"
	OutcomeCanceled    = "canceled"
)

// Option configures an Executor.
type Option func(*Executor)

// WithTimeout bounds how long Execute waits for a reply.
func WithTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		e.timeout = timeout
	}
}

// WithStartHook registers fn to be called before each task is issued.
func WithStartHook(fn func(kind string)) Option {
	return func(e *Executor) {
		e.onStart = fn
	}
}

// WithObserver registers fn to be called once per Execute with the task kind,
// its outcome and how long it took.
func WithObserver(fn func(kind, outcome string, elapsed time.Duration)) Option {
	return func(e *Executor) {
		e.observe = fn
	}
}

type outcome struct {
	reply taskproto.Reply
	err   error
}

type pending struct {
	kind string
	conn worker.Conn
	done chan outcome
}

// Executor issues tasks over a worker Channel, matching replies to callers by
// correlation id.
type Executor struct {
	channel *worker.Channel
	logger  *slog.Logger
	timeout time.Duration
	observe func(kind, outcome string, elapsed time.Duration)
	onStart func(kind string)

	mu       sync.Mutex
	pending  map[string]*pending
	attached map[worker.Conn]bool
}

// New returns an Executor bound to channel.
func New(channel *worker.Channel, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		channel:  channel,
		logger:   logging.NewComponentLogger(logger, "executor"),
		timeout:  2 * time.Minute,
		pending:  make(map[string]*pending),
		attached: make(map[worker.Conn]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one task and waits for its reply.
func (e *Executor) Execute(ctx context.Context, kind string, payload json.RawMessage) (json.RawMessage, error) {
	if e.onStart != nil {
		e.onStart(kind)
	}
	started := time.Now()
	result, status, err := e.execute(ctx, kind, payload)
	if e.observe != nil {
		e.observe(kind, status, time.Since(started))
	}
	return result, err
}

func (e *Executor) execute(ctx context.Context, kind string, payload json.RawMessage) (json.RawMessage, string, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return nil, OutcomeFailure, &TaskError{Kind: kind, Reason: "task kind required"}
	}

	if len(payload) > taskproto.MaxPayloadBytes {
		return nil, OutcomeFailure, &TaskError{Kind: kind, Reason: fmt.Sprintf("payload of %d bytes exceeds %d", len(payload), taskproto.MaxPayloadBytes)}
	}

	waitCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	conn, err := e.channel.Ensure(ctx)
	if err != nil {
		return nil, OutcomeUnavailable, err
	}
	e.attach(conn)

	env := taskproto.NewEnvelope(kind, payload)
	logger := e.logger.With(
		logging.String(logging.FieldCorrelationID, env.ID),
		logging.String(logging.FieldTaskKind, kind),
	)
	p := &pending{kind: kind, conn: conn, done: make(chan outcome, 1)}
	e.mu.Lock()
	e.pending[env.ID] = p
	e.mu.Unlock()
	defer e.forget(env.ID)

	// Send blocks while the unit is not reading, so it shares the wait deadline.
	sent := make(chan error, 1)
	go func() { sent <- conn.Send(env) }()

	for {
		select {
		case err := <-sent:
			sent = nil
			if errors.Is(err, taskproto.ErrOversize) {
				return nil, OutcomeFailure, &TaskError{Kind: kind, Reason: err.Error()}
			}
			if err != nil {
				return nil, OutcomeClosed, fmt.Errorf("%w: send %s: %v", ErrChannelClosed, kind, err)
			}
			logger.Debug("task dispatched")
		case out := <-p.done:
			if out.err != nil {
				return nil, OutcomeClosed, out.err
			}
			if !out.reply.OK() {
				logger.Debug("task reported failure", logging.String("reason", out.reply.Error))
				return nil, OutcomeFailure, &TaskError{Kind: kind, Reason: out.reply.Error}
			}
			return out.reply.Result, OutcomeSuccess, nil
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				logging.WarnWithContext(logger, "task timed out", "task_timeout",
					logging.String(logging.FieldImpact, "caller receives a timeout; a late reply is discarded"),
					logging.String(logging.FieldErrorHint, "raise worker.task_timeout_seconds or inspect the handler"))
				return nil, OutcomeTimeout, fmt.Errorf("%w: %s", ErrTimeout, kind)
			}
			return nil, OutcomeCanceled, ctx.Err()
		}
	}
}

// InFlight reports the number of tasks awaiting a reply.
func (e *Executor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Shutdown terminates the background unit. Pending calls fail with
// ErrChannelClosed.
func (e *Executor) Shutdown() error {
	err := e.channel.Terminate()
	e.failPending(nil, fmt.Errorf("%w: executor shut down", ErrChannelClosed))
	return err
}

func (e *Executor) attach(conn worker.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attached[conn] {
		return
	}
	e.attached[conn] = true
	go e.pump(conn)
}

func (e *Executor) pump(conn worker.Conn) {
	for reply := range conn.Replies() {
		e.deliver(reply)
	}
	e.mu.Lock()
	delete(e.attached, conn)
	e.mu.Unlock()
	e.failPending(conn, fmt.Errorf("%w: background unit exited", ErrChannelClosed))
}

func (e *Executor) deliver(reply taskproto.Reply) {
	e.mu.Lock()
	p, ok := e.pending[reply.ID]
	if ok {
		delete(e.pending, reply.ID)
	}
	e.mu.Unlock()
	if !ok {
		e.logger.Debug("dropping reply with no pending task",
			logging.String(logging.FieldCorrelationID, reply.ID),
			logging.String("tag", string(reply.Tag)))
		return
	}
	p.done <- outcome{reply: reply}
}

// failPending fails every pending call bound to conn, or all of them when conn is nil.
func (e *Executor) failPending(conn worker.Conn, err error) {
	e.mu.Lock()
	var failed []*pending
	for id, p := range e.pending {
		if conn != nil && p.conn != conn {
			continue
		}
		delete(e.pending, id)
		failed = append(failed, p)
	}
	e.mu.Unlock()
	for _, p := range failed {
		p.done <- outcome{err: err}
	}
}

func (e *Executor) forget(id string) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}
