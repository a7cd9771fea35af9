package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"folio/internal/logging"
	"folio/internal/taskproto"
)

// ErrChannelUnavailable reports that no background unit could be created.
// The condition is recoverable: the next Ensure tries again.
var ErrChannelUnavailable = errors.New("worker channel unavailable")

// ErrConnClosed is returned by Conn.Send after the unit has gone away.
var ErrConnClosed = errors.New("worker connection closed")

// State is the lifecycle state of a Channel.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Conn is a live connection to one background unit instance.
type Conn interface {
	// Send may block while the unit is not reading. An envelope over the
	// stream limit fails with taskproto.ErrOversize and nothing is written.
	Send(env taskproto.Envelope) error
	// Replies is closed once the unit stops producing replies.
	Replies() <-chan taskproto.Reply
	// Done is closed once the unit has exited.
	Done() <-chan struct{}
	Close() error
}

// Spawner creates background unit instances.
type Spawner interface {
	Spawn(ctx context.Context) (Conn, error)
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithStateObserver registers fn to be called after every state transition.
func WithStateObserver(fn func(State)) ChannelOption {
	return func(c *Channel) {
		c.observe = fn
	}
}

// Channel manages the lifecycle of the single background unit.
type Channel struct {
	spawner Spawner
	logger  *slog.Logger
	observe func(State)

	mu    sync.Mutex
	state State
	conn  Conn
	spawn int
}

// NewChannel returns an uninitialized Channel backed by spawner.
func NewChannel(spawner Spawner, logger *slog.Logger, opts ...ChannelOption) *Channel {
	c := &Channel{
		spawner: spawner,
		logger:  logging.NewComponentLogger(logger, "worker-channel"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Spawns reports how many unit instances have been created.
func (c *Channel) Spawns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spawn
}

// Ensure returns the live connection, creating a unit first when none is
// ready. Spawn failures leave the channel uninitialized and wrap
// ErrChannelUnavailable.
func (c *Channel) Ensure(ctx context.Context) (Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateReady && c.conn != nil {
		return c.conn, nil
	}
	if c.spawner == nil {
		return nil, fmt.Errorf("%w: no spawner configured", ErrChannelUnavailable)
	}

	c.setState(StateInitializing)
	conn, err := c.spawner.Spawn(ctx)
	if err != nil {
		c.setState(StateUninitialized)
		logging.WarnWithContext(c.logger, "background unit unavailable", "worker_spawn_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "tasks fail with channel unavailable until a unit can be created"),
			logging.String(logging.FieldErrorHint, "check worker.command or run tasks in-process"))
		return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}

	c.conn = conn
	c.spawn++
	c.setState(StateReady)
	c.logger.Info("background unit ready", logging.Int("instance", c.spawn))
	go c.watch(conn)
	return conn, nil
}

// Terminate shuts down the live unit. A later Ensure creates a new one.
func (c *Channel) Terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.setState(StateTerminated)
	c.logger.Info("background unit terminated")
	if err := conn.Close(); err != nil {
		return fmt.Errorf("close background unit: %w", err)
	}
	return nil
}

func (c *Channel) watch(conn Conn) {
	<-conn.Done()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn = nil
	c.setState(StateTerminated)
	logging.WarnWithContext(c.logger, "background unit exited unexpectedly", "worker_exited",
		logging.String(logging.FieldImpact, "pending tasks fail; the next task creates a new unit"))
	// A closed reply stream does not mean the unit stopped. It is released
	// under the lock so Ensure cannot start a second unit beside it.
	if err := conn.Close(); err != nil {
		c.logger.Debug("closing exited unit failed", logging.Error(err))
	}
}

func (c *Channel) setState(state State) {
	c.state = state
	if c.observe != nil {
		c.observe(state)
	}
}
