package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"folio/internal/logging"
	"folio/internal/taskproto"
)

// HandlerFunc executes one task payload. The returned value is JSON encoded
// into the SUCCESS reply.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Unit is the background side of the task protocol.
type Unit struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewUnit returns a Unit with no handlers registered.
func NewUnit(logger *slog.Logger) *Unit {
	return &Unit{
		logger:   logging.NewComponentLogger(logger, "worker-unit"),
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers fn for kind, replacing any previous handler.
func (u *Unit) Handle(kind string, fn HandlerFunc) {
	kind = strings.TrimSpace(kind)
	if kind == "" || fn == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.handlers[kind] = fn
}

// Kinds lists registered task kinds.
func (u *Unit) Kinds() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	kinds := make([]string, 0, len(u.handlers))
	for kind := range u.handlers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Dispatch runs env through its handler and returns the single reply for it.
func (u *Unit) Dispatch(ctx context.Context, env taskproto.Envelope) (reply taskproto.Reply) {
	u.mu.RLock()
	handler, ok := u.handlers[env.Kind]
	u.mu.RUnlock()
	if !ok {
		return taskproto.UnknownKind(env.ID, env.Kind)
	}

	logger := u.logger.With(
		logging.String(logging.FieldCorrelationID, env.ID),
		logging.String(logging.FieldTaskKind, env.Kind),
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task handler panicked",
				logging.String(logging.FieldEventType, "task_handler_panic"),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())))
			reply = taskproto.Failure(env.ID, fmt.Sprintf("task handler panicked: %v", r))
		}
	}()

	ctx = logging.WithTaskKind(logging.WithCorrelationID(ctx, env.ID), env.Kind)
	result, err := handler(ctx, env.Payload)
	if err != nil {
		logger.Debug("task handler failed", logging.Error(err))
		return taskproto.Failure(env.ID, err.Error())
	}
	reply, err = taskproto.Success(env.ID, result)
	if err != nil {
		return taskproto.Failure(env.ID, err.Error())
	}
	return reply
}

// Serve reads envelopes from r and writes replies to w until r is exhausted
// or ctx is canceled. Tasks run concurrently; Serve returns once every
// started task has replied.
func (u *Unit) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dec := taskproto.NewDecoder(r)
	enc := taskproto.NewEncoder(w)

	for {
		env, err := dec.DecodeEnvelope()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			if errors.Is(err, taskproto.ErrMalformed) {
				logging.WarnWithContext(u.logger, "dropping malformed envelope", "envelope_malformed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "the sender will not receive a reply for this message"))
				continue
			}
			var oversize *taskproto.OversizeError
			if errors.As(err, &oversize) {
				u.rejectOversize(enc, oversize)
				continue
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if strings.TrimSpace(env.ID) == "" {
			logging.WarnWithContext(u.logger, "dropping envelope without correlation id", "envelope_missing_id",
				logging.String(logging.FieldTaskKind, env.Kind),
				logging.String(logging.FieldImpact, "the sender will not receive a reply for this message"))
			continue
		}

		wg.Add(1)
		go func(env taskproto.Envelope) {
			defer wg.Done()
			var reply taskproto.Reply
			if err := env.Validate(); err != nil {
				reply = taskproto.Failure(env.ID, err.Error())
			} else {
				reply = u.Dispatch(ctx, env)
			}
			u.writeReply(enc, reply)
		}(env)
	}
}

// rejectOversize answers an envelope that was too large to read. Without a
// recoverable id there is nobody to answer.
func (u *Unit) rejectOversize(enc *taskproto.Encoder, oversize *taskproto.OversizeError) {
	if oversize.ID == "" {
		logging.WarnWithContext(u.logger, "dropping oversize envelope", "envelope_oversize",
			logging.Int("bytes", oversize.Size),
			logging.String(logging.FieldImpact, "the sender will not receive a reply for this message"))
		return
	}
	u.logger.Debug("rejecting oversize envelope",
		logging.String(logging.FieldCorrelationID, oversize.ID),
		logging.Int("bytes", oversize.Size))
	u.writeReply(enc, taskproto.Failure(oversize.ID, "task payload too large: "+oversize.Error()))
}

// writeReply sends reply, replacing a result too large for the stream with an
// ERROR reply so the reader never sees an oversize line.
func (u *Unit) writeReply(enc *taskproto.Encoder, reply taskproto.Reply) {
	err := enc.Encode(reply)
	if errors.Is(err, taskproto.ErrOversize) {
		u.logger.Debug("task result too large",
			logging.String(logging.FieldCorrelationID, reply.ID),
			logging.Error(err))
		err = enc.Encode(taskproto.Failure(reply.ID, "task result too large: "+err.Error()))
	}
	if err != nil {
		u.logger.Debug("reply write failed",
			logging.String(logging.FieldCorrelationID, reply.ID),
			logging.Error(err))
	}
}
