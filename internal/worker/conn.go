package worker

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"folio/internal/logging"
	"folio/internal/taskproto"
)

const replyBuffer = 64

// streamConn speaks the task protocol over a pair of byte streams.
type streamConn struct {
	enc     *taskproto.Encoder
	replies chan taskproto.Reply
	done    chan struct{}
	logger  *slog.Logger

	closeOnce sync.Once
	closeFn   func() error
	closeErr  error
}

func newStreamConn(w io.Writer, r io.Reader, closeFn func() error, logger *slog.Logger) *streamConn {
	c := &streamConn{
		enc:     taskproto.NewEncoder(w),
		replies: make(chan taskproto.Reply, replyBuffer),
		done:    make(chan struct{}),
		logger:  logger,
		closeFn: closeFn,
	}
	go c.readLoop(r)
	return c
}

func (c *streamConn) readLoop(r io.Reader) {
	defer close(c.done)
	defer close(c.replies)
	dec := taskproto.NewDecoder(r)
	for {
		reply, err := dec.DecodeReply()
		if err != nil {
			if errors.Is(err, taskproto.ErrMalformed) {
				c.logger.Debug("skipping malformed reply", logging.Error(err))
				continue
			}
			var oversize *taskproto.OversizeError
			if errors.As(err, &oversize) {
				c.logger.Debug("skipping oversize reply", logging.Error(err))
				if oversize.ID != "" {
					c.replies <- taskproto.Failure(oversize.ID, "task result too large: "+oversize.Error())
				}
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				c.logger.Debug("reply stream ended", logging.Error(err))
			}
			return
		}
		if err := reply.Validate(); err != nil {
			c.logger.Debug("skipping invalid reply", logging.Error(err))
			continue
		}
		c.replies <- reply
	}
}

func (c *streamConn) Send(env taskproto.Envelope) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	if err := c.enc.Encode(env); err != nil {
		if errors.Is(err, taskproto.ErrOversize) {
			return err
		}
		return errors.Join(ErrConnClosed, err)
	}
	return nil
}

func (c *streamConn) Replies() <-chan taskproto.Reply { return c.replies }

func (c *streamConn) Done() <-chan struct{} { return c.done }

func (c *streamConn) Close() error {
	c.closeOnce.Do(func() {
		if c.closeFn != nil {
			c.closeErr = c.closeFn()
		}
	})
	return c.closeErr
}
