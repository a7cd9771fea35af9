package taskproto

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
)

// MaxMessageBytes bounds a single encoded message, excluding its newline.
const MaxMessageBytes = 32 << 20

// EnvelopeOverhead is the room reserved for an envelope's id and kind around
// its payload. MaxKindBytes keeps the kind inside it even when fully escaped.
const (
	EnvelopeOverhead = 4 << 10
	MaxKindBytes     = 256
)

// MaxPayloadBytes is the largest payload that always fits in one envelope.
const MaxPayloadBytes = MaxMessageBytes - EnvelopeOverhead

// ErrOversize matches messages larger than the stream limit.
var ErrOversize = errors.New("message exceeds size limit")

// OversizeError reports a message over the limit. ID is the correlation id
// when it could be recovered from the start of the message.
type OversizeError struct {
	ID    string
	Size  int
	Limit int
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("message of %d bytes exceeds the %d byte limit", e.Size, e.Limit)
}

func (e *OversizeError) Is(target error) bool { return target == ErrOversize }

// Encoder writes newline-delimited messages. It is safe for concurrent use.
type Encoder struct {
	mu    sync.Mutex
	w     *bufio.Writer
	limit int
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return NewEncoderSize(w, MaxMessageBytes)
}

// NewEncoderSize returns an Encoder that refuses messages above limit bytes.
func NewEncoderSize(w io.Writer, limit int) *Encoder {
	return &Encoder{w: bufio.NewWriter(w), limit: limit}
}

// Encode writes v followed by a newline and flushes. A message over the
// limit is rejected with an *OversizeError before anything is written.
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if len(data) > e.limit {
		return &OversizeError{ID: leadingID(data), Size: len(data), Limit: e.limit}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("flush message: %w", err)
	}
	return nil
}

// Decoder reads newline-delimited messages.
type Decoder struct {
	r     *bufio.Reader
	buf   []byte
	limit int
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return NewDecoderSize(r, MaxMessageBytes)
}

// NewDecoderSize returns a Decoder that skips messages above limit bytes.
func NewDecoderSize(r io.Reader, limit int) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64<<10), limit: limit}
}

// ErrMalformed wraps lines that are not valid JSON messages. The stream stays
// usable after a malformed line.
var ErrMalformed = errors.New("malformed message")

// idProbeBytes is how much of an oversize line is kept to recover its id.
const idProbeBytes = 512

var leadingIDPattern = regexp.MustCompile(`^\s*\{\s*"id"\s*:\s*"([^"\\]{1,128})"`)

// leadingID extracts the correlation id when it is the first field, as the
// Encoder writes it.
func leadingID(data []byte) string {
	if len(data) > idProbeBytes {
		data = data[:idProbeBytes]
	}
	m := leadingIDPattern.FindSubmatch(data)
	if m == nil {
		return ""
	}
	return string(m[1])
}

// next returns the next non-empty line, or io.EOF. An over-limit line is
// consumed and reported as an *OversizeError; the stream stays usable.
func (d *Decoder) next() ([]byte, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return line, nil
	}
}

func (d *Decoder) readLine() ([]byte, error) {
	d.buf = d.buf[:0]
	var head []byte
	size := 0
	over := false
	for {
		chunk, err := d.r.ReadSlice('\n')
		terminated := err == nil
		if terminated {
			chunk = chunk[:len(chunk)-1]
		}
		if len(head) < idProbeBytes {
			head = append(head, chunk[:min(len(chunk), idProbeBytes-len(head))]...)
		}
		size += len(chunk)
		if !over && size > d.limit {
			over = true
			d.buf = d.buf[:0]
		}
		if !over {
			d.buf = append(d.buf, chunk...)
		}

		switch {
		case terminated:
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if size == 0 {
				return nil, io.EOF
			}
		default:
			return nil, fmt.Errorf("read message: %w", err)
		}
		if over {
			return nil, &OversizeError{ID: leadingID(head), Size: size, Limit: d.limit}
		}
		return d.buf, nil
	}
}

// DecodeEnvelope reads the next envelope.
func (d *Decoder) DecodeEnvelope() (Envelope, error) {
	line, err := d.next()
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env, nil
}

// DecodeReply reads the next reply.
func (d *Decoder) DecodeReply() (Reply, error) {
	line, err := d.next()
	if err != nil {
		return Reply{}, err
	}
	var reply Reply
	if err := json.Unmarshal(line, &reply); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return reply, nil
}
