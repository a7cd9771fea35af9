package taskproto

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Tag discriminates reply outcomes.
type Tag string

const (
	TagSuccess Tag = "SUCCESS"
	TagError   Tag = "ERROR"
)

// UnknownKindMessage prefixes the reason reported for unregistered task kinds.
const UnknownKindMessage = "unknown task kind"

// Envelope is a single task request.
type Envelope struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reply is the outcome of one envelope.
type Reply struct {
	ID     string          `json:"id"`
	Tag    Tag             `json:"tag"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// NewID allocates a correlation identifier.
func NewID() string {
	return uuid.NewString()
}

// NewEnvelope builds an envelope with a fresh correlation identifier.
func NewEnvelope(kind string, payload json.RawMessage) Envelope {
	return Envelope{ID: NewID(), Kind: kind, Payload: payload}
}

// Validate reports structural problems with an envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("envelope missing id")
	}
	if strings.TrimSpace(e.Kind) == "" {
		return fmt.Errorf("envelope %s missing kind", e.ID)
	}
	if len(e.Kind) > MaxKindBytes {
		return fmt.Errorf("envelope %s kind exceeds %d bytes", e.ID, MaxKindBytes)
	}
	return nil
}

// Success builds a SUCCESS reply. A nil result encodes as JSON null.
func Success(id string, result any) (Reply, error) {
	var raw json.RawMessage
	switch v := result.(type) {
	case nil:
		raw = json.RawMessage("null")
	case json.RawMessage:
		raw = v
		if len(raw) == 0 {
			raw = json.RawMessage("null")
		}
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return Reply{}, fmt.Errorf("encode result: %w", err)
		}
		raw = data
	}
	return Reply{ID: id, Tag: TagSuccess, Result: raw}, nil
}

// Failure builds an ERROR reply.
func Failure(id, reason string) Reply {
	if strings.TrimSpace(reason) == "" {
		reason = "task failed"
	}
	return Reply{ID: id, Tag: TagError, Error: reason}
}

// UnknownKind builds the ERROR reply for an unregistered kind.
func UnknownKind(id, kind string) Reply {
	return Failure(id, fmt.Sprintf("%s: %s", UnknownKindMessage, kind))
}

// OK reports whether the reply is a success.
func (r Reply) OK() bool {
	return r.Tag == TagSuccess
}

// Validate reports structural problems with a reply.
func (r Reply) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("reply missing id")
	}
	switch r.Tag {
	case TagSuccess, TagError:
		return nil
	default:
		return fmt.Errorf("reply %s has unknown tag %q", r.ID, r.Tag)
	}
}
