// Package message holds the envelope that flows between sources, the
// transform stage and sinks.
package message

import (
	"fmt"
	"time"
)

// Reserved header keys set or read by the binding layer.
const (
	ContentTypeHeader = "contentType"
	IDHeader          = "id"
	TimestampHeader   = "timestamp"
	KeyHeader         = "kafka_key"
)

// Headers maps header names to values. Lookups are by exact key.
type Headers map[string]any

// Get returns the raw header value.
func (h Headers) Get(key string) (any, bool) {
	v, ok := h[key]
	return v, ok
}

// String renders a header as text. A []byte value is taken as UTF-8.
func (h Headers) String(key string) (string, bool) {
	v, ok := h[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	default:
		return fmt.Sprint(t), true
	}
}

// ContentType returns the declared content type, if any.
func (h Headers) ContentType() (string, bool) {
	return h.String(ContentTypeHeader)
}

// Clone returns a shallow copy. A nil map clones to an empty one.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Message is an immutable payload/headers pair. Treat it as a value:
// derive new messages with WithPayload instead of assigning fields of a
// message someone else may hold.
type Message struct {
	Payload any
	Headers Headers
}

// New builds a message with a private copy of headers.
func New(payload any, headers Headers) Message {
	return Message{Payload: payload, Headers: headers.Clone()}
}

// WithPayload returns a new message carrying p and a copy of m's headers.
func (m Message) WithPayload(p any) Message {
	return Message{Payload: p, Headers: m.Headers.Clone()}
}

// Checkpoint identifies the source record a frame was read from.
type Checkpoint struct {
	Topic     string
	Partition int32
	Offset    int64
}

func (c Checkpoint) String() string {
	return fmt.Sprintf("%s[%d]@%d", c.Topic, c.Partition, c.Offset)
}

// Frame is the unit moved through a pipeline.
type Frame struct {
	Message    Message
	Checkpoint Checkpoint
	Timestamp  time.Time
}
