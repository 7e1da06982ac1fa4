package kafka

import (
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"xform/internal/message"
)

// frameFromRecord maps a consumed record to a frame. Header values become
// strings, the record key travels in message.KeyHeader, and id/timestamp
// headers are filled in when the producer did not set them.
func frameFromRecord(msg *sarama.ConsumerMessage) message.Frame {
	headers := make(message.Headers, len(msg.Headers)+3)
	for _, h := range msg.Headers {
		if h == nil {
			continue
		}
		headers[string(h.Key)] = string(h.Value)
	}
	if msg.Key != nil {
		headers[message.KeyHeader] = string(msg.Key)
	}
	if _, ok := headers[message.IDHeader]; !ok {
		headers[message.IDHeader] = uuid.NewString()
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if _, ok := headers[message.TimestampHeader]; !ok {
		headers[message.TimestampHeader] = strconv.FormatInt(ts.UnixMilli(), 10)
	}
	return message.Frame{
		Message:    message.Message{Payload: msg.Value, Headers: headers},
		Checkpoint: message.Checkpoint{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset},
		Timestamp:  ts,
	}
}
