package kafka

import (
	"context"

	"xform/internal/message"
)

// EmitFunc hands one inbound frame to the pipeline.
type EmitFunc func(message.Frame) error

type Adapter interface {
	Configure(Config) error
	Run(context.Context, EmitFunc) error
	Close() error
}

// Acker is implemented by drivers that commit only after the pipeline has
// acknowledged a frame (CommitE2E).
type Acker interface {
	OnAck(message.Checkpoint)
}
