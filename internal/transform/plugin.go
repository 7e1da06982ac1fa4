package transform

import (
	"context"

	"xform/internal/message"
)

// Health is what a transformer reports about itself.
type Health struct {
	OK      bool
	Details string
}

// Client wraps a transformer (in process or remote) behind one API so the
// runner can chain them without caring about transport.
type Client interface {
	Transform(ctx context.Context, in message.Frame) ([]message.Frame, error)
	Health(ctx context.Context) (Health, error)
	Close() error
}

// Transformer is anything that can turn one frame into zero or more frames.
type Transformer interface {
	Apply(context.Context, message.Frame) ([]message.Frame, error)
}

// InProcessClient adapts a transformer compiled into the engine.
type InProcessClient struct {
	impl Transformer
}

func NewInProcessClient(impl Transformer) *InProcessClient { return &InProcessClient{impl: impl} }

func (c *InProcessClient) Transform(ctx context.Context, in message.Frame) ([]message.Frame, error) {
	return c.impl.Apply(ctx, in)
}

func (c *InProcessClient) Health(context.Context) (Health, error) {
	return Health{OK: true, Details: "in-process"}, nil
}

func (c *InProcessClient) Close() error { return nil }
