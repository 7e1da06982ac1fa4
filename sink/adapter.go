package sink

import (
	"fmt"

	"xform/internal/message"
)

// EmitFn is what a sink calls to tell the pipeline that a frame has been
// durably handled.
type EmitFn func(message.Checkpoint)

// Adapter is the common behaviour every sink exposes.
type Adapter interface {
	Configure(any) error      // driver-specific config struct
	Push(message.Frame) error // consume one frame
	Close() error             // idempotent
}

// AckAware is optional; sinks that acknowledge asynchronously implement it
// and the compiler wires the callback. Frames pushed to other sinks count
// as handled once Push returns.
type AckAware interface {
	BindAck(EmitFn)
}

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownSink, name)
}
