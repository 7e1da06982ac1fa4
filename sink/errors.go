package sink

import "errors"

var (
	ErrUnknownSink = errors.New("unknown sink")
	ErrClosed      = errors.New("sink closed")
)
