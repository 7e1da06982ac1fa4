// Package engine wires the pipeline runner, the gRPC endpoint and metrics
// into one process.
package engine

import (
	"context"
	"net"

	"xform/internal/pipeline"
	"xform/internal/transport"
)

type Engine struct {
	transport *transport.Server
	runner    *pipeline.Runner
	cancel    context.CancelFunc // stops the runner
}

func (e *Engine) Addr() net.Addr { return e.transport.Addr() }

// Run serves until ctx is done or the pipeline stops with an error. On the
// way out the runner drains its queue before sinks and source are closed.
func (e *Engine) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() { serveErr <- e.transport.Serve() }()

	runErr := make(chan error, 1)
	if e.runner != nil {
		go func() { runErr <- e.runner.Wait() }()
	}

	var err error
	runnerDone := false
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	case err = <-runErr:
		runnerDone = true
	}

	if e.cancel != nil {
		e.cancel()
	}
	e.transport.Stop()
	if e.runner != nil {
		if !runnerDone {
			if werr := <-runErr; err == nil {
				err = werr
			}
		}
		closeRunner(e.runner)
	}
	return err
}
