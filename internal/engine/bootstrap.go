package engine

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"xform/internal/config"
	"xform/internal/expression"
	"xform/internal/logging"
	"xform/internal/pipeline"
	"xform/internal/plugin"
	"xform/internal/telemetry"
	"xform/internal/transform"
	"xform/internal/transport"
)

// Config is the process-level configuration of the processor.
type Config = config.Engine

// Options carries the collaborators tests replace.
type Options struct {
	Registerer   prometheus.Registerer // nil = prometheus.DefaultRegisterer
	ServeMetrics bool                  // serve /metrics on cfg.MetricsPort
}

func Bootstrap(ctx context.Context, cfg Config, opts Options) (*Engine, error) {
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}

	// 1. metrics
	m, err := telemetry.NewMetrics(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	// 2. pipeline runner
	var runner *pipeline.Runner
	if cfg.Pipeline != "" {
		runner, err = pipeline.Compile(cfg.Pipeline, m)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}

	// 3. the stage served to other engines
	served, err := servedStage(cfg, runner, m)
	if err != nil {
		closeRunner(runner)
		return nil, err
	}

	// 4. transport server
	srv, err := transport.StartServer(cfg.GRPCPort, func(s grpc.ServiceRegistrar) {
		plugin.Register(s, plugin.NewServer("engine", served))
	})
	if err != nil {
		closeRunner(runner)
		return nil, fmt.Errorf("transport: %w", err)
	}
	srv.SetServing(plugin.ServiceName, true)

	rctx, cancel := context.WithCancel(ctx)
	if runner != nil {
		if err := runner.Start(rctx); err != nil {
			cancel()
			srv.Stop()
			closeRunner(runner)
			return nil, err
		}
	}

	if opts.ServeMetrics {
		telemetry.Expose(cfg.MetricsPort)
	}

	logging.L().Info("engine started", "grpc", srv.Addr().String(), "metrics_port", cfg.MetricsPort, "pipeline", cfg.Pipeline)
	return &Engine{
		transport: srv,
		runner:    runner,
		cancel:    cancel,
	}, nil
}

// servedStage prefers the pipeline's first expression stage and falls back
// to the engine's own transformer properties.
func servedStage(cfg Config, runner *pipeline.Runner, m *telemetry.Metrics) (*transform.Stage, error) {
	if runner != nil {
		if local := runner.LocalStages(); len(local) > 0 {
			return local[0], nil
		}
	}
	tc, err := config.LoadTransformerConfig("", "", cfg.Transformer)
	if err != nil {
		return nil, fmt.Errorf("transformer: %w", err)
	}
	eval, err := expression.Compile(tc.Expression)
	if err != nil {
		return nil, fmt.Errorf("transformer: %w", err)
	}
	return transform.NewStage(eval,
		transform.WithDefaultContentType(tc.DefaultContentType),
		transform.WithMetrics(m),
	), nil
}

func closeRunner(r *pipeline.Runner) {
	if r == nil {
		return
	}
	if err := r.Close(); err != nil {
		logging.L().Warn("runner close", "err", err)
	}
}
