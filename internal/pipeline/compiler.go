package pipeline

import (
	"fmt"
	"time"

	"xform/internal/config"
	"xform/internal/expression"
	"xform/internal/plugin"
	"xform/internal/spec"
	"xform/internal/telemetry"
	"xform/internal/transform"
	"xform/sink"
	kafkasink "xform/sink/kafka"
	"xform/sink/stdout"
	"xform/source/kafka"
)

// Compile builds a Runner from the pipeline file at path. m may be nil.
func Compile(path string, m *telemetry.Metrics) (*Runner, error) {
	r := NewRunner()
	r.SetMetrics(m)
	if err := LoadYAML(path, r); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func LoadYAML(path string, r *Runner) error {
	cfg, confPath, err := config.LoadPipelineSpec(path)
	if err != nil {
		return err
	}
	r.Configure(cfg.Runner)

	/*──────── source (Kafka only) ───────*/
	if cfg.Source.Kind != "kafka" {
		return fmt.Errorf("unsupported source %q", cfg.Source.Kind)
	}
	kc, err := config.LoadKafkaConfig(confPath)
	if err != nil {
		return err
	}
	src, err := kafka.NewAdapter(cfg.Source.Driver)
	if err != nil {
		return err
	}
	if err = src.Configure(kc); err != nil {
		return err
	}
	r.SetSource(src)

	// e2e drivers commit only what the pipeline acknowledged
	if aw, ok := src.(kafka.Acker); ok {
		r.SubscribeAck(aw.OnAck)
	}

	/*──────── transformers ───────*/
	for _, t := range cfg.Transformers {
		if err := addTransformer(r, t); err != nil {
			return err
		}
	}

	/*──────── sinks ───────*/
	for _, name := range cfg.Sinks {
		sDrv, err := sink.NewAdapter(name)
		if err != nil {
			return err
		}
		sc, err := sinkConfig(name, cfg)
		if err == nil {
			err = sDrv.Configure(sc)
		}
		if err != nil {
			return fmt.Errorf("sink %s: %w", name, err)
		}
		if ackAware, ok := sDrv.(sink.AckAware); ok {
			ackAware.BindAck(r.Ack)
		}
		r.AddSink(sDrv)
	}
	return nil
}

func addTransformer(r *Runner, t spec.TransformerSpec) error {
	switch t.Type {
	case "", spec.TransformerExpression:
		tc, err := config.LoadTransformerConfig(t.Name, t.Config, config.Transformer{
			Expression:         t.Expression,
			DefaultContentType: t.DefaultContentType,
		})
		if err != nil {
			return fmt.Errorf("transformer %s: %w", t.Name, err)
		}
		eval, err := expression.Compile(tc.Expression)
		if err != nil {
			return fmt.Errorf("transformer %s: %w", t.Name, err)
		}
		st := transform.NewStage(eval,
			transform.WithDefaultContentType(tc.DefaultContentType),
			transform.WithMetrics(r.metrics),
		)
		r.local = append(r.local, st)
		r.AddTransformer(t.Name, transform.NewInProcessClient(st))
	case spec.TransformerGRPC:
		cli, err := plugin.Dial(t.Name, t.Address, plugin.ClientConfig{
			Timeout:         time.Duration(t.TimeoutMS) * time.Millisecond,
			Attempts:        t.RetryPolicy.Attempts,
			Backoff:         time.Duration(t.RetryPolicy.BackoffMS) * time.Millisecond,
			BreakerFailures: t.CircuitBreaker.Failures,
			BreakerReset:    time.Duration(t.CircuitBreaker.ResetMS) * time.Millisecond,
		})
		if err != nil {
			return err
		}
		r.AddTransformer(t.Name, cli)
	default:
		return fmt.Errorf("unsupported transformer type %q for %s", t.Type, t.Name)
	}
	return nil
}

// sinkConfig picks the config block a sink is configured from.
func sinkConfig(name string, cfg spec.File) (any, error) {
	switch name {
	case "stdout":
		return stdout.Config{
			DelayMS:       cfg.Debug.PerFrameDelayMS,
			PrintCounter:  cfg.Debug.PrintCounter,
			BatchSize:     cfg.Debug.AckBatchSize,
			FlushMS:       cfg.Debug.AckFlushMS,
			PrintValue:    cfg.Debug.PrintValue,
			ValueMaxBytes: cfg.Debug.ValueMaxBytes,
		}, nil
	case "kafka":
		if cfg.SinkConfigs.Kafka.Kind == 0 {
			break
		}
		var kc kafkasink.Config
		if err := cfg.SinkConfigs.Kafka.Decode(&kc); err != nil {
			return nil, err
		}
		return kc, nil
	}
	return nil, fmt.Errorf("no config block for sink %q", name)
}
