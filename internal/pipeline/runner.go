package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"xform/internal/logging"
	"xform/internal/message"
	"xform/internal/spec"
	"xform/internal/telemetry"
	"xform/internal/transform"
	"xform/sink"
	"xform/source/kafka"
)

type stage struct {
	name   string
	client transform.Client
}

// Runner moves frames from the source through the transformer chain into
// every sink. A source checkpoint is forwarded to ack subscribers once all
// of its output frames have been acknowledged by every ack-aware sink.
type Runner struct {
	source   kafka.Adapter
	stages   []stage
	sinks    []sink.Adapter
	ackSinks int
	local    []*transform.Stage

	workers   int
	queueSize int
	failFast  bool
	metrics   *telemetry.Metrics

	mu       sync.Mutex
	subs     []func(message.Checkpoint)
	awaiting map[message.Checkpoint]int

	group *errgroup.Group
}

func NewRunner() *Runner {
	return &Runner{
		workers:   1,
		queueSize: 1024,
		awaiting:  map[message.Checkpoint]int{},
	}
}

func (r *Runner) SetSource(s kafka.Adapter)       { r.source = s }
func (r *Runner) SetMetrics(m *telemetry.Metrics) { r.metrics = m }

func (r *Runner) AddTransformer(name string, c transform.Client) {
	r.stages = append(r.stages, stage{name: name, client: c})
}

func (r *Runner) AddSink(s sink.Adapter) {
	if _, ok := s.(sink.AckAware); ok {
		r.ackSinks++
	}
	r.sinks = append(r.sinks, s)
}

// Configure applies the runner section of the pipeline file.
func (r *Runner) Configure(rs spec.RunnerSpec) {
	if rs.Workers > 0 {
		r.workers = rs.Workers
	}
	if rs.QueueSize > 0 {
		r.queueSize = rs.QueueSize
	}
	r.failFast = rs.FailFast
}

// LocalStages returns the in-process expression stages in chain order.
func (r *Runner) LocalStages() []*transform.Stage { return r.local }

func (r *Runner) SubscribeAck(fn func(message.Checkpoint)) {
	r.mu.Lock()
	r.subs = append(r.subs, fn)
	r.mu.Unlock()
}

// Ack is bound to every ack-aware sink. Unknown or already completed
// checkpoints are ignored.
func (r *Runner) Ack(cp message.Checkpoint) {
	r.mu.Lock()
	n, ok := r.awaiting[cp]
	if ok {
		n--
		if n <= 0 {
			delete(r.awaiting, cp)
		} else {
			r.awaiting[cp] = n
		}
	}
	r.mu.Unlock()
	if ok && n <= 0 {
		r.forward(cp)
	}
}

func (r *Runner) forward(cp message.Checkpoint) {
	r.metrics.Acked()

	r.mu.Lock()
	handlers := append([]func(message.Checkpoint){}, r.subs...)
	r.mu.Unlock()

	for _, fn := range handlers {
		fn(cp)
	}
}

func (r *Runner) expect(cp message.Checkpoint, n int) {
	r.mu.Lock()
	r.awaiting[cp] += n
	r.mu.Unlock()
}

func (r *Runner) forget(cp message.Checkpoint) {
	r.mu.Lock()
	delete(r.awaiting, cp)
	r.mu.Unlock()
}

// chain runs f through every transformer. A stage emitting nothing ends the
// chain early.
func (r *Runner) chain(ctx context.Context, f message.Frame) ([]message.Frame, error) {
	cur := []message.Frame{f}
	for _, st := range r.stages {
		var next []message.Frame
		for _, in := range cur {
			outs, err := st.client.Transform(ctx, in)
			if err != nil {
				return nil, fmt.Errorf("transformer %s: %w", st.name, err)
			}
			next = append(next, outs...)
		}
		cur = next
		if len(cur) == 0 {
			break
		}
	}
	return cur, nil
}

// drop acknowledges a failed frame without output, or returns err when the
// runner is fail-fast.
func (r *Runner) drop(cp message.Checkpoint, reason string, err error) error {
	if r.failFast {
		return err
	}
	logging.L().Warn("frame dropped", "checkpoint", cp.String(), "reason", reason, "err", err)
	r.metrics.Dropped(reason)
	r.forward(cp)
	return nil
}

/*──────── frame routing ───────*/
func (r *Runner) pushFrame(ctx context.Context, f message.Frame) error {
	outs, err := r.chain(ctx, f)
	if err != nil {
		return r.drop(f.Checkpoint, telemetry.DropTransform, err)
	}

	need := len(outs) * r.ackSinks
	if need > 0 {
		r.expect(f.Checkpoint, need)
	}
	for _, out := range outs {
		for _, s := range r.sinks {
			if err := s.Push(out); err != nil {
				r.forget(f.Checkpoint)
				err = fmt.Errorf("sink push %s: %w", f.Checkpoint, err)
				if errors.Is(err, message.ErrEncode) {
					return r.drop(f.Checkpoint, telemetry.DropEncode, err)
				}
				return err
			}
		}
	}
	if need == 0 {
		r.forward(f.Checkpoint)
	}
	return nil
}

// Start launches the source and the worker pool and returns immediately.
// With more than one worker frames may reach the sinks out of source order.
func (r *Runner) Start(ctx context.Context) error {
	if r.source == nil {
		return errors.New("runner: no source configured")
	}
	g, gctx := errgroup.WithContext(ctx)
	frames := make(chan message.Frame, r.queueSize)

	g.Go(func() error {
		defer close(frames)
		err := r.source.Run(gctx, func(f message.Frame) error {
			select {
			case frames <- f:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			for f := range frames {
				if err := r.pushFrame(gctx, f); err != nil {
					return err
				}
			}
			return nil
		})
	}
	r.group = g
	logging.L().Info("runner started", "workers", r.workers, "transformers", len(r.stages), "sinks", len(r.sinks))
	return nil
}

// Wait blocks until the source and all workers have stopped.
func (r *Runner) Wait() error {
	if r.group == nil {
		return nil
	}
	return r.group.Wait()
}

// Close releases the source, every transformer client and every sink.
func (r *Runner) Close() error {
	var errs []error
	if r.source != nil {
		errs = append(errs, r.source.Close())
	}
	for _, st := range r.stages {
		errs = append(errs, st.client.Close())
	}
	for _, s := range r.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
