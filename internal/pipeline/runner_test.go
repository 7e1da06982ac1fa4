package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xform/internal/expression"
	"xform/internal/message"
	"xform/internal/spec"
	"xform/internal/telemetry"
	"xform/internal/transform"
	"xform/sink"
	"xform/sink/stdout"
	"xform/source/kafka"
)

type fakeTransform struct {
	calls int32
	mode  string
}

func (f *fakeTransform) Health(context.Context) (transform.Health, error) {
	return transform.Health{OK: true}, nil
}
func (f *fakeTransform) Close() error { return nil }
func (f *fakeTransform) Transform(_ context.Context, in message.Frame) ([]message.Frame, error) {
	atomic.AddInt32(&f.calls, 1)
	switch f.mode {
	case "drop":
		return nil, nil
	case "fail":
		return nil, errors.New("boom")
	case "fanout2":
		return []message.Frame{in, in}, nil
	default:
		return []message.Frame{in}, nil
	}
}

type captureSink struct {
	mu     sync.Mutex
	pushed []message.Frame
	ackFn  sink.EmitFn
	hold   bool // collect but do not ack
}

func (c *captureSink) Configure(any) error { return nil }
func (c *captureSink) Push(f message.Frame) error {
	c.mu.Lock()
	c.pushed = append(c.pushed, f)
	c.mu.Unlock()
	if c.ackFn != nil && !c.hold {
		c.ackFn(f.Checkpoint)
	}
	return nil
}
func (c *captureSink) Close() error           { return nil }
func (c *captureSink) BindAck(fn sink.EmitFn) { c.ackFn = fn }

func (c *captureSink) frames() []message.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message.Frame(nil), c.pushed...)
}

type plainSink struct{ n int32 }

func (p *plainSink) Configure(any) error { return nil }
func (p *plainSink) Push(message.Frame) error {
	atomic.AddInt32(&p.n, 1)
	return nil
}
func (p *plainSink) Close() error { return nil }

type ackLog struct {
	mu  sync.Mutex
	cps []message.Checkpoint
}

func (a *ackLog) record(cp message.Checkpoint) {
	a.mu.Lock()
	a.cps = append(a.cps, cp)
	a.mu.Unlock()
}

func (a *ackLog) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cps)
}

func makeFrame(offset int64) message.Frame {
	return message.Frame{
		Message: message.New([]byte("hello"), message.Headers{
			message.ContentTypeHeader: "text/plain",
		}),
		Checkpoint: message.Checkpoint{Topic: "t", Partition: 1, Offset: offset},
	}
}

func newTestRunner(t *testing.T, modes ...string) (*Runner, *captureSink, *ackLog) {
	t.Helper()
	r := NewRunner()
	for i, m := range modes {
		r.AddTransformer("t"+string(rune('1'+i)), &fakeTransform{mode: m})
	}
	cs := &captureSink{}
	cs.BindAck(r.Ack)
	r.AddSink(cs)
	acks := &ackLog{}
	r.SubscribeAck(acks.record)
	return r, cs, acks
}

func TestRunner_TransformerOK_ForwardsAndSinkAcks(t *testing.T) {
	r, cs, acks := newTestRunner(t, "ok")

	require.NoError(t, r.pushFrame(context.Background(), makeFrame(42)))
	require.Len(t, cs.frames(), 1)
	assert.Equal(t, []byte("hello"), cs.frames()[0].Message.Payload)
	assert.Equal(t, []message.Checkpoint{{Topic: "t", Partition: 1, Offset: 42}}, acks.cps)
}

func TestRunner_TransformerDrop_AcksNoPush(t *testing.T) {
	r, cs, acks := newTestRunner(t, "drop")

	require.NoError(t, r.pushFrame(context.Background(), makeFrame(1)))
	assert.Empty(t, cs.frames())
	assert.Equal(t, 1, acks.len())
}

func TestRunner_StageFailure_DropsAndAcks(t *testing.T) {
	r, cs, acks := newTestRunner(t, "fail")

	require.NoError(t, r.pushFrame(context.Background(), makeFrame(1)))
	assert.Empty(t, cs.frames())
	assert.Equal(t, 1, acks.len())
}

func TestRunner_StageFailure_FailFast(t *testing.T) {
	r, cs, acks := newTestRunner(t, "fail")
	r.Configure(spec.RunnerSpec{FailFast: true})

	err := r.pushFrame(context.Background(), makeFrame(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transformer t1")
	assert.Empty(t, cs.frames())
	assert.Zero(t, acks.len())
}

func TestRunner_MultiStageFanout(t *testing.T) {
	r, cs, acks := newTestRunner(t, "fanout2", "ok")

	require.NoError(t, r.pushFrame(context.Background(), makeFrame(7)))
	assert.Len(t, cs.frames(), 2)
	assert.Equal(t, 1, acks.len(), "one source ack after both outputs were acked")
}

func TestRunner_FanoutWaitsForEveryAck(t *testing.T) {
	r, cs, acks := newTestRunner(t, "fanout2")
	cs.hold = true
	cp := makeFrame(9).Checkpoint

	require.NoError(t, r.pushFrame(context.Background(), makeFrame(9)))
	assert.Zero(t, acks.len())

	r.Ack(cp)
	assert.Zero(t, acks.len())
	r.Ack(cp)
	assert.Equal(t, 1, acks.len())

	// late duplicates are ignored
	r.Ack(cp)
	assert.Equal(t, 1, acks.len())
}

func TestRunner_NoAckAwareSink_AcksAfterPush(t *testing.T) {
	r := NewRunner()
	r.AddTransformer("t1", &fakeTransform{mode: "ok"})
	ps := &plainSink{}
	r.AddSink(ps)
	acks := &ackLog{}
	r.SubscribeAck(acks.record)

	require.NoError(t, r.pushFrame(context.Background(), makeFrame(3)))
	assert.EqualValues(t, 1, atomic.LoadInt32(&ps.n))
	assert.Equal(t, 1, acks.len())
}

func TestRunner_ExpressionStage(t *testing.T) {
	r := NewRunner()
	st := transform.NewStage(expression.MustCompile("upper(payload)"))
	r.AddTransformer("upper", transform.NewInProcessClient(st))
	cs := &captureSink{}
	cs.BindAck(r.Ack)
	r.AddSink(cs)

	require.NoError(t, r.pushFrame(context.Background(), makeFrame(5)))
	require.Len(t, cs.frames(), 1)
	out := cs.frames()[0]
	assert.Equal(t, "HELLO", out.Message.Payload)
	_, ok := out.Message.Headers.ContentType()
	assert.False(t, ok, "content type is negotiated by the sink")
}

func newEncodingRunner(t *testing.T, src string, failFast bool) (*Runner, *ackLog, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := telemetry.NewMetrics(reg)
	require.NoError(t, err)

	r := NewRunner()
	r.SetMetrics(m)
	r.Configure(spec.RunnerSpec{FailFast: failFast})
	r.AddTransformer("calc", transform.NewInProcessClient(transform.NewStage(expression.MustCompile(src))))

	out, err := sink.NewAdapter("stdout")
	require.NoError(t, err)
	require.NoError(t, out.Configure(stdout.Config{PrintValue: true}))
	out.(sink.AckAware).BindAck(r.Ack)
	r.AddSink(out)

	acks := &ackLog{}
	r.SubscribeAck(acks.record)
	return r, acks, reg
}

func TestRunner_UnencodableResult_DropsAndAcks(t *testing.T) {
	r, acks, reg := newEncodingRunner(t, "len(payload) / 0", false)

	require.NoError(t, r.pushFrame(context.Background(), makeFrame(4)))
	assert.Equal(t, []message.Checkpoint{{Topic: "t", Partition: 1, Offset: 4}}, acks.cps)
	assert.Empty(t, r.awaiting)

	n, err := testutil.GatherAndCount(reg, "xform_frames_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// the runner keeps going with the next record
	require.NoError(t, r.pushFrame(context.Background(), makeFrame(5)))
	assert.Equal(t, 2, acks.len())
}

func TestRunner_UnencodableResult_FailFast(t *testing.T) {
	r, acks, _ := newEncodingRunner(t, "len(payload) / 0", true)

	err := r.pushFrame(context.Background(), makeFrame(4))
	require.ErrorIs(t, err, message.ErrEncode)
	assert.Zero(t, acks.len())
	assert.Empty(t, r.awaiting)
}

type fakeSource struct {
	frames []message.Frame
	closed atomic.Bool
}

func (s *fakeSource) Configure(kafka.Config) error { return nil }
func (s *fakeSource) Run(ctx context.Context, emit kafka.EmitFunc) error {
	for _, f := range s.frames {
		if err := emit(f); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}
func (s *fakeSource) Close() error {
	s.closed.Store(true)
	return nil
}

func TestRunner_StartWorkers(t *testing.T) {
	src := &fakeSource{}
	for i := 0; i < 50; i++ {
		src.frames = append(src.frames, makeFrame(int64(i)))
	}
	r, cs, acks := newTestRunner(t, "ok")
	r.Configure(spec.RunnerSpec{Workers: 4, QueueSize: 8})
	r.SetSource(src)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))

	require.Eventually(t, func() bool { return acks.len() == 50 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, cs.frames(), 50)

	cancel()
	require.NoError(t, r.Wait())
	require.NoError(t, r.Close())
	assert.True(t, src.closed.Load())
}

func TestRunner_StartFailFastStops(t *testing.T) {
	src := &fakeSource{frames: []message.Frame{makeFrame(1), makeFrame(2)}}
	r, _, _ := newTestRunner(t, "fail")
	r.Configure(spec.RunnerSpec{FailFast: true})
	r.SetSource(src)

	require.NoError(t, r.Start(context.Background()))
	err := r.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRunner_StartWithoutSource(t *testing.T) {
	assert.Error(t, NewRunner().Start(context.Background()))
}
