package stdout

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xform/internal/message"
	"xform/sink"
)

type ackRecorder struct {
	mu  sync.Mutex
	got []message.Checkpoint
}

func (a *ackRecorder) fn(cp message.Checkpoint) {
	a.mu.Lock()
	a.got = append(a.got, cp)
	a.mu.Unlock()
}

func (a *ackRecorder) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.got)
}

func newDriver(t *testing.T, cfg Config) (*driver, *bytes.Buffer, *ackRecorder) {
	t.Helper()
	buf := &bytes.Buffer{}
	d := &driver{out: buf}
	require.NoError(t, d.Configure(cfg))
	acks := &ackRecorder{}
	d.BindAck(acks.fn)
	return d, buf, acks
}

func frame(offset int64, payload any) message.Frame {
	return message.Frame{Message: message.New(payload, nil), Checkpoint: message.Checkpoint{Topic: "out", Offset: offset}}
}

func TestRegistered(t *testing.T) {
	a, err := sink.NewAdapter("stdout")
	require.NoError(t, err)
	assert.IsType(t, &driver{}, a)
}

func TestConfigure_RejectsWrongType(t *testing.T) {
	assert.Error(t, (&driver{}).Configure("nope"))
}

func TestPush_AcksImmediatelyByDefault(t *testing.T) {
	d, buf, acks := newDriver(t, Config{})

	require.NoError(t, d.Push(frame(1, "x")))
	assert.Equal(t, 1, acks.len())
	assert.Equal(t, "[sink] out[0]@1\n", buf.String())
}

func TestPush_PrintsTruncatedValue(t *testing.T) {
	d, buf, _ := newDriver(t, Config{PrintValue: true, ValueMaxBytes: 3})

	require.NoError(t, d.Push(frame(1, "HELLO")))
	assert.Contains(t, buf.String(), "(text/plain) HEL...")
}

func TestPush_PrintsCounter(t *testing.T) {
	d, buf, _ := newDriver(t, Config{PrintCounter: true})

	require.NoError(t, d.Push(frame(5, "x")))
	assert.True(t, strings.HasPrefix(buf.String(), "[sink "))
	assert.Contains(t, buf.String(), "out[0]@5")
}

func TestPush_BatchFlush(t *testing.T) {
	d, _, acks := newDriver(t, Config{BatchSize: 3})

	require.NoError(t, d.Push(frame(1, "a")))
	require.NoError(t, d.Push(frame(2, "b")))
	assert.Equal(t, 0, acks.len())
	require.NoError(t, d.Push(frame(3, "c")))
	assert.Equal(t, 3, acks.len())
}

func TestPush_TimerFlush(t *testing.T) {
	d, _, acks := newDriver(t, Config{BatchSize: 100, FlushMS: 5})

	require.NoError(t, d.Push(frame(1, "a")))
	assert.Eventually(t, func() bool { return acks.len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestClose_FlushesPending(t *testing.T) {
	d, _, acks := newDriver(t, Config{BatchSize: 10})

	require.NoError(t, d.Push(frame(1, "a")))
	require.NoError(t, d.Close())
	assert.Equal(t, 1, acks.len())
}

func TestPush_EncodeError(t *testing.T) {
	d, _, _ := newDriver(t, Config{PrintValue: true})
	assert.Error(t, d.Push(frame(1, make(chan int))))
}
