package stdout

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"xform/internal/message"
	"xform/sink"
)

type Config struct {
	DelayMS       int  `yaml:"delay_ms"`        // artificial per-frame delay
	PrintCounter  bool `yaml:"print_counter"`   // prepend seq#
	BatchSize     int  `yaml:"ack_batch_size"`  // 0 = ack on every push
	FlushMS       int  `yaml:"ack_flush_ms"`    // 0 = no timer flush
	PrintValue    bool `yaml:"print_value"`     // print the encoded payload
	ValueMaxBytes int  `yaml:"value_max_bytes"` // 0 = no truncation
}

type driver struct {
	cfg Config
	out io.Writer
	ack sink.EmitFn

	mu      sync.Mutex // guards pending+timer
	pending []message.Checkpoint
	timer   *time.Timer // nil: no timer armed
}

var seq uint64

func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	d.cfg = c
	if d.out == nil {
		d.out = os.Stdout
	}
	return nil
}

func (d *driver) Push(f message.Frame) error {
	if d.cfg.DelayMS > 0 {
		time.Sleep(time.Duration(d.cfg.DelayMS) * time.Millisecond)
	}
	if err := d.print(f); err != nil {
		return err
	}
	if d.ack == nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, f.Checkpoint)

	if d.cfg.BatchSize <= 1 && d.cfg.FlushMS <= 0 {
		d.flushLocked()
		return nil
	}
	if d.cfg.BatchSize > 0 && len(d.pending) >= d.cfg.BatchSize {
		d.flushLocked()
		return nil
	}
	if d.cfg.FlushMS > 0 && d.timer == nil {
		d.timer = time.AfterFunc(time.Duration(d.cfg.FlushMS)*time.Millisecond, d.timerFlush)
	}
	return nil
}

func (d *driver) print(f message.Frame) error {
	line := "[sink] " + f.Checkpoint.String()
	if d.cfg.PrintCounter {
		line = fmt.Sprintf("[sink %06d] %s", atomic.AddUint64(&seq, 1), f.Checkpoint)
	}
	if d.cfg.PrintValue {
		b, ct, err := message.Encode(f.Message.Payload)
		if err != nil {
			return fmt.Errorf("stdout-sink: %w", err)
		}
		if n := d.cfg.ValueMaxBytes; n > 0 && len(b) > n {
			b = append(b[:n:n], "..."...)
		}
		line += fmt.Sprintf(" (%s) %s", ct, b)
	}
	_, err := fmt.Fprintln(d.out, line)
	return err
}

func (d *driver) Close() error {
	d.mu.Lock()
	d.flushLocked()
	d.mu.Unlock()
	return nil
}

func (d *driver) BindAck(fn sink.EmitFn) { d.ack = fn }

func (d *driver) timerFlush() {
	d.mu.Lock()
	d.timer = nil
	d.flushLocked()
	d.mu.Unlock()
}

// must be called with d.mu held
func (d *driver) flushLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if len(d.pending) == 0 || d.ack == nil {
		return
	}
	for _, cp := range d.pending {
		d.ack(cp)
	}
	d.pending = d.pending[:0]
}

func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
