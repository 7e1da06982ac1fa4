package kafka

import (
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"xform/internal/logging"
	"xform/internal/message"
	"xform/sink"
)

type Config struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Acks    *int16   `yaml:"required_acks"` // 0,1,-1; absent = 1 (leader)
	Version string   `yaml:"version"`
}

type driver struct {
	cfg Config
	p   sarama.AsyncProducer
	ack sink.EmitFn

	mu     sync.RWMutex // guards closed against Push racing Close
	closed bool
	wg     sync.WaitGroup
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: expected Config, got %T", c)
	}
	if cfg.Topic == "" || len(cfg.Brokers) == 0 {
		return fmt.Errorf("kafka-sink: brokers and topic are required")
	}
	sc, err := producerConfig(cfg)
	if err != nil {
		return err
	}
	p, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return err
	}
	d.start(cfg, p)
	return nil
}

func producerConfig(cfg Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	if cfg.Version != "" {
		ver, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, err
		}
		sc.Version = ver
	}
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	if cfg.Acks != nil {
		sc.Producer.RequiredAcks = sarama.RequiredAcks(*cfg.Acks)
	}
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	return sc, nil
}

func (d *driver) start(cfg Config, p sarama.AsyncProducer) {
	d.cfg, d.p = cfg, p
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		for msg := range p.Successes() {
			if cp, ok := msg.Metadata.(message.Checkpoint); ok && d.ack != nil {
				d.ack(cp)
			}
		}
	}()
	go func() {
		defer d.wg.Done()
		for perr := range p.Errors() {
			cp, _ := perr.Msg.Metadata.(message.Checkpoint)
			// unacked: the source will not commit past this record
			logging.L().Error("kafka-sink: produce failed", "topic", d.cfg.Topic, "checkpoint", cp.String(), "err", perr.Err)
		}
	}()
}

func (d *driver) Push(f message.Frame) error {
	msg, err := toProducerMessage(d.cfg.Topic, f)
	if err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return sink.ErrClosed
	}
	d.p.Input() <- msg
	return nil
}

// toProducerMessage encodes the payload and propagates string headers.
// contentType always reflects the encoded bytes.
func toProducerMessage(topic string, f message.Frame) (*sarama.ProducerMessage, error) {
	value, ct, err := message.Encode(f.Message.Payload)
	if err != nil {
		return nil, fmt.Errorf("kafka-sink: %w", err)
	}
	headers := make([]sarama.RecordHeader, 0, len(f.Message.Headers)+1)
	for k := range f.Message.Headers {
		if k == message.ContentTypeHeader || k == message.KeyHeader {
			continue
		}
		v, _ := f.Message.Headers.String(k)
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	headers = append(headers, sarama.RecordHeader{Key: []byte(message.ContentTypeHeader), Value: []byte(ct)})

	msg := &sarama.ProducerMessage{
		Topic:    topic,
		Value:    sarama.ByteEncoder(value),
		Headers:  headers,
		Metadata: f.Checkpoint,
	}
	if key, ok := f.Message.Headers.String(message.KeyHeader); ok {
		msg.Key = sarama.StringEncoder(key)
	}
	if !f.Timestamp.IsZero() {
		msg.Timestamp = f.Timestamp
	}
	return msg, nil
}

func (d *driver) BindAck(fn sink.EmitFn) { d.ack = fn }

func (d *driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.p.AsyncClose()
	d.wg.Wait()
	return nil
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
