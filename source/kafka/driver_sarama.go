package kafka

import (
	"context"
	"sync"

	"github.com/IBM/sarama"

	"xform/internal/logging"
	"xform/internal/message"
)

type SaramaDriver struct {
	cfg   Config
	mode  CommitMode
	cl    sarama.Client
	group sarama.ConsumerGroup
	bp    *Controller
	cp    *Manager[message.Checkpoint]

	mu      sync.Mutex
	pending map[message.Checkpoint]func()

	ackCh chan message.Checkpoint
}

var _ Acker = (*SaramaDriver)(nil)

func (d *SaramaDriver) Configure(config Config) error {
	d.cfg, d.mode = config, config.CommitMode
	d.pending = make(map[message.Checkpoint]func())

	d.bp = NewController(config.BackPressure.Capacity, config.BackPressure.Capacity/10, config.BackPressure.CheckInt)
	d.cp = NewManager[message.Checkpoint](config.BackPressure.Capacity, config.Checkpoint.CommitInt)
	d.ackCh = make(chan message.Checkpoint, int(config.BackPressure.Capacity))

	sc, err := saramaConfig(config)
	if err != nil {
		return err
	}
	if d.cl, err = sarama.NewClient(config.Brokers, sc); err != nil {
		return err
	}
	d.group, err = sarama.NewConsumerGroupFromClient(config.GroupID, d.cl)
	return err
}

func saramaConfig(config Config) (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(config.Version)
	if err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.Consumer.Return.Errors = true
	if config.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if config.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = config.SASLUser, config.SASLPass
	}
	switch config.StartFrom {
	case "oldest":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	return sc, nil
}

func (d *SaramaDriver) Run(ctx context.Context, emit EmitFunc) error {
	handler := &groupHandler{driver: d, emit: emit}

	go func() {
		for err := range d.group.Errors() {
			logging.L().Error("sarama-driver: consumer error", "err", err)
		}
	}()

	for {
		if err := d.group.Consume(ctx, d.cfg.Topics, handler); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (d *SaramaDriver) Close() error {
	_ = d.group.Close()
	_ = d.cl.Close()
	d.bp.Close()
	return nil
}

// OnAck queues a checkpoint acknowledged by the sinks. When the queue is
// full the oldest ack is dropped to make room.
func (d *SaramaDriver) OnAck(cp message.Checkpoint) {
	select {
	case d.ackCh <- cp:
		return
	default:
	}
	select {
	case <-d.ackCh:
	default:
	}
	select {
	case d.ackCh <- cp:
	default:
		logging.L().Warn("sarama-driver: ack channel full; dropping ack", "checkpoint", cp.String())
	}
}

// resolveAck runs the commit callback registered for cp, if any, and
// returns its back-pressure token.
func (d *SaramaDriver) resolveAck(cp message.Checkpoint) {
	d.mu.Lock()
	cb, ok := d.pending[cp]
	if ok {
		delete(d.pending, cp)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	cb()
	d.bp.Release(1)
	logging.L().Debug("kafka ack released", "checkpoint", cp.String())
}

type groupHandler struct {
	driver *SaramaDriver
	emit   EmitFunc
}

func (*groupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.driver.mu.Lock()
	defer h.driver.mu.Unlock()

	dropped := len(h.driver.pending)
	h.driver.pending = make(map[message.Checkpoint]func())
	if dropped > 0 {
		logging.L().Info("sarama-driver: rebalance, cleared pending callbacks", "count", dropped)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	d := h.driver
	ctx := sess.Context()
	for {
		// out of tokens: only acks can make progress
		if !d.bp.TryAcquire(1) {
			select {
			case cp := <-d.ackCh:
				d.resolveAck(cp)
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			d.bp.Release(1)
			return ctx.Err()

		case cp := <-d.ackCh:
			d.bp.Release(1)
			d.resolveAck(cp)

		case msg, ok := <-claim.Messages():
			if !ok {
				d.bp.Release(1)
				return nil
			}
			if err := h.handle(sess, msg); err != nil {
				d.bp.Release(1)
				return err
			}
		}
	}
}

func (h *groupHandler) handle(sess sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) error {
	d := h.driver
	f := frameFromRecord(msg)

	resolve, err := d.cp.Track(sess.Context(), f.Checkpoint)
	if err != nil {
		return err
	}
	commit := func() {
		highest, due := resolve()
		sess.MarkMessage(msg, "")
		if due {
			sess.Commit()
			if highest != nil {
				logging.L().Debug("kafka offsets committed", "highest", highest.String())
			}
		}
	}

	if d.mode == CommitE2E {
		// register before emitting: a synchronous sink may ack inside emit
		d.mu.Lock()
		d.pending[f.Checkpoint] = commit
		d.mu.Unlock()
	}
	if err := h.emit(f); err != nil {
		if d.mode == CommitE2E {
			d.mu.Lock()
			delete(d.pending, f.Checkpoint)
			d.mu.Unlock()
		}
		return err
	}
	if d.mode == CommitAuto {
		commit()
		d.bp.Release(1)
	}
	return nil
}
