package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"xform/internal/logging"
	"xform/internal/message"
	"xform/internal/transform"
	"xform/internal/transport"
)

// ClientConfig controls call behaviour towards one remote transformer.
type ClientConfig struct {
	Timeout         time.Duration // per attempt, 0 = none
	Attempts        int           // retries after the first call
	Backoff         time.Duration // initial retry interval
	BreakerFailures uint32        // consecutive failures that open the breaker, 0 = 5
	BreakerReset    time.Duration // open → half-open, 0 = 30s
}

// Client calls a remote transformer. It implements transform.Client.
type Client struct {
	name string
	conn *grpc.ClientConn
	cfg  ClientConfig
	cb   *gobreaker.CircuitBreaker
}

var _ transform.Client = (*Client)(nil)

// Dial connects to a plugin at target. Without options the connection is
// plaintext.
func Dial(name, target string, cfg ClientConfig, opts ...grpc.DialOption) (*Client, error) {
	conn, err := transport.Dial(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: dial %s: %w", name, target, err)
	}
	return NewClient(name, conn, cfg), nil
}

func NewClient(name string, conn *grpc.ClientConn, cfg ClientConfig) *Client {
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerReset == 0 {
		cfg.BreakerReset = 30 * time.Second
	}
	threshold := cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerReset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// a rejected expression says nothing about plugin availability
			return err == nil || status.Code(err) == codes.InvalidArgument
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.L().Warn("plugin circuit breaker state changed", "plugin", name, "from", from.String(), "to", to.String())
		},
	})
	return &Client{name: name, conn: conn, cfg: cfg, cb: cb}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	_, err := c.cb.Execute(func() (any, error) {
		cctx := ctx
		if c.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
		}
		return nil, c.conn.Invoke(cctx, method, req, resp)
	})
	return err
}

func (c *Client) Transform(ctx context.Context, in message.Frame) ([]message.Frame, error) {
	req, err := EncodeRequest(in.Message)
	if err != nil {
		return nil, err
	}

	resp := new(structpb.Struct)
	op := func() error {
		err := c.invoke(ctx, TransformFullMethodName, req, resp)
		if err == nil {
			return nil
		}
		if status.Code(err) == codes.InvalidArgument || errors.Is(err, gobreaker.ErrOpenState) {
			return backoff.Permanent(err)
		}
		logging.L().Debug("plugin call failed, retrying", "plugin", c.name, "err", err)
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.Backoff
	attempts := c.cfg.Attempts
	if attempts < 0 {
		attempts = 0
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts)), ctx)); err != nil {
		if status.Code(err) == codes.InvalidArgument {
			return nil, fmt.Errorf("%w: plugin %s: %s", transform.ErrEvaluation, c.name, status.Convert(err).Message())
		}
		return nil, fmt.Errorf("plugin %s: %w", c.name, err)
	}

	out, err := DecodeResponse(resp)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	next := in.Message.WithPayload(out)
	delete(next.Headers, message.ContentTypeHeader)
	return []message.Frame{{Message: next, Checkpoint: in.Checkpoint, Timestamp: in.Timestamp}}, nil
}

func (c *Client) Health(ctx context.Context) (transform.Health, error) {
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, HealthFullMethodName, &emptypb.Empty{}, resp); err != nil {
		return transform.Health{}, fmt.Errorf("plugin %s: health: %w", c.name, err)
	}
	f := resp.GetFields()
	return transform.Health{OK: f[fieldOK].GetBoolValue(), Details: f[fieldDetails].GetStringValue()}, nil
}

func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
