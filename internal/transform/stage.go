package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"xform/internal/expression"
	"xform/internal/message"
	"xform/internal/telemetry"
)

// DefaultContentType applies to binary payloads that carry no content-type
// header, unless overridden with WithDefaultContentType.
const DefaultContentType = message.ContentTypeJSON

// ErrEvaluation wraps every expression failure returned by Transform.
var ErrEvaluation = errors.New("transform: evaluation failed")

// Substring markers. Matching is containment, not MIME parsing, so a type
// such as "application/x-context" also counts as textual.
var textualMarkers = []string{"text", "json", "x-spring-tuple"}

// IsTextual reports whether a payload declared with contentType should be
// decoded to a string before evaluation.
func IsTextual(contentType string) bool {
	for _, m := range textualMarkers {
		if strings.Contains(contentType, m) {
			return true
		}
	}
	return false
}

type Option func(*Stage)

// WithDefaultContentType sets the content type assumed for binary payloads
// without a content-type header.
func WithDefaultContentType(ct string) Option {
	return func(s *Stage) { s.defaultContentType = ct }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Stage) { s.metrics = m }
}

// Stage is stateless after construction and safe for concurrent use.
type Stage struct {
	eval               expression.Evaluator
	defaultContentType string
	metrics            *telemetry.Metrics
}

// NewStage builds a stage around eval. A nil eval is the identity.
func NewStage(eval expression.Evaluator, opts ...Option) *Stage {
	if eval == nil {
		eval = expression.Identity()
	}
	s := &Stage{eval: eval, defaultContentType: DefaultContentType}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Coerce returns the message the expression will see and whether the
// payload was decoded. msg itself is never modified.
func (s *Stage) Coerce(msg message.Message) (message.Message, bool) {
	raw, ok := msg.Payload.([]byte)
	if !ok {
		return msg, false
	}
	ct, ok := msg.Headers.ContentType()
	if !ok {
		ct = s.defaultContentType
	}
	if !IsTextual(ct) {
		return msg, false
	}
	return msg.WithPayload(string(raw)), true
}

// Transform evaluates the expression against msg, after Coerce, and
// returns the result as the outbound payload.
func (s *Stage) Transform(msg message.Message) (any, error) {
	start := time.Now()
	in, decoded := s.Coerce(msg)
	if decoded {
		s.metrics.Decoded()
	}

	out, err := s.eval.Evaluate(expression.Context{Payload: in.Payload, Headers: in.Headers})
	if err != nil {
		s.metrics.Observe(telemetry.OutcomeFailed, time.Since(start))
		return nil, fmt.Errorf("%w: %w", ErrEvaluation, err)
	}
	s.metrics.Observe(telemetry.OutcomeOK, time.Since(start))
	return out, nil
}

// Apply runs Transform on a frame. The result frame keeps the source
// checkpoint and headers except contentType, which the sink sets from the
// encoded result. A nil result produces no frame.
func (s *Stage) Apply(_ context.Context, f message.Frame) ([]message.Frame, error) {
	out, err := s.Transform(f.Message)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	next := f.Message.WithPayload(out)
	delete(next.Headers, message.ContentTypeHeader)
	return []message.Frame{{Message: next, Checkpoint: f.Checkpoint, Timestamp: f.Timestamp}}, nil
}
