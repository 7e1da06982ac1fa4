package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"xform/internal/logging"
)

// Outcome labels for MessagesTotal.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Reasons a frame is dropped by the runner.
const (
	DropTransform = "transform"
	DropEncode    = "encode"
)

// Metrics groups the collectors the processor reports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	messages *prometheus.CounterVec
	decoded  prometheus.Counter
	latency  prometheus.Histogram
	acks     prometheus.Counter
	dropped  *prometheus.CounterVec
}

// NewMetrics registers the processor collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xform",
			Name:      "messages_total",
			Help:      "Messages handled by the transform stage, by outcome.",
		}, []string{"outcome"}),
		decoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xform",
			Name:      "payload_decoded_total",
			Help:      "Binary payloads decoded to text before evaluation.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "xform",
			Name:      "transform_seconds",
			Help:      "Time spent evaluating the transform expression.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
		acks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xform",
			Name:      "acks_total",
			Help:      "Checkpoints acknowledged back to the source.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xform",
			Name:      "frames_dropped_total",
			Help:      "Source frames acknowledged without output after a failure, by reason.",
		}, []string{"reason"}),
	}
	for _, c := range []prometheus.Collector{m.messages, m.decoded, m.latency, m.acks, m.dropped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Observe(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
	m.latency.Observe(took.Seconds())
}

func (m *Metrics) Decoded() {
	if m == nil {
		return
	}
	m.decoded.Inc()
}

func (m *Metrics) Acked() {
	if m == nil {
		return
	}
	m.acks.Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// Expose serves the default registry on :port/metrics in the background.
func Expose(port int) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			logging.L().Error("metrics listener stopped", "port", port, "err", err)
		}
	}()
}
