package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "streamviewer"

// Metrics groups the viewer and dev remote collectors. A nil *Metrics is
// not valid; use Discard when nothing should be exported.
type Metrics struct {
	registry prometheus.Gatherer

	FramesRendered  *prometheus.CounterVec
	RenderErrors    prometheus.Counter
	InputEmitted    *prometheus.CounterVec
	InputRejected   *prometheus.CounterVec
	ConnectAttempts *prometheus.CounterVec
	HealthFailures  prometheus.Counter

	FramesEmitted  *prometheus.CounterVec
	ControlChanges *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		FramesRendered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rendered_total",
			Help:      "Frames drawn, by streaming mode.",
		}, []string{"mode"}),
		RenderErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_errors_total",
			Help:      "Frames that could not be decoded.",
		}),
		InputEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_emitted_total",
			Help:      "Control events sent, by event name.",
		}, []string{"event"}),
		InputRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_rejected_total",
			Help:      "Negative acknowledgments, by event name.",
		}, []string{"event"}),
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Channel handshake attempts, by channel and result.",
		}, []string{"channel", "result"}),
		HealthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_poll_failures_total",
			Help:      "Failed /healthz polls.",
		}),
		FramesEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "frames_emitted_total",
			Help:      "Frames broadcast by the dev remote, by event.",
		}, []string{"event"}),
		ControlChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "control_requests_total",
			Help:      "Lock requests handled by the dev remote, by event and outcome.",
		}, []string{"event", "outcome"}),
	}
	reg.MustRegister(
		m.FramesRendered, m.RenderErrors, m.InputEmitted, m.InputRejected,
		m.ConnectAttempts, m.HealthFailures, m.FramesEmitted, m.ControlChanges,
	)
	return m
}

// Discard returns collectors that are never exported.
func Discard() *Metrics { return New() }

// Or returns m, or Discard when m is nil.
func Or(m *Metrics) *Metrics {
	if m == nil {
		return Discard()
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
