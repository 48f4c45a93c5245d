// Package metrics provides Prometheus metrics for the speaker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speaker"

// Metrics holds all Prometheus metrics for the speaker.
type Metrics struct {
	// Transport metrics
	Reconnects     *prometheus.CounterVec
	TransportState *prometheus.GaugeVec
	EventsReceived *prometheus.CounterVec
	DecodeErrors   *prometheus.CounterVec

	// Dialog metrics
	DialogsStarted  *prometheus.CounterVec
	DialogsFinished *prometheus.CounterVec
	DialogSteps     *prometheus.HistogramVec
	Timeouts        *prometheus.CounterVec
	EventsQueued    *prometheus.GaugeVec

	// Submission metrics
	Submissions *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Reconnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_reconnects_total",
			Help:      "Total number of event channel reconnect attempts",
		}, []string{"stream"}),
		TransportState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_connected",
			Help:      "1 while the event channel of a stream is connected",
		}, []string{"stream"}),
		EventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Total number of server events received",
		}, []string{"stream"}),
		DecodeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_decode_errors_total",
			Help:      "Total number of inbound messages that could not be decoded",
		}, []string{"stream"}),

		DialogsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialogs_started_total",
			Help:      "Total number of dialogs started",
		}, []string{"kind"}),
		DialogsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialogs_finished_total",
			Help:      "Total number of dialogs finished",
		}, []string{"kind", "outcome"}),
		DialogSteps: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dialog_step_seconds",
			Help:      "Duration of one dialog step including speech output",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"kind"}),
		Timeouts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialog_timeouts_total",
			Help:      "Total number of call-later timers that fired without input",
		}, []string{"kind"}),
		EventsQueued: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events_queued",
			Help:      "Number of events waiting behind the live dialog",
		}, []string{"stream"}),

		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of measurement value submissions",
		}, []string{"result"}),
	}
}

// RecordConnected records the connection state of a stream.
func (m *Metrics) RecordConnected(stream string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	m.TransportState.WithLabelValues(stream).Set(v)
}

// RecordReconnect records a reconnect attempt.
func (m *Metrics) RecordReconnect(stream string) {
	m.Reconnects.WithLabelValues(stream).Inc()
}

// RecordEvent records an inbound event.
func (m *Metrics) RecordEvent(stream string) {
	m.EventsReceived.WithLabelValues(stream).Inc()
}

// RecordDecodeError records an undecodable inbound message.
func (m *Metrics) RecordDecodeError(stream string) {
	m.DecodeErrors.WithLabelValues(stream).Inc()
}

// RecordDialogStart records a dialog starting.
func (m *Metrics) RecordDialogStart(kind string) {
	m.DialogsStarted.WithLabelValues(kind).Inc()
}

// RecordDialogEnd records a dialog reaching an outcome.
func (m *Metrics) RecordDialogEnd(kind, outcome string) {
	m.DialogsFinished.WithLabelValues(kind, outcome).Inc()
}

// RecordStep records the duration of one dialog step.
func (m *Metrics) RecordStep(kind string, seconds float64) {
	m.DialogSteps.WithLabelValues(kind).Observe(seconds)
}

// RecordTimeout records a call-later timer firing.
func (m *Metrics) RecordTimeout(kind string) {
	m.Timeouts.WithLabelValues(kind).Inc()
}

// SetQueued records the queue length of a stream.
func (m *Metrics) SetQueued(stream string, n int) {
	m.EventsQueued.WithLabelValues(stream).Set(float64(n))
}

// RecordSubmission records a submission result ("ok" or "failed").
func (m *Metrics) RecordSubmission(result string) {
	m.Submissions.WithLabelValues(result).Inc()
}
