package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	ProviderErrors    *prometheus.CounterVec
	Turns             *prometheus.CounterVec
	Flushes           *prometheus.CounterVec
	OutboundMessages  *prometheus.CounterVec
	FlushChars        prometheus.Histogram
	FirstFlushLatency prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active document sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Model backend errors by provider and code.",
		}, []string{"provider", "code"}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Finished document turns by outcome.",
		}, []string{"outcome"}),
		Flushes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_flushes_total",
			Help:      "Stream buffer flushes by trigger.",
		}, []string{"reason"}),
		OutboundMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Messages offered to a client channel by type and result.",
		}, []string{"type", "result"}),
		FlushChars: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_flush_chars",
			Help:      "Characters delivered per stream flush.",
			Buckets:   []float64{1, 2, 4, 8, 15, 30, 60, 120, 240},
		}),
		FirstFlushLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_flush_latency_ms",
			Help:      "Latency from prompt to the first streamed document delta in milliseconds.",
			Buckets:   []float64{50, 100, 200, 350, 500, 750, 1000, 1500, 2500},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveFirstFlushLatency(d time.Duration) {
	m.FirstFlushLatency.Observe(float64(d.Milliseconds()))
}

// ObserveFlush records one stream buffer flush. It has the same shape as
// stream.WithObserver callbacks so it can be passed through directly.
func (m *Metrics) ObserveFlush(reason string, chars int) {
	m.Flushes.WithLabelValues(reason).Inc()
	m.FlushChars.Observe(float64(chars))
}

func (m *Metrics) ObserveOutboundMessage(msgType, result string) {
	m.OutboundMessages.WithLabelValues(msgType, result).Inc()
}

// ObserveStage records one duration sample for a named turn stage in the
// rolling performance window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) MarkIndicator(name string) {
	m.stages.MarkIndicator(name)
}

func (m *Metrics) SnapshotStreamStages() StageSnapshot {
	return m.stages.Snapshot()
}

func (m *Metrics) ResetStreamStages() {
	m.stages.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
