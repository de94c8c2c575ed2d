package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector defines the interface for collecting sync and fan-out metrics
type MetricsCollector interface {
	RecordSnapshotWrite(success bool, duration time.Duration)
	RecordEventsAppended(count int, success bool)
	RecordViewerPoll(success bool, duration time.Duration)
	RecordEventPublished(eventType string, success bool)
	SetViewerConnections(n int)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordSnapshotWrite(success bool, duration time.Duration) {}
func (n *NoOpMetricsCollector) RecordEventsAppended(count int, success bool)             {}
func (n *NoOpMetricsCollector) RecordViewerPoll(success bool, duration time.Duration)    {}
func (n *NoOpMetricsCollector) RecordEventPublished(eventType string, success bool)      {}
func (n *NoOpMetricsCollector) SetViewerConnections(count int)                           {}

// PrometheusMetrics implements MetricsCollector using Prometheus
type PrometheusMetrics struct {
	registry          *prometheus.Registry
	snapshotWrites    *prometheus.CounterVec
	snapshotDuration  prometheus.Histogram
	eventsAppended    *prometheus.CounterVec
	viewerPolls       *prometheus.CounterVec
	viewerPollLatency prometheus.Histogram
	eventsPublished   *prometheus.CounterVec
	connections       prometheus.Gauge
}

// NewPrometheusMetrics registers the collectors on registry. A nil registry
// gets a fresh one.
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &PrometheusMetrics{
		registry: registry,
		snapshotWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wissel",
			Name:      "snapshot_writes_total",
			Help:      "Snapshot writes to the remote store by outcome.",
		}, []string{"status"}),
		snapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wissel",
			Name:      "snapshot_write_duration_seconds",
			Help:      "Latency of snapshot writes.",
			Buckets:   prometheus.DefBuckets,
		}),
		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wissel",
			Name:      "events_appended_total",
			Help:      "Match events appended to the event log by outcome.",
		}, []string{"status"}),
		viewerPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wissel",
			Name:      "viewer_polls_total",
			Help:      "Viewer polls by outcome.",
		}, []string{"status"}),
		viewerPollLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wissel",
			Name:      "viewer_poll_duration_seconds",
			Help:      "Latency of viewer polls.",
			Buckets:   prometheus.DefBuckets,
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wissel",
			Name:      "events_published_total",
			Help:      "Match events published on the event bus.",
		}, []string{"event_type", "status"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wissel",
			Name:      "viewer_connections",
			Help:      "Open live viewer websocket connections.",
		}),
	}
	registry.MustRegister(
		m.snapshotWrites,
		m.snapshotDuration,
		m.eventsAppended,
		m.viewerPolls,
		m.viewerPollLatency,
		m.eventsPublished,
		m.connections,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *PrometheusMetrics) RecordSnapshotWrite(success bool, duration time.Duration) {
	m.snapshotWrites.WithLabelValues(status(success)).Inc()
	m.snapshotDuration.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordEventsAppended(count int, success bool) {
	m.eventsAppended.WithLabelValues(status(success)).Add(float64(count))
}

func (m *PrometheusMetrics) RecordViewerPoll(success bool, duration time.Duration) {
	m.viewerPolls.WithLabelValues(status(success)).Inc()
	m.viewerPollLatency.Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordEventPublished(eventType string, success bool) {
	m.eventsPublished.WithLabelValues(eventType, status(success)).Inc()
}

func (m *PrometheusMetrics) SetViewerConnections(n int) {
	m.connections.Set(float64(n))
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
