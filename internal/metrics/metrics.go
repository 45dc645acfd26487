// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - WebSocket connection state and reconnect counts
//   - Inbound frame rates and decode failures per channel
//   - Queue depth per channel family
//   - Writer batch sizes and flush counts
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors behind a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionUp   *prometheus.GaugeVec
	Reconnects     *prometheus.CounterVec
	FramesReceived *prometheus.CounterVec
	DecodeErrors   *prometheus.CounterVec
	QueueDepth     *prometheus.GaugeVec
	RowsWritten    *prometheus.CounterVec
	BatchFlushes   *prometheus.CounterVec
}

// New creates and registers all collectors.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ConnectionUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_up",
			Help:      "Whether the websocket connection is open (1) or not (0)",
		}, []string{"conn"}),

		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnect attempts by connection",
		}, []string{"conn"}),

		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound data frames by channel",
		}, []string{"channel"}),

		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Frames dropped because they failed to decode, by channel",
		}, []string{"channel"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Records currently buffered per channel family",
		}, []string{"channel"}),

		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows written to the database by table",
		}, []string{"table"}),

		BatchFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_flushes_total",
			Help:      "Batch flushes by table",
		}, []string{"table"}),
	}

	registry.MustRegister(
		m.ConnectionUp,
		m.Reconnects,
		m.FramesReceived,
		m.DecodeErrors,
		m.QueueDepth,
		m.RowsWritten,
		m.BatchFlushes,
	)

	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
