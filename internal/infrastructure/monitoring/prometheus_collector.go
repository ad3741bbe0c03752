package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exposes relay and client transport metrics. It
// satisfies both signal.Metrics (relay side) and transport.Metrics (client
// side) so one collector serves whichever process imports it.
type PrometheusCollector struct {
	// Relay
	clientsConnected *prometheus.GaugeVec
	connectionsTotal prometheus.Counter
	messagesRouted   *prometheus.CounterVec

	// Client transport
	queueDepth          prometheus.Gauge
	messagesDropped     *prometheus.CounterVec
	bufferEvictions     prometheus.Counter
	reconnectsScheduled prometheus.Counter

	// Negotiation
	negotiationDuration prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		clientsConnected: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshcall_clients_connected",
			Help: "Number of WebSocket clients currently connected, per room",
		}, []string{"room_id"}),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meshcall_connections_total",
			Help: "Total number of WebSocket connections accepted",
		}),

		messagesRouted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcall_messages_routed_total",
			Help: "Total number of signaling messages routed, by kind",
		}, []string{"kind"}),

		queueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "meshcall_transport_queue_depth",
			Help: "Current depth of the outbound transport queue",
		}),

		messagesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meshcall_transport_messages_dropped_total",
			Help: "Total number of messages dropped by the transport queue, by reason",
		}, []string{"reason"}),

		bufferEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meshcall_offline_buffer_evictions_total",
			Help: "Total number of buffered messages evicted while offline",
		}),

		reconnectsScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meshcall_reconnects_scheduled_total",
			Help: "Total number of reconnection attempts scheduled",
		}),

		negotiationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshcall_negotiation_duration_seconds",
			Help:    "Duration of peer offer/answer negotiation rounds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

// signal.Metrics

func (p *PrometheusCollector) ClientConnected(roomID string) {
	p.clientsConnected.WithLabelValues(roomID).Inc()
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) ClientDisconnected(roomID string) {
	p.clientsConnected.WithLabelValues(roomID).Dec()
}

func (p *PrometheusCollector) MessageRouted(kind string) {
	p.messagesRouted.WithLabelValues(kind).Inc()
}

// transport.Metrics

func (p *PrometheusCollector) QueueDepth(n int) {
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusCollector) MessageDropped(reason string) {
	p.messagesDropped.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) BufferEvicted() {
	p.bufferEvictions.Inc()
}

func (p *PrometheusCollector) ReconnectScheduled() {
	p.reconnectsScheduled.Inc()
}

// RecordNegotiation records how long an offer/answer round took.
func (p *PrometheusCollector) RecordNegotiation(duration time.Duration) {
	p.negotiationDuration.Observe(duration.Seconds())
}
