package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	callsActive    prometheus.Gauge
	callsTotal     prometheus.Counter
	callDuration   prometheus.Histogram
	peersConnected prometheus.Gauge
	peerReconnects prometheus.Counter
	signalingTotal *prometheus.CounterVec
	chatMessages   prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		callsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_calls_active",
			Help: "Number of calls currently in progress",
		}),

		callsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "huddle_calls_total",
			Help: "Total number of calls started",
		}),

		callDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "huddle_call_duration_seconds",
			Help:    "Duration of completed calls",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),

		peersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_peers_connected",
			Help: "Number of peer connections currently open",
		}),

		peerReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "huddle_peer_session_reconnects_total",
			Help: "Total number of media session reconnect attempts",
		}),

		signalingTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_signaling_messages_total",
			Help: "Total signaling messages received, by type",
		}, []string{"type"}),

		chatMessages: promauto.NewCounter(prometheus.CounterOpts{
			Name: "huddle_chat_messages_total",
			Help: "Total chat messages received",
		}),
	}
}

func (p *PrometheusCollector) CallStarted() {
	p.callsActive.Inc()
	p.callsTotal.Inc()
}

func (p *PrometheusCollector) CallEnded(duration time.Duration) {
	p.callsActive.Dec()
	p.callDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) PeerConnectionOpened() {
	p.peersConnected.Inc()
}

func (p *PrometheusCollector) PeerConnectionClosed() {
	p.peersConnected.Dec()
}

func (p *PrometheusCollector) PeerSessionReconnect() {
	p.peerReconnects.Inc()
}

func (p *PrometheusCollector) SignalingMessage(messageType string) {
	p.signalingTotal.WithLabelValues(messageType).Inc()
}

func (p *PrometheusCollector) ChatMessage() {
	p.chatMessages.Inc()
}
