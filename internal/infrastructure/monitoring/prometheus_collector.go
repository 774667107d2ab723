package monitoring

import (
	"midimesh/internal/core/domain"
	"midimesh/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	peersConnected     prometheus.Gauge
	eventsSentTotal    *prometheus.CounterVec
	eventsRecvTotal    *prometheus.CounterVec
	protocolViolations prometheus.Counter

	roundTripSeconds prometheus.Histogram
	clockOffset      *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		peersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "midimesh_peers_connected",
			Help: "Number of peer transports currently connected",
		}),

		eventsSentTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "midimesh_events_sent_total",
			Help: "Performance events written to the wire",
		}, []string{"kind"}),

		eventsRecvTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "midimesh_events_received_total",
			Help: "Performance events decoded from the wire",
		}, []string{"kind"}),

		protocolViolations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "midimesh_protocol_violations_total",
			Help: "Frames dropped for bad length prefixes or undecodable payloads",
		}),

		roundTripSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "midimesh_roundtrip_seconds",
			Help:    "Time-sync round trips between peers",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		clockOffset: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "midimesh_clock_offset_micros",
			Help: "Estimated clock offset to each peer in microseconds",
		}, []string{"peer_id"}),
	}
}

var _ ports.MetricsCollector = (*PrometheusCollector)(nil)

func (p *PrometheusCollector) RecordPeerConnected(domain.SessionID) {
	p.peersConnected.Inc()
}

func (p *PrometheusCollector) RecordPeerDisconnected(domain.SessionID) {
	p.peersConnected.Dec()
}

func (p *PrometheusCollector) RecordEventSent(kind domain.EventKind) {
	p.eventsSentTotal.WithLabelValues(kind.String()).Inc()
}

func (p *PrometheusCollector) RecordEventReceived(kind domain.EventKind) {
	p.eventsRecvTotal.WithLabelValues(kind.String()).Inc()
}

func (p *PrometheusCollector) RecordRoundTrip(seconds float64) {
	p.roundTripSeconds.Observe(seconds)
}

func (p *PrometheusCollector) RecordClockOffset(peerID domain.PeerID, offsetMicros int64) {
	p.clockOffset.WithLabelValues(string(peerID)).Set(float64(offsetMicros))
}

func (p *PrometheusCollector) RecordProtocolViolation() {
	p.protocolViolations.Inc()
}
