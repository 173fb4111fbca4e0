package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Hand-off publish outcomes
const (
	PublishDelivered = "delivered"
	PublishTimeout   = "timeout"
	PublishFailed    = "failed"
)

// MQTTMetrics tracks the training hand-off publisher.
type MQTTMetrics struct {
	connected     prometheus.Gauge
	lastConnected prometheus.Gauge
	publishes     *prometheus.CounterVec
	connLost      prometheus.Counter
	reconnects    prometheus.Counter
	payloadBytes  prometheus.Histogram
	latency       prometheus.Histogram
}

// NewMQTTMetrics creates and registers the hand-off metrics.
func NewMQTTMetrics(registry prometheus.Registerer) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "florai_mqtt_connected",
			Help: "1 while the hand-off broker connection is up",
		}),
		lastConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "florai_mqtt_last_connected_timestamp_seconds",
			Help: "Unix time of the last successful broker connection",
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "florai_mqtt_publishes_total",
			Help: "Hand-off publishes by result",
		}, []string{"result"}),
		connLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "florai_mqtt_connections_lost_total",
			Help: "Established broker connections that dropped",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "florai_mqtt_reconnects_total",
			Help: "Automatic reconnect attempts",
		}),
		payloadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "florai_mqtt_payload_bytes",
			Help:    "Size of delivered hand-off payloads",
			Buckets: prometheus.ExponentialBuckets(64, 2, 10),
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "florai_mqtt_publish_duration_seconds",
			Help:    "Time until the broker acknowledged a publish",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	for _, c := range []prometheus.Collector{m.connected, m.lastConnected, m.publishes, m.connLost, m.reconnects, m.payloadBytes, m.latency} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register mqtt metrics: %w", err)
		}
	}
	return m, nil
}

// SetConnected records the connection state.
func (m *MQTTMetrics) SetConnected(connected bool) {
	if !connected {
		m.connected.Set(0)
		return
	}
	m.connected.Set(1)
	m.lastConnected.SetToCurrentTime()
}

// ObservePublish records one publish attempt. size and seconds are only
// observed for delivered messages.
func (m *MQTTMetrics) ObservePublish(result string, size int, seconds float64) {
	m.publishes.WithLabelValues(result).Inc()
	if result == PublishDelivered {
		m.payloadBytes.Observe(float64(size))
		m.latency.Observe(seconds)
	}
}

// IncConnectionsLost counts a dropped broker connection.
func (m *MQTTMetrics) IncConnectionsLost() { m.connLost.Inc() }

// IncReconnects counts an automatic reconnect attempt.
func (m *MQTTMetrics) IncReconnects() { m.reconnects.Inc() }

// Delivered returns the delivered publish counter.
func (m *MQTTMetrics) Delivered() prometheus.Counter {
	return m.publishes.WithLabelValues(PublishDelivered)
}
