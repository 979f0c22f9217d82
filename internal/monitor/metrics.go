package monitor

import (
	"net/http"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors the monitor exposes, grounded on
// 99souls-ariadne's PrometheusProvider pattern but scoped to this gateway's
// own registry rather than a general-purpose metrics facade.
type Metrics struct {
	registry *prometheus.Registry

	sensorQueueDepth  prometheus.Gauge
	networkQueueDepth prometheus.Gauge
	uptimeSeconds     prometheus.Gauge
	heapAllocBytes    prometheus.Gauge

	securityEncrypted prometheus.Counter
	securitySigned    prometheus.Counter
	securityRotations prometheus.Counter
	securityErrors    prometheus.Counter
}

// NewMetrics constructs and registers every collector on a private
// registry (never the global default, so multiple Metrics instances in
// tests don't collide).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		sensorQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_sensor_queue_depth",
			Help: "Current number of readings queued in the sensor queue.",
		}),
		networkQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_network_queue_depth",
			Help: "Current number of messages queued in the network queue.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_uptime_seconds",
			Help: "Seconds since the gateway process started.",
		}),
		heapAllocBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_heap_alloc_bytes",
			Help: "Bytes of heap memory currently allocated (runtime.MemStats.Alloc).",
		}),
		securityEncrypted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_security_messages_encrypted_total",
			Help: "Messages transformed by the security component.",
		}),
		securitySigned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_security_messages_signed_total",
			Help: "Messages signed by the security component.",
		}),
		securityRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_security_key_rotations_total",
			Help: "Key rotations performed by the security component.",
		}),
		securityErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_security_errors_total",
			Help: "Security transform failures.",
		}),
	}

	reg.MustRegister(
		m.sensorQueueDepth,
		m.networkQueueDepth,
		m.uptimeSeconds,
		m.heapAllocBytes,
		m.securityEncrypted,
		m.securitySigned,
		m.securityRotations,
		m.securityErrors,
	)
	return m
}

// SetSecurityStats mirrors the security transformer's counters into
// Prometheus; counters only move forward, matching client_golang's
// monotonic Counter semantics, so callers pass cumulative totals.
func (m *Metrics) SetSecurityStats(encrypted, signed, rotations, errors uint32) {
	setCounterTo(m.securityEncrypted, float64(encrypted))
	setCounterTo(m.securitySigned, float64(signed))
	setCounterTo(m.securityRotations, float64(rotations))
	setCounterTo(m.securityErrors, float64(errors))
}

// setCounterTo adds the delta needed to bring a monotonic Counter to an
// absolute value; client_golang's Counter has no Set, only Add.
func setCounterTo(c prometheus.Counter, target float64) {
	var pb dto.Metric
	if err := c.Write(&pb); err == nil && pb.Counter != nil {
		current := pb.Counter.GetValue()
		if delta := target - current; delta > 0 {
			c.Add(delta)
		}
	}
}

// Handler returns the promhttp handler serving this registry's collectors
// in the Prometheus text exposition format, mounted by the monitor at
// /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
