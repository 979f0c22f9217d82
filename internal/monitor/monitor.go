// Package monitor implements the gateway's system monitor: a read-only
// periodic sampler of queue depth, event bitset, and heap usage, rendered
// as both an ANSI terminal dashboard and a JSON status endpoint plus a
// Prometheus exposition endpoint served by promhttp over net/http.
package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/stickman-iot/gateway/internal/config"
	"github.com/stickman-iot/gateway/internal/fabric"
)

// Monitor owns the dashboard, the metrics registry, and the HTTP status
// server. It is read-only: it must not mutate any other component's
// state.
type Monitor struct {
	fab *fabric.Fabric
	log zerolog.Logger
	cfg config.Config

	dash    *dashboard
	metrics *Metrics
	server  *http.Server

	processed atomic.Uint64
	dropped   atomic.Uint64
}

// New constructs a Monitor and registers its HTTP handlers, but does not
// start listening until Run is called.
func New(fab *fabric.Fabric, log zerolog.Logger, cfg config.Config) *Monitor {
	m := &Monitor{
		fab:     fab,
		log:     log.With().Str("component", "monitor").Logger(),
		cfg:     cfg,
		dash:    newDashboard(),
		metrics: NewMetrics(),
	}
	m.server = m.buildServer()
	return m
}

// Metrics exposes the Prometheus collectors so other components (the
// security transformer) can be wired to report into them without this
// package depending on theirs.
func (m *Monitor) Metrics() *Metrics { return m.metrics }

// RecordProcessed and RecordDropped let the processor feed the
// "Messages Processed"/"Messages Dropped" counters without the monitor
// reaching into the processor's internal state.
func (m *Monitor) RecordProcessed() { m.processed.Add(1) }
func (m *Monitor) RecordDropped()   { m.dropped.Add(1) }

func (m *Monitor) buildServer() *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", m.handleStatus)
	mux.Handle("/metrics", m.metrics.Handler())
	return &http.Server{Addr: m.cfg.HTTPListenAddr, Handler: mux}
}

func (m *Monitor) handleStatus(w http.ResponseWriter, _ *http.Request) {
	body, err := json.Marshal(m.statusSnapshot())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

type statusResponse struct {
	UptimeSeconds     float64                `json:"uptime_seconds"`
	NetworkConnected  bool                   `json:"network_connected"`
	TLSReady          bool                   `json:"tls_ready"`
	MQTTConnected     bool                   `json:"mqtt_connected"`
	SensorQueueDepth  int                    `json:"sensor_queue_depth"`
	SensorQueueMax    int                    `json:"sensor_queue_capacity"`
	NetworkQueueDepth int                    `json:"network_queue_depth"`
	NetworkQueueMax   int                    `json:"network_queue_capacity"`
	MessagesProcessed uint64                 `json:"messages_processed"`
	MessagesDropped   uint64                 `json:"messages_dropped"`
	LatestReadings    map[string]interface{} `json:"latest_readings"`
}

func (m *Monitor) statusSnapshot() statusResponse {
	events := m.fab.Events.Get()
	latest := m.fab.LatestReadings.Snapshot()
	readings := make(map[string]interface{}, len(latest))
	for k, v := range latest {
		readings[k] = v
	}

	return statusResponse{
		UptimeSeconds:     time.Since(m.dash.startedAt).Seconds(),
		NetworkConnected:  events&fabric.EventNetworkConnected != 0,
		TLSReady:          events&fabric.EventTLSReady != 0,
		MQTTConnected:     events&fabric.EventMQTTConnected != 0,
		SensorQueueDepth:  m.fab.SensorQueue.Len(),
		SensorQueueMax:    m.fab.SensorQueue.Capacity(),
		NetworkQueueDepth: m.fab.NetworkQueue.Len(),
		NetworkQueueMax:   m.fab.NetworkQueue.Capacity(),
		MessagesProcessed: m.processed.Load(),
		MessagesDropped:   m.dropped.Load(),
		LatestReadings:    readings,
	}
}

// Run starts the HTTP server, then periodically renders the dashboard
// through the fabric's console mutex until EventShutdown is observed.
func (m *Monitor) Run() {
	ln, err := net.Listen("tcp", m.cfg.HTTPListenAddr)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to start http status server, continuing without it")
	} else {
		m.log.Info().Str("addr", m.cfg.HTTPListenAddr).Msg("monitor http endpoint listening")
		go func() {
			if err := m.server.Serve(ln); err != nil && err != http.ErrServerClosed {
				m.log.Error().Err(err).Msg("http status server stopped unexpectedly")
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = m.server.Shutdown(ctx)
		}()
	}

	m.log.Info().Dur("refresh", m.cfg.MonitorRefresh).Msg("monitor started")
	next := time.Now().Add(m.cfg.MonitorRefresh)
	for {
		if m.fab.Events.Get()&fabric.EventShutdown != 0 {
			m.log.Info().Msg("monitor shutting down")
			return
		}

		m.fab.Clock.SleepUntil(next)
		next = next.Add(m.cfg.MonitorRefresh)

		if m.fab.Events.Get()&fabric.EventShutdown != 0 {
			return
		}

		m.metrics.sensorQueueDepth.Set(float64(m.fab.SensorQueue.Len()))
		m.metrics.networkQueueDepth.Set(float64(m.fab.NetworkQueue.Len()))
		m.metrics.uptimeSeconds.Set(time.Since(m.dash.startedAt).Seconds())
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		m.metrics.heapAllocBytes.Set(float64(mem.Alloc))

		m.fab.Console.WithLock(monitorPriority, func(w io.Writer) {
			m.dash.render(w, m.fab, m.processed.Load(), m.dropped.Load())
		})
	}
}

// monitorPriority is the lowest scheduling priority of any task, used
// only for console-mutex priority-inheritance bookkeeping.
const monitorPriority = 1
