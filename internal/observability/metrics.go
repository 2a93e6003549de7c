package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry
	stages   *turnStageWindow

	ChatTurns        *prometheus.CounterVec
	StoreOps         *prometheus.CounterVec
	ActiveOwners     prometheus.Gauge
	InferenceLatency prometheus.Histogram
	TurnStageLatency *prometheus.HistogramVec
	WSMessages       *prometheus.CounterVec
}

// NewMetrics registers instruments on a private registry so several
// instances (one per test, one per process role) can coexist.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stages:   newTurnStageWindow(256),
		ChatTurns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Chat turns by terminal result.",
		}, []string{"result"}),
		StoreOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_ops_total",
			Help:      "Session memory store operations by type and result.",
		}, []string{"op", "result"}),
		ActiveOwners: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_session_owners",
			Help:      "Number of sessions with an active owner executing queued operations.",
		}),
		InferenceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_latency_ms",
			Help:      "Inference backend call latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		TurnStageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_latency_ms",
			Help:      "Chat turn stage latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 4000, 15000},
		}, []string{"stage"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
	}
}

func (m *Metrics) ObserveTurn(result string) {
	if m == nil {
		return
	}
	m.ChatTurns.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveStoreOp(op, result string) {
	if m == nil {
		return
	}
	m.StoreOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) OwnerStarted() {
	if m == nil {
		return
	}
	m.ActiveOwners.Inc()
}

func (m *Metrics) OwnerRetired() {
	if m == nil {
		return
	}
	m.ActiveOwners.Dec()
}

func (m *Metrics) ObserveInferenceLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.InferenceLatency.Observe(float64(d.Milliseconds()))
}

// ObserveTurnStage records a stage duration in both the histogram and the
// rolling window served by the perf endpoint.
func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.TurnStageLatency.WithLabelValues(stage).Observe(ms)
	m.stages.Observe(stage, ms)
}

func (m *Metrics) ObserveTurnIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) ObserveWSMessage(direction, messageType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, messageType).Inc()
}

func (m *Metrics) SnapshotTurnStages() TurnStageSnapshot {
	if m == nil {
		return newTurnStageWindow(0).Snapshot()
	}
	return m.stages.Snapshot()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
