package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ent0n29/curator/internal/turn"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec
	Turns           *prometheus.CounterVec
	UpstreamErrors  *prometheus.CounterVec
	DispatchLatency prometheus.Histogram
	CatalogRecords  prometheus.Gauge
	CatalogLoads    *prometheus.CounterVec

	latency *latencyWindow
}

// NewMetrics registers the instruments under namespace. upstreamTimeout sets
// the latency budgets reported by SnapshotLatency.
func NewMetrics(namespace string, upstreamTimeout time.Duration) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active chat sessions.",
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
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed dispatch cycles by terminal phase.",
		}, []string{"phase"}),
		UpstreamErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Failed turns by diagnostic code.",
		}, []string{"code"}),
		DispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_latency_ms",
			Help:      "Latency from user message to terminal phase in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		CatalogRecords: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_records",
			Help:      "Records in the most recently loaded catalog.",
		}),
		CatalogLoads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_loads_total",
			Help:      "Catalog source fetches by resulting condition.",
		}, []string{"condition"}),
		latency: newLatencyWindow(256, StageBudgets(upstreamTimeout)),
	}
}

// ObserveTurn records a finished dispatch.
func (m *Metrics) ObserveTurn(out turn.Outcome) {
	m.Turns.WithLabelValues(string(out.Phase)).Inc()
	if out.Diagnostic != nil {
		m.UpstreamErrors.WithLabelValues(out.Diagnostic.Code).Inc()
	}
	m.DispatchLatency.Observe(float64(out.Duration.Milliseconds()))
	m.latency.observe(StageTurn, out.Duration)
	m.latency.observeOutcome(out)
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.latency.observe(stage, d)
}

func (m *Metrics) ObserveCatalogLoad(condition string, records int) {
	m.CatalogLoads.WithLabelValues(condition).Inc()
	m.CatalogRecords.Set(float64(records))
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	return m.latency.snapshot()
}

func (m *Metrics) ResetLatency() {
	m.latency.reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
