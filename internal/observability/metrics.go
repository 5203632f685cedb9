package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveCalls       prometheus.Gauge
	CallEvents        *prometheus.CounterVec
	BusEvents         *prometheus.CounterVec
	PipelineErrors    *prometheus.CounterVec
	DroppedEvents     *prometheus.CounterVec
	JobEvents         *prometheus.CounterVec
	EngineInitLatency prometheus.Histogram
	RecordingBytes    prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of calls with live engine registrations.",
		}),
		CallEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call lifecycle events by type.",
		}, []string{"event"}),
		BusEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_total",
			Help:      "Events published on the bus by topic.",
		}, []string{"topic"}),
		PipelineErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_errors_total",
			Help:      "Pipeline stage errors by stage.",
		}, []string{"stage"}),
		DroppedEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Events dropped before dispatch by reason.",
		}, []string{"reason"}),
		JobEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_events_total",
			Help:      "Call job intake outcomes by result.",
		}, []string{"result"}),
		EngineInitLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_init_latency_ms",
			Help:      "Latency to wire all four engines for a call in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000},
		}),
		RecordingBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recording_bytes_total",
			Help:      "Audio bytes buffered for recordings.",
		}),
	}
}

func (m *Metrics) ObserveEngineInitLatency(d time.Duration) {
	m.EngineInitLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
