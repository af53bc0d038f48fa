package dispatch

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects dispatch metrics. A nil *Metrics records nothing.
type Metrics struct {
	calls    *prometheus.CounterVec
	inflight prometheus.Gauge
	duration *prometheus.HistogramVec
}

// NewMetrics registers the dispatch collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cloudcall",
				Subsystem: "dispatch",
				Name:      "calls_total",
				Help:      "Total number of dispatched calls by outcome",
			},
			[]string{"operation", "status"},
		),
		inflight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "cloudcall",
				Subsystem: "dispatch",
				Name:      "inflight_calls",
				Help:      "Number of calls awaiting a response",
			},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cloudcall",
				Subsystem: "dispatch",
				Name:      "call_duration_seconds",
				Help:      "Call duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"operation"},
		),
	}
}

func (m *Metrics) started() {
	if m == nil {
		return
	}

	m.inflight.Inc()
}

func (m *Metrics) finished(operation string, status int, err error, elapsed time.Duration) {
	if m == nil {
		return
	}

	label := "error"
	if err == nil {
		label = strconv.Itoa(status)
	}

	m.inflight.Dec()
	m.calls.WithLabelValues(operation, label).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
