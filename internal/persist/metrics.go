package persist

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	resultOK      = "ok"
	resultError   = "error"
	resultHit     = "hit"
	resultMiss    = "miss"
	resultDeleted = "deleted"
	resultSkipped = "skipped"
)

// Metrics counts persistence outcomes. A nil *Metrics records nothing.
type Metrics struct {
	Writes       *prometheus.CounterVec
	Loads        *prometheus.CounterVec
	Cleanup      *prometheus.CounterVec
	WriteLatency prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "normstore",
			Subsystem: "persist",
			Name:      "writes_total",
			Help:      "Persisted cell values by result.",
		}, []string{"store", "result"}),
		Loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "normstore",
			Subsystem: "persist",
			Name:      "loads_total",
			Help:      "Initial loads by result (hit, miss, error).",
		}, []string{"store", "result"}),
		Cleanup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "normstore",
			Subsystem: "persist",
			Name:      "cleanup_records_total",
			Help:      "Records visited by the cleanup pass by result (deleted, skipped, error).",
		}, []string{"store", "result"}),
		WriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "normstore",
			Subsystem: "persist",
			Name:      "write_duration_seconds",
			Help:      "Time spent in backend Put calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Writes, m.Loads, m.Cleanup, m.WriteLatency)
	}
	return m
}

func (m *Metrics) write(store, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Writes.WithLabelValues(store, result).Inc()
	if result == resultOK {
		m.WriteLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) load(store, result string) {
	if m == nil {
		return
	}
	m.Loads.WithLabelValues(store, result).Inc()
}

func (m *Metrics) cleanup(store, result string) {
	if m == nil {
		return
	}
	m.Cleanup.WithLabelValues(store, result).Inc()
}
