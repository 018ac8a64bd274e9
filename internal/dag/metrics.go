package dag

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"checkweaver/internal/finding"
)

// Metrics are the executor's Prometheus instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	tasks    *prometheus.CounterVec
	cache    *prometheus.CounterVec
	findings *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the executor instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkweaver",
			Name:      "tasks_total",
			Help:      "Tasks by checker and terminal state.",
		}, []string{"checker", "state"}),
		cache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkweaver",
			Name:      "result_cache_total",
			Help:      "Result cache decisions by outcome.",
		}, []string{"result"}),
		findings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkweaver",
			Name:      "findings_total",
			Help:      "Findings emitted by severity.",
		}, []string{"severity"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "checkweaver",
			Name:      "task_duration_seconds",
			Help:      "Time tasks spent running.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"checker"}),
	}
}

func (m *Metrics) taskTerminal(checker string, st TaskState) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(checker, string(st)).Inc()
}

func (m *Metrics) cacheResult(result string) {
	if m == nil {
		return
	}
	m.cache.WithLabelValues(result).Inc()
}

func (m *Metrics) emitted(fs []finding.Finding) {
	if m == nil {
		return
	}
	for _, f := range fs {
		m.findings.WithLabelValues(string(f.Severity)).Inc()
	}
}

func (m *Metrics) observe(checker string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(checker).Observe(d.Seconds())
}
