package edit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes scheduler activity. A nil *Metrics records nothing.
type Metrics struct {
	ticks         prometheus.Counter
	writes        prometheus.Counter
	completed     *prometheus.CounterVec
	failures      *prometheus.CounterVec
	undoSkips     prometheus.Counter
	activeOwners  prometheus.Gauge
	pendingQueues prometheus.Gauge
	tickDuration  prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxeledit_scheduler_ticks_total",
			Help: "Scheduler ticks that found pending work",
		}),
		writes: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxeledit_scheduler_writes_total",
			Help: "Budget units credited to change queues",
		}),
		completed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxeledit_scheduler_queues_completed_total",
			Help: "Change queues drained to completion by kind",
		}, []string{"kind"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxeledit_scheduler_queue_failures_total",
			Help: "Change queues discarded after a failure by kind",
		}, []string{"kind"}),
		undoSkips: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxeledit_undo_skipped_total",
			Help: "Edits flushed without undo history because they were too large",
		}),
		activeOwners: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxeledit_scheduler_active_owners",
			Help: "Owners with pending work at the last tick",
		}),
		pendingQueues: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxeledit_scheduler_pending_queues",
			Help: "Pending change queues across all owners after the last tick",
		}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxeledit_scheduler_tick_duration_seconds",
			Help:    "Wall time spent in one scheduler tick",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}
}

func (m *Metrics) observeTick(report TickReport, pending int, seconds float64) {
	if m == nil {
		return
	}
	m.activeOwners.Set(float64(len(report.Owners)))
	m.pendingQueues.Set(float64(pending))
	if len(report.Owners) == 0 {
		return
	}
	m.ticks.Inc()
	m.writes.Add(float64(report.Budget - report.Remaining))
	m.tickDuration.Observe(seconds)
}

func (m *Metrics) queueCompleted(kind string) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(kind).Inc()
}

func (m *Metrics) queueFailed(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) undoSkipped() {
	if m == nil {
		return
	}
	m.undoSkips.Inc()
}
