package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-dispatch/internal/queue"
)

// Namespace prefixes every metric name.
const Namespace = "graydispatch"

// Metrics holds the dispatch collectors.
//
// Thread Safety: all methods are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	actionsQueued   *prometheus.CounterVec
	actionsFinished *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec
	queueDepth      *prometheus.GaugeVec
	actionsRunning  *prometheus.GaugeVec

	busAcquired *prometheus.CounterVec
	busWait     *prometheus.HistogramVec
}

// New creates the collectors and registers them, along with the Go runtime
// and process collectors, in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		actionsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "actions_queued_total",
			Help:      "Actions accepted into a queue.",
		}, []string{"queue"}),
		actionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "actions_finished_total",
			Help:      "Actions that reached a final status.",
		}, []string{"queue", "status"}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "action_duration_seconds",
			Help:      "Execution time of actions that started.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"queue"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "queue_pending_actions",
			Help:      "Actions waiting in a queue.",
		}, []string{"queue"}),
		actionsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "queue_running_actions",
			Help:      "Actions currently executing (0 or 1 per queue).",
		}, []string{"queue"}),

		busAcquired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bus_lock_acquisitions_total",
			Help:      "Bus lock acquisition attempts by outcome.",
		}, []string{"bus", "result"}),
		busWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "bus_lock_wait_seconds",
			Help:      "Time spent waiting for a bus lock.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1},
		}, []string{"bus"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.actionsQueued,
		m.actionsFinished,
		m.actionDuration,
		m.queueDepth,
		m.actionsRunning,
		m.busAcquired,
		m.busWait,
	)
	return m
}

// ActionQueued implements queue.Observer.
func (m *Metrics) ActionQueued(a queue.Snapshot) {
	m.actionsQueued.WithLabelValues(a.Queue).Inc()
	m.queueDepth.WithLabelValues(a.Queue).Inc()
}

// ActionStarted implements queue.Observer.
func (m *Metrics) ActionStarted(a queue.Snapshot) {
	m.queueDepth.WithLabelValues(a.Queue).Dec()
	m.actionsRunning.WithLabelValues(a.Queue).Inc()
}

// ActionFinished implements queue.Observer. Actions that never started
// (terminated or ignored while queued) leave the pending gauge instead of
// the running one.
func (m *Metrics) ActionFinished(a queue.Snapshot) {
	m.actionsFinished.WithLabelValues(a.Queue, string(a.Status)).Inc()
	if a.Started.IsZero() {
		m.queueDepth.WithLabelValues(a.Queue).Dec()
		return
	}
	m.actionsRunning.WithLabelValues(a.Queue).Dec()
	m.actionDuration.WithLabelValues(a.Queue).Observe(a.Duration().Seconds())
}

// ObserveBusLock implements buslock.Observer.
func (m *Metrics) ObserveBusLock(busID string, wait time.Duration, acquired bool) {
	result := "acquired"
	if !acquired {
		result = "timeout"
	}
	m.busAcquired.WithLabelValues(busID, result).Inc()
	m.busWait.WithLabelValues(busID).Observe(wait.Seconds())
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Registry returns the underlying registry, e.g. for tests or to add
// collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry:          m.registry,
		EnableOpenMetrics: true,
	})
}
