package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	sessionMessages *prometheus.CounterVec
	sessionClears   prometheus.Counter

	turnTotal        *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	firstFragment    *prometheus.HistogramVec
	fragmentsTotal   *prometheus.CounterVec
	inferenceErrors  *prometheus.CounterVec
	clientsConstruct *prometheus.CounterVec

	persistConnected prometheus.Gauge
	persistWrites    *prometheus.CounterVec
	persistDuration  prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			sessionMessages: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "session_messages_total",
					Help: "Messages appended to session history by role.",
				},
				[]string{"role"},
			),
			sessionClears: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "session_clears_total",
					Help: "Explicit history clears.",
				},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat_turn_total",
					Help: "Chat turns by provider and status.",
				},
				[]string{"provider", "status"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "chat_turn_duration_seconds",
					Help:    "Chat turn duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			firstFragment: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "chat_first_fragment_seconds",
					Help:    "Latency until the first streamed fragment by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			fragmentsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat_fragments_total",
					Help: "Streamed fragments delivered to sinks by provider.",
				},
				[]string{"provider"},
			),
			inferenceErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "inference_errors_total",
					Help: "Inference transport errors by provider.",
				},
				[]string{"provider"},
			),
			clientsConstruct: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "inference_clients_constructed_total",
					Help: "Inference clients constructed by provider.",
				},
				[]string{"provider"},
			),
			persistConnected: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "persistence_connected",
					Help: "Persistence connection state (1 connected, 0 unavailable).",
				},
			),
			persistWrites: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "persistence_writes_total",
					Help: "Persistence writes by status.",
				},
				[]string{"status"},
			),
			persistDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "persistence_write_duration_seconds",
					Help:    "Persistence write duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.sessionMessages,
			m.sessionClears,
			m.turnTotal,
			m.turnDuration,
			m.firstFragment,
			m.fragmentsTotal,
			m.inferenceErrors,
			m.clientsConstruct,
			m.persistConnected,
			m.persistWrites,
			m.persistDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, status(success)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordSessionMessage(role string) {
	getMetrics().sessionMessages.WithLabelValues(role).Inc()
}

func RecordSessionClear() {
	getMetrics().sessionClears.Inc()
}

// RecordTurn records a finished turn. Status is one of success, empty, error or aborted.
func RecordTurn(provider, turnStatus string, duration time.Duration) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(provider, turnStatus).Inc()
	m.turnDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordFirstFragment(provider string, latency time.Duration) {
	getMetrics().firstFragment.WithLabelValues(provider).Observe(latency.Seconds())
}

func RecordFragment(provider string) {
	getMetrics().fragmentsTotal.WithLabelValues(provider).Inc()
}

func RecordInferenceError(provider string) {
	getMetrics().inferenceErrors.WithLabelValues(provider).Inc()
}

func RecordClientConstructed(provider string) {
	getMetrics().clientsConstruct.WithLabelValues(provider).Inc()
}

func SetPersistenceConnected(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	getMetrics().persistConnected.Set(value)
}

func RecordPersistWrite(duration time.Duration, success bool) {
	m := getMetrics()
	m.persistWrites.WithLabelValues(status(success)).Inc()
	m.persistDuration.Observe(duration.Seconds())
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
