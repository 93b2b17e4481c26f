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
	activeLanes  prometheus.Gauge

	activeSessions   prometheus.Gauge
	transitionsTotal *prometheus.CounterVec
	inboundTotal     *prometheus.CounterVec
	evictionsTotal   prometheus.Counter

	printJobsTotal    *prometheus.CounterVec
	printJobDuration  prometheus.Histogram
	printRetriesTotal prometheus.Counter

	filesStoredTotal   prometheus.Counter
	filesReleasedTotal prometheus.Counter
	fileBytesStored    prometheus.Histogram
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
					Name: "printdesk_queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "printdesk_enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "printdesk_dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "printdesk_task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			activeLanes: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "printdesk_active_lanes",
					Help: "Lanes currently holding queued or running tasks.",
				},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "printdesk_active_sessions",
					Help: "Current active session count.",
				},
			),
			transitionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "printdesk_state_transitions_total",
					Help: "Conversation state transitions by source and target state.",
				},
				[]string{"from", "to"},
			),
			inboundTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "printdesk_inbound_messages_total",
					Help: "Inbound messages by normalized kind.",
				},
				[]string{"kind"},
			),
			evictionsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "printdesk_session_evictions_total",
					Help: "Sessions evicted after exceeding the idle timeout.",
				},
			),
			printJobsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "printdesk_print_jobs_total",
					Help: "Print job submissions by outcome.",
				},
				[]string{"outcome"},
			),
			printJobDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "printdesk_print_job_duration_seconds",
					Help:    "Print job submission duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			printRetriesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "printdesk_print_retries_total",
					Help: "Print submission retries after connector errors.",
				},
			),
			filesStoredTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "printdesk_files_stored_total",
					Help: "Uploaded documents written to disk.",
				},
			),
			filesReleasedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "printdesk_files_released_total",
					Help: "Uploaded documents removed from disk.",
				},
			),
			fileBytesStored: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "printdesk_file_size_bytes",
					Help:    "Size of stored documents in bytes.",
					Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
				},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.activeLanes,
			m.activeSessions,
			m.transitionsTotal,
			m.inboundTotal,
			m.evictionsTotal,
			m.printJobsTotal,
			m.printJobDuration,
			m.printRetriesTotal,
			m.filesStoredTotal,
			m.filesReleasedTotal,
			m.fileBytesStored,
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

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(lane, status).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

// ForgetLane drops the per-lane series of a reclaimed lane.
func ForgetLane(lane string) {
	m := getMetrics()
	m.queueSize.DeleteLabelValues(lane)
	m.enqueueTotal.DeleteLabelValues(lane)
	m.dequeueTotal.DeleteLabelValues(lane, "success")
	m.dequeueTotal.DeleteLabelValues(lane, "error")
	m.taskDuration.DeleteLabelValues(lane)
}

func SetActiveLanes(count int) {
	m := getMetrics()
	m.activeLanes.Set(float64(count))
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordTransition(from, to string) {
	m := getMetrics()
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func RecordInbound(kind string) {
	m := getMetrics()
	m.inboundTotal.WithLabelValues(kind).Inc()
}

func RecordEviction() {
	m := getMetrics()
	m.evictionsTotal.Inc()
}

func RecordPrintJob(outcome string, duration time.Duration) {
	m := getMetrics()
	m.printJobsTotal.WithLabelValues(outcome).Inc()
	m.printJobDuration.Observe(duration.Seconds())
}

func RecordPrintRetry() {
	m := getMetrics()
	m.printRetriesTotal.Inc()
}

func RecordFileStored(size int) {
	m := getMetrics()
	m.filesStoredTotal.Inc()
	m.fileBytesStored.Observe(float64(size))
}

func RecordFileReleased() {
	m := getMetrics()
	m.filesReleasedTotal.Inc()
}
