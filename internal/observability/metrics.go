package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// QueueDepth is a gauge of the number of pending tasks per queue type.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_queue_depth",
			Help: "Number of tasks currently pending in a queue",
		},
		[]string{"queue"},
	)
	// QueuePublishTotal counts successful publishes per queue type.
	QueuePublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_publish_total",
			Help: "Total number of tasks published",
		},
		[]string{"queue"},
	)
	// QueuePublishDuration records the latency of publish operations.
	QueuePublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_publish_duration_seconds",
			Help:    "Broker publish latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"queue"},
	)
	// QueueConsumeDuration records the latency of consume operations (including blocking wait).
	QueueConsumeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_consume_duration_seconds",
			Help:    "Broker consume latency in seconds, including blocking wait",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"queue"},
	)

	// DispatcherLoopIterations counts iterations of each loop (drain, maintenance, notifier, worker).
	DispatcherLoopIterations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_loop_iterations_total",
			Help: "Total iterations of each dispatcher loop",
		},
		[]string{"loop"},
	)
	// ApplicationsTransitionedTotal counts Application state transitions by target status.
	ApplicationsTransitionedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "applications_transitioned_total",
			Help: "Total number of Application state transitions, by resulting status",
		},
		[]string{"status"},
	)
	// ApplicationsStuckRecovered counts maintenance-loop recoveries of stuck SUBMITTING applications.
	ApplicationsStuckRecovered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "applications_stuck_recovered_total",
			Help: "Total number of stuck SUBMITTING applications recovered by the maintenance loop",
		},
		[]string{"outcome"},
	)

	// WorkerStepsTotal counts agentic-loop steps by page classification.
	WorkerStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_steps_total",
			Help: "Total number of bounded-loop steps by page classification",
		},
		[]string{"page_kind"},
	)
	// WorkerOutcomesTotal counts terminal worker outcomes.
	WorkerOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_outcomes_total",
			Help: "Total terminal outcomes produced by the automation worker",
		},
		[]string{"outcome"},
	)
	// WorkerTaskDuration records the wall-clock duration of one job_application task.
	WorkerTaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_task_duration_seconds",
			Help:    "Duration of a job_application task from consume to terminal outcome",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	// HITLInboundTotal counts inbound SMS messages by matched intent.
	HITLInboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hitl_inbound_total",
			Help: "Total inbound SMS messages by matched intent",
		},
		[]string{"intent"},
	)
)

var registerOnce bool

// InitMetrics registers all Prometheus metrics with the default registry. Safe to call once per process.
func InitMetrics() {
	if registerOnce {
		return
	}
	registerOnce = true
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		QueueDepth,
		QueuePublishTotal,
		QueuePublishDuration,
		QueueConsumeDuration,
		DispatcherLoopIterations,
		ApplicationsTransitionedTotal,
		ApplicationsStuckRecovered,
		WorkerStepsTotal,
		WorkerOutcomesTotal,
		WorkerTaskDuration,
		HITLInboundTotal,
	)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// RecordPublish records a successful broker publish for the given queue.
func RecordPublish(queue string, d time.Duration) {
	QueuePublishTotal.WithLabelValues(queue).Inc()
	QueuePublishDuration.WithLabelValues(queue).Observe(d.Seconds())
}

// RecordConsume records a broker consume attempt (empty or not) for the given queue.
func RecordConsume(queue string, d time.Duration) {
	QueueConsumeDuration.WithLabelValues(queue).Observe(d.Seconds())
}

// SetQueueDepth sets the observed depth of a queue.
func SetQueueDepth(queue string, depth int64) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordLoopIteration increments the dispatcher loop iteration counter.
func RecordLoopIteration(loop string) {
	DispatcherLoopIterations.WithLabelValues(loop).Inc()
}

// RecordTransition increments the Application transition counter for a resulting status.
func RecordTransition(status string) {
	ApplicationsTransitionedTotal.WithLabelValues(status).Inc()
}

// RecordStuckRecovery records a maintenance-loop recovery outcome (recovered, budget_exhausted,
// transition_failed, retry_transition_failed or republish_failed).
func RecordStuckRecovery(outcome string) {
	ApplicationsStuckRecovered.WithLabelValues(outcome).Inc()
}

// RecordWorkerStep increments the step counter for a page classification.
func RecordWorkerStep(pageKind string) {
	WorkerStepsTotal.WithLabelValues(pageKind).Inc()
}

// RecordWorkerOutcome increments the terminal-outcome counter and observes task duration.
func RecordWorkerOutcome(outcome string, d time.Duration) {
	WorkerOutcomesTotal.WithLabelValues(outcome).Inc()
	WorkerTaskDuration.Observe(d.Seconds())
}

// RecordHITLInbound increments the inbound-intent counter.
func RecordHITLInbound(intent string) {
	HITLInboundTotal.WithLabelValues(intent).Inc()
}
