// Package metrics exposes Prometheus counters for webhook handling and agent tasks.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records webhook and task metrics. A nil Recorder records nothing.
type Recorder struct {
	webhookEvents *prometheus.CounterVec
	tasksStarted  *prometheus.CounterVec
	taskOutcomes  *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	llmRequests   *prometheus.CounterVec
	llmDuration   *prometheus.HistogramVec
}

// New registers the metrics on reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autodev_webhook_events_total",
				Help: "Webhook deliveries by event type and dispatch result",
			},
			[]string{"event", "result"},
		),
		tasksStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autodev_tasks_started_total",
				Help: "Agent tasks launched by role",
			},
			[]string{"role"},
		),
		taskOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autodev_task_outcomes_total",
				Help: "Finished agent tasks by role and outcome",
			},
			[]string{"role", "outcome"},
		),
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autodev_task_duration_seconds",
				Help:    "Wall time of agent tasks",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"role"},
		),
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autodev_llm_requests_total",
				Help: "Language model requests by role and status",
			},
			[]string{"role", "status"},
		),
		llmDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autodev_llm_request_duration_seconds",
				Help:    "Duration of language model requests including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"role"},
		),
	}
}

// ObserveWebhook counts one delivery.
func (r *Recorder) ObserveWebhook(event, result string) {
	if r == nil {
		return
	}
	r.webhookEvents.WithLabelValues(event, result).Inc()
}

// TaskStarted counts one launched task.
func (r *Recorder) TaskStarted(role string) {
	if r == nil {
		return
	}
	r.tasksStarted.WithLabelValues(role).Inc()
}

// ObserveTask records a finished task.
func (r *Recorder) ObserveTask(role, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.taskOutcomes.WithLabelValues(role, outcome).Inc()
	r.taskDuration.WithLabelValues(role).Observe(d.Seconds())
}

// ObserveLLM records one gateway call.
func (r *Recorder) ObserveLLM(role string, err error, d time.Duration) {
	if r == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.llmRequests.WithLabelValues(role, status).Inc()
	r.llmDuration.WithLabelValues(role).Observe(d.Seconds())
}
