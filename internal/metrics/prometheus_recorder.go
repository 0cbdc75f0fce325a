package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "shq"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	dispatches      *prom.CounterVec
	finished        *prom.CounterVec
	taskRuntime     *prom.HistogramVec
	requests        *prom.CounterVec
	requestDuration *prom.HistogramVec
	tasksByStatus   *prom.GaugeVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.dispatches = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "task_dispatches_total",
			Help:      "Tasks handed to the process runner",
		}, []string{"group"})
		pr.finished = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Finished tasks by group and result",
		}, []string{"group", "result"})
		pr.taskRuntime = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "task_runtime_seconds",
			Help:      "Wall clock runtime of finished task processes",
			Buckets:   prom.ExponentialBuckets(0.1, 4, 10),
		}, []string{"group"})
		pr.requests = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Protocol requests by type and outcome",
		}, []string{"type", "outcome"})
		pr.requestDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Protocol request handling time",
			Buckets:   prom.DefBuckets,
		}, []string{"type"})
		pr.tasksByStatus = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks",
			Help:      "Current number of tasks by status",
		}, []string{"status"})
		reg.MustRegister(pr.dispatches, pr.finished, pr.taskRuntime, pr.requests, pr.requestDuration, pr.tasksByStatus)
	})
	return pr
}

func (p *PrometheusRecorder) IncDispatch(group string) {
	if p == nil || p.dispatches == nil {
		return
	}
	p.dispatches.WithLabelValues(group).Inc()
}

func (p *PrometheusRecorder) IncTaskFinished(group, result string) {
	if p == nil || p.finished == nil {
		return
	}
	p.finished.WithLabelValues(group, result).Inc()
}

func (p *PrometheusRecorder) ObserveTaskRuntime(group string, d time.Duration) {
	if p == nil || p.taskRuntime == nil {
		return
	}
	p.taskRuntime.WithLabelValues(group).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRequest(requestType string, outcome OutcomeLabel) {
	if p == nil || p.requests == nil {
		return
	}
	p.requests.WithLabelValues(requestType, string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObserveRequestDuration(requestType string, d time.Duration) {
	if p == nil || p.requestDuration == nil {
		return
	}
	p.requestDuration.WithLabelValues(requestType).Observe(d.Seconds())
}

// SetTasksByStatus replaces the gauge values; statuses absent from counts drop to zero.
func (p *PrometheusRecorder) SetTasksByStatus(counts map[string]int) {
	if p == nil || p.tasksByStatus == nil {
		return
	}
	p.tasksByStatus.Reset()
	for status, n := range counts {
		p.tasksByStatus.WithLabelValues(status).Set(float64(n))
	}
}
