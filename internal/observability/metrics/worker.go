package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

// WorkerMetrics covers the assessment worker: per-entry outcomes, queue lag
// and the per-tier step metrics fed through RecordStep.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	assessTotal    *prometheus.CounterVec
	assessDuration *prometheus.HistogramVec
	assessInFlight prometheus.Gauge
	queueLag       *prometheus.HistogramVec
	recovered      *prometheus.CounterVec

	stepTotal      *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	stepCandidates *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	assessTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "assessments_total",
			Help:      "Finished assessments by resulting queue status.",
		},
		[]string{"service", "status"},
	)
	assessDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "assessment_duration_seconds",
			Help:      "End-to-end assessment duration in seconds by resulting status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	assessInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "assessments_in_flight",
			Help:      "Number of in-flight assessments.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between submission and the assessed_at of its finished assessment.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	recovered := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "recovered_entries_total",
			Help:      "Stale entries re-announced by the recovery sweep.",
		},
		[]string{"service"},
	)
	stepTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "steps_total",
			Help:      "Tier invocations by tier and outcome.",
		},
		[]string{"service", "tier", "outcome"},
	)
	stepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "step_duration_seconds",
			Help:      "Tier invocation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "tier"},
	)
	stepCandidates := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "step_candidates",
			Help:      "Candidates compared per tier invocation.",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "tier"},
	)

	registry.MustRegister(
		assessTotal, assessDuration, assessInFlight, queueLag, recovered,
		stepTotal, stepDuration, stepCandidates,
	)

	return &WorkerMetrics{
		registry:       registry,
		service:        service,
		assessTotal:    assessTotal,
		assessDuration: assessDuration,
		assessInFlight: assessInFlight,
		queueLag:       queueLag,
		recovered:      recovered,
		stepTotal:      stepTotal,
		stepDuration:   stepDuration,
		stepCandidates: stepCandidates,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartAssessment() {
	m.assessInFlight.Inc()
}

// FinishAssessment labels the attempt by the status the entry ended in, or
// "error" when the attempt failed.
func (m *WorkerMetrics) FinishAssessment(duration time.Duration, entry *domain.JournalEntry, err error) {
	m.assessInFlight.Dec()

	status := "error"
	if err == nil && entry != nil {
		status = string(entry.QueueStatus)
	}
	m.assessTotal.WithLabelValues(m.service, status).Inc()
	m.assessDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) AddRecovered(n int) {
	if n <= 0 {
		return
	}
	m.recovered.WithLabelValues(m.service).Add(float64(n))
}

// RecordStep makes the worker metrics a StepRecorder.
func (m *WorkerMetrics) RecordStep(_ context.Context, step domain.StepLog) {
	tier := step.Tier.String()
	m.stepTotal.WithLabelValues(m.service, tier, string(step.Outcome)).Inc()
	m.stepDuration.WithLabelValues(m.service, tier).Observe(step.Duration.Seconds())
	m.stepCandidates.WithLabelValues(m.service, tier).Observe(float64(step.Candidates))
}
