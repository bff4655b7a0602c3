package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives per-call and per-step observations.
type Recorder interface {
	// ObserveRequest records one completion attempt chain as seen by the caller.
	ObserveRequest(role, model string, promptTokens, completionTokens int, cost float64,
		success bool, errorType string, duration time.Duration)
	// ObserveStep records the outcome of one workflow step.
	ObserveStep(role, status string, duration time.Duration)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return NoopRecorder{}
}

// ObserveRequest does nothing in the no-op recorder.
func (NoopRecorder) ObserveRequest(string, string, int, int, float64, bool, string, time.Duration) {}

// ObserveStep does nothing in the no-op recorder.
func (NoopRecorder) ObserveStep(string, string, time.Duration) {}

// PrometheusRecorder implements Recorder on a private registry so that
// independent runs in one process never collide on registration.
type PrometheusRecorder struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	costsTotal      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	stepsTotal      *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder with its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	p := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentflow_llm_requests_total",
				Help: "Total number of LLM requests by role, model and status",
			},
			[]string{"role", "model", "status", "error_type"},
		),
		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentflow_llm_tokens_total",
				Help: "Total number of tokens used in successful LLM requests",
			},
			[]string{"role", "model", "type"},
		),
		costsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentflow_llm_costs_total",
				Help: "Total estimated cost in USD for successful LLM requests",
			},
			[]string{"role", "model"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentflow_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"role", "model"},
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentflow_workflow_steps_total",
				Help: "Workflow steps by role and final status",
			},
			[]string{"role", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentflow_workflow_step_duration_seconds",
				Help:    "Duration of workflow steps in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"role"},
		),
	}
	p.registry.MustRegister(p.requestsTotal, p.tokensTotal, p.costsTotal,
		p.requestDuration, p.stepsTotal, p.stepDuration)
	return p
}

// Gatherer exposes the private registry for export.
func (p *PrometheusRecorder) Gatherer() prometheus.Gatherer {
	return p.registry
}

// ObserveRequest records metrics for a completed LLM request.
func (p *PrometheusRecorder) ObserveRequest(
	role, model string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := "success"
	if !success {
		status = "error"
	}
	p.requestsTotal.WithLabelValues(role, model, status, errorType).Inc()

	// Failed calls never contribute usage.
	if success {
		p.tokensTotal.WithLabelValues(role, model, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(role, model, "completion").Add(float64(completionTokens))
		p.costsTotal.WithLabelValues(role, model).Add(cost)
	}
	p.requestDuration.WithLabelValues(role, model).Observe(duration.Seconds())
}

// ObserveStep records the outcome of one workflow step.
func (p *PrometheusRecorder) ObserveStep(role, status string, duration time.Duration) {
	p.stepsTotal.WithLabelValues(role, status).Inc()
	p.stepDuration.WithLabelValues(role).Observe(duration.Seconds())
}
