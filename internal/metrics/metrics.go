// Package metrics defines the prometheus collectors for workflow execution.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a registry so tests and multiple servers do not collide on
// the global default registerer.
type Recorder struct {
	registry *prometheus.Registry

	llmCalls        *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	stepAttempts    *prometheus.HistogramVec
	runsTotal       *prometheus.CounterVec
	outputFallbacks *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		llmCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "textflow_llm_calls_total",
				Help: "Total number of LLM completion calls",
			},
			[]string{"action", "outcome"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "textflow_step_duration_seconds",
				Help:    "Workflow step duration in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"action"},
		),
		stepAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "textflow_step_attempts",
				Help:    "LLM attempts needed per workflow step",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
			[]string{"action"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "textflow_runs_total",
				Help: "Workflow runs by terminal status",
			},
			[]string{"status"},
		),
		outputFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "textflow_output_fallbacks_total",
				Help: "Structured outputs that failed validation and fell back to raw text",
			},
			[]string{"action"},
		),
	}

	r.registry.MustRegister(
		r.llmCalls,
		r.stepDuration,
		r.stepAttempts,
		r.runsTotal,
		r.outputFallbacks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// A nil *Recorder is valid and records nothing.

func (r *Recorder) LLMCall(action, outcome string) {
	if r == nil {
		return
	}
	r.llmCalls.WithLabelValues(action, outcome).Inc()
}

func (r *Recorder) Step(action string, attempts int, d time.Duration) {
	if r == nil {
		return
	}
	r.stepDuration.WithLabelValues(action).Observe(d.Seconds())
	r.stepAttempts.WithLabelValues(action).Observe(float64(attempts))
}

func (r *Recorder) Run(status string) {
	if r == nil {
		return
	}
	r.runsTotal.WithLabelValues(status).Inc()
}

func (r *Recorder) OutputFallback(action string) {
	if r == nil {
		return
	}
	r.outputFallbacks.WithLabelValues(action).Inc()
}

// Handler exposes the registry in the prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
