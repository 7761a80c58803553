package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GenerationMetrics tracks job lifecycle counts and processing latency.
type GenerationMetrics struct {
	transitions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewGenerationMetrics registers the generation metrics on the provided registerer.
func NewGenerationMetrics(reg prometheus.Registerer) *GenerationMetrics {
	if reg == nil {
		return &GenerationMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_job_transitions_total",
		Help: "Generation job status transitions.",
	}, []string{"status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "generation_processing_seconds",
		Help:    "Wall time spent processing a generation job.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"outcome"})
	reg.MustRegister(transitions, duration)
	return &GenerationMetrics{
		transitions: transitions,
		duration:    duration,
	}
}

// IncTransition counts a job entering the named status.
func (g *GenerationMetrics) IncTransition(status string) {
	if g == nil || g.transitions == nil {
		return
	}
	g.transitions.WithLabelValues(normalizeLabel(status)).Inc()
}

// ObserveProcessing records how long one processing attempt took.
func (g *GenerationMetrics) ObserveProcessing(outcome string, elapsed time.Duration) {
	if g == nil || g.duration == nil {
		return
	}
	g.duration.WithLabelValues(normalizeLabel(outcome)).Observe(elapsed.Seconds())
}
