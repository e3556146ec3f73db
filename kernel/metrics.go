package kernel

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Metrics tracks authorize-pipeline outcomes and exposes them on a
// dedicated registry, kept separate from the default global registry so
// a kernel embedded in a larger binary never collides on metric names.
type Metrics struct {
	registry     *prometheus.Registry
	authResults  *prometheus.CounterVec
	escalations  *prometheus.CounterVec
	pipelineTime *prometheus.HistogramVec
	tracer       trace.Tracer
}

// NewMetrics constructs and registers the kernel's counters under the
// given namespace (e.g. "arbor_kernel").
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "arbor_kernel"
	}
	registry := prometheus.NewRegistry()
	authResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "authorize_results_total",
		Help:      "Authorize pipeline outcomes by result.",
	}, []string{"result"})
	escalations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escalations_total",
		Help:      "Consensus escalations by outcome.",
	}, []string{"outcome"})
	pipelineTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "authorize_duration_seconds",
		Help:      "Duration of the authorize pipeline.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"result"})
	registry.MustRegister(authResults, escalations, pipelineTime)
	return &Metrics{
		registry:     registry,
		authResults:  authResults,
		escalations:  escalations,
		pipelineTime: pipelineTime,
		tracer:       otel.Tracer(namespace),
	}
}

// RecordAuthorize records one authorize call's terminal result and
// elapsed seconds.
func (m *Metrics) RecordAuthorize(result string, seconds float64) {
	if m == nil {
		return
	}
	m.authResults.WithLabelValues(result).Inc()
	m.pipelineTime.WithLabelValues(result).Observe(seconds)
}

// RecordEscalation records one consensus escalation outcome.
func (m *Metrics) RecordEscalation(outcome string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(outcome).Inc()
}

// Handler exposes the kernel's metrics in the Prometheus exposition
// format, mountable at e.g. "/metrics".
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Tracer returns the kernel's OpenTelemetry tracer for span creation
// around the authorize pipeline.
func (m *Metrics) Tracer() trace.Tracer { return m.tracer }
