// Package metrics counts handled failures with Prometheus.
//
//	m := metrics.New(prometheus.DefaultRegisterer)
//	crashtrace.Install(crashtrace.WithReportHook(m.Hook()))
//
// Failures are labeled by kind and by the origin of their top frame, so that
// panics raised in application code can be told apart from panics surfacing
// from dependencies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/evan-idocoding/crashtrace"
	"github.com/evan-idocoding/crashtrace/trace"
)

// Metrics holds the failure collectors.
type Metrics struct {
	failures  *prometheus.CounterVec
	fallbacks prometheus.Counter
	depth     prometheus.Histogram
}

type config struct {
	namespace string
}

// Option configures New.
type Option func(*config)

// WithNamespace prefixes metric names. Default is "crashtrace".
func WithNamespace(ns string) Option {
	return func(c *config) { c.namespace = ns }
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration. It panics if registration fails (duplicate names), like
// prometheus.MustRegister.
func New(reg prometheus.Registerer, opts ...Option) *Metrics {
	c := config{namespace: "crashtrace"}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}

	m := &Metrics{
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: c.namespace,
				Name:      "failures_total",
				Help:      "Total number of handled failures, by kind and origin of the top frame",
			},
			[]string{"kind", "origin"},
		),
		fallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: c.namespace,
				Name:      "render_fallbacks_total",
				Help:      "Total number of failures printed raw because rendering failed",
			},
		),
		depth: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: c.namespace,
				Name:      "failure_frames",
				Help:      "Number of frames in handled failures, panic machinery excluded",
				Buckets:   []float64{4, 8, 16, 32, 64, 128, 256},
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.failures, m.fallbacks, m.depth)
	}
	return m
}

// Observe records one failure.
func (m *Metrics) Observe(r crashtrace.Report) {
	kind := r.Kind
	if kind == "" {
		kind = "panic"
	}
	origin := trace.Unknown
	if r.Top != nil {
		origin = r.Top.Origin
	}
	m.failures.WithLabelValues(kind, origin.String()).Inc()
	if r.Fallback {
		m.fallbacks.Inc()
	}
	m.depth.Observe(float64(len(r.Frames)))
}

// Hook returns a report hook calling Observe.
func (m *Metrics) Hook() crashtrace.ReportHook {
	return m.Observe
}
