// Package metrics exports cache results as prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/always-cache/dejavu/core"
	"github.com/always-cache/dejavu/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Duration buckets in seconds
var defaultBuckets = []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics observes cache results. It implements core.Observer.
type Metrics struct {
	registry *prometheus.Registry

	resultsTotal     *prometheus.CounterVec
	writeErrorsTotal *prometheus.CounterVec
	duration         *prometheus.HistogramVec
}

// New creates the collectors in a fresh registry, which also carries the
// default Go and process collectors.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		resultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "results_total",
				Help:      "Total number of emitted cache results",
			},
			[]string{"operation", "status"},
		),

		writeErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "write_errors_total",
				Help:      "Total number of responses that could not be cached",
			},
			[]string{"operation"},
		),

		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Time spent per terminal result, by phase",
				Buckets:   defaultBuckets,
			},
			[]string{"status", "phase"},
		),
	}
	registry.MustRegister(m.resultsTotal, m.writeErrorsTotal, m.duration)
	return m
}

func (m *Metrics) ObserveResult(r core.Result) {
	s := r.Token.Status.String()
	m.resultsTotal.WithLabelValues(r.Token.Instruction.Operation.Name(), s).Inc()
	if !r.Final() {
		return
	}
	d := r.Token.Duration
	m.duration.WithLabelValues(s, "disk").Observe(d.Disk.Seconds())
	m.duration.WithLabelValues(s, "network").Observe(d.Network.Seconds())
	m.duration.WithLabelValues(s, "total").Observe(d.Total.Seconds())
}

func (m *Metrics) ObserveWriteError(tok token.RequestToken, _ error) {
	m.writeErrorsTotal.WithLabelValues(tok.Instruction.Operation.Name()).Inc()
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
