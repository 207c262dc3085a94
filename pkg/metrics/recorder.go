// Package metrics records engine behaviour for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what engine components report to
type Recorder interface {
	ObserveClassification(source, intentType string)
	IncClassificationFailure(reason string)
	ObserveRoute(route string)
	IncHandlerFailure(route string)
	ObserveSandbox(status, errorKind string, duration time.Duration)
	ObserveTurn(route string, duration time.Duration)
	IncSuperseded(reason string)
	IncEvent(topic string)
}

// PrometheusRecorder implements Recorder on a private registry so several containers
// (and tests) can coexist in one process.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	classifications        *prometheus.CounterVec
	classificationFailures *prometheus.CounterVec
	routes                 *prometheus.CounterVec
	handlerFailures        *prometheus.CounterVec
	sandboxRuns            *prometheus.CounterVec
	sandboxDuration        *prometheus.HistogramVec
	turnDuration           *prometheus.HistogramVec
	superseded             *prometheus.CounterVec
	events                 *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder with Go runtime and process collectors attached
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		classifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_classifications_total",
				Help: "Classified messages by classifier tier and intent type",
			},
			[]string{"source", "intent"},
		),
		classificationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_classification_failures_total",
				Help: "Model path failures that fell back to the keyword baseline",
			},
			[]string{"reason"},
		),
		routes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_dispatch_routes_total",
				Help: "Dispatched messages by handler route",
			},
			[]string{"route"},
		),
		handlerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_handler_failures_total",
				Help: "Handler errors and panics rolled back by the dispatcher",
			},
			[]string{"route"},
		),
		sandboxRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_sandbox_runs_total",
				Help: "Sandbox executions by status and error kind",
			},
			[]string{"status", "error_kind"},
		),
		sandboxDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_sandbox_duration_seconds",
				Help:    "Sandbox generation plus execution time",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_turn_duration_seconds",
				Help:    "End-to-end message handling time",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		superseded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_turns_discarded_total",
				Help: "Turns whose state mutation was discarded",
			},
			[]string{"reason"},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_events_total",
				Help: "Domain events seen by the audit consumer",
			},
			[]string{"topic"},
		),
	}
}

func (p *PrometheusRecorder) ObserveClassification(source, intentType string) {
	p.classifications.WithLabelValues(source, intentType).Inc()
}

func (p *PrometheusRecorder) IncClassificationFailure(reason string) {
	p.classificationFailures.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) ObserveRoute(route string) {
	p.routes.WithLabelValues(route).Inc()
}

func (p *PrometheusRecorder) IncHandlerFailure(route string) {
	p.handlerFailures.WithLabelValues(route).Inc()
}

func (p *PrometheusRecorder) ObserveSandbox(status, errorKind string, duration time.Duration) {
	p.sandboxRuns.WithLabelValues(status, errorKind).Inc()
	p.sandboxDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) ObserveTurn(route string, duration time.Duration) {
	p.turnDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncSuperseded(reason string) {
	p.superseded.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) IncEvent(topic string) {
	p.events.WithLabelValues(topic).Inc()
}

// Registry exposes the underlying registry for tests
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Nop discards every observation
type Nop struct{}

func (Nop) ObserveClassification(string, string) {}
func (Nop) IncClassificationFailure(string) {}
func (Nop) ObserveRoute(string) {}
func (Nop) IncHandlerFailure(string) {}
func (Nop) ObserveSandbox(string, string, time.Duration) {}
func (Nop) ObserveTurn(string, time.Duration) {}
func (Nop) IncSuperseded(string) {}
func (Nop) IncEvent(string) {}
