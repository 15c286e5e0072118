// Package metrics exposes Prometheus collectors for gateway operations and
// HTTP requests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tordrt/tablegw/internal/gateway"
)

const (
	OpLabel      = "op"
	OutcomeLabel = "outcome"
	StageLabel   = "stage"
	RouteLabel   = "route"
	MethodLabel  = "method"
	CodeLabel    = "code"

	Succeeded = "succeeded"
)

// Metrics owns a registry with the gateway and HTTP collectors
type Metrics struct {
	registry *prometheus.Registry

	operationsTotal     *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	rebuildStagesTotal  *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var _ gateway.Observer = (*Metrics)(nil)

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tablegw_operations_total",
				Help: "Gateway operations by outcome; failed outcomes carry the error kind",
			},
			[]string{OpLabel, OutcomeLabel},
		),

		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tablegw_operation_duration_seconds",
				Help:    "The duration of a gateway operation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{OpLabel},
		),

		rebuildStagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tablegw_rebuild_stages_total",
				Help: "Rebuild state transitions, including aborts",
			},
			[]string{StageLabel},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tablegw_http_requests_total",
				Help: "HTTP requests by route, method and status code",
			},
			[]string{RouteLabel, MethodLabel, CodeLabel},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tablegw_http_request_duration_seconds",
				Help:    "The duration of an HTTP request",
				Buckets: prometheus.DefBuckets,
			},
			[]string{RouteLabel},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operationsTotal,
		m.operationDuration,
		m.rebuildStagesTotal,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OnEvent records gateway lifecycle events
func (m *Metrics) OnEvent(event gateway.Event) {
	switch event.Type {
	case gateway.EventOpEnd:
		outcome := Succeeded
		if event.Err != nil {
			outcome = gateway.KindOf(event.Err).String()
		}
		m.operationsTotal.WithLabelValues(event.Op, outcome).Inc()
		m.operationDuration.WithLabelValues(event.Op).Observe(event.Duration.Seconds())
	case gateway.EventStage:
		m.rebuildStagesTotal.WithLabelValues(string(event.Stage)).Inc()
	}
}

// ObserveRequest records one served HTTP request. route is the matched route
// template, not the raw path.
func (m *Metrics) ObserveRequest(route, method string, code int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
