// Package metrics holds the Prometheus collectors for the session manager,
// the remote client and the HTTP shell.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pkt.systems/contractpad/schema"
)

const namespace = "contractpad"

// Metrics owns a private registry and its collectors.
type Metrics struct {
	registry *prometheus.Registry

	Operations      *prometheus.CounterVec
	OpenDocuments   *prometheus.GaugeVec
	Notifications   *prometheus.CounterVec
	RemoteRequests  *prometheus.CounterVec
	RemoteDuration  *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_operations_total",
				Help:      "Session manager operations by result",
			},
			[]string{"op", "result"},
		),
		OpenDocuments: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "open_documents",
				Help:      "Open documents per namespace",
			},
			[]string{"namespace"},
		),
		Notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notifications raised by severity",
			},
			[]string{"severity"},
		),
		RemoteRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_requests_total",
				Help:      "Remote service requests by result",
			},
			[]string{"op", "result"},
		),
		RemoteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_request_duration_seconds",
				Help:      "Remote service request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"op"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
	}
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOperation counts one session operation.
func (m *Metrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = schema.ErrorKind(err)
	}
	m.Operations.WithLabelValues(op, result).Inc()
}

// SetOpenDocuments records the open-document count of a namespace.
func (m *Metrics) SetOpenDocuments(ns schema.Namespace, count int) {
	if m == nil {
		return
	}
	m.OpenDocuments.WithLabelValues(string(ns)).Set(float64(count))
}

// ObserveNotification counts one notification.
func (m *Metrics) ObserveNotification(severity schema.Severity) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(string(severity)).Inc()
}

// ObserveRemote records one remote request.
func (m *Metrics) ObserveRemote(op string, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RemoteRequests.WithLabelValues(op, result).Inc()
	m.RemoteDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveHTTP records one served HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
