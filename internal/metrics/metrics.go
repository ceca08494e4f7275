package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"strings"
)

type ServerMetrics struct {
	Requests         *prometheus.CounterVec
	LatencyMS        *prometheus.HistogramVec
	CheckoutOutcomes *prometheus.CounterVec
	Reconciliations  *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewServerMetrics registers the collectors on reg; a nil reg means a fresh
// private registry.
func NewServerMetrics(service string, reg *prometheus.Registry) *ServerMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	subsystem := strings.NewReplacer("-", "_", ".", "_").Replace(service)

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Subsystem: subsystem,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "checkout",
		Subsystem: subsystem,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Subsystem: subsystem,
		Name:      "outcomes_total",
		Help:      "Checkout calls by operation and result code.",
	}, []string{"op", "code"})
	recon := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Subsystem: subsystem,
		Name:      "unreconciled_payments_total",
		Help:      "Payments captured without a committed order.",
	}, []string{"source"})

	reg.MustRegister(requests, latency, outcomes, recon)
	return &ServerMetrics{
		Requests:         requests,
		LatencyMS:        latency,
		CheckoutOutcomes: outcomes,
		Reconciliations:  recon,
		gatherer:         reg,
	}
}

func (m *ServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
