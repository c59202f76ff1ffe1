// Package metrics exposes the engine's Prometheus instruments.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fulfillops"

// Metrics holds every collector on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	BulkTransitions     *prometheus.CounterVec
	Returns             *prometheus.CounterVec
	LedgerEntries       *prometheus.CounterVec
	SelectionTruncated  prometheus.Counter
	BatchesPlanned      prometheus.Counter
	GatewayCalls        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		BulkTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_transitions_total",
			Help:      "Per-order outcomes of status transitions.",
		}, []string{"result", "reason"}),
		Returns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "returns_total",
			Help:      "Return reconciliation requests by outcome.",
		}, []string{"result"}),
		LedgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_entries_total",
			Help:      "Stock ledger entries written by movement type.",
		}, []string{"movement"}),
		SelectionTruncated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selection_truncated_total",
			Help:      "Selections that hit the safety ceiling.",
		}),
		BatchesPlanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_planned_total",
			Help:      "Batch plans created.",
		}),
		GatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Platform gateway arrange_shipment calls by channel and result.",
		}, []string{"channel", "result"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	registry.MustRegister(
		m.BulkTransitions,
		m.Returns,
		m.LedgerEntries,
		m.SelectionTruncated,
		m.BatchesPlanned,
		m.GatewayCalls,
		m.HTTPRequestDuration,
	)

	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) TransitionSucceeded() {
	if m == nil {
		return
	}
	m.BulkTransitions.WithLabelValues("succeeded", "").Inc()
}

func (m *Metrics) TransitionFailed(reason string) {
	if m == nil {
		return
	}
	m.BulkTransitions.WithLabelValues("failed", reason).Inc()
}

func (m *Metrics) ReturnProcessed(result string) {
	if m == nil {
		return
	}
	m.Returns.WithLabelValues(result).Inc()
}

func (m *Metrics) LedgerEntryWritten(movement string) {
	if m == nil {
		return
	}
	m.LedgerEntries.WithLabelValues(movement).Inc()
}

func (m *Metrics) SelectionWasTruncated() {
	if m == nil {
		return
	}
	m.SelectionTruncated.Inc()
}

func (m *Metrics) BatchPlanned() {
	if m == nil {
		return
	}
	m.BatchesPlanned.Inc()
}

func (m *Metrics) GatewayCall(channel string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.GatewayCalls.WithLabelValues(channel, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware observes request latency labelled by the matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
