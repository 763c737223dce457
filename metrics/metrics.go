// Package metrics exposes Prometheus instrumentation for the JSON-RPC server,
// client and worker pool. A nil *Collector is valid and records nothing, so
// components can call it unconditionally.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "jsonrpc"

// Collector is a prometheus.Collector for the JSON-RPC engine.
type Collector struct {
	serverRequests   *prometheus.CounterVec
	handlerDuration  *prometheus.HistogramVec
	serverBatches    prometheus.Histogram
	queueDepth       prometheus.Gauge
	clientInflight   prometheus.Gauge
	clientCalls      *prometheus.CounterVec
	clientUnmatched  prometheus.Counter
	clientCallLength *prometheus.HistogramVec
}

// NewCollector returns a new Collector. Register it with a
// prometheus.Registerer to export the metrics.
func NewCollector() *Collector {
	return &Collector{
		serverRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "server",
				Name:      "messages_total",
				Help:      "Inbound requests and notifications by method, kind and outcome code (0 for success).",
			}, []string{"method", "kind", "code"},
		),
		handlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "server",
				Name:      "handler_duration_seconds",
				Help:      "Time spent executing handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"},
		),
		serverBatches: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "server",
				Name:      "batch_size",
				Help:      "Number of entries in inbound batches.",
				Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "server",
				Name:      "queue_depth",
				Help:      "Tasks waiting for a worker.",
			},
		),
		clientInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "client",
				Name:      "pending_calls",
				Help:      "Calls awaiting a response.",
			},
		),
		clientCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "client",
				Name:      "calls_total",
				Help:      "Completed client calls by method and outcome.",
			}, []string{"method", "outcome"},
		),
		clientUnmatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "client",
				Name:      "unmatched_responses_total",
				Help:      "Responses dropped because no pending call matched their id.",
			},
		),
		clientCallLength: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "client",
				Name:      "call_duration_seconds",
				Help:      "Time from sending a request to its resolution.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.serverRequests.Describe(ch)
	c.handlerDuration.Describe(ch)
	c.serverBatches.Describe(ch)
	c.queueDepth.Describe(ch)
	c.clientInflight.Describe(ch)
	c.clientCalls.Describe(ch)
	c.clientUnmatched.Describe(ch)
	c.clientCallLength.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.serverRequests.Collect(ch)
	c.handlerDuration.Collect(ch)
	c.serverBatches.Collect(ch)
	c.queueDepth.Collect(ch)
	c.clientInflight.Collect(ch)
	c.clientCalls.Collect(ch)
	c.clientUnmatched.Collect(ch)
	c.clientCallLength.Collect(ch)
}

// ObserveMessage records one inbound entry. code is 0 for success or for
// notifications that ran without panicking.
func (c *Collector) ObserveMessage(method, kind string, code int) {
	if c == nil {
		return
	}
	c.serverRequests.WithLabelValues(method, kind, strconv.Itoa(code)).Inc()
}

// ObserveHandler records the execution time of a handler.
func (c *Collector) ObserveHandler(method string, d time.Duration) {
	if c == nil {
		return
	}
	c.handlerDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveBatch records the size of an inbound batch.
func (c *Collector) ObserveBatch(n int) {
	if c == nil {
		return
	}
	c.serverBatches.Observe(float64(n))
}

// SetQueueDepth reports the number of queued tasks.
func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}

// CallStarted records a new pending client call.
func (c *Collector) CallStarted() {
	if c == nil {
		return
	}
	c.clientInflight.Inc()
}

// CallFinished records the resolution of a pending client call. outcome is
// one of "ok", "error", "timeout", "cancelled" or "closed".
func (c *Collector) CallFinished(method, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.clientInflight.Dec()
	c.clientCalls.WithLabelValues(method, outcome).Inc()
	c.clientCallLength.WithLabelValues(method).Observe(d.Seconds())
}

// UnmatchedResponse records a dropped response.
func (c *Collector) UnmatchedResponse() {
	if c == nil {
		return
	}
	c.clientUnmatched.Inc()
}
