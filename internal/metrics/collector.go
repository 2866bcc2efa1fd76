// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/loomworks/loom/workflow"
)

// Collector registers and records the platform's Prometheus metrics.
// Collectors are namespace-isolated; promauto registers everything on
// the default registry.
type Collector struct {
	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Workflow execution
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	nodesTotal   *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec

	// Suspensions and scheduling
	activeSuspensions prometheus.Gauge
	schedulerFires    *prometheus.CounterVec

	// Event streaming
	websocketClients prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a collector under the given metric namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Total number of workflow runs",
		},
		[]string{"workflow", "status"},
	)
	c.runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   []float64{.05, .1, .5, 1, 5, 15, 60, 300},
		},
		[]string{"workflow"},
	)
	c.nodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Total number of node executions",
		},
		[]string{"node_type", "outcome"},
	)
	c.nodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_execution_duration_seconds",
			Help:      "Node execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node_type"},
	)

	c.activeSuspensions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_suspensions",
			Help:      "Number of runs currently waiting on human input",
		},
	)
	c.schedulerFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_fires_total",
			Help:      "Total number of scheduled workflow fires",
		},
		[]string{"workflow", "outcome"},
	)

	c.websocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Number of connected event stream clients",
		},
	)

	return c
}

// RecordHTTPRequest records one handled HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRun records one finished workflow run.
func (c *Collector) RecordRun(res *workflow.RunResult) {
	c.runsTotal.WithLabelValues(res.Workflow, string(res.Status)).Inc()
	c.runDuration.WithLabelValues(res.Workflow).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
}

// RecordNode records one node execution outcome.
func (c *Collector) RecordNode(nodeType, outcome string, duration time.Duration) {
	c.nodesTotal.WithLabelValues(nodeType, outcome).Inc()
	c.nodeDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
}

// SetActiveSuspensions sets the pending human-input gauge.
func (c *Collector) SetActiveSuspensions(n int) {
	c.activeSuspensions.Set(float64(n))
}

// RecordSchedulerFire records one scheduled fire outcome.
func (c *Collector) RecordSchedulerFire(workflowName, outcome string) {
	c.schedulerFires.WithLabelValues(workflowName, outcome).Inc()
}

// ClientConnected tracks one event stream client attaching.
func (c *Collector) ClientConnected() { c.websocketClients.Inc() }

// ClientDisconnected tracks one event stream client leaving.
func (c *Collector) ClientDisconnected() { c.websocketClients.Dec() }

// Sink adapts the collector into a workflow event sink so node-level
// metrics come straight off the event stream.
func (c *Collector) Sink() workflow.Sink {
	return workflow.SinkFunc(func(event string, payload map[string]any) {
		switch event {
		case workflow.EventNodeEnd:
			nodeType, _ := payload["node_type"].(string)
			ms, _ := payload["duration_ms"].(int64)
			c.RecordNode(nodeType, "ok", time.Duration(ms)*time.Millisecond)
		case workflow.EventNodeError:
			c.RecordNode("", "error", 0)
		}
	})
}

// statusClass folds status codes into 2xx/3xx/4xx/5xx.
func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
