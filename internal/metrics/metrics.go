// ABOUTME: Prometheus collectors for the agent core.
// ABOUTME: Registered on the default registry and served at /metrics.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status label values.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

var (
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eko_queries_total",
			Help: "Total number of agent queries by outcome",
		},
		[]string{"status"},
	)

	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eko_query_duration_seconds",
			Help:    "Wall-clock duration of agent queries",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eko_active_sessions",
			Help: "Number of live conversation sessions in the worker",
		},
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eko_tool_calls_total",
			Help: "Total number of tool invocations by tool and outcome",
		},
		[]string{"tool", "status"},
	)

	WorkerRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eko_worker_restarts_total",
			Help: "Number of worker processes spawned",
		},
	)

	PendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eko_pending_requests",
			Help: "Requests awaiting a worker reply",
		},
	)

	ReflectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eko_reflections_total",
			Help: "Reflection runs by resulting action",
		},
		[]string{"action"},
	)

	VectorOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eko_vector_operations_total",
			Help: "Vector store and embedding calls by operation and outcome",
		},
		[]string{"op", "status"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Status maps an error to a status label.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}
