// Package metrics provides Prometheus instrumentation for contract-verify.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled     bool
	serviceName string

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Verification metrics
	verificationTotal *prometheus.CounterVec

	// Compiler metrics
	compilerLoadTotal    *prometheus.CounterVec
	compilerLoadDuration *prometheus.HistogramVec

	// Scheduler metrics
	workerSessionsTotal *prometheus.CounterVec
	workerSlots         *prometheus.GaugeVec

	// Chain metrics
	rpcRequestsTotal *prometheus.CounterVec
)

// Init initializes the metrics system.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled || verificationTotal != nil {
		return
	}

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	verificationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_total",
			Help: "Total number of contract verifications by outcome and error kind",
		},
		[]string{"result", "kind"},
	)

	compilerLoadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compiler_load_total",
			Help: "Total number of compiler module loads by source (cache, download)",
		},
		[]string{"source"},
	)

	// Loading a soljson build takes seconds, not milliseconds
	compilerLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compiler_load_duration_seconds",
			Help:    "Compiler module load latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"source"},
	)

	workerSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_sessions_total",
			Help: "Total number of worker sessions by outcome",
		},
		[]string{"outcome"},
	)

	workerSlots = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_slots",
			Help: "Number of scheduler slots in each state",
		},
		[]string{"state"},
	)

	rpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_requests_total",
			Help: "Total number of JSON-RPC requests",
		},
		[]string{"network", "method", "status"},
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// ServiceName returns the configured service name for metric labels.
func ServiceName() string {
	return serviceName
}
