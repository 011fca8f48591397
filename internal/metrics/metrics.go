// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GRPCServerHandlingSeconds is a histogram for gRPC server request latencies
	GRPCServerHandlingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grpc_server_handling_seconds",
			Help:    "Histogram of response latency (seconds) of gRPC that had been application-level handled by the server.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "code"},
	)

	// HTTPServerHandlingSeconds is a histogram for HTTP request latencies
	HTTPServerHandlingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_server_handling_seconds",
			Help:    "Histogram of response latency (seconds) of HTTP inference routes.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"route", "code"},
	)

	// InferenceBatchSize is a histogram of flat batch sizes handed to the engine
	InferenceBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inference_batch_size",
			Help:    "Histogram of flat instance batch sizes per engine call.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
		},
		[]string{"mode"},
	)

	// RequestsPerBatch is a histogram of how many client requests were merged into one cycle
	RequestsPerBatch = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "envelope_requests_per_batch",
			Help:    "Histogram of client requests merged into one normalize/frame cycle.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	// InferenceLatencySeconds is a histogram for engine-only latency
	InferenceLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inference_latency_seconds",
			Help:    "Histogram of inference latency (seconds) excluding envelope and transport overhead.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"mode"},
	)

	// EnvelopeErrors counts rejected batches by error kind
	EnvelopeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envelope_errors_total",
			Help: "Count of batches rejected by the envelope converter, by error kind.",
		},
		[]string{"kind"},
	)

	// CacheLookups counts result cache hits and misses
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "result_cache_lookups_total",
			Help: "Count of per-instance result cache lookups, by outcome.",
		},
		[]string{"outcome"},
	)

	// HealthStatus is a gauge indicating the health status of the service
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "health_status",
			Help: "Health status of the service (1 = healthy, 0 = unhealthy).",
		},
	)
)

// RecordGRPCLatency records the latency of a gRPC method call
func RecordGRPCLatency(method, code string, seconds float64) {
	GRPCServerHandlingSeconds.WithLabelValues(method, code).Observe(seconds)
}

// RecordHTTPLatency records the latency of an HTTP route
func RecordHTTPLatency(route, code string, seconds float64) {
	HTTPServerHandlingSeconds.WithLabelValues(route, code).Observe(seconds)
}

// RecordInferenceBatch records the flat batch size of one engine call
func RecordInferenceBatch(mode string, size int) {
	InferenceBatchSize.WithLabelValues(mode).Observe(float64(size))
}

// RecordRequestsPerBatch records how many client requests one cycle served
func RecordRequestsPerBatch(n int) {
	RequestsPerBatch.Observe(float64(n))
}

// RecordInferenceLatency records the latency of an engine call
func RecordInferenceLatency(mode string, seconds float64) {
	InferenceLatencySeconds.WithLabelValues(mode).Observe(seconds)
}

// RecordEnvelopeError counts a rejected batch
func RecordEnvelopeError(kind string) {
	EnvelopeErrors.WithLabelValues(kind).Inc()
}

// RecordCacheLookups adds hit and miss counts
func RecordCacheLookups(hits, misses int) {
	CacheLookups.WithLabelValues("hit").Add(float64(hits))
	CacheLookups.WithLabelValues("miss").Add(float64(misses))
}

// SetHealthy sets the health status to healthy
func SetHealthy() {
	HealthStatus.Set(1)
}

// SetUnhealthy sets the health status to unhealthy
func SetUnhealthy() {
	HealthStatus.Set(0)
}
