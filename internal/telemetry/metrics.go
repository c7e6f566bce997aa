package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var HTTPRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_http_requests_total",
		Help: "Number of HTTP requests served.",
	},
	[]string{"path", "code", "method"},
)

var HTTPDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name: "gateway_http_request_duration_seconds",
		Help: "HTTP request latency, including the full stream for streaming responses.",
		Buckets: []float64{
			0.1, // 100 ms
			0.25,
			0.5,
			1,
			2.5,
			5,
			10,
			30,
			60,
		},
	},
	[]string{"path", "code", "method"},
)

var UpstreamLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "gateway_upstream_call_duration_seconds",
		Help:    "Time to open a vendor inference call.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"provider", "mode", "outcome"},
)

var UpstreamRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_upstream_retries_total",
		Help: "Retried vendor calls after a transient failure.",
	},
	[]string{"provider"},
)

var BreakerOpen = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "gateway_upstream_breaker_open",
		Help: "1 while the provider circuit breaker is open.",
	},
	[]string{"provider"},
)

var StreamFragments = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "gateway_stream_fragments_total",
		Help: "Text fragments forwarded to streaming clients.",
	},
)

var KnowledgeBaseFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "gateway_knowledge_base_failures_total",
		Help: "Knowledge base lookups that failed and were skipped.",
	},
)
