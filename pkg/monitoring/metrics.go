// Package monitoring exposes Prometheus metrics for the workflow agent.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing, which keeps tests free of registry wiring.
type Metrics struct {
	resolutions    *prometheus.CounterVec
	rejections     prometheus.Counter
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	ingestRecords  *prometheus.CounterVec
	llmRequests    *prometheus.CounterVec
	llmLatency     prometheus.Histogram
	requestLatency *prometheus.HistogramVec
}

// NewMetrics registers the agent's collectors on the given registerer
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wfagent_resolutions_total",
			Help: "Query resolutions by outcome (exact, semantic, not_found)",
		}, []string{"outcome"}),
		rejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "wfagent_semantic_rejections_total",
			Help: "Semantic candidates rejected by the validation stage",
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "wfagent_query_cache_hits_total",
			Help: "Resolver query cache hits",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "wfagent_query_cache_misses_total",
			Help: "Resolver query cache misses",
		}),
		ingestRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wfagent_ingest_records_total",
			Help: "Indexed records by result (indexed, failed)",
		}, []string{"result"}),
		llmRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wfagent_llm_requests_total",
			Help: "LLM completion requests by result (ok, error, degraded)",
		}, []string{"result"}),
		llmLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wfagent_llm_request_seconds",
			Help:    "LLM completion latency",
			Buckets: prometheus.DefBuckets,
		}),
		requestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wfagent_http_request_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

// ObserveResolution counts one resolver outcome
func (m *Metrics) ObserveResolution(outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}

// ObserveRejection counts one validation-stage rejection
func (m *Metrics) ObserveRejection() {
	if m == nil {
		return
	}
	m.rejections.Inc()
}

// ObserveCacheHit counts one query cache hit
func (m *Metrics) ObserveCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// ObserveCacheMiss counts one query cache miss
func (m *Metrics) ObserveCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// ObserveIngest counts indexed and failed records of one batch
func (m *Metrics) ObserveIngest(indexed, failed int) {
	if m == nil {
		return
	}
	m.ingestRecords.WithLabelValues("indexed").Add(float64(indexed))
	m.ingestRecords.WithLabelValues("failed").Add(float64(failed))
}

// ObserveLLMRequest counts one completion call and its latency
func (m *Metrics) ObserveLLMRequest(result string, seconds float64) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(result).Inc()
	m.llmLatency.Observe(seconds)
}

// ObserveHTTPRequest records one served request
func (m *Metrics) ObserveHTTPRequest(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestLatency.WithLabelValues(route, status).Observe(seconds)
}
