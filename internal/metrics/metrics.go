// Package metrics holds the prometheus collectors and the tracer shared by
// the pipelines and provider clients.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/abdul-hamid-achik/multivec/internal/fault"
)

// Registry is the registry served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	EmbedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multivec_embed_requests_total",
			Help: "Embedding calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
	EmbedInputs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multivec_embed_inputs_total",
			Help: "Inputs sent to embedding providers",
		},
		[]string{"provider"},
	)
	EmbedDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "multivec_embed_duration_seconds",
			Help:    "Latency of embedding calls",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"provider"},
	)
	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multivec_llm_requests_total",
			Help: "LLM generations by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
	LLMTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multivec_llm_tokens_total",
			Help: "Tokens reported by LLM providers",
		},
		[]string{"provider", "direction"},
	)
	LLMDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "multivec_llm_duration_seconds",
			Help:    "Latency of LLM generations",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"provider"},
	)
	IngestItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multivec_ingest_items_total",
			Help: "Ingested items by collection and outcome",
		},
		[]string{"collection", "outcome"},
	)
	IngestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "multivec_ingest_duration_seconds",
			Help:    "End-to-end latency of a single ingestion",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"collection"},
	)
	Queries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "multivec_queries_total",
			Help: "Queries by collection and outcome",
		},
		[]string{"collection", "outcome"},
	)
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "multivec_query_duration_seconds",
			Help:    "End-to-end latency of a query",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"collection"},
	)
)

// Tracer is used for spans around pipeline stages.
var Tracer = otel.Tracer("github.com/abdul-hamid-achik/multivec")

func init() {
	Registry.MustRegister(
		EmbedRequests, EmbedInputs, EmbedDuration,
		LLMRequests, LLMTokens, LLMDuration,
		IngestItems, IngestDuration,
		Queries, QueryDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Outcome returns the label value for a finished call.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return fault.KindOf(err).String()
	}
}

// Handler serves the registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
