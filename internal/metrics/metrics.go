// Package metrics registers the runtime's Prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LLMRequests counts dispatcher attempts by outcome (success, failure,
	// timeout).
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alpha",
		Subsystem: "llm",
		Name:      "requests_total",
		Help:      "LLM dispatch attempts by outcome.",
	}, []string{"outcome"})

	// LLMLatency observes end-to-end LLM call latency.
	LLMLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "alpha",
		Subsystem: "llm",
		Name:      "latency_seconds",
		Help:      "LLM call latency.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	// SafetyDenials counts gate refusals by prohibition class.
	SafetyDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "alpha",
		Subsystem: "safety",
		Name:      "denials_total",
		Help:      "Safety gate denials by class.",
	}, []string{"class"})

	// GoalsExecuted counts completed goal studies.
	GoalsExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alpha",
		Subsystem: "goals",
		Name:      "executed_total",
		Help:      "Completed goal executions.",
	})

	// ConsolidationRuns counts consolidator passes.
	ConsolidationRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alpha",
		Subsystem: "consolidation",
		Name:      "runs_total",
		Help:      "Memory consolidation runs.",
	})

	// PromptCacheHits counts composer cache hits.
	PromptCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alpha",
		Subsystem: "prompt",
		Name:      "cache_hits_total",
		Help:      "Prompt cache hits.",
	})

	// InternetStudies counts autonomous research learns.
	InternetStudies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "alpha",
		Subsystem: "research",
		Name:      "studies_total",
		Help:      "Autonomous internet studies.",
	})
)

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
