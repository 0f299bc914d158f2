// Package observability provides metrics, tracing and stage events for
// analysis runs and chat sessions.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the analysis pipeline.
type Metrics struct {
	// Run metrics
	RunsTotal         *prometheus.CounterVec
	SegmentsTotal     *prometheus.CounterVec
	StageSeconds      *prometheus.HistogramVec
	CacheLookupsTotal *prometheus.CounterVec

	// LLM metrics
	LLMCallsTotal     *prometheus.CounterVec
	LLMLatencySeconds *prometheus.HistogramVec
	LLMTokensTotal    *prometheus.CounterVec

	// Chat metrics
	ChatQueriesTotal *prometheus.CounterVec
}

// NewMetrics creates a new set of metrics registered with reg. A nil reg
// uses a private registry so repeated construction never panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vidlens_runs_total",
				Help: "Total analysis runs by final status",
			},
			[]string{"status", "source_kind"},
		),
		SegmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vidlens_segments_total",
				Help: "Total segments processed",
			},
			[]string{"status"},
		),
		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vidlens_stage_seconds",
				Help:    "Latency per pipeline stage",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),
		CacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vidlens_cache_lookups_total",
				Help: "Analysis cache lookups",
			},
			[]string{"result"},
		),

		LLMCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vidlens_llm_calls_total",
				Help: "Total calls to the language and speech services",
			},
			[]string{"operation", "status"},
		),
		LLMLatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vidlens_llm_latency_seconds",
				Help:    "Service call latency",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30, 60},
			},
			[]string{"operation"},
		),
		LLMTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vidlens_llm_tokens_total",
				Help: "Total tokens processed",
			},
			[]string{"operation", "direction"},
		),

		ChatQueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vidlens_chat_queries_total",
				Help: "Total chat questions answered",
			},
			[]string{"status"},
		),
	}
}

// RecordRun records the final status of a run.
func (m *Metrics) RecordRun(status, sourceKind string) {
	m.RunsTotal.WithLabelValues(status, sourceKind).Inc()
}

// RecordSegment records a processed segment.
func (m *Metrics) RecordSegment(status string) {
	m.SegmentsTotal.WithLabelValues(status).Inc()
}

// RecordStageLatency records the duration of one stage.
func (m *Metrics) RecordStageLatency(stage string, seconds float64) {
	m.StageSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordLLMCall records a service call with its latency.
func (m *Metrics) RecordLLMCall(operation, status string, seconds float64) {
	m.LLMCallsTotal.WithLabelValues(operation, status).Inc()
	m.LLMLatencySeconds.WithLabelValues(operation).Observe(seconds)
}

// RecordLLMTokens records token usage.
func (m *Metrics) RecordLLMTokens(operation string, input, output int) {
	m.LLMTokensTotal.WithLabelValues(operation, "input").Add(float64(input))
	m.LLMTokensTotal.WithLabelValues(operation, "output").Add(float64(output))
}

// RecordChatQuery records an answered chat question.
func (m *Metrics) RecordChatQuery(status string) {
	m.ChatQueriesTotal.WithLabelValues(status).Inc()
}

// WriteTextfile writes everything g gathers to path in the text exposition
// format, for collection by a node exporter textfile collector.
func WriteTextfile(g prometheus.Gatherer, path string) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
