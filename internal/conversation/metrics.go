package conversation

import "github.com/prometheus/client_golang/prometheus"

var (
	llmLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "catalogai",
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "LLM completion latency by call phase",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"phase"}, // model, remodel
	)

	llmTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogai",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Token usage by direction",
		},
		[]string{"direction"}, // input, output
	)

	policyOverridesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogai",
			Subsystem: "policy",
			Name:      "overrides_total",
			Help:      "Policy overrides by rule",
		},
		[]string{"rule"},
	)

	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogai",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Processed turns by outcome",
		},
		[]string{"outcome"}, // ok, fallback
	)
)

func init() {
	prometheus.MustRegister(llmLatencySeconds, llmTokensTotal, policyOverridesTotal, turnsTotal)
}

func recordUsage(usage TokenUsage) {
	if usage.InputTokens > 0 {
		llmTokensTotal.WithLabelValues("input").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		llmTokensTotal.WithLabelValues("output").Add(float64(usage.OutputTokens))
	}
}
