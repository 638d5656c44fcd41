package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quackql_attempts_total",
			Help: "Total number of generate-then-execute attempts.",
		},
		[]string{"tool", "outcome"},
	)
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quackql_requests_total",
			Help: "Total number of natural-language requests.",
		},
		[]string{"tool", "outcome"},
	)
	retriesPerRequest = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quackql_retries_per_request",
			Help:    "Corrective attempts consumed per request.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8},
		},
	)
	llmTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quackql_llm_tokens_total",
			Help: "LLM tokens consumed, by tool and direction.",
		},
		[]string{"tool", "direction"},
	)
	sqlExecutionSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quackql_sql_execution_seconds",
			Help:    "SQL execution latency against the data source.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"tool"},
	)
	llmCallSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quackql_llm_call_seconds",
			Help:    "LLM generation latency per attempt.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"tool"},
	)
)

func init() {
	prometheus.MustRegister(
		attemptsTotal,
		requestsTotal,
		retriesPerRequest,
		llmTokensTotal,
		sqlExecutionSeconds,
		llmCallSeconds,
	)
}

func ObserveAttempt(tool string, success bool, executionTime time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	attemptsTotal.WithLabelValues(tool, outcome).Inc()
	sqlExecutionSeconds.WithLabelValues(tool).Observe(executionTime.Seconds())
}

func ObserveGeneration(tool string, inputTokens, outputTokens int, elapsed time.Duration) {
	llmTokensTotal.WithLabelValues(tool, "input").Add(float64(inputTokens))
	llmTokensTotal.WithLabelValues(tool, "output").Add(float64(outputTokens))
	llmCallSeconds.WithLabelValues(tool).Observe(elapsed.Seconds())
}

func ObserveRequest(tool string, success bool, retries int) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	requestsTotal.WithLabelValues(tool, outcome).Inc()
	retriesPerRequest.Observe(float64(retries))
}
