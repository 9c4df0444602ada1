package agent

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks runner activity.
type Metrics struct {
	Turns         *prometheus.CounterVec
	ToolCalls     *prometheus.CounterVec
	LLMAttempts   *prometheus.CounterVec
	QuotaFailures *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// GetMetrics returns the process-wide runner metrics, registering them on
// first use.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Turns: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "loom_agent_turns_total",
				Help: "Conversational turns started, by root agent.",
			}, []string{"agent"}),
			ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "loom_agent_tool_calls_total",
				Help: "Tool executions, by tool and outcome.",
			}, []string{"tool", "outcome"}),
			LLMAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "loom_agent_llm_attempts_total",
				Help: "Model call attempts including retries, by model.",
			}, []string{"model"}),
			QuotaFailures: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "loom_agent_quota_failures_total",
				Help: "Model calls rejected for quota exhaustion, by model.",
			}, []string{"model"}),
		}
	})
	return metricsInstance
}

// RecordTurn counts a started turn.
func (m *Metrics) RecordTurn(agent string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(agent).Inc()
}

// RecordToolCall counts a tool execution.
func (m *Metrics) RecordToolCall(tool string, isError bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if isError {
		outcome = "error"
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

// RecordLLMAttempt counts one model call attempt.
func (m *Metrics) RecordLLMAttempt(model string) {
	if m == nil {
		return
	}
	m.LLMAttempts.WithLabelValues(model).Inc()
}

// RecordQuotaFailure counts a quota-exhausted model call.
func (m *Metrics) RecordQuotaFailure(model string) {
	if m == nil {
		return
	}
	m.QuotaFailures.WithLabelValues(model).Inc()
}
