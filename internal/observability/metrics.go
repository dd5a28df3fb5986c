// Package observability wires Prometheus metrics and OpenTelemetry tracing
// for the conversation engine.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so tests can pass nil without stubbing.
type Metrics struct {
	chatRequests  *prometheus.CounterVec
	toolDispatch  *prometheus.CounterVec
	roundDuration *prometheus.HistogramVec
	streamChunks  prometheus.Counter
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		chatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Completed chat requests by terminal outcome.",
		}, []string{"outcome"}),
		toolDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tool_dispatch_total",
			Help: "Tool dispatcher invocations by tool and success.",
		}, []string{"tool", "success"}),
		roundDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "model_round_duration_seconds",
			Help:    "Latency of model rounds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"round"}),
		streamChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stream_chunks_total",
			Help: "Chunks delivered to clients.",
		}),
	}
	reg.MustRegister(m.chatRequests, m.toolDispatch, m.roundDuration, m.streamChunks)
	return m
}

// IncRequest records a chat request terminal outcome
// ("completed", "failed" or "fallback").
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.chatRequests.WithLabelValues(outcome).Inc()
}

// IncDispatch records one dispatcher invocation.
func (m *Metrics) IncDispatch(tool string, success bool) {
	if m == nil {
		return
	}
	m.toolDispatch.WithLabelValues(tool, strconv.FormatBool(success)).Inc()
}

// ObserveRound records the duration of a model round ("round1" or "round2").
func (m *Metrics) ObserveRound(round string, d time.Duration) {
	if m == nil {
		return
	}
	m.roundDuration.WithLabelValues(round).Observe(d.Seconds())
}

// IncChunks records chunks delivered to a client.
func (m *Metrics) IncChunks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.streamChunks.Add(float64(n))
}
