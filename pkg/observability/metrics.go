// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus counters/histograms for the tool gateway,
// delegation engine, and canvas store.
type Metrics struct {
	registry *prometheus.Registry

	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolErrors       *prometheus.CounterVec

	delegations      *prometheus.CounterVec
	delegationErrors *prometheus.CounterVec
	delegationDepth  prometheus.Histogram

	canvasEvents *prometheus.CounterVec
	canvasEdges  *prometheus.CounterVec
}

// NewMetrics builds and registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_tool_calls_total",
		Help: "Total tool calls dispatched by the gateway, by method and outcome.",
	}, []string{"method", "outcome"})

	m.toolCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "canvas_tool_call_duration_seconds",
		Help:    "Tool handler latency, by method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	m.toolErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_tool_errors_total",
		Help: "Total tool errors, by method and JSON-RPC error code.",
	}, []string{"method", "code"})

	m.delegations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_delegations_total",
		Help: "Total delegations, by from/to agent.",
	}, []string{"from_agent", "to_agent"})

	m.delegationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_delegation_errors_total",
		Help: "Total delegation failures, by reason.",
	}, []string{"reason"})

	m.delegationDepth = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "canvas_delegation_stack_depth",
		Help:    "Delegation stack depth at push time.",
		Buckets: []float64{1, 2, 3, 4},
	})

	m.canvasEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_events_total",
		Help: "Total canvas events appended, by event type.",
	}, []string{"type"})

	m.canvasEdges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_edges_total",
		Help: "Total canvas edges added, by kind.",
	}, []string{"kind"})

	m.registry.MustRegister(
		m.toolCalls, m.toolCallDuration, m.toolErrors,
		m.delegations, m.delegationErrors, m.delegationDepth,
		m.canvasEvents, m.canvasEdges,
	)
	return m
}

// ObserveToolCall records a completed tool dispatch.
func (m *Metrics) ObserveToolCall(method, outcome string, d time.Duration) {
	m.toolCalls.WithLabelValues(method, outcome).Inc()
	m.toolCallDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveToolError records a tool dispatch that surfaced a JSON-RPC error.
func (m *Metrics) ObserveToolError(method string, code int) {
	m.toolErrors.WithLabelValues(method, itoa(code)).Inc()
}

// ObserveDelegation records a successful delegation push.
func (m *Metrics) ObserveDelegation(fromAgent, toAgent string, depth int) {
	m.delegations.WithLabelValues(fromAgent, toAgent).Inc()
	m.delegationDepth.Observe(float64(depth))
}

// ObserveDelegationError records a delegation failure by reason
// (agent_not_registered, cycle_detected, max_depth, target_failure).
func (m *Metrics) ObserveDelegationError(reason string) {
	m.delegationErrors.WithLabelValues(reason).Inc()
}

// ObserveCanvasEvent records a canvas event append.
func (m *Metrics) ObserveCanvasEvent(eventType string) {
	m.canvasEvents.WithLabelValues(eventType).Inc()
}

// ObserveCanvasEdge records a canvas edge add.
func (m *Metrics) ObserveCanvasEdge(kind string) {
	m.canvasEdges.WithLabelValues(kind).Inc()
}

// Handler exposes the registry for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func itoa(n int) string {
	neg := n < 0
	if neg {
		n = -n
	}
	if n == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
