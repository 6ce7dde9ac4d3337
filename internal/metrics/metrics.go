// Package metrics exposes Prometheus counters for conversation turns.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cxagent"

// Metrics owns its own registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Turns          *prometheus.CounterVec
	TurnDuration   *prometheus.HistogramVec
	ToolCalls      *prometheus.CounterVec
	Escalations    *prometheus.CounterVec
	Fallbacks      *prometheus.CounterVec
	TopicSwitches  *prometheus.CounterVec
	QualityScore   *prometheus.HistogramVec
	ActiveSessions prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Turns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Conversation turns processed",
			},
			[]string{"brand", "scenario"},
		),
		TurnDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Time to answer one customer message",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 40},
			},
			[]string{"brand"},
		),
		ToolCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Tool invocations by outcome",
			},
			[]string{"brand", "tool", "outcome"},
		),
		Escalations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalations_total",
				Help:      "Escalation verdicts by tier and reason",
			},
			[]string{"brand", "tier", "reason"},
		),
		Fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallback_replies_total",
				Help:      "Replies served from deterministic templates",
			},
			[]string{"brand"},
		),
		TopicSwitches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "topic_switches_total",
				Help:      "Active topics cleared because the customer moved on",
			},
			[]string{"brand"},
		),
		QualityScore: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "quality_score",
				Help:      "Overall quality score per reply",
				Buckets:   prometheus.LinearBuckets(1, 1, 10),
			},
			[]string{"brand"},
		),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Conversations currently held in memory",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveTurn(brand, scenario string, took time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(brand, scenario).Inc()
	m.TurnDuration.WithLabelValues(brand).Observe(took.Seconds())
}

func (m *Metrics) ObserveTool(brand, tool string, success bool) {
	if m == nil || tool == "" {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.ToolCalls.WithLabelValues(brand, tool, outcome).Inc()
}

func (m *Metrics) ObserveEscalation(brand string, tier int, reason string) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(brand, strconv.Itoa(tier), reason).Inc()
}

func (m *Metrics) ObserveFallback(brand string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(brand).Inc()
}

func (m *Metrics) ObserveTopicSwitch(brand string) {
	if m == nil {
		return
	}
	m.TopicSwitches.WithLabelValues(brand).Inc()
}

func (m *Metrics) ObserveQuality(brand string, overall float64) {
	if m == nil {
		return
	}
	m.QualityScore.WithLabelValues(brand).Observe(overall)
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}
