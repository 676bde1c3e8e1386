package runs

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jingkaihe/skillbuilder/pkg/types/agent"
)

// Metrics exports run counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	started  prometheus.Counter
	finished *prometheus.CounterVec
	active   prometheus.Gauge
	cost     prometheus.Counter
	tokens   *prometheus.CounterVec
}

// NewMetrics creates the run collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skillbuilder_agent_runs_started_total",
			Help: "Agent runs registered.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillbuilder_agent_runs_finished_total",
			Help: "Agent runs that reached a terminal status.",
		}, []string{"status"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skillbuilder_agent_runs_active",
			Help: "Agent runs not yet finished.",
		}),
		cost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skillbuilder_agent_run_cost_usd_total",
			Help: "Reported cost of finished agent runs in USD.",
		}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillbuilder_agent_run_tokens_total",
			Help: "Tokens consumed by finished agent runs.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.started, m.finished, m.active, m.cost, m.tokens)
	}
	return m
}

func (m *Metrics) startedRun() {
	if m == nil {
		return
	}
	m.started.Inc()
	m.active.Inc()
}

func (m *Metrics) finishedRun(run agent.AgentRun) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.finished.WithLabelValues(string(run.Status)).Inc()
	m.cost.Add(run.TotalCost)
	m.tokens.WithLabelValues("input").Add(float64(run.Usage.Input))
	m.tokens.WithLabelValues("output").Add(float64(run.Usage.Output))
	m.tokens.WithLabelValues("cache_read").Add(float64(run.Usage.CacheRead))
}
