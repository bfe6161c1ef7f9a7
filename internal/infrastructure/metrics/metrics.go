package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reviewd"

// Metrics holds the orchestrator collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	tasksSubmitted prometheus.Counter
	tasksFinished  *prometheus.CounterVec
	tasksActive    prometheus.Gauge
	queueDepth     prometheus.Gauge
	unitOutcomes   *prometheus.CounterVec
	agentDuration  *prometheus.HistogramVec
	agentRetries   *prometheus.CounterVec
	cacheRequests  *prometheus.CounterVec
	storeRetries   prometheus.Counter
}

// MustNewMetrics registers the collectors with reg and panics on conflict.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		tasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "submitted_total",
			Help:      "Analysis tasks accepted by the gateway.",
		}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "finished_total",
			Help:      "Tasks that reached a terminal status.",
		}, []string{"status"}),
		tasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "active",
			Help:      "Tasks currently being coordinated by this process.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Tasks waiting for a worker.",
		}),
		unitOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "units",
			Name:      "total",
			Help:      "Analysis units by agent and terminal state.",
		}, []string{"agent", "state"}),
		agentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "call_duration_seconds",
			Help:      "Agent invocation latency including retries.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"agent", "status"}),
		agentRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "retries_total",
			Help:      "Agent call attempts that were retried.",
		}, []string{"agent"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Result cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		storeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Task store mutations that were retried.",
		}),
	}
	reg.MustRegister(
		m.tasksSubmitted, m.tasksFinished, m.tasksActive, m.queueDepth,
		m.unitOutcomes, m.agentDuration, m.agentRetries, m.cacheRequests, m.storeRetries,
	)
	return m
}

func (m *Metrics) TaskSubmitted() {
	if m == nil {
		return
	}
	m.tasksSubmitted.Inc()
}

func (m *Metrics) TaskFinished(status string) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) TaskStarted() func() {
	if m == nil {
		return func() {}
	}
	m.tasksActive.Inc()
	return m.tasksActive.Dec
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) UnitFinished(agent, state string) {
	if m == nil {
		return
	}
	m.unitOutcomes.WithLabelValues(agent, state).Inc()
}

func (m *Metrics) ObserveAgentCall(agent, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.agentDuration.WithLabelValues(agent, status).Observe(d.Seconds())
}

func (m *Metrics) AgentRetried(agent string) {
	if m == nil {
		return
	}
	m.agentRetries.WithLabelValues(agent).Inc()
}

func (m *Metrics) CacheLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheRequests.WithLabelValues(tier, result).Inc()
}

func (m *Metrics) StoreRetried() {
	if m == nil {
		return
	}
	m.storeRetries.Inc()
}
