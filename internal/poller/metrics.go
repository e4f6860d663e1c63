package poller

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts poll runs and skipped ticks per task. A nil *Metrics records
// nothing.
type Metrics struct {
	runs    *prometheus.CounterVec
	skipped *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nasctl_poll_runs_total",
			Help: "Completed poll runs by task and result.",
		}, []string{"task", "result"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nasctl_poll_skipped_total",
			Help: "Ticks skipped because the previous run was still in flight.",
		}, []string{"task"}),
	}
	reg.MustRegister(m.runs, m.skipped)
	return m
}

func (m *Metrics) run(task, result string) {
	if m != nil {
		m.runs.WithLabelValues(task, result).Inc()
	}
}

func (m *Metrics) skip(task string) {
	if m != nil {
		m.skipped.WithLabelValues(task).Inc()
	}
}
