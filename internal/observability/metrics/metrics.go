package metrics

import "github.com/prometheus/client_golang/prometheus"

// WorkflowMetrics exposes counters/histograms for booking workflows.
type WorkflowMetrics struct {
	transitionsTotal  *prometheus.CounterVec
	submissionsTotal  *prometheus.CounterVec
	verificationTotal *prometheus.CounterVec
	activeWorkflows   prometheus.Gauge
	upstreamLatency   *prometheus.HistogramVec
}

func NewWorkflowMetrics(reg prometheus.Registerer) *WorkflowMetrics {
	m := &WorkflowMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Total workflow state transitions",
		}, []string{"from", "to"}),
		submissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "workflow",
			Name:      "submissions_total",
			Help:      "Total reservation submissions by outcome",
		}, []string{"path", "outcome"}),
		verificationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "payments",
			Name:      "verifications_total",
			Help:      "Total payment callback verifications by outcome",
		}, []string{"outcome"}),
		activeWorkflows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "booking",
			Subsystem: "workflow",
			Name:      "active",
			Help:      "Workflows currently held in memory",
		}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Latency of clinic platform calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.submissionsTotal, m.verificationTotal, m.activeWorkflows, m.upstreamLatency)
	return m
}

func (m *WorkflowMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *WorkflowMetrics) ObserveSubmission(path, outcome string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(path, outcome).Inc()
}

func (m *WorkflowMetrics) ObserveVerification(outcome string) {
	if m == nil {
		return
	}
	m.verificationTotal.WithLabelValues(outcome).Inc()
}

func (m *WorkflowMetrics) SetActiveWorkflows(n int) {
	if m == nil {
		return
	}
	m.activeWorkflows.Set(float64(n))
}

// ObserveUpstream satisfies upstream.LatencyObserver.
func (m *WorkflowMetrics) ObserveUpstream(op, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.upstreamLatency.WithLabelValues(op, outcome).Observe(seconds)
}
