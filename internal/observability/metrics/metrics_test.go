package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWorkflowMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWorkflowMetrics(reg)

	m.ObserveTransition("Idle", "SlotChosen")
	m.ObserveTransition("Idle", "SlotChosen")
	m.ObserveSubmission("cash", "ok")
	m.ObserveVerification("failed")
	m.SetActiveWorkflows(3)
	m.ObserveUpstream("slots", "ok", 0.2)

	if got := testutil.ToFloat64(m.transitionsTotal.WithLabelValues("Idle", "SlotChosen")); got != 2 {
		t.Fatalf("expected 2 transitions, got %v", got)
	}
	if got := testutil.ToFloat64(m.verificationTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("expected 1 failed verification, got %v", got)
	}
	if got := testutil.ToFloat64(m.activeWorkflows); got != 3 {
		t.Fatalf("expected gauge 3, got %v", got)
	}
	if n := testutil.CollectAndCount(m.upstreamLatency); n != 1 {
		t.Fatalf("expected one latency series, got %d", n)
	}
}

func TestWorkflowMetricsDefaultRegistry(t *testing.T) {
	m := NewWorkflowMetrics(nil)
	m.ObserveSubmission("online", "conflict")
	prometheus.DefaultRegisterer.Unregister(m.transitionsTotal)
	prometheus.DefaultRegisterer.Unregister(m.submissionsTotal)
	prometheus.DefaultRegisterer.Unregister(m.verificationTotal)
	prometheus.DefaultRegisterer.Unregister(m.activeWorkflows)
	prometheus.DefaultRegisterer.Unregister(m.upstreamLatency)
}

func TestWorkflowMetricsNilSafe(t *testing.T) {
	var m *WorkflowMetrics
	m.ObserveTransition("a", "b")
	m.ObserveSubmission("cash", "ok")
	m.ObserveVerification("ok")
	m.SetActiveWorkflows(1)
	m.ObserveUpstream("slots", "ok", 0.1)
}
