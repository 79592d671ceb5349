package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Ingested("teacher_message", "school")
	m.Ingested("teacher_message", "school")
	m.Suppressed("quiet_hours")
	m.Decided("")
	m.Transition("green", "red")
	m.Job("daily", false)
	m.Delivered(3)
	m.Delivered(0)

	if got := testutil.ToFloat64(m.SignalsIngested.WithLabelValues("teacher_message", "school")); got != 2 {
		t.Fatalf("expected 2 ingested, got %v", got)
	}
	if got := testutil.ToFloat64(m.Suppressions.WithLabelValues("quiet_hours")); got != 1 {
		t.Fatalf("expected 1 suppression, got %v", got)
	}
	if got := testutil.ToFloat64(m.Decisions.WithLabelValues("none")); got != 1 {
		t.Fatalf("expected empty action labelled none, got %v", got)
	}
	if got := testutil.ToFloat64(m.JobRuns.WithLabelValues("daily", "error")); got != 1 {
		t.Fatalf("expected 1 failed daily run, got %v", got)
	}
	if got := testutil.ToFloat64(m.DigestDelivered); got != 3 {
		t.Fatalf("expected 3 delivered, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Ingested("a", "b")
	m.Duplicate()
	m.Suppressed("x")
	m.Decided("y")
	m.Transition("green", "amber")
	m.Job("weekly", true)
	m.Mitigation("applied")
	m.Delivered(1)
	m.ObserveIngest(time.Now())
	m.Conflict()
}

func TestSeparateRegistries(t *testing.T) {
	// registering twice on fresh registries must not panic
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
