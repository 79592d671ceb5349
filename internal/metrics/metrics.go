package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	SignalsIngested  *prometheus.CounterVec
	Duplicates       prometheus.Counter
	Suppressions     *prometheus.CounterVec
	Decisions        *prometheus.CounterVec
	ZoneTransitions  *prometheus.CounterVec
	JobRuns          *prometheus.CounterVec
	Mitigations      *prometheus.CounterVec
	DigestDelivered  prometheus.Counter
	IngestLatency    prometheus.Histogram
	VersionConflicts prometheus.Counter
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SignalsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_signals_ingested_total",
			Help: "Signals accepted by ingest, by type and source.",
		}, []string{"type", "source"}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_signals_duplicate_total",
			Help: "Signals resolved to an existing record by idempotency key.",
		}),
		Suppressions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_notify_suppressed_total",
			Help: "notify_now candidates held back, by reason.",
		}, []string{"reason"}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_decisions_total",
			Help: "Chosen next actions by type (none when nothing fit).",
		}, []string{"action"}),
		ZoneTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_zone_transitions_total",
			Help: "Zone changes by from and to zone.",
		}, []string{"from", "to"}),
		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_job_family_runs_total",
			Help: "Per-family batch job outcomes.",
		}, []string{"job", "result"}),
		Mitigations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_mitigation_events_total",
			Help: "Mitigation apply and clear events by outcome.",
		}, []string{"event"}),
		DigestDelivered: f.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_digest_items_delivered_total",
			Help: "Digest items handed to the relay.",
		}),
		IngestLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "orchestrator_ingest_duration_seconds",
			Help:    "Ingest latency including store round trips.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),
		VersionConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_state_version_conflicts_total",
			Help: "Optimistic state writes retried after a version conflict.",
		}),
	}
}

func (m *Metrics) Ingested(typ, source string) {
	if m != nil {
		m.SignalsIngested.WithLabelValues(typ, source).Inc()
	}
}

func (m *Metrics) Duplicate() {
	if m != nil {
		m.Duplicates.Inc()
	}
}

func (m *Metrics) Suppressed(reason string) {
	if m != nil {
		m.Suppressions.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Decided(actionType string) {
	if m == nil {
		return
	}
	if actionType == "" {
		actionType = "none"
	}
	m.Decisions.WithLabelValues(actionType).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m != nil {
		m.ZoneTransitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) Job(job string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.JobRuns.WithLabelValues(job, result).Inc()
}

func (m *Metrics) Mitigation(event string) {
	if m != nil {
		m.Mitigations.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) Delivered(n int) {
	if m != nil && n > 0 {
		m.DigestDelivered.Add(float64(n))
	}
}

func (m *Metrics) ObserveIngest(start time.Time) {
	if m != nil {
		m.IngestLatency.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Conflict() {
	if m != nil {
		m.VersionConflicts.Inc()
	}
}
