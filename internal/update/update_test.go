package update

import (
	"math"
	"testing"
	"time"

	"github.com/Aimtara/teachmo-sub002/internal/features"
	"github.com/Aimtara/teachmo-sub002/internal/signal"
	"github.com/Aimtara/teachmo-sub002/internal/state"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func baseState() state.OrchestratorState {
	return state.New("fam-1", state.DefaultDefaults(), t0.Add(-time.Hour))
}

func sig(typ signal.Type, src signal.Source, p signal.Payload) signal.Signal {
	if p == nil {
		p = signal.NewPayload(typ)
	}
	return signal.Signal{ID: "s1", FamilyID: "fam-1", Source: src, Type: typ, Timestamp: t0, Payload: p}
}

func ptr[T any](v T) *T { return &v }

func TestReduceChildRiskFromBehaviorNote(t *testing.T) {
	prev := baseState()
	prev.ChildRisk = 0.20
	f := features.Vector{Impact: 0.8, EmotionHeat: 0.5}

	res := Reduce(prev, sig(signal.TypeBehaviorNote, signal.SourceSchool, nil), f, t0, DefaultReducerConfig())

	if math.Abs(res.State.ChildRisk-0.2558) > 1e-4 {
		t.Fatalf("expected childRisk 0.2558, got %.6f", res.State.ChildRisk)
	}
}

func TestReduceChildContextSetsRiskDirectly(t *testing.T) {
	prev := baseState()
	p := &signal.ChildContextPayload{Risk: ptr(0.9)}

	res := Reduce(prev, sig(signal.TypeChildContextUpdate, signal.SourceHome, p), features.Vector{}, t0, DefaultReducerConfig())

	if res.State.ChildRisk != 0.9 {
		t.Fatalf("expected childRisk 0.9, got %f", res.State.ChildRisk)
	}
}

func TestReduceRiskDecaysTowardBaseline(t *testing.T) {
	prev := baseState()
	prev.ChildRisk = 0.8

	res := Reduce(prev, sig(signal.TypeEventAnnouncement, signal.SourceSchool, nil), features.Vector{}, t0, DefaultReducerConfig())

	if res.State.ChildRisk >= 0.8 || res.State.ChildRisk <= 0.2 {
		t.Fatalf("expected decay between 0.2 and 0.8, got %f", res.State.ChildRisk)
	}
}

func TestReduceDoesNotMutatePrevious(t *testing.T) {
	prev := baseState()
	until := t0.Add(-time.Second)
	prev.CooldownUntil = &until
	before := prev.Clone()

	_ = Reduce(prev, sig(signal.TypeAssignmentDeadline, signal.SourceSchool, nil), features.Vector{Urgency: 1, Impact: 1}, t0, DefaultReducerConfig())

	if prev.SchoolPressure != before.SchoolPressure || prev.CooldownUntil == nil || !prev.CooldownUntil.Equal(until) {
		t.Fatal("previous state was mutated")
	}
}

func TestReduceExplicitUpdates(t *testing.T) {
	cfg := DefaultReducerConfig()

	res := Reduce(baseState(), sig(signal.TypeParentCapacityUpdate, signal.SourceHome, &signal.CapacityPayload{Bandwidth: ptr(1.4)}), features.Vector{}, t0, cfg)
	if res.State.ParentBandwidth != 1 {
		t.Fatalf("expected bandwidth clamped to 1, got %f", res.State.ParentBandwidth)
	}

	res = Reduce(baseState(), sig(signal.TypeCalendarDensityUpdate, signal.SourceHome, &signal.DensityPayload{Density: ptr(0.75)}), features.Vector{}, t0, cfg)
	if res.State.ScheduleDensity != 0.75 {
		t.Fatalf("expected density 0.75, got %f", res.State.ScheduleDensity)
	}

	pref := &signal.PreferencePayload{
		DailyAttentionBudgetMin: ptr(45),
		MaxNotificationsPerHour: ptr(-2),
		QuietHours:              &state.QuietHours{Start: "25:00", End: "06:00"},
		Timezone:                "Europe/Berlin",
	}
	res = Reduce(baseState(), sig(signal.TypeParentPreferenceUpdate, signal.SourceHome, pref), features.Vector{}, t0, cfg)
	if res.State.DailyAttentionBudgetMin != 45 {
		t.Fatalf("expected budget 45, got %d", res.State.DailyAttentionBudgetMin)
	}
	if res.State.MaxNotificationsPerHour != 0 {
		t.Fatalf("expected negative max clamped to 0, got %d", res.State.MaxNotificationsPerHour)
	}
	if res.State.QuietHoursLocal == nil || res.State.QuietHoursLocal.Start != "21:00" {
		t.Fatalf("invalid quiet hours should be ignored, got %+v", res.State.QuietHoursLocal)
	}
	if res.State.Timezone != "Europe/Berlin" {
		t.Fatalf("expected timezone Europe/Berlin, got %q", res.State.Timezone)
	}

	res = Reduce(baseState(), sig(signal.TypeParentPreferenceUpdate, signal.SourceHome, &signal.PreferencePayload{ClearQuietHours: true}), features.Vector{}, t0, cfg)
	if res.State.QuietHoursLocal != nil {
		t.Fatal("expected quiet hours cleared")
	}
}

func TestReduceActionCompletedRelievesBacklog(t *testing.T) {
	prev := baseState()
	prev.BacklogLoad = 0.8
	prev.RelationshipStrain = 0.6

	res := Reduce(prev, sig(signal.TypeActionCompleted, signal.SourceHome, nil), features.Vector{}, t0, DefaultReducerConfig())

	if res.State.BacklogLoad >= 0.8 {
		t.Fatalf("expected backlog relief, got %f", res.State.BacklogLoad)
	}
	if res.State.RelationshipStrain >= 0.6 {
		t.Fatalf("expected strain relief, got %f", res.State.RelationshipStrain)
	}
}

func TestReduceIndicesRecomputed(t *testing.T) {
	res := Reduce(baseState(), sig(signal.TypeAssignmentDeadline, signal.SourceSchool, nil), features.Vector{Urgency: 0.9, Impact: 0.9, Effort: 0.9, Blocking: 0.9}, t0, DefaultReducerConfig())

	tension, slack := state.Indices(res.State)
	if res.State.Tension != tension || res.State.Slack != slack {
		t.Fatalf("indices stale: got (%f,%f), want (%f,%f)", res.State.Tension, res.State.Slack, tension, slack)
	}
}

func TestReduceRedIsImmediate(t *testing.T) {
	cfg := DefaultReducerConfig()
	prev := baseState()
	prev.ZoneSince = t0 // zero dwell elapsed
	prev.SchoolPressure, prev.BacklogLoad, prev.RelationshipStrain = 1, 1, 1
	prev.ScheduleDensity, prev.ChildRisk, prev.ParentBandwidth = 1, 1, 0

	res := Reduce(prev, sig(signal.TypeHomeRoutineCheckin, signal.SourceHome, nil), features.Vector{}, t0, cfg)

	if res.State.Tension < cfg.RedThreshold {
		t.Fatalf("fixture should exceed red threshold, tension=%f", res.State.Tension)
	}
	if res.State.Zone != state.ZoneRed {
		t.Fatalf("expected red, got %s", res.State.Zone)
	}
	if res.Transition == nil || res.Transition.From != state.ZoneGreen || res.Transition.To != state.ZoneRed {
		t.Fatalf("expected green->red transition, got %+v", res.Transition)
	}
	if res.State.CooldownUntil == nil || !res.State.CooldownUntil.Equal(t0.Add(60*time.Minute)) {
		t.Fatalf("expected cooldown at +60m, got %v", res.State.CooldownUntil)
	}
	if !res.State.ZoneSince.Equal(t0) {
		t.Fatalf("zoneSince should move to now, got %v", res.State.ZoneSince)
	}
}

func TestReduceDwellHoldsDeescalation(t *testing.T) {
	cfg := DefaultReducerConfig()
	prev := baseState()
	prev.Zone = state.ZoneRed
	prev.ZoneSince = t0.Add(-time.Minute)
	prev.SchoolPressure, prev.BacklogLoad, prev.RelationshipStrain = 0, 0, 0
	prev.ScheduleDensity, prev.ChildRisk, prev.ParentBandwidth = 0, 0, 1

	res := Reduce(prev, sig(signal.TypeHomeRoutineCheckin, signal.SourceHome, nil), features.Vector{}, t0, cfg)
	if res.State.Zone != state.ZoneRed {
		t.Fatalf("dwell should hold red, got %s", res.State.Zone)
	}
	if !res.HeldByDwell || res.Transition != nil {
		t.Fatalf("expected held without transition, got held=%v transition=%+v", res.HeldByDwell, res.Transition)
	}
	if !res.State.ZoneSince.Equal(prev.ZoneSince) {
		t.Fatal("zoneSince must not change while held")
	}

	later := t0.Add(5 * time.Minute)
	res = Reduce(res.State, sig(signal.TypeHomeRoutineCheckin, signal.SourceHome, nil), features.Vector{}, later, cfg)
	if res.State.Zone != state.ZoneGreen {
		t.Fatalf("expected green after dwell, got %s", res.State.Zone)
	}
	if !res.State.ZoneSince.Equal(later) {
		t.Fatalf("zoneSince should be %v, got %v", later, res.State.ZoneSince)
	}
}

func TestReduceClearsExpiredCooldown(t *testing.T) {
	prev := baseState()
	expired := t0
	prev.CooldownUntil = &expired

	res := Reduce(prev, sig(signal.TypeHomeRoutineCheckin, signal.SourceHome, nil), features.Vector{}, t0, DefaultReducerConfig())
	if res.State.CooldownUntil != nil {
		t.Fatalf("expected expired cooldown cleared, got %v", res.State.CooldownUntil)
	}

	active := t0.Add(time.Minute)
	prev.CooldownUntil = &active
	res = Reduce(prev, sig(signal.TypeHomeRoutineCheckin, signal.SourceHome, nil), features.Vector{}, t0, DefaultReducerConfig())
	if res.State.CooldownUntil == nil {
		t.Fatal("active cooldown should be kept")
	}
}

func TestNextZoneTable(t *testing.T) {
	cfg := DefaultReducerConfig()
	fresh := t0
	old := t0.Add(-time.Hour)

	cases := []struct {
		name    string
		current state.Zone
		since   time.Time
		tension float64
		want    state.Zone
		held    bool
	}{
		{"red without dwell", state.ZoneGreen, fresh, 0.70, state.ZoneRed, false},
		{"amber held", state.ZoneGreen, fresh, 0.5, state.ZoneGreen, true},
		{"amber after dwell", state.ZoneGreen, old, 0.5, state.ZoneAmber, false},
		{"stay amber", state.ZoneAmber, fresh, 0.6, state.ZoneAmber, false},
		{"red to amber held", state.ZoneRed, fresh, 0.5, state.ZoneRed, true},
		{"amber to green", state.ZoneAmber, old, 0.1, state.ZoneGreen, false},
	}
	for _, c := range cases {
		got, held := NextZone(c.current, c.since, c.tension, t0, cfg)
		if got != c.want || held != c.held {
			t.Errorf("%s: got (%s,%v), want (%s,%v)", c.name, got, held, c.want, c.held)
		}
	}
}

func TestReduceDeterministic(t *testing.T) {
	f := features.Vector{Urgency: 0.7, Impact: 0.4, Effort: 0.3, EmotionHeat: 0.6}
	s := sig(signal.TypeTeacherMessage, signal.SourceSchool, nil)

	r1 := Reduce(baseState(), s, f, t0, DefaultReducerConfig())
	r2 := Reduce(baseState(), s, f, t0, DefaultReducerConfig())

	if r1.State.Tension != r2.State.Tension || r1.State.Slack != r2.State.Slack || r1.State.Zone != r2.State.Zone {
		t.Fatal("reduce is not deterministic")
	}
}
