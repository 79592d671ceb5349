package planner

import (
	"testing"
	"time"

	"github.com/Aimtara/teachmo-sub002/internal/action"
	"github.com/Aimtara/teachmo-sub002/internal/features"
	"github.com/Aimtara/teachmo-sub002/internal/optimize"
	"github.com/Aimtara/teachmo-sub002/internal/signal"
	"github.com/Aimtara/teachmo-sub002/internal/state"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newPlanner() *Planner {
	return NewPlanner(
		DefaultDailyConfig(),
		features.NewExtractor(features.DefaultExtractorConfig()),
		action.NewGenerator(action.DefaultGeneratorConfig()),
	)
}

func deadlineSig(id string, typ signal.Type, due time.Time) signal.Signal {
	return signal.Signal{
		ID:        id,
		FamilyID:  "fam-1",
		Source:    signal.SourceSchool,
		Type:      typ,
		Timestamp: t0.Add(-time.Hour),
		Payload: &signal.DeadlinePayload{
			Common: signal.Common{Title: "Item " + id, Deadline: due.Format(time.RFC3339)},
		},
	}
}

func countType(scored []optimize.Scored, t action.Type) int {
	n := 0
	for _, s := range scored {
		if s.Action.Type == t {
			n++
		}
	}
	return n
}

// #region daily
func TestUpcomingDeadlinesWindowAndOrder(t *testing.T) {
	recent := []signal.Signal{
		deadlineSig("late", signal.TypeAssignmentDeadline, t0.Add(-time.Hour)),
		deadlineSig("b", signal.TypeAssignmentDeadline, t0.Add(2*time.Hour)),
		deadlineSig("far", signal.TypeFormRequest, t0.Add(30*time.Hour)),
		deadlineSig("a", signal.TypeFormRequest, t0.Add(time.Hour)),
		deadlineSig("a", signal.TypeFormRequest, t0.Add(time.Hour)),
	}

	got := UpcomingDeadlines(recent, t0, 24*time.Hour, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 deadlines, got %d: %+v", len(got), got)
	}
	if got[0].SignalID != "a" || got[1].SignalID != "b" {
		t.Errorf("expected soonest first [a b], got [%s %s]", got[0].SignalID, got[1].SignalID)
	}

	capped := UpcomingDeadlines(recent, t0, 24*time.Hour, 1)
	if len(capped) != 1 {
		t.Errorf("expected cap of 1, got %d", len(capped))
	}
}

func TestDailyBudgetRedZone(t *testing.T) {
	p := newPlanner()
	s := state.New("fam-1", state.DefaultDefaults(), t0)
	s.Zone = state.ZoneRed
	s.DailyAttentionBudgetMin = 15

	budget, allowed := p.DailyBudget(s)
	if budget != 7 {
		t.Errorf("expected budget 7, got %d", budget)
	}
	if allowed {
		t.Error("notify_now must be disallowed in red")
	}

	s.DailyAttentionBudgetMin = 6
	if budget, _ := p.DailyBudget(s); budget != 5 {
		t.Errorf("expected floor of 5, got %d", budget)
	}

	s.Zone = state.ZoneAmber
	if budget, allowed := p.DailyBudget(s); budget != 6 || !allowed {
		t.Errorf("amber keeps the full budget, got %d allowed=%v", budget, allowed)
	}
}

func TestPlanDayRedZoneDisallowsNotify(t *testing.T) {
	p := newPlanner()
	s := state.New("fam-1", state.DefaultDefaults(), t0)
	s.Zone = state.ZoneRed
	s.DailyAttentionBudgetMin = 15

	// overdue-soon deadlines push urgency past the notify lane threshold
	recent := []signal.Signal{
		deadlineSig("a", signal.TypeAssignmentDeadline, t0.Add(10*time.Minute)),
		deadlineSig("b", signal.TypeFormRequest, t0.Add(20*time.Minute)),
	}
	tick := DailyTick("fam-1", UpcomingDeadlines(recent, t0, 24*time.Hour, 10), t0)

	plan := p.PlanDay(s, tick, optimize.DefaultWeights(), t0)

	if plan.BudgetMin != 7 || plan.NotifyNowAllowed {
		t.Fatalf("expected budget 7 without notify, got %d allowed=%v", plan.BudgetMin, plan.NotifyNowAllowed)
	}
	if n := countType(plan.Actions, action.TypeNotifyNow); n != 0 {
		t.Errorf("expected no notify_now, got %d", n)
	}
	if plan.UsedMin > plan.BudgetMin {
		t.Errorf("plan uses %d of %d minutes", plan.UsedMin, plan.BudgetMin)
	}
	if n := countType(plan.Actions, action.TypeDoNothing); n > 1 {
		t.Errorf("expected at most one do_nothing, got %d", n)
	}
	if plan.UpcomingDeadlines != 2 {
		t.Errorf("expected 2 upcoming deadlines, got %d", plan.UpcomingDeadlines)
	}
	if plan.Rationale == "" {
		t.Error("expected rationale")
	}
}

func TestPlanDayMicroTasksPerDeadline(t *testing.T) {
	p := newPlanner()
	s := state.New("fam-1", state.DefaultDefaults(), t0)

	recent := []signal.Signal{
		deadlineSig("a", signal.TypeAssignmentDeadline, t0.Add(6*time.Hour)),
		deadlineSig("b", signal.TypeAssignmentDeadline, t0.Add(7*time.Hour)),
	}
	tick := DailyTick("fam-1", UpcomingDeadlines(recent, t0, 24*time.Hour, 10), t0)

	plan := p.PlanDay(s, tick, optimize.DefaultWeights(), t0)

	if len(plan.Actions) == 0 || len(plan.Actions) > 3 {
		t.Fatalf("expected 1..3 actions, got %d", len(plan.Actions))
	}
	if n := countType(plan.Actions, action.TypeCreateMicroTask); n != 2 {
		t.Errorf("expected a micro-task per deadline, got %d", n)
	}
	if !plan.WindowEnd.Equal(t0.Add(24 * time.Hour)) {
		t.Errorf("expected 24h window, got %v", plan.WindowEnd)
	}
}

// #endregion daily

// #region weekly
func TestTuneTightenOnHighTension(t *testing.T) {
	r := NewRegulator(DefaultWeeklyConfig())
	s := state.New("fam-1", state.DefaultDefaults(), t0)
	s.Tension = 0.7
	s.DailyAttentionBudgetMin = 30
	s.MaxNotificationsPerHour = 3

	tuning, tuned := r.Tune(s)
	if tuning.Mode != TuneTighten || !tuning.Changed {
		t.Fatalf("expected tighten, got %+v", tuning)
	}
	if tuned.DailyAttentionBudgetMin != 24 || tuned.MaxNotificationsPerHour != 2 {
		t.Errorf("expected 24m and 2/h, got %dm and %d/h", tuned.DailyAttentionBudgetMin, tuned.MaxNotificationsPerHour)
	}
}

func TestTuneFloorsAndCeilings(t *testing.T) {
	r := NewRegulator(DefaultWeeklyConfig())
	tests := []struct {
		name       string
		tension    float64
		slack      float64
		zone       state.Zone
		budget     int
		perHour    int
		wantMode   string
		wantBudget int
		wantHour   int
	}{
		{"tighten at floor", 0.8, 0.3, state.ZoneRed, 5, 1, TuneTighten, 5, 1},
		{"tighten below floor keeps value", 0.8, 0.3, state.ZoneRed, 3, 0, TuneTighten, 3, 0},
		{"tighten by zone alone", 0.5, 0.3, state.ZoneRed, 10, 2, TuneTighten, 8, 1},
		{"loosen", 0.2, 0.7, state.ZoneGreen, 30, 3, TuneLoosen, 30, 4},
		{"loosen at ceiling", 0.2, 0.7, state.ZoneGreen, 30, 5, TuneLoosen, 30, 5},
		{"hold between", 0.5, 0.5, state.ZoneAmber, 30, 3, TuneHold, 30, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := state.New("fam-1", state.DefaultDefaults(), t0)
			s.Tension, s.Slack, s.Zone = tt.tension, tt.slack, tt.zone
			s.DailyAttentionBudgetMin, s.MaxNotificationsPerHour = tt.budget, tt.perHour

			tuning, tuned := r.Tune(s)
			if tuning.Mode != tt.wantMode {
				t.Errorf("mode = %s, want %s", tuning.Mode, tt.wantMode)
			}
			if tuned.DailyAttentionBudgetMin != tt.wantBudget || tuned.MaxNotificationsPerHour != tt.wantHour {
				t.Errorf("got %dm %d/h, want %dm %d/h", tuned.DailyAttentionBudgetMin, tuned.MaxNotificationsPerHour, tt.wantBudget, tt.wantHour)
			}
		})
	}
}

func TestBriefCountsAndText(t *testing.T) {
	r := NewRegulator(DefaultWeeklyConfig())
	s := state.New("fam-1", state.DefaultDefaults(), t0)
	s.Zone = state.ZoneGreen
	s.Slack = 0.75
	s.Tension = 0.3
	now := t0.Add(7 * 24 * time.Hour)

	var recent []signal.Signal
	for i := 0; i < 3; i++ {
		sig := deadlineSig("d", signal.TypeAssignmentDeadline, now)
		sig.Timestamp = now.Add(-time.Duration(i+1) * time.Hour)
		recent = append(recent, sig)
	}
	old := deadlineSig("old", signal.TypeFormRequest, now)
	old.Timestamp = now.Add(-10 * 24 * time.Hour)
	recent = append(recent, old)

	brief, tuned := r.Brief(s, recent, now)

	if brief.Counts[string(signal.TypeAssignmentDeadline)] != 3 {
		t.Errorf("expected 3 deadlines counted, got %v", brief.Counts)
	}
	if _, ok := brief.Counts[string(signal.TypeFormRequest)]; ok {
		t.Errorf("signals outside the window must not count, got %v", brief.Counts)
	}
	if len(brief.Highlights) == 0 {
		t.Error("expected a deadline highlight")
	}
	if len(brief.Risks) != 1 {
		t.Errorf("expected only the drift risk, got %v", brief.Risks)
	}
	if len(brief.NextSteps) == 0 {
		t.Error("expected next steps")
	}
	if brief.Tuning.Mode != TuneLoosen || tuned.MaxNotificationsPerHour != 4 {
		t.Errorf("expected loosen to 4/h, got %s %d", brief.Tuning.Mode, tuned.MaxNotificationsPerHour)
	}
	if !brief.WindowStart.Equal(now.Add(-7 * 24 * time.Hour)) {
		t.Errorf("unexpected window start %v", brief.WindowStart)
	}
}

// #endregion weekly
