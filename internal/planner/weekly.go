package planner

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/Aimtara/teachmo-sub002/internal/signal"
	"github.com/Aimtara/teachmo-sub002/internal/state"
	"github.com/Aimtara/teachmo-sub002/internal/store"
)

// #region regulator
// Regulator writes the deterministic weekly brief and nudges setpoints by at
// most one step per week.
type Regulator struct {
	config WeeklyConfig
}

// NewRegulator creates a regulator.
func NewRegulator(config WeeklyConfig) *Regulator {
	return &Regulator{config: config}
}

// Brief summarizes the trailing window and returns the tuned state alongside.
// The returned state differs from s only in its budgets.
func (r *Regulator) Brief(s state.OrchestratorState, recent []signal.Signal, now time.Time) (store.WeeklyBrief, state.OrchestratorState) {
	now = now.UTC()
	start := now.Add(-r.config.Window)
	counts := map[string]int{}
	for _, sig := range recent {
		if sig.Timestamp.Before(start) || sig.Timestamp.After(now) {
			continue
		}
		counts[string(sig.Type)]++
	}

	tuning, tuned := r.Tune(s)
	brief := store.WeeklyBrief{
		ID:          uuid.New().String(),
		FamilyID:    s.FamilyID,
		CreatedAt:   now,
		WindowStart: start,
		WindowEnd:   now,
		Zone:        s.Zone,
		Counts:      counts,
		Highlights:  r.highlights(counts),
		Risks:       r.risks(s),
		NextSteps:   nextSteps(s.Zone),
		Tuning:      tuning,
	}
	return brief, tuned
}

// #endregion regulator

// #region brief-text
func (r *Regulator) highlights(counts map[string]int) []string {
	out := []string{}
	if n := counts[string(signal.TypeAssignmentDeadline)]; n >= r.config.HighlightDeadlines {
		out = append(out, fmt.Sprintf("Busy week for schoolwork: %d deadlines came in.", n))
	}
	if n := counts[string(signal.TypeFormRequest)]; n >= r.config.HighlightForms {
		out = append(out, fmt.Sprintf("%d forms were requested; batching them saves time.", n))
	}
	if n := counts[string(signal.TypeActionCompleted)]; n > 0 {
		out = append(out, fmt.Sprintf("%d suggested actions were completed.", n))
	}
	return out
}

func (r *Regulator) risks(s state.OrchestratorState) []string {
	out := []string{}
	if s.RelationshipStrain >= r.config.StrainRisk {
		out = append(out, "School communication has been tense; consider a calm check-in.")
	}
	if s.ChildRisk >= r.config.ChildRisk {
		out = append(out, "Recent attendance, behavior or grade flags need attention.")
	}
	if s.Tension >= r.config.TensionRisk {
		out = append(out, "Overall load is high; non-urgent items are being held back.")
	}
	if s.Zone == state.ZoneGreen && s.Slack >= r.config.DriftSlack {
		out = append(out, "Things are quiet; engagement may drift without a small touchpoint.")
	}
	return out
}

func nextSteps(z state.Zone) []string {
	switch z {
	case state.ZoneRed:
		return []string{
			"Handle only urgent and safety items this week.",
			"Let the digest collect everything else.",
			"Close one blocking task to release pressure.",
		}
	case state.ZoneAmber:
		return []string{
			"Batch school items into one sitting.",
			"Reply to the most pressing message first.",
		}
	default:
		return []string{
			"Plan one connection moment with your child.",
			"Skim the digest once and clear small tasks.",
		}
	}
}

// #endregion brief-text

// #region tune
// Tune applies the conservative setpoint step for the current state.
func (r *Regulator) Tune(s state.OrchestratorState) (store.Tuning, state.OrchestratorState) {
	before := store.Setpoints{
		DailyAttentionBudgetMin: s.DailyAttentionBudgetMin,
		MaxNotificationsPerHour: s.MaxNotificationsPerHour,
	}
	after := before
	mode := TuneHold

	switch {
	case s.Tension >= r.config.TightenTension || s.Zone == state.ZoneRed:
		mode = TuneTighten
		shrunk := int(math.Floor(float64(before.DailyAttentionBudgetMin) * r.config.BudgetShrink))
		// floors never raise a setpoint that already sits below them
		after.DailyAttentionBudgetMin = min(before.DailyAttentionBudgetMin, max(r.config.MinBudget, shrunk))
		after.MaxNotificationsPerHour = min(before.MaxNotificationsPerHour, max(r.config.MinNotifications, before.MaxNotificationsPerHour-1))
	case s.Tension < r.config.LoosenTension && s.Slack >= r.config.LoosenSlack:
		mode = TuneLoosen
		after.MaxNotificationsPerHour = min(r.config.MaxNotifications, before.MaxNotificationsPerHour+1)
		// already above the ceiling is left alone
		after.MaxNotificationsPerHour = max(after.MaxNotificationsPerHour, before.MaxNotificationsPerHour)
	}

	tuned := s.Clone()
	tuned.DailyAttentionBudgetMin = after.DailyAttentionBudgetMin
	tuned.MaxNotificationsPerHour = after.MaxNotificationsPerHour
	return store.Tuning{
		Mode:    mode,
		Before:  before,
		After:   after,
		Changed: before != after,
	}, tuned
}

// #endregion tune
