package planner

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Aimtara/teachmo-sub002/internal/action"
	"github.com/Aimtara/teachmo-sub002/internal/features"
	"github.com/Aimtara/teachmo-sub002/internal/optimize"
	"github.com/Aimtara/teachmo-sub002/internal/signal"
	"github.com/Aimtara/teachmo-sub002/internal/state"
	"github.com/Aimtara/teachmo-sub002/internal/store"
)

// #region planner
// Planner builds daily plans. It is pure: callers load history and persist results.
type Planner struct {
	config    DailyConfig
	extractor *features.Extractor
	generator *action.Generator
}

// NewPlanner wires a planner from its collaborators.
func NewPlanner(config DailyConfig, extractor *features.Extractor, generator *action.Generator) *Planner {
	return &Planner{config: config, extractor: extractor, generator: generator}
}

// Config returns the planner settings.
func (p *Planner) Config() DailyConfig { return p.config }

// #endregion planner

// #region deadlines
// UpcomingDeadlines lists deadlines from recent that fall in [now, now+horizon],
// soonest first, at most limit. A signal already listed by id is not repeated.
func UpcomingDeadlines(recent []signal.Signal, now time.Time, horizon time.Duration, limit int) []signal.DeadlineRef {
	type due struct {
		ref signal.DeadlineRef
		at  time.Time
	}
	end := now.Add(horizon)
	seen := map[string]bool{}
	var found []due
	for _, sig := range recent {
		if sig.Source == signal.SourceSystem {
			continue
		}
		at, ok := sig.Common().DeadlineTime()
		if !ok || at.Before(now) || at.After(end) {
			continue
		}
		if sig.ID != "" && seen[sig.ID] {
			continue
		}
		seen[sig.ID] = true
		found = append(found, due{
			ref: signal.DeadlineRef{
				SignalID: sig.ID,
				Type:     sig.Type,
				Title:    sig.Common().Title,
				Deadline: signal.FormatTimestamp(at),
			},
			at: at,
		})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].at.Before(found[j].at) })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	out := make([]signal.DeadlineRef, len(found))
	for i, d := range found {
		out[i] = d.ref
	}
	return out
}

// DailyTick is the synthetic signal a daily run reduces and plans against.
func DailyTick(familyID string, deadlines []signal.DeadlineRef, now time.Time) signal.Signal {
	return signal.Signal{
		ID:        uuid.New().String(),
		FamilyID:  familyID,
		Source:    signal.SourceSystem,
		Type:      signal.TypeSystemDailyTick,
		Timestamp: now.UTC(),
		Payload: &signal.TickPayload{
			Common:    signal.Common{Title: "Daily plan"},
			Deadlines: deadlines,
		},
	}
}

// deadlineSignal rebuilds one upcoming deadline as a school signal so the
// execute lane can propose work for it.
func deadlineSignal(familyID string, ref signal.DeadlineRef, now time.Time) signal.Signal {
	t := ref.Type
	if t != signal.TypeFormRequest {
		t = signal.TypeAssignmentDeadline
	}
	return signal.Signal{
		ID:        ref.SignalID,
		FamilyID:  familyID,
		Source:    signal.SourceSchool,
		Type:      t,
		Timestamp: now.UTC(),
		Payload: &signal.DeadlinePayload{
			Common: signal.Common{Title: ref.Title, Deadline: ref.Deadline},
		},
	}
}

// #endregion deadlines

// #region budget
// DailyBudget is the day's attention budget and whether notify_now may be
// planned. Red halves the budget (floor, minimum MinRedBudget) and forbids notify_now.
func (p *Planner) DailyBudget(s state.OrchestratorState) (budgetMin int, notifyAllowed bool) {
	if s.Zone != state.ZoneRed {
		return s.DailyAttentionBudgetMin, true
	}
	reduced := int(math.Floor(float64(s.DailyAttentionBudgetMin) * p.config.RedBudgetFactor))
	return max(p.config.MinRedBudget, reduced), false
}

// #endregion budget

// #region plan-day
// PlanDay generates candidates against the tick and each listed deadline,
// then selects up to K actions under the day's budget.
func (p *Planner) PlanDay(s state.OrchestratorState, tick signal.Signal, w optimize.Weights, now time.Time) store.DailyPlan {
	now = now.UTC()
	var deadlines []signal.DeadlineRef
	if tp, ok := tick.Payload.(*signal.TickPayload); ok {
		deadlines = tp.Deadlines
	}
	if len(deadlines) > p.config.MaxDeadlines {
		deadlines = deadlines[:p.config.MaxDeadlines]
	}

	pool := p.generator.Generate(action.Input{
		State:    s,
		Signal:   tick,
		Features: p.extractor.Extract(tick, now),
	}, now)
	for _, ref := range deadlines {
		sig := deadlineSignal(s.FamilyID, ref, now)
		pool = append(pool, p.generator.Generate(action.Input{
			State:    s,
			Signal:   sig,
			Features: p.extractor.Extract(sig, now),
		}, now)...)
	}

	budget, notifyAllowed := p.DailyBudget(s)
	plan := optimize.OptimizePlan(pool, w, optimize.PlanOptions{
		K:                 p.config.K,
		BudgetMin:         budget,
		DisallowNotifyNow: !notifyAllowed,
	})

	return store.DailyPlan{
		ID:                uuid.New().String(),
		FamilyID:          s.FamilyID,
		CreatedAt:         now,
		WindowStart:       now,
		WindowEnd:         now.Add(p.config.Horizon),
		Zone:              s.Zone,
		BudgetMin:         budget,
		UsedMin:           plan.UsedMin,
		NotifyNowAllowed:  notifyAllowed,
		UpcomingDeadlines: len(deadlines),
		Actions:           plan.Chosen,
		Rationale:         plan.Rationale,
	}
}

// #endregion plan-day
