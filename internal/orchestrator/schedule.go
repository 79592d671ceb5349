package orchestrator

// #region imports
import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Aimtara/teachmo-sub002/internal/mitigation"
	"github.com/Aimtara/teachmo-sub002/internal/planner"
	"github.com/Aimtara/teachmo-sub002/internal/state"
	"github.com/Aimtara/teachmo-sub002/internal/store"
	"github.com/Aimtara/teachmo-sub002/internal/update"
)

// #endregion

// #region run-daily

// RunDaily reduces the family state once against a synthetic daily tick and
// stores the resulting plan. The plan budget is derived from the state; the
// stored setpoint is not changed.
func (e *Engine) RunDaily(ctx context.Context, familyID string) (store.DailyPlan, error) {
	now := e.now().UTC()
	unlock, err := e.locks.Lock(ctx, familyID)
	if err != nil {
		return store.DailyPlan{}, fmt.Errorf("lock family %s: %w", familyID, err)
	}
	defer unlock()

	if _, err := e.store.GetOrCreateState(ctx, familyID, now); err != nil {
		return store.DailyPlan{}, fmt.Errorf("load state: %w", err)
	}
	recent, err := e.store.GetRecentSignals(ctx, familyID, e.config.Daily.HistoryLimit)
	if err != nil {
		return store.DailyPlan{}, fmt.Errorf("load signals: %w", err)
	}
	cfg := e.planner.Config()
	tick := planner.DailyTick(familyID, planner.UpcomingDeadlines(recent, now, cfg.Horizon, cfg.MaxDeadlines), now)
	f := e.extractor.Extract(tick, now)

	var reduced update.Result
	next, err := store.UpdateState(ctx, e.store, familyID, now, func(cur state.OrchestratorState) (state.OrchestratorState, error) {
		reduced = update.Reduce(cur, tick, f, now, e.config.Reducer)
		return reduced.State, nil
	}, e.metrics.Conflict)
	if err != nil {
		return store.DailyPlan{}, fmt.Errorf("write state: %w", err)
	}
	if reduced.Transition != nil {
		e.metrics.Transition(string(reduced.Transition.From), string(reduced.Transition.To))
	}

	plan := e.planner.PlanDay(next, tick, e.Weights(), now)
	if err := e.store.AppendDailyPlan(ctx, plan); err != nil {
		return store.DailyPlan{}, fmt.Errorf("append daily plan: %w", err)
	}
	e.log.WithFields(logrus.Fields{
		"family_id": familyID,
		"plan_id":   plan.ID,
		"zone":      plan.Zone,
		"budget":    plan.BudgetMin,
		"used":      plan.UsedMin,
		"actions":   len(plan.Actions),
	}).Info("daily plan stored")
	return plan, nil
}

// #endregion

// #region run-weekly

// RunWeekly writes the weekly brief and persists the tuned setpoints.
func (e *Engine) RunWeekly(ctx context.Context, familyID string) (store.WeeklyBrief, error) {
	now := e.now().UTC()
	unlock, err := e.locks.Lock(ctx, familyID)
	if err != nil {
		return store.WeeklyBrief{}, fmt.Errorf("lock family %s: %w", familyID, err)
	}
	defer unlock()

	if _, err := e.store.GetOrCreateState(ctx, familyID, now); err != nil {
		return store.WeeklyBrief{}, fmt.Errorf("load state: %w", err)
	}
	recent, err := e.store.GetRecentSignals(ctx, familyID, 0)
	if err != nil {
		return store.WeeklyBrief{}, fmt.Errorf("load signals: %w", err)
	}

	var brief store.WeeklyBrief
	_, err = store.UpdateState(ctx, e.store, familyID, now, func(cur state.OrchestratorState) (state.OrchestratorState, error) {
		var tuned state.OrchestratorState
		brief, tuned = e.regulator.Brief(cur, recent, now)
		return tuned, nil
	}, e.metrics.Conflict)
	if err != nil {
		return store.WeeklyBrief{}, fmt.Errorf("write state: %w", err)
	}
	if err := e.store.AppendWeeklyBrief(ctx, brief); err != nil {
		return store.WeeklyBrief{}, fmt.Errorf("append weekly brief: %w", err)
	}
	e.log.WithFields(logrus.Fields{
		"family_id": familyID,
		"brief_id":  brief.ID,
		"tuning":    brief.Tuning.Mode,
		"changed":   brief.Tuning.Changed,
	}).Info("weekly brief stored")
	return brief, nil
}

// #endregion

// #region mitigation

// ApplyDuplicateStormMitigation reacts to an externally counted duplicate storm.
func (e *Engine) ApplyDuplicateStormMitigation(ctx context.Context, familyID string, duplicateCount int) (mitigation.ApplyResult, error) {
	return e.mitigation.ApplyDuplicateStorm(ctx, familyID, duplicateCount, e.now())
}

// ReapMitigations clears every expired mitigation.
func (e *Engine) ReapMitigations(ctx context.Context) (mitigation.ReapResult, error) {
	return e.mitigation.Reap(ctx, e.now())
}

// Families lists every family the store knows.
func (e *Engine) Families(ctx context.Context) ([]string, error) {
	return e.store.ListFamilies(ctx)
}

// Clock returns the engine's current time.
func (e *Engine) Clock() time.Time { return e.now().UTC() }

// #endregion
