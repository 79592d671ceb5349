package optimize

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Aimtara/teachmo-sub002/internal/action"
	"github.com/Aimtara/teachmo-sub002/internal/state"
)

// minNotifyBudget is the attention left below which notify_now is never chosen.
const minNotifyBudget = 2

// #region utility
// Utility scores one action: weighted benefit minus weighted cost minus the
// parent/teacher burden imbalance.
func Utility(a action.Action, w Weights) float64 {
	benefit := w.Kid*a.KidBenefit + w.Relationship*a.RelationshipBenefit + w.School*a.SchoolResolutionBenefit
	cost := w.Cognitive*a.CognitiveCost + w.Emotional*a.EmotionalCost + w.Time*state.Clamp01(float64(a.TimeCostMin)/30)
	fairness := math.Abs(a.ParentBurden - a.TeacherBurden)
	return benefit - cost - w.Fairness*fairness
}

// Rank scores candidates and sorts them by utility, highest first. Ties keep
// generation order.
func Rank(candidates []action.Action, w Weights) []Scored {
	out := make([]Scored, len(candidates))
	for i, a := range candidates {
		out[i] = Scored{Action: a, Utility: Utility(a, w)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Utility > out[j].Utility })
	return out
}

// #endregion utility

// #region optimize
// Optimize picks the best candidate that fits the remaining budget. notify_now
// is skipped when suppressed or when less than two minutes remain.
func Optimize(candidates []action.Action, w Weights, remainingMin int, notifySuppressed bool) Result {
	ranked := Rank(candidates, w)
	res := Result{Ranked: ranked}
	for i := range ranked {
		a := ranked[i].Action
		if a.Type == action.TypeNotifyNow && (notifySuppressed || remainingMin < minNotifyBudget) {
			continue
		}
		if a.TimeCostMin > remainingMin {
			continue
		}
		res.Chosen = &ranked[i]
		break
	}
	return res
}

// #endregion optimize

// #region optimize-plan
// OptimizePlan greedily takes up to K ranked actions under a shared budget.
// At most one do_nothing and one of each type are kept, except
// create_micro_task which may repeat.
func OptimizePlan(candidates []action.Action, w Weights, opts PlanOptions) Plan {
	ranked := Rank(candidates, w)
	plan := Plan{Ranked: ranked}
	remaining := max(0, opts.BudgetMin)
	seen := map[action.Type]bool{}
	var skipped []string

	for _, s := range ranked {
		if len(plan.Chosen) >= opts.K {
			break
		}
		a := s.Action
		switch {
		case a.Type == action.TypeNotifyNow && opts.DisallowNotifyNow:
			skipped = append(skipped, "notify_now disallowed")
			continue
		case seen[a.Type] && a.Type != action.TypeCreateMicroTask:
			continue
		case a.TimeCostMin > remaining:
			skipped = append(skipped, fmt.Sprintf("%s over budget (%dm > %dm)", a.Type, a.TimeCostMin, remaining))
			continue
		}
		plan.Chosen = append(plan.Chosen, s)
		seen[a.Type] = true
		remaining -= a.TimeCostMin
		plan.UsedMin += a.TimeCostMin
	}
	plan.Rationale = rationale(plan, opts, skipped)
	return plan
}

func rationale(p Plan, opts PlanOptions, skipped []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Picked %d of %d candidates using %d of %d minutes", len(p.Chosen), len(p.Ranked), p.UsedMin, opts.BudgetMin)
	if len(p.Chosen) > 0 {
		names := make([]string, len(p.Chosen))
		for i, s := range p.Chosen {
			names[i] = fmt.Sprintf("%s (%.2f)", s.Action.Type, s.Utility)
		}
		fmt.Fprintf(&b, ": %s", strings.Join(names, ", "))
	}
	b.WriteString(".")
	if opts.DisallowNotifyNow {
		b.WriteString(" Immediate notifications are off for this window.")
	}
	if len(skipped) > 0 {
		fmt.Fprintf(&b, " Skipped: %s.", strings.Join(dedupe(skipped), "; "))
	}
	return b.String()
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// #endregion optimize-plan
