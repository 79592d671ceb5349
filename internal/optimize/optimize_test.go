package optimize

import (
	"math"
	"testing"

	"github.com/Aimtara/teachmo-sub002/internal/action"
)

func act(id string, t action.Type, kid float64, minutes int) action.Action {
	return action.Action{ID: id, Type: t, KidBenefit: kid, TimeCostMin: minutes}
}

func TestUtilityFormula(t *testing.T) {
	a := action.Action{
		KidBenefit: 0.8, RelationshipBenefit: 0.4, SchoolResolutionBenefit: 0.6,
		CognitiveCost: 0.2, EmotionalCost: 0.1, TimeCostMin: 15,
		ParentBurden: 0.6, TeacherBurden: 0.2,
	}
	w := DefaultWeights()
	// benefit .36+.10+.18=.64; cost .05+.025+.10=.175; fairness .4*.15=.06
	want := 0.64 - 0.175 - 0.06
	if got := Utility(a, w); math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected utility %.4f, got %.4f", want, got)
	}
}

func TestUtilityTimeCostSaturates(t *testing.T) {
	w := DefaultWeights()
	long := Utility(action.Action{TimeCostMin: 300}, w)
	if math.Abs(long+w.Time) > 1e-9 {
		t.Fatalf("time cost should cap at weight %.2f, got %.4f", w.Time, -long)
	}
}

func TestOptimizeSkipsSuppressedNotify(t *testing.T) {
	candidates := []action.Action{
		act("n", action.TypeNotifyNow, 1, 2),
		act("d", action.TypeAddToDigest, 0.5, 1),
		act("z", action.TypeDoNothing, 0, 0),
	}

	res := Optimize(candidates, DefaultWeights(), 30, false)
	if res.Chosen == nil || res.Chosen.Action.ID != "n" {
		t.Fatalf("expected notify_now chosen, got %+v", res.Chosen)
	}

	res = Optimize(candidates, DefaultWeights(), 30, true)
	if res.Chosen == nil || res.Chosen.Action.ID != "d" {
		t.Fatalf("expected digest when suppressed, got %+v", res.Chosen)
	}
	if len(res.Ranked) != 3 {
		t.Fatalf("ranked list should keep all candidates, got %d", len(res.Ranked))
	}
}

func TestOptimizeRespectsBudget(t *testing.T) {
	candidates := []action.Action{
		act("big", action.TypeProposeMeeting, 1, 15),
		act("notify", action.TypeNotifyNow, 0.9, 2),
		act("z", action.TypeDoNothing, 0, 0),
	}

	res := Optimize(candidates, DefaultWeights(), 1, false)
	if res.Chosen == nil || res.Chosen.Action.ID != "z" {
		t.Fatalf("expected do_nothing under tight budget, got %+v", res.Chosen)
	}

	res = Optimize(candidates[:2], DefaultWeights(), 0, false)
	if res.Chosen != nil {
		t.Fatalf("expected no choice, got %+v", res.Chosen)
	}
}

func TestOptimizeRankedDescending(t *testing.T) {
	res := Optimize([]action.Action{
		act("a", action.TypeDoNothing, 0, 0),
		act("b", action.TypeAddToDigest, 0.9, 1),
		act("c", action.TypeCreateMicroTask, 0.5, 5),
	}, DefaultWeights(), 30, false)
	for i := 1; i < len(res.Ranked); i++ {
		if res.Ranked[i].Utility > res.Ranked[i-1].Utility {
			t.Fatalf("ranking not descending at %d", i)
		}
	}
}

func TestOptimizePlanBudgetAndSingleDoNothing(t *testing.T) {
	candidates := []action.Action{
		act("t1", action.TypeCreateMicroTask, 0.9, 4),
		act("t2", action.TypeCreateMicroTask, 0.85, 4),
		act("m", action.TypeProposeMeeting, 0.95, 15),
		act("z1", action.TypeDoNothing, 0, 0),
		act("z2", action.TypeDoNothing, 0, 0),
		act("d1", action.TypeAddToDigest, 0.3, 1),
		act("d2", action.TypeAddToDigest, 0.3, 1),
	}

	for _, budget := range []int{0, 1, 5, 7, 9, 30} {
		plan := OptimizePlan(candidates, DefaultWeights(), PlanOptions{K: 5, BudgetMin: budget})
		used, doNothing, digests := 0, 0, 0
		for _, s := range plan.Chosen {
			used += s.Action.TimeCostMin
			switch s.Action.Type {
			case action.TypeDoNothing:
				doNothing++
			case action.TypeAddToDigest:
				digests++
			}
		}
		if used > budget || used != plan.UsedMin {
			t.Fatalf("budget %d: used %d (reported %d)", budget, used, plan.UsedMin)
		}
		if doNothing > 1 || digests > 1 {
			t.Fatalf("budget %d: duplicate types chosen: %+v", budget, plan.Chosen)
		}
		if len(plan.Chosen) > 5 {
			t.Fatalf("budget %d: exceeded k", budget)
		}
	}
}

func TestOptimizePlanMicroTasksRepeat(t *testing.T) {
	plan := OptimizePlan([]action.Action{
		act("t1", action.TypeCreateMicroTask, 0.9, 3),
		act("t2", action.TypeCreateMicroTask, 0.85, 3),
		act("t3", action.TypeCreateMicroTask, 0.8, 3),
		act("z", action.TypeDoNothing, 0, 0),
	}, DefaultWeights(), PlanOptions{K: 3, BudgetMin: 30})

	if len(plan.Chosen) != 3 {
		t.Fatalf("expected 3 micro tasks, got %d", len(plan.Chosen))
	}
	for _, s := range plan.Chosen {
		if s.Action.Type != action.TypeCreateMicroTask {
			t.Fatalf("unexpected %s", s.Action.Type)
		}
	}
}

func TestOptimizePlanDisallowNotify(t *testing.T) {
	plan := OptimizePlan([]action.Action{
		act("n", action.TypeNotifyNow, 1, 2),
		act("t", action.TypeCreateMicroTask, 0.5, 3),
	}, DefaultWeights(), PlanOptions{K: 3, BudgetMin: 30, DisallowNotifyNow: true})

	for _, s := range plan.Chosen {
		if s.Action.Type == action.TypeNotifyNow {
			t.Fatal("notify_now chosen while disallowed")
		}
	}
	if plan.Rationale == "" {
		t.Fatal("expected rationale")
	}
}
