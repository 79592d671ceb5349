package update

import (
	"time"

	"github.com/Aimtara/teachmo-sub002/internal/features"
	"github.com/Aimtara/teachmo-sub002/internal/signal"
	"github.com/Aimtara/teachmo-sub002/internal/state"
)

// #region reduce
// Reduce is a pure function computing the next family state from the previous
// state, one signal, its feature vector and the reduction time.
func Reduce(prev state.OrchestratorState, sig signal.Signal, f features.Vector, now time.Time, config ReducerConfig) Result {
	now = now.UTC()
	next := prev.Clone()

	applyExplicit(&next, sig)

	if sig.Source == signal.SourceSchool {
		next.SchoolPressure = state.EWMA(next.SchoolPressure, state.Clamp01(0.6*f.Urgency+0.4*f.Impact), config.FastAlpha)
		next.BacklogLoad = state.EWMA(next.BacklogLoad, state.Clamp01(0.5*f.Effort+0.5*f.Blocking), config.FastAlpha)
		next.RelationshipStrain = state.EWMA(next.RelationshipStrain, f.EmotionHeat, config.SlowAlpha)
	}
	if sig.Source == signal.SourceHome {
		next.EngagementSlack = state.EWMA(next.EngagementSlack, config.HomeSlackTarget, config.SlowAlpha)
	}
	if sig.Type == signal.TypeActionCompleted {
		next.BacklogLoad = state.EWMA(next.BacklogLoad, config.BacklogRelief, config.FastAlpha)
		next.RelationshipStrain = state.EWMA(next.RelationshipStrain, config.StrainRelief, config.SlowAlpha)
	}

	next.ChildRisk = nextChildRisk(next.ChildRisk, sig, f, config)

	// Drift runs for every signal, after the type-specific updates.
	implied := 0.5*(1-next.SchoolPressure) + 0.5*(1-next.BacklogLoad)
	next.EngagementSlack = state.EWMA(next.EngagementSlack, implied, config.DriftAlpha)

	next.Tension, next.Slack = state.Indices(next)

	if next.CooldownUntil != nil && !next.CooldownUntil.After(now) {
		next.CooldownUntil = nil
	}

	res := Result{}
	zone, held := NextZone(next.Zone, next.ZoneSince, next.Tension, now, config)
	res.HeldByDwell = held
	if zone != next.Zone {
		res.Transition = &Transition{From: next.Zone, To: zone, At: now}
		if zone == state.ZoneRed {
			until := now.Add(config.Cooldown)
			next.CooldownUntil = &until
		}
		next.Zone = zone
		next.ZoneSince = now
	}

	next.UpdatedAt = now
	res.State = next
	return res
}

// #endregion reduce

// #region zone-machine
// NextZone applies the hysteresis rules. Red is entered immediately; any other
// change needs Dwell to have elapsed since the current zone was entered. held
// reports that tension wanted a different zone but dwell kept the current one.
func NextZone(current state.Zone, since time.Time, tension float64, now time.Time, config ReducerConfig) (zone state.Zone, held bool) {
	var target state.Zone
	switch {
	case tension >= config.RedThreshold:
		return state.ZoneRed, false
	case tension >= config.AmberThreshold:
		target = state.ZoneAmber
	default:
		target = state.ZoneGreen
	}
	if target == current {
		return current, false
	}
	if now.Sub(since) < config.Dwell {
		return current, true
	}
	return target, false
}

// #endregion zone-machine

// #region field-updates
// applyExplicit handles signals that set a field directly rather than smoothing it.
func applyExplicit(s *state.OrchestratorState, sig signal.Signal) {
	switch p := sig.Payload.(type) {
	case *signal.CapacityPayload:
		if p.Bandwidth != nil {
			s.ParentBandwidth = state.Clamp01(*p.Bandwidth)
		}
	case *signal.DensityPayload:
		if p.Density != nil {
			s.ScheduleDensity = state.Clamp01(*p.Density)
		}
	case *signal.PreferencePayload:
		if p.DailyAttentionBudgetMin != nil {
			s.DailyAttentionBudgetMin = max(0, *p.DailyAttentionBudgetMin)
		}
		if p.MaxNotificationsPerHour != nil {
			s.MaxNotificationsPerHour = max(0, *p.MaxNotificationsPerHour)
		}
		if p.ClearQuietHours {
			s.QuietHoursLocal = nil
		} else if q := p.QuietHours; q != nil {
			_, okStart := state.ParseClock(q.Start)
			_, okEnd := state.ParseClock(q.End)
			if okStart && okEnd {
				cp := *q
				s.QuietHoursLocal = &cp
			}
		}
		if p.Timezone != "" {
			if _, err := time.LoadLocation(p.Timezone); err == nil {
				s.Timezone = p.Timezone
			}
		}
	}
}

// nextChildRisk pushes risk up on child flags, sets it on an explicit context
// update, and otherwise decays it toward the baseline.
func nextChildRisk(current float64, sig signal.Signal, f features.Vector, config ReducerConfig) float64 {
	if sig.Type.IsChildRiskFlag() {
		delta := state.Clamp01(0.55*f.Impact + 0.45*f.EmotionHeat)
		return state.EWMA(current, delta, config.SlowAlpha)
	}
	if p, ok := sig.Payload.(*signal.ChildContextPayload); ok && p.Risk != nil {
		return state.Clamp01(*p.Risk)
	}
	return state.EWMA(current, config.RiskBaseline, config.RiskDecayAlpha)
}

// #endregion field-updates
