package features

import (
	"time"

	"github.com/Aimtara/teachmo-sub002/internal/signal"
	"github.com/Aimtara/teachmo-sub002/internal/state"
)

// #region extractor
// Extractor maps a signal to its feature vector. It holds no mutable state.
type Extractor struct {
	config ExtractorConfig
}

// NewExtractor creates an Extractor. A nil Base table falls back to the defaults.
func NewExtractor(config ExtractorConfig) *Extractor {
	if config.Base == nil {
		config.Base = defaultBase()
	}
	if config.DeadlineHalfLifeHours <= 0 {
		config.DeadlineHalfLifeHours = 12
	}
	if config.MinutesForFullEffort <= 0 {
		config.MinutesForFullEffort = 30
	}
	return &Extractor{config: config}
}

// #endregion extractor

// #region extract
// Extract computes the feature vector for sig as of now: base table, payload
// heuristics, per-type floors, then caller overrides.
func (e *Extractor) Extract(sig signal.Signal, now time.Time) Vector {
	v, ok := e.config.Base[sig.Type]
	if !ok {
		v = e.config.Fallback
	}
	c := sig.Common()

	if deadline, ok := c.DeadlineTime(); ok {
		v.Urgency = e.deadlineUrgency(deadline, now)
	}
	if c.Sentiment != nil && *c.Sentiment >= -1 && *c.Sentiment <= 1 {
		v.EmotionHeat = state.Clamp01((1 - *c.Sentiment) / 2)
	}
	if c.EstimatedMinutes != nil {
		v.Effort = state.Clamp01(*c.EstimatedMinutes / e.config.MinutesForFullEffort)
	}

	v = applyTypeFloors(sig, v)
	v = applyOverrides(sig.Features, v)
	return clampVector(v)
}

// deadlineUrgency is 1 once overdue and decays as 1/(1+h/halfLife) with lead time.
func (e *Extractor) deadlineUrgency(deadline, now time.Time) float64 {
	if !deadline.After(now) {
		return 1
	}
	hours := deadline.Sub(now).Hours()
	return state.Clamp01(1 / (1 + hours/e.config.DeadlineHalfLifeHours))
}

// #endregion extract

// #region type-floors
// applyTypeFloors raises fields to per-type minimums. Child-context risk is
// the one authoritative assignment.
func applyTypeFloors(sig signal.Signal, v Vector) Vector {
	switch p := sig.Payload.(type) {
	case *signal.DeadlinePayload:
		if sig.Type == signal.TypeFormRequest {
			v.Blocking = max(v.Blocking, 0.6)
			v.ParentBurden = max(v.ParentBurden, 0.5)
		} else {
			v.Impact = max(v.Impact, 0.5)
		}
	case *signal.MessagePayload:
		if p.RequiresReply {
			v.Urgency = max(v.Urgency, 0.55)
			v.TeacherBurden = max(v.TeacherBurden, 0.35)
		}
	case *signal.RiskFlagPayload:
		if p.Severity != nil {
			v.Impact = max(v.Impact, state.Clamp01(*p.Severity))
		}
		v.EmotionHeat = max(v.EmotionHeat, 0.4)
	case *signal.ChildContextPayload:
		if p.Risk != nil {
			v.Impact = state.Clamp01(*p.Risk)
		}
	case *signal.TickPayload:
		if n := len(p.Deadlines); n > 0 {
			v.Urgency = max(v.Urgency, state.Clamp01(0.3+0.1*float64(n)))
		}
	}
	if sig.Type == signal.TypeSchoolClosure {
		v.Urgency = max(v.Urgency, 0.85)
		v.Blocking = max(v.Blocking, 0.7)
	}
	return v
}

// #endregion type-floors

// #region helpers
func applyOverrides(o *signal.FeatureOverrides, v Vector) Vector {
	if o == nil {
		return v
	}
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&v.Urgency, o.Urgency)
	set(&v.Impact, o.Impact)
	set(&v.Effort, o.Effort)
	set(&v.EmotionHeat, o.EmotionHeat)
	set(&v.Blocking, o.Blocking)
	set(&v.ParentBurden, o.ParentBurden)
	set(&v.TeacherBurden, o.TeacherBurden)
	return v
}

func clampVector(v Vector) Vector {
	return Vector{
		Urgency:       state.Clamp01(v.Urgency),
		Impact:        state.Clamp01(v.Impact),
		Effort:        state.Clamp01(v.Effort),
		EmotionHeat:   state.Clamp01(v.EmotionHeat),
		Blocking:      state.Clamp01(v.Blocking),
		ParentBurden:  state.Clamp01(v.ParentBurden),
		TeacherBurden: state.Clamp01(v.TeacherBurden),
	}
}

// #endregion helpers
