package action

import (
	"time"

	"github.com/google/uuid"

	"github.com/Aimtara/teachmo-sub002/internal/signal"
	"github.com/Aimtara/teachmo-sub002/internal/state"
)

// #region generator
// Generator produces candidate actions. Lanes are additive; restraint always fires.
type Generator struct {
	config GeneratorConfig
	newID  func() string
}

// NewGenerator creates a generator with the given thresholds.
func NewGenerator(config GeneratorConfig) *Generator {
	return &Generator{config: config, newID: func() string { return uuid.New().String() }}
}

// Generate returns the candidate menu for one reduced state and signal.
func (g *Generator) Generate(in Input, now time.Time) []Action {
	f := in.Features
	zone := in.State.Zone
	var out []Action

	if in.Signal.Common().IsPriority() || f.Urgency >= g.config.DueSoonUrgency {
		out = append(out, g.build(in, now, LanePriority, notifyNow))
	}
	if zone == state.ZoneAmber || zone == state.ZoneRed {
		out = append(out, g.build(in, now, LaneBrake, addToDigest))
		if f.EmotionHeat >= g.config.DeescalateHeat && in.Signal.Source == signal.SourceSchool {
			out = append(out, g.build(in, now, LaneDeescalate, draftMessage))
		}
	}
	if in.Signal.Type == signal.TypeFormRequest || in.Signal.Type == signal.TypeAssignmentDeadline {
		minMinutes := g.config.MinMicroTaskMin
		out = append(out, g.build(in, now, LaneExecute, func(in Input) (Type, blend) {
			return createMicroTask(in, minMinutes)
		}))
	}
	if in.State.Slack >= g.config.SlackThreshold && zone == state.ZoneGreen {
		out = append(out, g.build(in, now, LaneSlack, proposeMeeting))
		out = append(out, g.build(in, now, LaneConnection, suggestConnectionMoment))
	}
	out = append(out, g.build(in, now, LaneRestraint, doNothing))
	return out
}

// Generate runs the default generator.
func Generate(in Input, now time.Time) []Action {
	return NewGenerator(DefaultGeneratorConfig()).Generate(in, now)
}

// #endregion generator

// #region build
func (g *Generator) build(in Input, now time.Time, lane Lane, fn func(Input) (Type, blend)) Action {
	t, b := fn(in)
	meta := map[string]any{
		"signalType": string(in.Signal.Type),
		"zone":       string(in.State.Zone),
	}
	if in.Signal.ID != "" {
		meta["signalId"] = in.Signal.ID
	}
	if d := in.Signal.Common().Deadline; d != "" {
		meta["deadline"] = d
	}
	return Action{
		ID:                      g.newID(),
		FamilyID:                in.State.FamilyID,
		CreatedAt:               now.UTC(),
		Type:                    t,
		Lane:                    lane,
		Title:                   title(t, in.Signal),
		Summary:                 summary(t, in),
		KidBenefit:              state.Clamp01(b.kid),
		RelationshipBenefit:     state.Clamp01(b.relationship),
		SchoolResolutionBenefit: state.Clamp01(b.school),
		CognitiveCost:           state.Clamp01(b.cognitive),
		EmotionalCost:           state.Clamp01(b.emotional),
		TimeCostMin:             max(0, b.minutes),
		ParentBurden:            state.Clamp01(b.parent),
		TeacherBurden:           state.Clamp01(b.teacher),
		Meta:                    meta,
	}
}

// #endregion build
