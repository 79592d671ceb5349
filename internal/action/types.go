package action

import "time"

// #region action-type
// Type enumerates the kinds of action the engine can surface.
type Type string

const (
	TypeNotifyNow               Type = "notify_now"
	TypeAddToDigest             Type = "add_to_digest"
	TypeDraftMessage            Type = "draft_message"
	TypeCreateMicroTask         Type = "create_micro_task"
	TypeProposeMeeting          Type = "propose_meeting"
	TypeSuggestConnectionMoment Type = "suggest_connection_moment"
	TypeDoNothing               Type = "do_nothing"
)

// Valid reports whether t is a known action type.
func (t Type) Valid() bool {
	switch t {
	case TypeNotifyNow, TypeAddToDigest, TypeDraftMessage, TypeCreateMicroTask,
		TypeProposeMeeting, TypeSuggestConnectionMoment, TypeDoNothing:
		return true
	}
	return false
}

// #endregion action-type

// #region lane
// Lane names the generator rule that produced a candidate.
type Lane string

const (
	LanePriority   Lane = "priority"
	LaneBrake      Lane = "brake"
	LaneDeescalate Lane = "deescalate"
	LaneExecute    Lane = "execute"
	LaneSlack      Lane = "slack"
	LaneConnection Lane = "connection"
	LaneRestraint  Lane = "restraint"
)

// #endregion lane

// #region action
// Action is one candidate. Benefits, costs and burdens are in [0,1];
// TimeCostMin is whole minutes of parent attention.
type Action struct {
	ID        string    `json:"id"`
	FamilyID  string    `json:"familyId"`
	CreatedAt time.Time `json:"createdAt"`
	Type      Type      `json:"type"`
	Lane      Lane      `json:"lane"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`

	KidBenefit              float64 `json:"kidBenefit"`
	RelationshipBenefit     float64 `json:"relationshipBenefit"`
	SchoolResolutionBenefit float64 `json:"schoolResolutionBenefit"`
	CognitiveCost           float64 `json:"cognitiveCost"`
	EmotionalCost           float64 `json:"emotionalCost"`
	TimeCostMin             int     `json:"timeCostMin"`
	ParentBurden            float64 `json:"parentBurden"`
	TeacherBurden           float64 `json:"teacherBurden"`

	Meta map[string]any `json:"meta,omitempty"`
}

// #endregion action

// #region generator-config
// GeneratorConfig holds the lane trigger thresholds.
type GeneratorConfig struct {
	DueSoonUrgency  float64 // urgency at or above emits notify_now (default 0.75)
	DeescalateHeat  float64 // emotionHeat at or above emits draft_message under load (default 0.65)
	SlackThreshold  float64 // slack at or above in green emits connection lanes (default 0.65)
	MinMicroTaskMin int     // floor on micro task time cost (default 3)
}

// DefaultGeneratorConfig returns the stock lane thresholds.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		DueSoonUrgency:  0.75,
		DeescalateHeat:  0.65,
		SlackThreshold:  0.65,
		MinMicroTaskMin: 3,
	}
}

// #endregion generator-config
