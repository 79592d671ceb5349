package signal

import (
	"time"

	"github.com/Aimtara/teachmo-sub002/internal/state"
)

// #region source
// Source identifies which side of the ecosystem emitted a signal.
type Source string

const (
	SourceSchool Source = "school"
	SourceHome   Source = "home"
	SourceSystem Source = "system"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceSchool, SourceHome, SourceSystem:
		return true
	}
	return false
}

// #endregion source

// #region type
// Type is the closed set of event kinds the engine understands.
type Type string

const (
	TypeAssignmentDeadline Type = "assignment_deadline"
	TypeFormRequest        Type = "form_request"
	TypeTeacherMessage     Type = "teacher_message"
	TypeGradeUpdate        Type = "grade_update"
	TypeAttendanceFlag     Type = "attendance_flag"
	TypeBehaviorNote       Type = "behavior_note"
	TypeEventAnnouncement  Type = "event_announcement"
	TypeSchoolClosure      Type = "school_closure"
	TypeScheduleChange     Type = "schedule_change"

	TypeParentCapacityUpdate   Type = "parent_capacity_update"
	TypeCalendarDensityUpdate  Type = "calendar_density_update"
	TypeParentPreferenceUpdate Type = "parent_preference_update"
	TypeChildContextUpdate     Type = "child_context_update"
	TypeHomeRoutineCheckin     Type = "home_routine_checkin"
	TypeChildMoodReport        Type = "child_mood_report"
	TypeActionCompleted        Type = "action_completed"
	TypeActionDismissed        Type = "action_dismissed"

	TypeSystemDailyTick  Type = "system_daily_tick"
	TypeSystemWeeklyTick Type = "system_weekly_tick"
	TypeAnomalyDetected  Type = "anomaly_detected"
	TypeDigestDelivered  Type = "digest_delivered"
)

// AllTypes lists every known signal type in declaration order.
var AllTypes = []Type{
	TypeAssignmentDeadline, TypeFormRequest, TypeTeacherMessage, TypeGradeUpdate,
	TypeAttendanceFlag, TypeBehaviorNote, TypeEventAnnouncement, TypeSchoolClosure,
	TypeScheduleChange,
	TypeParentCapacityUpdate, TypeCalendarDensityUpdate, TypeParentPreferenceUpdate,
	TypeChildContextUpdate, TypeHomeRoutineCheckin, TypeChildMoodReport,
	TypeActionCompleted, TypeActionDismissed,
	TypeSystemDailyTick, TypeSystemWeeklyTick, TypeAnomalyDetected, TypeDigestDelivered,
}

// Valid reports whether t is one of the known signal types.
func (t Type) Valid() bool {
	for _, k := range AllTypes {
		if k == t {
			return true
		}
	}
	return false
}

// IsChildRiskFlag reports whether t is one of the per-child risk flags.
func (t Type) IsChildRiskFlag() bool {
	return t == TypeAttendanceFlag || t == TypeBehaviorNote || t == TypeGradeUpdate
}

// #endregion type

// #region feature-overrides
// FeatureOverrides carries caller-supplied feature values. Any non-nil field
// replaces the extracted value unconditionally.
type FeatureOverrides struct {
	Urgency       *float64 `json:"urgency,omitempty"`
	Impact        *float64 `json:"impact,omitempty"`
	Effort        *float64 `json:"effort,omitempty"`
	EmotionHeat   *float64 `json:"emotionHeat,omitempty"`
	Blocking      *float64 `json:"blocking,omitempty"`
	ParentBurden  *float64 `json:"parentBurden,omitempty"`
	TeacherBurden *float64 `json:"teacherBurden,omitempty"`
}

// #endregion feature-overrides

// #region signal
// Signal is the validated envelope for one inbound event. It is immutable once stored.
type Signal struct {
	ID             string
	FamilyID       string
	ChildID        string
	Source         Source
	Type           Type
	Timestamp      time.Time
	Features       *FeatureOverrides
	Payload        Payload
	IdempotencyKey string
}

// Common returns the shared payload fields, never nil.
func (s Signal) Common() *Common {
	if s.Payload == nil {
		return &Common{}
	}
	return s.Payload.Base()
}

// #endregion signal

// #region payload
// Payload is the tagged union of per-type payloads. Every variant embeds Common.
type Payload interface {
	Base() *Common
}

// Common holds the payload fields any signal type may carry, plus Extra for
// keys this version does not model.
type Common struct {
	Title            string   `json:"title,omitempty"`
	Summary          string   `json:"summary,omitempty"`
	Deadline         string   `json:"deadline,omitempty"`
	Sentiment        *float64 `json:"sentiment,omitempty"`
	EstimatedMinutes *float64 `json:"estimatedMinutes,omitempty"`
	Priority         string   `json:"priority,omitempty"`
	IsSafety         bool     `json:"isSafety,omitempty"`
	IsCompliance     bool     `json:"isCompliance,omitempty"`

	Extra map[string]any `json:"-"`
}

// Base implements Payload.
func (c *Common) Base() *Common { return c }

// IsPriority reports whether the payload bypasses notification throttling.
func (c *Common) IsPriority() bool {
	return c.IsSafety || c.IsCompliance || c.Priority == "high"
}

// DeadlineTime parses Deadline as RFC 3339 or a bare date. ok is false when
// absent or unparseable.
func (c *Common) DeadlineTime() (time.Time, bool) {
	if c.Deadline == "" {
		return time.Time{}, false
	}
	return ParseTimestamp(c.Deadline)
}

// BasicPayload is used by types with no fields beyond Common.
type BasicPayload struct {
	Common
}

// DeadlinePayload backs assignment_deadline and form_request.
type DeadlinePayload struct {
	Common
	Course string `json:"course,omitempty"`
}

// MessagePayload backs teacher_message.
type MessagePayload struct {
	Common
	TeacherName   string `json:"teacherName,omitempty"`
	RequiresReply bool   `json:"requiresReply,omitempty"`
}

// RiskFlagPayload backs attendance_flag, behavior_note and grade_update.
type RiskFlagPayload struct {
	Common
	Severity *float64 `json:"severity,omitempty"`
}

// CapacityPayload backs parent_capacity_update.
type CapacityPayload struct {
	Common
	Bandwidth *float64 `json:"bandwidth,omitempty"`
}

// DensityPayload backs calendar_density_update.
type DensityPayload struct {
	Common
	Density *float64 `json:"density,omitempty"`
}

// PreferencePayload backs parent_preference_update.
type PreferencePayload struct {
	Common
	DailyAttentionBudgetMin *int              `json:"dailyAttentionBudgetMin,omitempty"`
	MaxNotificationsPerHour *int              `json:"maxNotificationsPerHour,omitempty"`
	QuietHours              *state.QuietHours `json:"quietHours,omitempty"`
	ClearQuietHours         bool              `json:"clearQuietHours,omitempty"`
	Timezone                string            `json:"timezone,omitempty"`
}

// ChildContextPayload backs child_context_update. Risk, when present, is authoritative.
type ChildContextPayload struct {
	Common
	Risk *float64 `json:"risk,omitempty"`
}

// CompletionPayload backs action_completed and action_dismissed.
type CompletionPayload struct {
	Common
	ActionID string `json:"actionId,omitempty"`
}

// AnomalyPayload backs anomaly_detected.
type AnomalyPayload struct {
	Common
	AnomalyType string `json:"anomalyType,omitempty"`
	Count       int    `json:"count,omitempty"`
}

// DeadlineRef is one upcoming deadline listed on a tick.
type DeadlineRef struct {
	SignalID string `json:"signalId"`
	Type     Type   `json:"type"`
	Title    string `json:"title,omitempty"`
	Deadline string `json:"deadline"`
}

// TickPayload backs system_daily_tick and system_weekly_tick.
type TickPayload struct {
	Common
	Deadlines []DeadlineRef `json:"deadlines,omitempty"`
}

// NewPayload returns an empty payload of the variant for t.
func NewPayload(t Type) Payload {
	switch t {
	case TypeAssignmentDeadline, TypeFormRequest:
		return &DeadlinePayload{}
	case TypeTeacherMessage:
		return &MessagePayload{}
	case TypeAttendanceFlag, TypeBehaviorNote, TypeGradeUpdate:
		return &RiskFlagPayload{}
	case TypeParentCapacityUpdate:
		return &CapacityPayload{}
	case TypeCalendarDensityUpdate:
		return &DensityPayload{}
	case TypeParentPreferenceUpdate:
		return &PreferencePayload{}
	case TypeChildContextUpdate:
		return &ChildContextPayload{}
	case TypeActionCompleted, TypeActionDismissed:
		return &CompletionPayload{}
	case TypeAnomalyDetected:
		return &AnomalyPayload{}
	case TypeSystemDailyTick, TypeSystemWeeklyTick:
		return &TickPayload{}
	default:
		return &BasicPayload{}
	}
}

// #endregion payload
