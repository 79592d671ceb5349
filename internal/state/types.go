package state

import (
	"time"
	_ "time/tzdata" // family timezones must resolve on hosts without zoneinfo
)

// #region zone
// Zone is the discrete load state that governs how aggressively the engine throttles.
type Zone string

const (
	ZoneGreen Zone = "green"
	ZoneAmber Zone = "amber"
	ZoneRed   Zone = "red"
)

// Valid reports whether z is a known zone.
func (z Zone) Valid() bool {
	return z == ZoneGreen || z == ZoneAmber || z == ZoneRed
}

// Rank orders zones by urgency: green < amber < red.
func (z Zone) Rank() int {
	switch z {
	case ZoneAmber:
		return 1
	case ZoneRed:
		return 2
	default:
		return 0
	}
}

// #endregion zone

// #region quiet-hours
// QuietHours is a local HH:MM window. End before Start wraps past midnight.
type QuietHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// #endregion quiet-hours

// #region orchestrator-state
// OrchestratorState is the single homeostatic record kept per family.
// All float fields are kept in [0,1].
type OrchestratorState struct {
	FamilyID string `json:"familyId"`

	// Raw inputs
	ParentBandwidth    float64 `json:"parentBandwidth"`
	SchoolPressure     float64 `json:"schoolPressure"`
	BacklogLoad        float64 `json:"backlogLoad"`
	RelationshipStrain float64 `json:"relationshipStrain"`
	ChildRisk          float64 `json:"childRisk"`
	EngagementSlack    float64 `json:"engagementSlack"`
	ScheduleDensity    float64 `json:"scheduleDensity"`

	// Derived indices
	Tension float64 `json:"tension"`
	Slack   float64 `json:"slack"`

	Zone          Zone       `json:"zone"`
	ZoneSince     time.Time  `json:"zoneSince"`
	CooldownUntil *time.Time `json:"cooldownUntil"`

	DailyAttentionBudgetMin int         `json:"dailyAttentionBudgetMin"`
	MaxNotificationsPerHour int         `json:"maxNotificationsPerHour"`
	QuietHoursLocal         *QuietHours `json:"quietHoursLocal"`
	Timezone                string      `json:"timezone,omitempty"`

	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so pointer fields are never shared between versions.
func (s OrchestratorState) Clone() OrchestratorState {
	out := s
	if s.CooldownUntil != nil {
		t := *s.CooldownUntil
		out.CooldownUntil = &t
	}
	if s.QuietHoursLocal != nil {
		q := *s.QuietHoursLocal
		out.QuietHoursLocal = &q
	}
	return out
}

// InCooldown reports whether a cooldown window is still open at now.
func (s OrchestratorState) InCooldown(now time.Time) bool {
	return s.CooldownUntil != nil && s.CooldownUntil.After(now)
}

// Location resolves Timezone, falling back to UTC.
func (s OrchestratorState) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// #endregion orchestrator-state

// #region defaults
// Defaults holds the values a brand-new family state starts with.
type Defaults struct {
	ParentBandwidth         float64
	SchoolPressure          float64
	BacklogLoad             float64
	RelationshipStrain      float64
	ChildRisk               float64
	EngagementSlack         float64
	ScheduleDensity         float64
	DailyAttentionBudgetMin int
	MaxNotificationsPerHour int
	QuietHours              *QuietHours
	Timezone                string
}

// DefaultDefaults returns the stock starting point for a new family.
func DefaultDefaults() Defaults {
	return Defaults{
		ParentBandwidth:         0.6,
		SchoolPressure:          0.3,
		BacklogLoad:             0.3,
		RelationshipStrain:      0.2,
		ChildRisk:               0.2,
		EngagementSlack:         0.5,
		ScheduleDensity:         0.4,
		DailyAttentionBudgetMin: 30,
		MaxNotificationsPerHour: 3,
		QuietHours:              &QuietHours{Start: "21:00", End: "07:00"},
		Timezone:                "UTC",
	}
}

// #endregion defaults
