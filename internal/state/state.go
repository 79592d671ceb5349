package state

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// #region math
// Clamp01 restricts v to [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// EWMA moves prev toward x by alpha. The result always lies between prev and x.
func EWMA(prev, x, alpha float64) float64 {
	return Clamp01(alpha*x + (1-alpha)*prev)
}

// #endregion math

// #region indices
// Indices computes tension and slack from the raw fields of s.
func Indices(s OrchestratorState) (tension, slack float64) {
	tension = Clamp01(0.22*s.SchoolPressure +
		0.18*s.BacklogLoad +
		0.22*s.RelationshipStrain +
		0.18*s.ScheduleDensity +
		0.20*s.ChildRisk -
		0.22*s.ParentBandwidth)

	riskBump := 0.0
	if s.ChildRisk > 0.6 {
		riskBump = 1
	}
	slack = Clamp01(0.40*s.EngagementSlack +
		0.30*(1-s.BacklogLoad) +
		0.20*(1-s.SchoolPressure) +
		0.10*riskBump)
	return tension, slack
}

// #endregion indices

// #region new
// New builds the initial state for a family: green zone, indices derived from d.
func New(familyID string, d Defaults, now time.Time) OrchestratorState {
	now = now.UTC()
	s := OrchestratorState{
		FamilyID:                familyID,
		ParentBandwidth:         Clamp01(d.ParentBandwidth),
		SchoolPressure:          Clamp01(d.SchoolPressure),
		BacklogLoad:             Clamp01(d.BacklogLoad),
		RelationshipStrain:      Clamp01(d.RelationshipStrain),
		ChildRisk:               Clamp01(d.ChildRisk),
		EngagementSlack:         Clamp01(d.EngagementSlack),
		ScheduleDensity:         Clamp01(d.ScheduleDensity),
		Zone:                    ZoneGreen,
		ZoneSince:               now,
		DailyAttentionBudgetMin: max(0, d.DailyAttentionBudgetMin),
		MaxNotificationsPerHour: max(0, d.MaxNotificationsPerHour),
		Timezone:                d.Timezone,
		UpdatedAt:               now,
	}
	if d.QuietHours != nil {
		q := *d.QuietHours
		s.QuietHoursLocal = &q
	}
	s.Tension, s.Slack = Indices(s)
	return s
}

// #endregion new

// #region validate
// Validate checks a state read back from storage.
func Validate(s OrchestratorState) error {
	if s.FamilyID == "" {
		return fmt.Errorf("invalid state: familyId required")
	}
	unit := map[string]float64{
		"parentBandwidth":    s.ParentBandwidth,
		"schoolPressure":     s.SchoolPressure,
		"backlogLoad":        s.BacklogLoad,
		"relationshipStrain": s.RelationshipStrain,
		"childRisk":          s.ChildRisk,
		"engagementSlack":    s.EngagementSlack,
		"scheduleDensity":    s.ScheduleDensity,
		"tension":            s.Tension,
		"slack":              s.Slack,
	}
	for name, v := range unit {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("invalid state %s: %s=%v outside [0,1]", s.FamilyID, name, v)
		}
	}
	if !s.Zone.Valid() {
		return fmt.Errorf("invalid state %s: zone %q", s.FamilyID, s.Zone)
	}
	if s.DailyAttentionBudgetMin < 0 || s.MaxNotificationsPerHour < 0 {
		return fmt.Errorf("invalid state %s: negative budget", s.FamilyID)
	}
	if q := s.QuietHoursLocal; q != nil {
		if _, ok := ParseClock(q.Start); !ok {
			return fmt.Errorf("invalid state %s: quiet hours start %q", s.FamilyID, q.Start)
		}
		if _, ok := ParseClock(q.End); !ok {
			return fmt.Errorf("invalid state %s: quiet hours end %q", s.FamilyID, q.End)
		}
	}
	return nil
}

// ParseClock parses HH:MM into minutes after midnight.
func ParseClock(v string) (int, bool) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok {
		return 0, false
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// #endregion validate
