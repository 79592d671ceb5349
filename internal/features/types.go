package features

import "github.com/Aimtara/teachmo-sub002/internal/signal"

// #region vector
// Vector is the normalized feature set derived from one signal. Every field is in [0,1].
type Vector struct {
	Urgency       float64 `json:"urgency"`
	Impact        float64 `json:"impact"`
	Effort        float64 `json:"effort"`
	EmotionHeat   float64 `json:"emotionHeat"`
	Blocking      float64 `json:"blocking"`
	ParentBurden  float64 `json:"parentBurden"`
	TeacherBurden float64 `json:"teacherBurden"`
}

// #endregion vector

// #region config
// ExtractorConfig holds the tuning knobs for heuristic extraction.
type ExtractorConfig struct {
	// Base maps each signal type to its starting vector. Types absent here use Fallback.
	Base     map[signal.Type]Vector
	Fallback Vector

	// DeadlineHalfLifeHours is the lead time at which deadline urgency reaches 0.5.
	DeadlineHalfLifeHours float64
	// MinutesForFullEffort is the estimate at which effort saturates to 1.
	MinutesForFullEffort float64
}

// DefaultExtractorConfig returns the stock base table.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		Base:                  defaultBase(),
		Fallback:              Vector{Urgency: 0.3, Impact: 0.3, Effort: 0.2, EmotionHeat: 0.2, Blocking: 0.1, ParentBurden: 0.2, TeacherBurden: 0.1},
		DeadlineHalfLifeHours: 12,
		MinutesForFullEffort:  30,
	}
}

func defaultBase() map[signal.Type]Vector {
	v := func(u, i, e, h, b, pb, tb float64) Vector {
		return Vector{Urgency: u, Impact: i, Effort: e, EmotionHeat: h, Blocking: b, ParentBurden: pb, TeacherBurden: tb}
	}
	return map[signal.Type]Vector{
		signal.TypeAssignmentDeadline: v(0.5, 0.5, 0.4, 0.2, 0.3, 0.4, 0.1),
		signal.TypeFormRequest:        v(0.5, 0.4, 0.2, 0.1, 0.5, 0.5, 0.1),
		signal.TypeTeacherMessage:     v(0.4, 0.4, 0.2, 0.3, 0.2, 0.4, 0.3),
		signal.TypeGradeUpdate:        v(0.3, 0.6, 0.2, 0.4, 0.1, 0.3, 0.1),
		signal.TypeAttendanceFlag:     v(0.6, 0.7, 0.2, 0.5, 0.2, 0.4, 0.2),
		signal.TypeBehaviorNote:       v(0.5, 0.6, 0.2, 0.5, 0.1, 0.4, 0.3),
		signal.TypeEventAnnouncement:  v(0.2, 0.2, 0.1, 0.1, 0.0, 0.2, 0.0),
		signal.TypeSchoolClosure:      v(0.8, 0.6, 0.3, 0.2, 0.7, 0.7, 0.1),
		signal.TypeScheduleChange:     v(0.4, 0.3, 0.2, 0.1, 0.3, 0.3, 0.1),

		signal.TypeParentCapacityUpdate:   v(0.1, 0.2, 0.0, 0.1, 0.0, 0.0, 0.0),
		signal.TypeCalendarDensityUpdate:  v(0.1, 0.2, 0.0, 0.1, 0.0, 0.0, 0.0),
		signal.TypeParentPreferenceUpdate: v(0.1, 0.1, 0.0, 0.0, 0.0, 0.0, 0.0),
		signal.TypeChildContextUpdate:     v(0.2, 0.4, 0.1, 0.3, 0.0, 0.2, 0.0),
		signal.TypeHomeRoutineCheckin:     v(0.1, 0.2, 0.1, 0.1, 0.0, 0.1, 0.0),
		signal.TypeChildMoodReport:        v(0.3, 0.4, 0.1, 0.5, 0.0, 0.2, 0.0),
		signal.TypeActionCompleted:        v(0.0, 0.2, 0.0, 0.0, 0.0, 0.0, 0.0),
		signal.TypeActionDismissed:        v(0.0, 0.1, 0.0, 0.1, 0.0, 0.0, 0.0),

		signal.TypeSystemDailyTick:  v(0.3, 0.3, 0.2, 0.1, 0.1, 0.2, 0.0),
		signal.TypeSystemWeeklyTick: v(0.2, 0.3, 0.2, 0.1, 0.0, 0.2, 0.0),
		signal.TypeAnomalyDetected:  v(0.2, 0.2, 0.0, 0.0, 0.0, 0.0, 0.0),
		signal.TypeDigestDelivered:  v(0.1, 0.1, 0.1, 0.0, 0.0, 0.1, 0.0),
	}
}

// #endregion config
