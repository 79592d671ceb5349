package planner

import "time"

// #region daily-config
// DailyConfig bounds the daily plan.
type DailyConfig struct {
	Horizon         time.Duration // deadline look-ahead (default 24h)
	MaxDeadlines    int           // per-deadline candidate pools (default 10)
	K               int           // actions per plan (default 3)
	RedBudgetFactor float64       // budget multiplier in red (default 0.5)
	MinRedBudget    int           // floor for the red budget (default 5)
	HistoryLimit    int           // recent signals scanned for deadlines (default 200)
}

// DefaultDailyConfig returns the stock daily planner settings.
func DefaultDailyConfig() DailyConfig {
	return DailyConfig{
		Horizon:         24 * time.Hour,
		MaxDeadlines:    10,
		K:               3,
		RedBudgetFactor: 0.5,
		MinRedBudget:    5,
		HistoryLimit:    200,
	}
}

// #endregion daily-config

// #region weekly-config
// WeeklyConfig holds the brief thresholds and the tuning steps.
type WeeklyConfig struct {
	Window time.Duration // trailing window for counts (default 7 days)

	HighlightDeadlines int // deadline count above which a highlight is emitted (default 3)
	HighlightForms     int // form count above which a highlight is emitted (default 2)

	StrainRisk  float64 // relationship strain risk threshold (default 0.6)
	ChildRisk   float64 // child risk threshold (default 0.6)
	TensionRisk float64 // tension risk threshold (default 0.6)
	DriftSlack  float64 // slack in green that counts as drift (default 0.7)

	TightenTension float64 // tension at or above tightens (default 0.6)
	LoosenTension  float64 // tension below, with enough slack, loosens (default 0.35)
	LoosenSlack    float64 // default 0.6

	BudgetShrink     float64 // multiplier on tighten (default 0.8)
	MinBudget        int     // default 5
	MinNotifications int     // default 1
	MaxNotifications int     // ceiling on loosen (default 5)
}

// DefaultWeeklyConfig returns the stock weekly regulator settings.
func DefaultWeeklyConfig() WeeklyConfig {
	return WeeklyConfig{
		Window:             7 * 24 * time.Hour,
		HighlightDeadlines: 3,
		HighlightForms:     2,
		StrainRisk:         0.6,
		ChildRisk:          0.6,
		TensionRisk:        0.6,
		DriftSlack:         0.7,
		TightenTension:     0.6,
		LoosenTension:      0.35,
		LoosenSlack:        0.6,
		BudgetShrink:       0.8,
		MinBudget:          5,
		MinNotifications:   1,
		MaxNotifications:   5,
	}
}

// #endregion weekly-config

const (
	TuneTighten = "tighten"
	TuneLoosen  = "loosen"
	TuneHold    = "hold"
)
