package update

import (
	"time"

	"github.com/Aimtara/teachmo-sub002/internal/state"
)

// #region reducer-config
// ReducerConfig holds smoothing rates, relief targets and zone thresholds.
type ReducerConfig struct {
	FastAlpha      float64 // school pressure, backlog (default 0.35)
	SlowAlpha      float64 // child risk, relationship strain (default 0.12)
	DriftAlpha     float64 // engagement drift toward load-implied slack (default 0.05)
	RiskDecayAlpha float64 // child risk decay toward baseline on non-risk signals (default 0.05)

	HomeSlackTarget float64 // home signals nudge engagementSlack here (default 0.2)
	RiskBaseline    float64 // child risk decays here (default 0.2)
	BacklogRelief   float64 // action_completed target for backlog (default 0.1)
	StrainRelief    float64 // action_completed target for strain (default 0.1)

	AmberThreshold float64       // tension at or above enters amber (default 0.45)
	RedThreshold   float64       // tension at or above enters red immediately (default 0.70)
	Dwell          time.Duration // minimum time in a zone before a non-red move (default 5m)
	Cooldown       time.Duration // cooldown opened on entering red (default 60m)
}

// DefaultReducerConfig returns the stock smoothing and hysteresis parameters.
func DefaultReducerConfig() ReducerConfig {
	return ReducerConfig{
		FastAlpha:       0.35,
		SlowAlpha:       0.12,
		DriftAlpha:      0.05,
		RiskDecayAlpha:  0.05,
		HomeSlackTarget: 0.2,
		RiskBaseline:    0.2,
		BacklogRelief:   0.1,
		StrainRelief:    0.1,
		AmberThreshold:  0.45,
		RedThreshold:    0.70,
		Dwell:           5 * time.Minute,
		Cooldown:        60 * time.Minute,
	}
}

// #endregion reducer-config

// #region result
// Transition records a zone change produced by one reduction.
type Transition struct {
	From state.Zone
	To   state.Zone
	At   time.Time
}

// Result bundles everything returned by Reduce.
type Result struct {
	State      state.OrchestratorState
	Transition *Transition // nil when the zone did not change
	// HeldByDwell is true when tension asked for a different zone but dwell blocked it.
	HeldByDwell bool
}

// #endregion result
