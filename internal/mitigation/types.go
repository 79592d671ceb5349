package mitigation

import (
	"time"

	"github.com/Aimtara/teachmo-sub002/internal/store"
)

// TypeDuplicateStorm is the mitigation applied when duplicate signals spike.
const TypeDuplicateStorm = "duplicate_signal_storm"

// #region config
// Config holds the trigger threshold and the patch values.
type Config struct {
	Threshold               int           // duplicate count at or above triggers (default 15)
	Cooldown                time.Duration // cooldown and record lifetime (default 60m)
	MaxNotificationsCeiling int           // cap on maxNotificationsPerHour while active (default 1)
}

// DefaultConfig returns the stock storm mitigation settings.
func DefaultConfig() Config {
	return Config{
		Threshold:               15,
		Cooldown:                60 * time.Minute,
		MaxNotificationsCeiling: 1,
	}
}

// #endregion config

// #region result
// Reason explains an Apply outcome.
type Reason string

const (
	ReasonBelowThreshold Reason = "below_threshold"
	ReasonNoState        Reason = "no_state"
	ReasonAlreadyActive  Reason = "already_active"
	ReasonApplied        Reason = "applied"
)

// ApplyResult is returned by Apply. Only an I/O failure is an error; every
// other outcome is reported here.
type ApplyResult struct {
	Applied bool                    `json:"applied"`
	Reason  Reason                  `json:"reason"`
	Record  *store.MitigationRecord `json:"record,omitempty"`
}

// ReapResult is returned by Reap.
type ReapResult struct {
	Cleared int `json:"cleared"`
	// Skipped counts restored records that kept at least one field another writer changed.
	Skipped int `json:"skipped"`
}

// #endregion result
