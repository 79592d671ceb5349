package gate

import "time"

// #region reason
// Reason names why a notify_now was held back.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonCooldown        Reason = "cooldown_active"
	ReasonQuietHours      Reason = "quiet_hours"
	ReasonRedZoneThrottle Reason = "red_zone_throttle"
	ReasonRateLimited     Reason = "rate_limited"
)

// #endregion reason

// #region gate-config
// GateConfig holds the urgency thresholds that let a notification through
// quiet hours and the red-zone throttle.
type GateConfig struct {
	QuietHoursUrgency float64 // urgency at or above passes quiet hours (default 0.9)
	RedZoneUrgency    float64 // urgency at or above passes red-zone throttle (default 0.85)
	NotifyCost        float64 // tokens spent per notify_now (default 1)
}

// DefaultGateConfig returns the stock suppression thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		QuietHoursUrgency: 0.9,
		RedZoneUrgency:    0.85,
		NotifyCost:        1,
	}
}

// #endregion gate-config

// #region verdict
// Verdict is the output of a suppression check.
type Verdict struct {
	Suppressed bool
	Reason     Reason
	Bypassed   bool // priority payload skipped every check
	// Bucket is the bucket to keep if notify_now is sent: consumed when the
	// check passed, refilled otherwise.
	Bucket TokenBucket
}

// #endregion verdict

// #region token-bucket
// TokenBucket is a value-typed rate limiter with continuous linear refill.
// Every transition returns a new bucket; nothing mutates in place.
type TokenBucket struct {
	Capacity     float64   `json:"capacity"`
	RefillPerSec float64   `json:"refillPerSec"`
	Tokens       float64   `json:"tokens"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// #endregion token-bucket
