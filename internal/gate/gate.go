package gate

import (
	"time"

	"github.com/Aimtara/teachmo-sub002/internal/features"
	"github.com/Aimtara/teachmo-sub002/internal/signal"
	"github.com/Aimtara/teachmo-sub002/internal/state"
)

// #region bucket
// NewBucket builds a full bucket sized to the family's hourly notification cap.
func NewBucket(s state.OrchestratorState, now time.Time) TokenBucket {
	capacity := float64(max(0, s.MaxNotificationsPerHour))
	return TokenBucket{
		Capacity:     capacity,
		RefillPerSec: capacity / 3600,
		Tokens:       capacity,
		UpdatedAt:    now,
	}
}

// Refill adds tokens for the time elapsed since UpdatedAt, capped at Capacity.
// Refilling twice at the same instant is a no-op.
func (b TokenBucket) Refill(now time.Time) TokenBucket {
	elapsed := now.Sub(b.UpdatedAt).Seconds()
	if elapsed <= 0 {
		return b
	}
	b.Tokens = min(b.Capacity, b.Tokens+elapsed*b.RefillPerSec)
	b.UpdatedAt = now
	return b
}

// TryConsume refills, then takes cost tokens if all of them are available.
// On failure the refilled bucket is returned and nothing is taken.
func (b TokenBucket) TryConsume(cost float64, now time.Time) (TokenBucket, bool) {
	b = b.Refill(now)
	if b.Tokens < cost {
		return b, false
	}
	b.Tokens -= cost
	return b, true
}

// Resize adapts a bucket to a new capacity without granting extra tokens.
func (b TokenBucket) Resize(capacity int) TokenBucket {
	c := float64(max(0, capacity))
	if c == b.Capacity {
		return b
	}
	b.Capacity = c
	b.RefillPerSec = c / 3600
	b.Tokens = min(b.Tokens, c)
	return b
}

// #endregion bucket

// #region gate
// Gate decides whether a notify_now action may be sent.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Evaluate applies suppression checks in precedence order; the first match wins.
func (g *Gate) Evaluate(s state.OrchestratorState, sig signal.Signal, f features.Vector, bucket TokenBucket, now time.Time) Verdict {
	if sig.Common().IsPriority() {
		next, _ := bucket.TryConsume(g.config.NotifyCost, now)
		return Verdict{Bypassed: true, Bucket: next}
	}
	if s.InCooldown(now) {
		return suppressed(ReasonCooldown, bucket.Refill(now))
	}
	if f.Urgency < g.config.QuietHoursUrgency && InQuietHours(s.QuietHoursLocal, s.Location(), now) {
		return suppressed(ReasonQuietHours, bucket.Refill(now))
	}
	if s.Zone == state.ZoneRed && f.Urgency < g.config.RedZoneUrgency {
		return suppressed(ReasonRedZoneThrottle, bucket.Refill(now))
	}
	next, ok := bucket.TryConsume(g.config.NotifyCost, now)
	if !ok {
		return suppressed(ReasonRateLimited, next)
	}
	return Verdict{Bucket: next}
}

// ShouldSuppressNotifyNow evaluates with the default thresholds.
func ShouldSuppressNotifyNow(s state.OrchestratorState, sig signal.Signal, f features.Vector, bucket TokenBucket, now time.Time) Verdict {
	return NewGate(DefaultGateConfig()).Evaluate(s, sig, f, bucket, now)
}

func suppressed(reason Reason, b TokenBucket) Verdict {
	return Verdict{Suppressed: true, Reason: reason, Bucket: b}
}

// #endregion gate

// #region quiet-hours
// InQuietHours reports whether now, read in loc, falls inside the HH:MM window.
// A window whose end precedes its start wraps past midnight. Equal or
// unparseable bounds never match.
func InQuietHours(q *state.QuietHours, loc *time.Location, now time.Time) bool {
	if q == nil {
		return false
	}
	start, okStart := state.ParseClock(q.Start)
	end, okEnd := state.ParseClock(q.End)
	if !okStart || !okEnd || start == end {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// #endregion quiet-hours
