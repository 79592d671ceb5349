package gate

import (
	"testing"
	"time"

	"github.com/Aimtara/teachmo-sub002/internal/features"
	"github.com/Aimtara/teachmo-sub002/internal/signal"
	"github.com/Aimtara/teachmo-sub002/internal/state"
)

// 15:00 UTC, outside the default 21:00-07:00 quiet window.
var noon = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func makeState() state.OrchestratorState {
	return state.New("fam-1", state.DefaultDefaults(), noon.Add(-time.Hour))
}

func makeSignal(p *signal.MessagePayload) signal.Signal {
	if p == nil {
		p = &signal.MessagePayload{}
	}
	return signal.Signal{FamilyID: "fam-1", Source: signal.SourceSchool, Type: signal.TypeTeacherMessage, Timestamp: noon, Payload: p}
}

func TestBucketConsumeAndRefill(t *testing.T) {
	b := TokenBucket{Capacity: 3, RefillPerSec: 3.0 / 3600, Tokens: 3, UpdatedAt: noon}

	var ok bool
	for i := 0; i < 3; i++ {
		b, ok = b.TryConsume(1, noon)
		if !ok {
			t.Fatalf("consume %d should succeed", i+1)
		}
	}
	b, ok = b.TryConsume(1, noon)
	if ok {
		t.Fatal("fourth consume should fail")
	}
	if b.Tokens != 0 {
		t.Fatalf("failed consume must not take partial tokens, have %f", b.Tokens)
	}

	if _, ok = b.TryConsume(1, noon.Add(1200*time.Second)); !ok {
		t.Fatal("consume after 1200s refill should succeed")
	}
}

func TestBucketRefillIdempotent(t *testing.T) {
	b := TokenBucket{Capacity: 3, RefillPerSec: 3.0 / 3600, Tokens: 1, UpdatedAt: noon}
	later := noon.Add(10 * time.Minute)

	once := b.Refill(later)
	twice := once.Refill(later)
	if once != twice {
		t.Fatalf("second refill changed bucket: %+v vs %+v", once, twice)
	}
	if b.Tokens != 1 {
		t.Fatal("refill mutated the original value")
	}
}

func TestBucketRefillCapped(t *testing.T) {
	b := TokenBucket{Capacity: 3, RefillPerSec: 3.0 / 3600, Tokens: 2, UpdatedAt: noon}
	b = b.Refill(noon.Add(24 * time.Hour))
	if b.Tokens != 3 {
		t.Fatalf("expected tokens capped at 3, got %f", b.Tokens)
	}
}

func TestBucketResize(t *testing.T) {
	b := NewBucket(makeState(), noon)
	b = b.Resize(1)
	if b.Capacity != 1 || b.Tokens != 1 {
		t.Fatalf("expected capacity and tokens 1, got %+v", b)
	}
	b = b.Resize(5)
	if b.Tokens != 1 {
		t.Fatalf("growing capacity must not grant tokens, got %f", b.Tokens)
	}
}

func TestZeroCapacityAlwaysRateLimited(t *testing.T) {
	s := makeState()
	s.MaxNotificationsPerHour = 0

	v := ShouldSuppressNotifyNow(s, makeSignal(nil), features.Vector{Urgency: 0.8}, NewBucket(s, noon), noon)
	if !v.Suppressed || v.Reason != ReasonRateLimited {
		t.Fatalf("expected rate_limited, got %+v", v)
	}
}

func TestSuppressPrecedence(t *testing.T) {
	until := noon.Add(30 * time.Minute)
	quietNow := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		mutate  func(*state.OrchestratorState)
		now     time.Time
		urgency float64
		want    Reason
	}{
		{"cooldown beats quiet hours", func(s *state.OrchestratorState) { s.CooldownUntil = &until; s.Zone = state.ZoneRed }, quietNow, 0.5, ReasonCooldown},
		{"quiet hours beats red", func(s *state.OrchestratorState) { s.Zone = state.ZoneRed }, quietNow, 0.5, ReasonQuietHours},
		{"urgent passes quiet hours", func(s *state.OrchestratorState) {}, quietNow, 0.95, ReasonNone},
		{"red throttle", func(s *state.OrchestratorState) { s.Zone = state.ZoneRed }, noon, 0.8, ReasonRedZoneThrottle},
		{"urgent passes red", func(s *state.OrchestratorState) { s.Zone = state.ZoneRed }, noon, 0.86, ReasonNone},
		{"allowed", func(s *state.OrchestratorState) {}, noon, 0.5, ReasonNone},
	}
	for _, c := range cases {
		s := makeState()
		c.mutate(&s)
		v := ShouldSuppressNotifyNow(s, makeSignal(nil), features.Vector{Urgency: c.urgency}, NewBucket(s, c.now), c.now)
		if v.Reason != c.want || v.Suppressed != (c.want != ReasonNone) {
			t.Errorf("%s: got %+v, want reason %q", c.name, v, c.want)
		}
	}
}

func TestSafetyNeverSuppressed(t *testing.T) {
	s := makeState()
	until := noon.Add(time.Hour)
	s.CooldownUntil = &until
	s.Zone = state.ZoneRed
	s.MaxNotificationsPerHour = 0
	quietNow := time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)

	payloads := []*signal.MessagePayload{
		{Common: signal.Common{IsSafety: true}},
		{Common: signal.Common{IsCompliance: true}},
		{Common: signal.Common{Priority: "high"}},
	}
	for _, p := range payloads {
		v := ShouldSuppressNotifyNow(s, makeSignal(p), features.Vector{}, NewBucket(s, quietNow), quietNow)
		if v.Suppressed || !v.Bypassed {
			t.Fatalf("priority payload %+v was suppressed: %+v", p.Common, v)
		}
	}
}

func TestAllowedConsumesToken(t *testing.T) {
	s := makeState()
	b := NewBucket(s, noon)

	v := ShouldSuppressNotifyNow(s, makeSignal(nil), features.Vector{Urgency: 0.5}, b, noon)
	if v.Suppressed {
		t.Fatalf("expected allowed, got %s", v.Reason)
	}
	if v.Bucket.Tokens != b.Tokens-1 {
		t.Fatalf("expected one token consumed, got %f", v.Bucket.Tokens)
	}
}

func TestInQuietHours(t *testing.T) {
	wrap := &state.QuietHours{Start: "21:00", End: "07:00"}
	day := &state.QuietHours{Start: "12:00", End: "14:00"}
	at := func(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC) }

	cases := []struct {
		q    *state.QuietHours
		now  time.Time
		want bool
	}{
		{wrap, at(22, 0), true},
		{wrap, at(3, 0), true},
		{wrap, at(7, 0), false},
		{wrap, at(20, 59), false},
		{day, at(12, 30), true},
		{day, at(14, 0), false},
		{&state.QuietHours{Start: "09:00", End: "09:00"}, at(9, 0), false},
		{&state.QuietHours{Start: "bad", End: "07:00"}, at(3, 0), false},
		{nil, at(3, 0), false},
	}
	for _, c := range cases {
		if got := InQuietHours(c.q, time.UTC, c.now); got != c.want {
			t.Errorf("InQuietHours(%+v, %s) = %v, want %v", c.q, c.now.Format("15:04"), got, c.want)
		}
	}
}

func TestQuietHoursUseFamilyTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	// 02:00 UTC is 21:00 or 22:00 in New York depending on DST; inside 21:00-07:00 either way.
	now := time.Date(2026, 1, 10, 2, 0, 0, 0, time.UTC)
	if !InQuietHours(&state.QuietHours{Start: "21:00", End: "07:00"}, loc, now) {
		t.Fatal("expected quiet hours in family timezone")
	}
	if InQuietHours(&state.QuietHours{Start: "01:00", End: "03:00"}, loc, now) {
		t.Fatal("UTC wall clock must not be used")
	}
}
