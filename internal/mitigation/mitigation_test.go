package mitigation

import (
	"context"
	"testing"
	"time"

	"github.com/Aimtara/teachmo-sub002/internal/famlock"
	"github.com/Aimtara/teachmo-sub002/internal/logging"
	"github.com/Aimtara/teachmo-sub002/internal/state"
	"github.com/Aimtara/teachmo-sub002/internal/store"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func newController(t *testing.T) (*Controller, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(state.DefaultDefaults())
	return NewController(st, famlock.NewLocal(), DefaultConfig(), logging.Discard(), nil), st
}

func seedState(t *testing.T, st store.Store, familyID string, fn func(*state.OrchestratorState)) state.OrchestratorState {
	t.Helper()
	ctx := context.Background()
	s, err := st.GetOrCreateState(ctx, familyID, t0)
	if err != nil {
		t.Fatalf("GetOrCreateState: %v", err)
	}
	fn(&s)
	s, err = st.SetState(ctx, s, t0)
	if err != nil {
		t.Fatalf("SetState: %v", err)
	}
	return s
}

func TestApply_DuplicateStorm(t *testing.T) {
	c, st := newController(t)
	ctx := context.Background()
	seedState(t, st, "fam-1", func(s *state.OrchestratorState) { s.MaxNotificationsPerHour = 0 })

	res, err := c.ApplyDuplicateStorm(ctx, "fam-1", 20, t0)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !res.Applied || res.Reason != ReasonApplied {
		t.Fatalf("expected applied, got %+v", res)
	}

	s, _ := st.GetState(ctx, "fam-1")
	if s.CooldownUntil == nil || !s.CooldownUntil.Equal(t0.Add(60*time.Minute)) {
		t.Fatalf("expected cooldown at +60m, got %v", s.CooldownUntil)
	}
	if s.MaxNotificationsPerHour > DefaultConfig().MaxNotificationsCeiling {
		t.Fatalf("expected max/hour <= ceiling, got %d", s.MaxNotificationsPerHour)
	}

	again, err := c.ApplyDuplicateStorm(ctx, "fam-1", 22, t0.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if again.Applied || again.Reason != ReasonAlreadyActive {
		t.Fatalf("expected already_active, got %+v", again)
	}
	rec, _ := st.GetMitigation(ctx, "fam-1", TypeDuplicateStorm)
	if rec.Count != 2 {
		t.Errorf("expected count bumped to 2, got %d", rec.Count)
	}
	if !rec.ExpiresAt.Equal(t0.Add(60 * time.Minute)) {
		t.Errorf("re-trigger must not extend expiry, got %v", rec.ExpiresAt)
	}
}

func TestApply_BelowThreshold(t *testing.T) {
	c, st := newController(t)
	seedState(t, st, "fam-1", func(*state.OrchestratorState) {})

	res, err := c.ApplyDuplicateStorm(context.Background(), "fam-1", 14, t0)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Applied || res.Reason != ReasonBelowThreshold {
		t.Fatalf("expected below_threshold, got %+v", res)
	}
	s, _ := st.GetState(context.Background(), "fam-1")
	if s.CooldownUntil != nil {
		t.Errorf("state must be untouched, got cooldown %v", s.CooldownUntil)
	}
}

func TestApply_NoState(t *testing.T) {
	c, st := newController(t)
	res, err := c.ApplyDuplicateStorm(context.Background(), "ghost", 50, t0)
	if err != nil {
		t.Fatalf("missing state must not error: %v", err)
	}
	if res.Applied || res.Reason != ReasonNoState {
		t.Fatalf("expected no_state, got %+v", res)
	}
	if rec, _ := st.GetMitigation(context.Background(), "ghost", TypeDuplicateStorm); rec != nil {
		t.Errorf("no record expected, got %+v", rec)
	}
}

func TestRoundTrip_RestoresCapturedValues(t *testing.T) {
	c, st := newController(t)
	ctx := context.Background()
	seedState(t, st, "fam-1", func(s *state.OrchestratorState) { s.MaxNotificationsPerHour = 4 })

	if _, err := c.ApplyDuplicateStorm(ctx, "fam-1", 15, t0); err != nil {
		t.Fatalf("apply: %v", err)
	}
	patched, _ := st.GetState(ctx, "fam-1")
	if patched.MaxNotificationsPerHour != 1 {
		t.Fatalf("expected max/hour patched to 1, got %d", patched.MaxNotificationsPerHour)
	}

	// nothing expired yet
	early, err := c.Reap(ctx, t0.Add(30*time.Minute))
	if err != nil || early.Cleared != 0 {
		t.Fatalf("expected nothing reaped early, got %+v err=%v", early, err)
	}

	res, err := c.Reap(ctx, t0.Add(61*time.Minute))
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if res.Cleared != 1 || res.Skipped != 0 {
		t.Fatalf("expected 1 clean clear, got %+v", res)
	}

	s, _ := st.GetState(ctx, "fam-1")
	if s.MaxNotificationsPerHour != 4 {
		t.Errorf("expected max/hour restored to 4, got %d", s.MaxNotificationsPerHour)
	}
	if s.CooldownUntil != nil {
		t.Errorf("expected cooldown restored to nil, got %v", s.CooldownUntil)
	}
	rec, _ := st.GetMitigation(ctx, "fam-1", TypeDuplicateStorm)
	if rec == nil || rec.Active {
		t.Fatalf("expected inactive record, got %+v", rec)
	}
	if _, ok := rec.Meta["clearedAt"]; !ok {
		t.Errorf("expected clearedAt in meta, got %v", rec.Meta)
	}
}

func TestReap_KeepsFieldsChangedMeanwhile(t *testing.T) {
	c, st := newController(t)
	ctx := context.Background()
	seedState(t, st, "fam-1", func(s *state.OrchestratorState) { s.MaxNotificationsPerHour = 4 })

	if _, err := c.ApplyDuplicateStorm(ctx, "fam-1", 30, t0); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// weekly tuning moved the setpoint while the mitigation was active
	_, err := store.UpdateState(ctx, st, "fam-1", t0.Add(20*time.Minute), func(s state.OrchestratorState) (state.OrchestratorState, error) {
		s.MaxNotificationsPerHour = 2
		return s, nil
	}, nil)
	if err != nil {
		t.Fatalf("tune: %v", err)
	}

	res, err := c.Reap(ctx, t0.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if res.Cleared != 1 || res.Skipped != 1 {
		t.Fatalf("expected one clear with skipped fields, got %+v", res)
	}

	s, _ := st.GetState(ctx, "fam-1")
	if s.MaxNotificationsPerHour != 2 {
		t.Errorf("tuned value must survive, got %d", s.MaxNotificationsPerHour)
	}
	if s.CooldownUntil != nil {
		t.Errorf("patched cooldown should still be restored, got %v", s.CooldownUntil)
	}
	rec, _ := st.GetMitigation(ctx, "fam-1", TypeDuplicateStorm)
	skipped, ok := rec.Meta["skippedFields"].([]string)
	if !ok || len(skipped) != 1 || skipped[0] != "maxNotificationsPerHour" {
		t.Errorf("expected skippedFields [maxNotificationsPerHour], got %v", rec.Meta["skippedFields"])
	}
}

func TestApply_AfterExpiryRearms(t *testing.T) {
	c, st := newController(t)
	ctx := context.Background()
	seedState(t, st, "fam-1", func(s *state.OrchestratorState) { s.MaxNotificationsPerHour = 3 })

	if _, err := c.ApplyDuplicateStorm(ctx, "fam-1", 20, t0); err != nil {
		t.Fatalf("apply: %v", err)
	}
	later := t0.Add(90 * time.Minute)
	res, err := c.ApplyDuplicateStorm(ctx, "fam-1", 20, later)
	if err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if !res.Applied {
		t.Fatalf("expired mitigation should re-arm, got %+v", res)
	}
	if res.Record.Count != 2 {
		t.Errorf("expected escalating count 2, got %d", res.Record.Count)
	}
	if res.Record.PreviousState.MaxNotificationsPerHour != 3 {
		t.Errorf("snapshot must hold the pre-mitigation value, got %d", res.Record.PreviousState.MaxNotificationsPerHour)
	}
	if res.Record.PreviousState.CooldownUntil != nil {
		t.Errorf("snapshot must not capture the old patch cooldown, got %v", res.Record.PreviousState.CooldownUntil)
	}
}

func TestRestore_PreservesFuturePreviousCooldown(t *testing.T) {
	prev := t0.Add(3 * time.Hour)
	patch := t0.Add(time.Hour)
	rec := store.MitigationRecord{
		PreviousState: store.MitigationSnapshot{CooldownUntil: &prev, MaxNotificationsPerHour: 3},
		AppliedPatch:  store.MitigationSnapshot{CooldownUntil: &patch, MaxNotificationsPerHour: 1},
	}
	cur := state.OrchestratorState{FamilyID: "f", MaxNotificationsPerHour: 1, CooldownUntil: &patch}

	got, skipped := restore(cur, rec, t0.Add(61*time.Minute))
	if len(skipped) != 0 {
		t.Fatalf("expected no skipped fields, got %v", skipped)
	}
	if got.CooldownUntil == nil || !got.CooldownUntil.Equal(prev) {
		t.Errorf("expected previous cooldown restored, got %v", got.CooldownUntil)
	}

	// a previous cooldown already in the past self-clears
	got, _ = restore(cur, rec, t0.Add(4*time.Hour))
	if got.CooldownUntil != nil {
		t.Errorf("expired previous cooldown should clear, got %v", got.CooldownUntil)
	}
}
