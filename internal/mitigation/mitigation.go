package mitigation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Aimtara/teachmo-sub002/internal/famlock"
	"github.com/Aimtara/teachmo-sub002/internal/metrics"
	"github.com/Aimtara/teachmo-sub002/internal/state"
	"github.com/Aimtara/teachmo-sub002/internal/store"
)

// #region controller
// Controller applies and clears reversible protective patches on family state.
type Controller struct {
	store   store.Store
	locks   famlock.Locker
	config  Config
	log     *logrus.Entry
	metrics *metrics.Metrics
}

// NewController wires a controller. locks may be shared with the engine so
// patches never interleave with an ingest for the same family.
func NewController(st store.Store, locks famlock.Locker, config Config, logger *logrus.Logger, m *metrics.Metrics) *Controller {
	return &Controller{
		store:   st,
		locks:   locks,
		config:  config,
		log:     logger.WithField("component", "mitigation"),
		metrics: m,
	}
}

// #endregion controller

// #region apply
// ApplyDuplicateStorm opens a cooldown and caps the hourly notification
// allowance when duplicateCount reaches the threshold. A re-trigger while the
// mitigation is active only bumps the record's counter.
func (c *Controller) ApplyDuplicateStorm(ctx context.Context, familyID string, duplicateCount int, now time.Time) (ApplyResult, error) {
	now = now.UTC()
	if duplicateCount < c.config.Threshold {
		return ApplyResult{Reason: ReasonBelowThreshold}, nil
	}

	unlock, err := c.locks.Lock(ctx, familyID)
	if err != nil {
		return ApplyResult{}, err
	}
	defer unlock()

	cur, err := c.store.GetState(ctx, familyID)
	if errors.Is(err, store.ErrNotFound) {
		c.metrics.Mitigation("no_state")
		return ApplyResult{Reason: ReasonNoState}, nil
	}
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply mitigation: %w", err)
	}

	rec, err := c.store.GetMitigation(ctx, familyID, TypeDuplicateStorm)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply mitigation: %w", err)
	}
	if rec != nil && rec.Active && rec.ExpiresAt.After(now) {
		rec.Count++
		rec.UpdatedAt = now
		rec.Meta = withMeta(rec.Meta, map[string]any{
			"lastDuplicateCount": duplicateCount,
			"lastTriggeredAt":    now.Format(time.RFC3339Nano),
		})
		if err := c.store.PutMitigation(ctx, *rec); err != nil {
			return ApplyResult{}, fmt.Errorf("bump mitigation: %w", err)
		}
		c.metrics.Mitigation("already_active")
		return ApplyResult{Reason: ReasonAlreadyActive, Record: rec}, nil
	}
	if rec != nil && rec.Active {
		// expired but not yet reaped: restore first so the new snapshot is clean
		if _, err := c.clear(ctx, *rec, now); err != nil {
			return ApplyResult{}, err
		}
		if cur, err = c.store.GetState(ctx, familyID); err != nil {
			return ApplyResult{}, fmt.Errorf("apply mitigation: %w", err)
		}
	}

	until := now.Add(c.config.Cooldown)
	previous := snapshot(cur)
	patch := store.MitigationSnapshot{
		CooldownUntil:           &until,
		MaxNotificationsPerHour: min(cur.MaxNotificationsPerHour, c.config.MaxNotificationsCeiling),
	}
	count := 1
	if rec != nil {
		count = rec.Count + 1
	}
	next := store.MitigationRecord{
		FamilyID:       familyID,
		MitigationType: TypeDuplicateStorm,
		Active:         true,
		ActivatedAt:    now,
		ExpiresAt:      until,
		PreviousState:  previous,
		AppliedPatch:   patch,
		Meta: map[string]any{
			"duplicateCount": duplicateCount,
			"threshold":      c.config.Threshold,
		},
		Count:     count,
		UpdatedAt: now,
	}

	// record first: if the state write then fails, the reaper finds nothing
	// matching the patch and leaves the state alone
	if err := c.store.PutMitigation(ctx, next); err != nil {
		return ApplyResult{}, fmt.Errorf("put mitigation: %w", err)
	}
	_, err = store.UpdateState(ctx, c.store, familyID, now, func(s state.OrchestratorState) (state.OrchestratorState, error) {
		s = s.Clone()
		cd := *patch.CooldownUntil
		s.CooldownUntil = &cd
		s.MaxNotificationsPerHour = patch.MaxNotificationsPerHour
		return s, nil
	}, c.metrics.Conflict)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("patch state: %w", err)
	}

	c.metrics.Mitigation("applied")
	c.log.WithFields(logrus.Fields{
		"family_id":       familyID,
		"duplicate_count": duplicateCount,
		"expires_at":      until,
		"max_per_hour":    patch.MaxNotificationsPerHour,
		"count":           count,
	}).Info("duplicate storm mitigation applied")
	return ApplyResult{Applied: true, Reason: ReasonApplied, Record: &next}, nil
}

// #endregion apply

// #region reap
// Reap clears every active mitigation whose expiry has passed. A failure on
// one family is logged and does not stop the sweep; the joined error is returned.
func (c *Controller) Reap(ctx context.Context, now time.Time) (ReapResult, error) {
	now = now.UTC()
	expired, err := c.store.ListExpiredMitigations(ctx, now)
	if err != nil {
		return ReapResult{}, fmt.Errorf("list expired mitigations: %w", err)
	}

	var res ReapResult
	var errs []error
	for _, rec := range expired {
		skipped, err := c.reapOne(ctx, rec, now)
		if err != nil {
			c.metrics.Mitigation("clear_error")
			c.log.WithError(err).WithField("family_id", rec.FamilyID).Warn("mitigation clear failed")
			errs = append(errs, fmt.Errorf("family %s: %w", rec.FamilyID, err))
			continue
		}
		res.Cleared++
		if len(skipped) > 0 {
			res.Skipped++
		}
	}
	return res, errors.Join(errs...)
}

func (c *Controller) reapOne(ctx context.Context, rec store.MitigationRecord, now time.Time) ([]string, error) {
	unlock, err := c.locks.Lock(ctx, rec.FamilyID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Apply may have re-armed it since the listing
	fresh, err := c.store.GetMitigation(ctx, rec.FamilyID, rec.MitigationType)
	if err != nil {
		return nil, err
	}
	if fresh == nil || !fresh.Active || fresh.ExpiresAt.After(now) {
		return nil, nil
	}
	return c.clear(ctx, *fresh, now)
}

// clear restores each captured field whose current value is still the one the
// patch wrote, then marks the record inactive. Fields another writer changed
// in the meantime are kept and listed in meta.skippedFields. Caller holds the lock.
func (c *Controller) clear(ctx context.Context, rec store.MitigationRecord, now time.Time) ([]string, error) {
	var skipped []string
	_, err := store.UpdateState(ctx, c.store, rec.FamilyID, now, func(s state.OrchestratorState) (state.OrchestratorState, error) {
		s, skipped = restore(s, rec, now)
		return s, nil
	}, c.metrics.Conflict)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("restore state: %w", err)
	}

	rec.Active = false
	rec.UpdatedAt = now
	meta := map[string]any{"clearedAt": now.Format(time.RFC3339Nano)}
	if len(skipped) > 0 {
		meta["skippedFields"] = skipped
	}
	rec.Meta = withMeta(rec.Meta, meta)
	if err := c.store.PutMitigation(ctx, rec); err != nil {
		return nil, fmt.Errorf("deactivate mitigation: %w", err)
	}

	c.metrics.Mitigation("cleared")
	c.log.WithFields(logrus.Fields{
		"family_id":      rec.FamilyID,
		"skipped_fields": skipped,
	}).Info("mitigation cleared")
	return skipped, nil
}

// #endregion reap

// #region restore
// restore is the pure field-level compare-and-restore step.
func restore(s state.OrchestratorState, rec store.MitigationRecord, now time.Time) (state.OrchestratorState, []string) {
	s = s.Clone()
	var skipped []string

	if s.MaxNotificationsPerHour == rec.AppliedPatch.MaxNotificationsPerHour {
		s.MaxNotificationsPerHour = rec.PreviousState.MaxNotificationsPerHour
	} else {
		skipped = append(skipped, "maxNotificationsPerHour")
	}

	if s.CooldownUntil == nil || sameInstant(s.CooldownUntil, rec.AppliedPatch.CooldownUntil) {
		s.CooldownUntil = nil
		if prev := rec.PreviousState.CooldownUntil; prev != nil && prev.After(now) {
			t := *prev
			s.CooldownUntil = &t
		}
	} else {
		skipped = append(skipped, "cooldownUntil")
	}
	return s, skipped
}

func snapshot(s state.OrchestratorState) store.MitigationSnapshot {
	snap := store.MitigationSnapshot{MaxNotificationsPerHour: s.MaxNotificationsPerHour}
	if s.CooldownUntil != nil {
		t := *s.CooldownUntil
		snap.CooldownUntil = &t
	}
	return snap
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func withMeta(base, add map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(add))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range add {
		out[k] = v
	}
	return out
}

// #endregion restore
