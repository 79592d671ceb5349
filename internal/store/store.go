package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Aimtara/teachmo-sub002/internal/action"
	"github.com/Aimtara/teachmo-sub002/internal/logging"
	"github.com/Aimtara/teachmo-sub002/internal/signal"
	"github.com/Aimtara/teachmo-sub002/internal/state"
)

var (
	// ErrVersionConflict is returned by SetState when the stored version moved on.
	ErrVersionConflict = errors.New("state version conflict")
	// ErrNotFound is returned where a caller must tell a missing record from an empty one.
	ErrNotFound = errors.New("not found")
)

// #region store-interface
// Store is the persistence seam of the engine. MemoryStore and SQLiteStore
// both satisfy it and the engine does not depend on which is used.
type Store interface {
	// GetOrCreateState returns the family state, creating the default exactly once.
	GetOrCreateState(ctx context.Context, familyID string, now time.Time) (state.OrchestratorState, error)
	// GetState returns ErrNotFound for unknown families.
	GetState(ctx context.Context, familyID string) (state.OrchestratorState, error)
	// SetState writes s if s.Version matches the stored version and returns the
	// stored copy with the bumped version. A stale version yields ErrVersionConflict.
	SetState(ctx context.Context, s state.OrchestratorState, now time.Time) (state.OrchestratorState, error)
	ListFamilies(ctx context.Context) ([]string, error)

	// AppendSignal stores sig in the family ring of at most maxHistory entries.
	// With an idempotency key already seen, it returns the first stored signal
	// and inserted=false.
	AppendSignal(ctx context.Context, sig signal.Signal, maxHistory int) (stored signal.Signal, inserted bool, err error)
	// GetRecentSignals returns retained signals oldest first; limit <= 0 means all.
	GetRecentSignals(ctx context.Context, familyID string, limit int) ([]signal.Signal, error)
	// LookupSignal returns the first signal stored under an idempotency key.
	LookupSignal(ctx context.Context, familyID, idempotencyKey string) (sig signal.Signal, found bool, err error)
	// CommitIngest stores the signal, writes the reduced state with a version
	// check and applies the optional action, digest item and resolution, all or
	// nothing. A seen idempotency key yields Duplicate and writes nothing; a
	// stale state version yields ErrVersionConflict and writes nothing.
	CommitIngest(ctx context.Context, w IngestWrite) (IngestResult, error)

	EnqueueAction(ctx context.Context, a action.Action, now time.Time) (QueuedAction, error)
	// ListActions filters by status; the empty status lists every action.
	ListActions(ctx context.Context, familyID string, status ActionStatus) ([]QueuedAction, error)
	// CompleteAction and DismissAction return nil when the action is not queued.
	CompleteAction(ctx context.Context, familyID, actionID string, now time.Time) (*QueuedAction, error)
	DismissAction(ctx context.Context, familyID, actionID string, now time.Time) (*QueuedAction, error)

	AppendDigestItem(ctx context.Context, item DigestItem) (DigestItem, error)
	// GetDigest filters by status; the empty status lists every item.
	GetDigest(ctx context.Context, familyID string, status DigestStatus) ([]DigestItem, error)
	// MarkDigestDelivered flips queued items to delivered and reports how many changed.
	MarkDigestDelivered(ctx context.Context, familyID string, ids []string, now time.Time) (int, error)

	AppendDailyPlan(ctx context.Context, p DailyPlan) error
	GetDailyPlans(ctx context.Context, familyID string, limit int) ([]DailyPlan, error)
	AppendWeeklyBrief(ctx context.Context, b WeeklyBrief) error
	GetWeeklyBriefs(ctx context.Context, familyID string, limit int) ([]WeeklyBrief, error)

	// GetMitigation returns nil when no record exists.
	GetMitigation(ctx context.Context, familyID, mitigationType string) (*MitigationRecord, error)
	PutMitigation(ctx context.Context, rec MitigationRecord) error
	// ListExpiredMitigations returns active records whose ExpiresAt is at or before now.
	ListExpiredMitigations(ctx context.Context, now time.Time) ([]MitigationRecord, error)

	RecordDecision(ctx context.Context, e logging.DecisionEntry) error
	ListDecisions(ctx context.Context, familyID string, limit int) ([]logging.DecisionEntry, error)

	Close() error
}

// #endregion store-interface

// #region update-state
// MaxCASAttempts bounds the optimistic retries in UpdateState.
const MaxCASAttempts = 3

// UpdateState reads the family state, applies fn and writes the result with a
// version check. On ErrVersionConflict it re-reads and re-applies fn. fn must
// be free of side effects other than its return value. onConflict, if set, is
// called once per retry.
func UpdateState(
	ctx context.Context,
	s Store,
	familyID string,
	now time.Time,
	fn func(cur state.OrchestratorState) (state.OrchestratorState, error),
	onConflict func(),
) (state.OrchestratorState, error) {
	var lastErr error
	for attempt := 0; attempt < MaxCASAttempts; attempt++ {
		cur, err := s.GetState(ctx, familyID)
		if err != nil {
			return state.OrchestratorState{}, err
		}
		next, err := fn(cur)
		if err != nil {
			return state.OrchestratorState{}, err
		}
		next.Version = cur.Version
		stored, err := s.SetState(ctx, next, now)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return state.OrchestratorState{}, err
		}
		lastErr = err
		if onConflict != nil {
			onConflict()
		}
	}
	return state.OrchestratorState{}, fmt.Errorf("update state %s after %d attempts: %w", familyID, MaxCASAttempts, lastErr)
}

// #endregion update-state

// #region helpers
func tail[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}

// #endregion helpers
