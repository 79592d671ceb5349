package store

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/Aimtara/teachmo-sub002/internal/action"
	"github.com/Aimtara/teachmo-sub002/internal/logging"
	"github.com/Aimtara/teachmo-sub002/internal/signal"
	"github.com/Aimtara/teachmo-sub002/internal/state"
)

// maxMemoryDecisions bounds the in-memory provenance log per family.
const maxMemoryDecisions = 500

// #region memory-struct
// MemoryStore keeps everything in process. It is safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	defaults state.Defaults

	states      map[string]state.OrchestratorState
	signals     map[string][]signal.Signal
	keys        map[string]signal.Signal // familyID + "\x00" + idempotencyKey
	actions     map[string][]QueuedAction
	digest      map[string][]DigestItem
	daily       map[string][]DailyPlan
	weekly      map[string][]WeeklyBrief
	mitigations map[string]MitigationRecord // familyID + "\x00" + type
	decisions   map[string][]logging.DecisionEntry
}

// NewMemoryStore creates an empty store that seeds new families from defaults.
func NewMemoryStore(defaults state.Defaults) *MemoryStore {
	return &MemoryStore{
		defaults:    defaults,
		states:      map[string]state.OrchestratorState{},
		signals:     map[string][]signal.Signal{},
		keys:        map[string]signal.Signal{},
		actions:     map[string][]QueuedAction{},
		digest:      map[string][]DigestItem{},
		daily:       map[string][]DailyPlan{},
		weekly:      map[string][]WeeklyBrief{},
		mitigations: map[string]MitigationRecord{},
		decisions:   map[string][]logging.DecisionEntry{},
	}
}

func compositeKey(a, b string) string { return a + "\x00" + b }

// #endregion memory-struct

// #region memory-state
func (m *MemoryStore) GetOrCreateState(_ context.Context, familyID string, now time.Time) (state.OrchestratorState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[familyID]; ok {
		return s.Clone(), nil
	}
	s := state.New(familyID, m.defaults, now)
	s.Version = 1
	m.states[familyID] = s
	return s.Clone(), nil
}

func (m *MemoryStore) GetState(_ context.Context, familyID string) (state.OrchestratorState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[familyID]
	if !ok {
		return state.OrchestratorState{}, fmt.Errorf("get state %s: %w", familyID, ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) SetState(_ context.Context, s state.OrchestratorState, now time.Time) (state.OrchestratorState, error) {
	if err := state.Validate(s); err != nil {
		return state.OrchestratorState{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.states[s.FamilyID]
	if ok && cur.Version != s.Version {
		return state.OrchestratorState{}, fmt.Errorf("set state %s at version %d (stored %d): %w", s.FamilyID, s.Version, cur.Version, ErrVersionConflict)
	}
	next := s.Clone()
	next.Version = s.Version + 1
	next.UpdatedAt = now.UTC()
	m.states[s.FamilyID] = next
	return next.Clone(), nil
}

func (m *MemoryStore) ListFamilies(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// #endregion memory-state

// #region memory-signals
func (m *MemoryStore) AppendSignal(_ context.Context, sig signal.Signal, maxHistory int) (signal.Signal, bool, error) {
	sig, err := cloneSignal(sig)
	if err != nil {
		return signal.Signal{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sig.IdempotencyKey != "" {
		if first, ok := m.keys[compositeKey(sig.FamilyID, sig.IdempotencyKey)]; ok {
			dup, err := cloneSignal(first)
			return dup, false, err
		}
	}
	m.appendSignalLocked(sig, maxHistory)
	out, err := cloneSignal(sig)
	return out, true, err
}

// appendSignalLocked records sig and its key. Caller holds m.mu and owns sig.
func (m *MemoryStore) appendSignalLocked(sig signal.Signal, maxHistory int) {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if sig.IdempotencyKey != "" {
		m.keys[compositeKey(sig.FamilyID, sig.IdempotencyKey)] = sig
	}
	ring := append(m.signals[sig.FamilyID], sig)
	if len(ring) > maxHistory {
		ring = append([]signal.Signal(nil), ring[len(ring)-maxHistory:]...)
	}
	m.signals[sig.FamilyID] = ring
}

func (m *MemoryStore) GetRecentSignals(_ context.Context, familyID string, limit int) ([]signal.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := tail(m.signals[familyID], limit)
	for i := range out {
		c, err := cloneSignal(out[i])
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func (m *MemoryStore) LookupSignal(_ context.Context, familyID, idempotencyKey string) (signal.Signal, bool, error) {
	if idempotencyKey == "" {
		return signal.Signal{}, false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	first, ok := m.keys[compositeKey(familyID, idempotencyKey)]
	if !ok {
		return signal.Signal{}, false, nil
	}
	first, err := cloneSignal(first)
	return first, err == nil, err
}

// cloneSignal deep-copies sig through its wire form, the same path the
// durable store takes, so payload pointers are never shared with callers.
func cloneSignal(sig signal.Signal) (signal.Signal, error) {
	raw, err := json.Marshal(sig)
	if err != nil {
		return signal.Signal{}, fmt.Errorf("marshal signal: %w", err)
	}
	var out signal.Signal
	if err := json.Unmarshal(raw, &out); err != nil {
		return signal.Signal{}, fmt.Errorf("copy signal: %w", err)
	}
	return out, nil
}

// #endregion memory-signals

// #region memory-ingest
// CommitIngest checks every precondition before it mutates anything, so a
// rejected write leaves the store untouched.
func (m *MemoryStore) CommitIngest(_ context.Context, w IngestWrite) (IngestResult, error) {
	if err := state.Validate(w.State); err != nil {
		return IngestResult{}, err
	}
	sig, err := cloneSignal(w.Signal)
	if err != nil {
		return IngestResult{}, err
	}
	fam := sig.FamilyID
	if w.State.FamilyID != fam {
		return IngestResult{}, fmt.Errorf("commit ingest: state for %s, signal for %s", w.State.FamilyID, fam)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sig.IdempotencyKey != "" {
		if first, ok := m.keys[compositeKey(fam, sig.IdempotencyKey)]; ok {
			dup, err := cloneSignal(first)
			if err != nil {
				return IngestResult{}, err
			}
			return IngestResult{Signal: dup, Duplicate: true}, nil
		}
	}
	if cur, ok := m.states[fam]; ok && cur.Version != w.State.Version {
		return IngestResult{}, fmt.Errorf("set state %s at version %d (stored %d): %w", fam, w.State.Version, cur.Version, ErrVersionConflict)
	}
	if w.Action != nil {
		for _, q := range m.actions[w.Action.FamilyID] {
			if q.ID == w.Action.ID {
				return IngestResult{}, fmt.Errorf("enqueue action %s: already exists", q.ID)
			}
		}
	}
	if w.Digest != nil {
		for _, d := range m.digest[w.Digest.FamilyID] {
			if d.ID == w.Digest.ID {
				return IngestResult{}, fmt.Errorf("append digest item %s: already exists", d.ID)
			}
		}
	}

	res := IngestResult{Signal: w.Signal}
	m.appendSignalLocked(sig, w.MaxHistory)

	next := w.State.Clone()
	next.Version = w.State.Version + 1
	next.UpdatedAt = w.Now.UTC()
	m.states[fam] = next
	res.State = next.Clone()

	if w.Action != nil {
		q := QueuedAction{Action: *w.Action, Status: ActionQueued, QueuedAt: w.Now.UTC()}
		m.actions[q.FamilyID] = append(m.actions[q.FamilyID], q)
		res.Queued = &q
	}
	if w.Digest != nil {
		item := *w.Digest
		if item.Status == "" {
			item.Status = DigestQueued
		}
		item.Meta = maps.Clone(item.Meta)
		m.digest[item.FamilyID] = append(m.digest[item.FamilyID], item)
		res.Digest = &item
	}
	if w.Resolve != nil {
		res.Resolved = m.resolveActionLocked(fam, w.Resolve.ActionID, w.Resolve.To, w.Now)
	}
	return res, nil
}

// #endregion memory-ingest

// #region memory-actions
func (m *MemoryStore) EnqueueAction(_ context.Context, a action.Action, now time.Time) (QueuedAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := QueuedAction{Action: a, Status: ActionQueued, QueuedAt: now.UTC()}
	m.actions[a.FamilyID] = append(m.actions[a.FamilyID], q)
	return q, nil
}

func (m *MemoryStore) ListActions(_ context.Context, familyID string, status ActionStatus) ([]QueuedAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []QueuedAction
	for _, q := range m.actions[familyID] {
		if status == "" || q.Status == status {
			out = append(out, q)
		}
	}
	return out, nil
}

func (m *MemoryStore) CompleteAction(_ context.Context, familyID, actionID string, now time.Time) (*QueuedAction, error) {
	return m.resolveAction(familyID, actionID, ActionCompleted, now), nil
}

func (m *MemoryStore) DismissAction(_ context.Context, familyID, actionID string, now time.Time) (*QueuedAction, error) {
	return m.resolveAction(familyID, actionID, ActionDismissed, now), nil
}

func (m *MemoryStore) resolveAction(familyID, actionID string, to ActionStatus, now time.Time) *QueuedAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveActionLocked(familyID, actionID, to, now)
}

func (m *MemoryStore) resolveActionLocked(familyID, actionID string, to ActionStatus, now time.Time) *QueuedAction {
	list := m.actions[familyID]
	for i := range list {
		if list[i].ID != actionID {
			continue
		}
		if list[i].Status != ActionQueued {
			return nil
		}
		list[i].Status = to
		list[i].ResolvedAt = timePtr(now)
		out := list[i]
		return &out
	}
	return nil
}

// #endregion memory-actions

// #region memory-digest
func (m *MemoryStore) AppendDigestItem(_ context.Context, item DigestItem) (DigestItem, error) {
	if item.Status == "" {
		item.Status = DigestQueued
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.digest[item.FamilyID] = append(m.digest[item.FamilyID], item)
	return item, nil
}

func (m *MemoryStore) GetDigest(_ context.Context, familyID string, status DigestStatus) ([]DigestItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DigestItem
	for _, d := range m.digest[familyID] {
		if status == "" || d.Status == status {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkDigestDelivered(_ context.Context, familyID string, ids []string, now time.Time) (int, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	list := m.digest[familyID]
	for i := range list {
		if want[list[i].ID] && list[i].Status == DigestQueued {
			list[i].Status = DigestDelivered
			list[i].DeliveredAt = timePtr(now)
			n++
		}
	}
	return n, nil
}

// #endregion memory-digest

// #region memory-plans
func (m *MemoryStore) AppendDailyPlan(_ context.Context, p DailyPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.daily[p.FamilyID] = append(m.daily[p.FamilyID], p)
	return nil
}

func (m *MemoryStore) GetDailyPlans(_ context.Context, familyID string, limit int) ([]DailyPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return tail(m.daily[familyID], limit), nil
}

func (m *MemoryStore) AppendWeeklyBrief(_ context.Context, b WeeklyBrief) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weekly[b.FamilyID] = append(m.weekly[b.FamilyID], b)
	return nil
}

func (m *MemoryStore) GetWeeklyBriefs(_ context.Context, familyID string, limit int) ([]WeeklyBrief, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return tail(m.weekly[familyID], limit), nil
}

// #endregion memory-plans

// #region memory-mitigation
func (m *MemoryStore) GetMitigation(_ context.Context, familyID, mitigationType string) (*MitigationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.mitigations[compositeKey(familyID, mitigationType)]
	if !ok {
		return nil, nil
	}
	rec.Meta = maps.Clone(rec.Meta)
	return &rec, nil
}

func (m *MemoryStore) PutMitigation(_ context.Context, rec MitigationRecord) error {
	rec.Meta = maps.Clone(rec.Meta)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mitigations[compositeKey(rec.FamilyID, rec.MitigationType)] = rec
	return nil
}

func (m *MemoryStore) ListExpiredMitigations(_ context.Context, now time.Time) ([]MitigationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []MitigationRecord
	for _, rec := range m.mitigations {
		if rec.Active && !rec.ExpiresAt.After(now) {
			rec.Meta = maps.Clone(rec.Meta)
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// #endregion memory-mitigation

// #region memory-decisions
func (m *MemoryStore) RecordDecision(_ context.Context, e logging.DecisionEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.decisions[e.FamilyID], e)
	if len(list) > maxMemoryDecisions {
		list = append([]logging.DecisionEntry(nil), list[len(list)-maxMemoryDecisions:]...)
	}
	m.decisions[e.FamilyID] = list
	return nil
}

func (m *MemoryStore) ListDecisions(_ context.Context, familyID string, limit int) ([]logging.DecisionEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return tail(m.decisions[familyID], limit), nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error { return nil }

// #endregion memory-decisions
