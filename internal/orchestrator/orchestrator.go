package orchestrator

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/Aimtara/teachmo-sub002/internal/action"
	"github.com/Aimtara/teachmo-sub002/internal/famlock"
	"github.com/Aimtara/teachmo-sub002/internal/features"
	"github.com/Aimtara/teachmo-sub002/internal/gate"
	"github.com/Aimtara/teachmo-sub002/internal/logging"
	"github.com/Aimtara/teachmo-sub002/internal/metrics"
	"github.com/Aimtara/teachmo-sub002/internal/mitigation"
	"github.com/Aimtara/teachmo-sub002/internal/optimize"
	"github.com/Aimtara/teachmo-sub002/internal/planner"
	"github.com/Aimtara/teachmo-sub002/internal/signal"
	"github.com/Aimtara/teachmo-sub002/internal/state"
	"github.com/Aimtara/teachmo-sub002/internal/store"
	"github.com/Aimtara/teachmo-sub002/internal/update"
)

// #endregion

// #region engine-struct

// Engine runs the per-family control loop over an injected store.
type Engine struct {
	store   store.Store
	locks   famlock.Locker
	metrics *metrics.Metrics
	logger  *logrus.Logger
	log     *logrus.Entry
	now     func() time.Time

	config     Config
	weights    atomic.Pointer[optimize.Weights]
	extractor  *features.Extractor
	generator  *action.Generator
	gate       *gate.Gate
	planner    *planner.Planner
	regulator  *planner.Regulator
	mitigation *mitigation.Controller

	buckets *cache.Cache // familyID -> gate.TokenBucket
}

// Option configures the engine.
type Option func(*Engine)

// WithLocker replaces the in-process family lock, e.g. with famlock.Redis.
func WithLocker(l famlock.Locker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locks = l
		}
	}
}

// WithMetrics records engine activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock pins the engine clock. Replay and tests use it.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// #endregion

// #region constructor

// New wires an engine around st.
func New(st store.Store, config Config, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		locks:   famlock.NewLocal(),
		logger:  logrus.StandardLogger(),
		now:     time.Now,
		config:  config,
		buckets: cache.New(bucketTTL, 10*time.Minute),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.config.MaxHistory <= 0 {
		e.config.MaxHistory = store.DefaultMaxHistory
	}
	w := config.Weights
	e.weights.Store(&w)

	e.log = e.logger.WithField("component", "engine")
	e.extractor = features.NewExtractor(config.Extractor)
	e.generator = action.NewGenerator(config.Generator)
	e.gate = gate.NewGate(config.Gate)
	e.planner = planner.NewPlanner(config.Daily, e.extractor, e.generator)
	e.regulator = planner.NewRegulator(config.Weekly)
	e.mitigation = mitigation.NewController(st, e.locks, config.Mitigation, e.logger, e.metrics)
	return e
}

// Store returns the engine's store.
func (e *Engine) Store() store.Store { return e.store }

// Weights returns the scoring weights in use.
func (e *Engine) Weights() optimize.Weights { return *e.weights.Load() }

// SetWeights swaps the scoring weights. Safe to call while ingesting.
func (e *Engine) SetWeights(w optimize.Weights) {
	e.weights.Store(&w)
	e.log.WithField("weights", w).Info("scoring weights updated")
}

// #endregion

// #region ingest

// Ingest validates sig, reduces the family state and picks the next action.
// A validation failure returns before anything is written.
func (e *Engine) Ingest(ctx context.Context, sig signal.Signal) (Decision, error) {
	start := time.Now()
	defer e.metrics.ObserveIngest(start)

	if err := signal.Validate(sig); err != nil {
		return Decision{}, err
	}
	now := e.now().UTC()
	sig = signal.Normalize(sig, now)

	d, err := e.ingestLocked(ctx, sig, now)
	if err != nil {
		return Decision{}, err
	}
	if d.Duplicate {
		return d, nil
	}

	// runs after the family lock is released; the controller takes it itself
	if p, ok := sig.Payload.(*signal.AnomalyPayload); ok && p.AnomalyType == mitigation.TypeDuplicateStorm {
		res, err := e.mitigation.ApplyDuplicateStorm(ctx, sig.FamilyID, p.Count, now)
		if err != nil {
			e.log.WithError(err).WithField("family_id", sig.FamilyID).Warn("storm mitigation failed")
		} else {
			d.Mitigation = &res
			if res.Applied {
				if s, err := e.store.GetState(ctx, sig.FamilyID); err == nil {
					d.State = s
				}
			}
		}
	}
	return d, nil
}

func (e *Engine) ingestLocked(ctx context.Context, sig signal.Signal, now time.Time) (Decision, error) {
	fam := sig.FamilyID
	unlock, err := e.locks.Lock(ctx, fam)
	if err != nil {
		return Decision{}, fmt.Errorf("lock family %s: %w", fam, err)
	}
	defer unlock()

	if first, found, err := e.store.LookupSignal(ctx, fam, sig.IdempotencyKey); err != nil {
		return Decision{}, fmt.Errorf("lookup signal: %w", err)
	} else if found {
		return e.duplicate(ctx, first, now)
	}

	if _, err := e.store.GetOrCreateState(ctx, fam, now); err != nil {
		return Decision{}, fmt.Errorf("load state: %w", err)
	}
	f := e.extractor.Extract(sig, now)

	// Nothing is written until CommitIngest, which stores the signal, state and
	// side effects together. A version conflict recomputes the whole decision.
	var lastErr error
	for attempt := 0; attempt < store.MaxCASAttempts; attempt++ {
		cur, err := e.store.GetState(ctx, fam)
		if err != nil {
			return Decision{}, fmt.Errorf("load state: %w", err)
		}
		p, err := e.decide(ctx, cur, sig, f, now)
		if err != nil {
			return Decision{}, err
		}
		res, err := e.store.CommitIngest(ctx, p.write)
		if errors.Is(err, store.ErrVersionConflict) {
			lastErr = err
			e.metrics.Conflict()
			continue
		}
		if err != nil {
			return Decision{}, fmt.Errorf("commit ingest: %w", err)
		}
		if res.Duplicate {
			return e.duplicate(ctx, res.Signal, now)
		}
		return e.finish(ctx, p, res, cur.Zone, now), nil
	}
	return Decision{}, fmt.Errorf("commit ingest %s after %d attempts: %w", fam, store.MaxCASAttempts, lastErr)
}

// pending is a decision computed against one state version, not yet stored.
type pending struct {
	decision Decision
	write    store.IngestWrite
	bucket   gate.TokenBucket // bucket to cache once the write lands
}

// decide reduces cur, gates and ranks the candidates and assembles the write.
// It reads the store but never writes to it.
func (e *Engine) decide(ctx context.Context, cur state.OrchestratorState, sig signal.Signal, f features.Vector, now time.Time) (pending, error) {
	reduced := update.Reduce(cur, sig, f, now, e.config.Reducer)
	next := reduced.State
	next.Version = cur.Version

	remaining, err := e.remainingBudget(ctx, next, now)
	if err != nil {
		return pending{}, err
	}

	bucket := e.bucket(next, now)
	verdict := e.gate.Evaluate(next, sig, f, bucket, now)
	candidates := e.generator.Generate(action.Input{State: next, Signal: sig, Features: f}, now)
	res := optimize.Optimize(candidates, e.Weights(), remaining, verdict.Suppressed)

	p := pending{
		decision: Decision{
			Signal:      sig,
			Features:    f,
			NextAction:  res.Chosen,
			Candidates:  res.Ranked,
			Transition:  reduced.Transition,
			HeldByDwell: reduced.HeldByDwell,
		},
		write: store.IngestWrite{
			Signal:     sig,
			MaxHistory: e.config.MaxHistory,
			State:      next,
			Now:        now,
		},
		bucket: bucket.Refill(now),
	}
	if hasType(candidates, action.TypeNotifyNow) && verdict.Suppressed {
		p.decision.SuppressedReason = verdict.Reason
	}
	if res.Chosen != nil && res.Chosen.Action.Type == action.TypeNotifyNow {
		p.bucket = verdict.Bucket
	}
	e.sideEffects(&p, sig, f, now)
	return p, nil
}

// finish publishes the committed decision: bucket cache, metrics, provenance, logs.
func (e *Engine) finish(ctx context.Context, p pending, res store.IngestResult, before state.Zone, now time.Time) Decision {
	fam := res.State.FamilyID
	d := p.decision
	d.Signal = res.Signal
	d.State = res.State
	d.Resolved = res.Resolved
	if res.Queued != nil {
		d.QueuedActionID = res.Queued.ID
	}
	if res.Digest != nil {
		d.DigestItemID = res.Digest.ID
	}
	e.buckets.SetDefault(fam, p.bucket)

	e.metrics.Ingested(string(d.Signal.Type), string(d.Signal.Source))
	if d.SuppressedReason != gate.ReasonNone {
		e.metrics.Suppressed(string(d.SuppressedReason))
	}
	if d.Transition != nil {
		e.metrics.Transition(string(d.Transition.From), string(d.Transition.To))
		e.log.WithFields(logrus.Fields{
			"family_id": fam,
			"from":      d.Transition.From,
			"to":        d.Transition.To,
			"tension":   d.State.Tension,
		}).Info("zone transition")
	}

	chosenType := ""
	if d.NextAction != nil {
		chosenType = string(d.NextAction.Action.Type)
	}
	e.metrics.Decided(chosenType)
	e.record(ctx, logging.DecisionEntry{
		FamilyID:         fam,
		SignalID:         d.Signal.ID,
		SignalType:       string(d.Signal.Type),
		ZoneBefore:       string(before),
		ZoneAfter:        string(d.State.Zone),
		Tension:          d.State.Tension,
		Slack:            d.State.Slack,
		NextActionType:   chosenType,
		SuppressedReason: string(d.SuppressedReason),
		CandidatesJSON:   candidatesJSON(d.Candidates),
		CreatedAt:        now,
	})

	e.log.WithFields(logrus.Fields{
		"family_id":   fam,
		"signal_type": d.Signal.Type,
		"zone":        d.State.Zone,
		"tension":     d.State.Tension,
		"next_action": chosenType,
		"suppressed":  d.SuppressedReason,
	}).Debug("ingest decided")
	return d
}

// duplicate answers a repeated idempotency key with the current state and no mutation.
func (e *Engine) duplicate(ctx context.Context, stored signal.Signal, now time.Time) (Decision, error) {
	e.metrics.Duplicate()
	s, err := e.store.GetOrCreateState(ctx, stored.FamilyID, now)
	if err != nil {
		return Decision{}, fmt.Errorf("load state: %w", err)
	}
	e.record(ctx, logging.DecisionEntry{
		FamilyID:   stored.FamilyID,
		SignalID:   stored.ID,
		SignalType: string(stored.Type),
		ZoneBefore: string(s.Zone),
		ZoneAfter:  string(s.Zone),
		Tension:    s.Tension,
		Slack:      s.Slack,
		Duplicate:  true,
		CreatedAt:  now,
	})
	e.log.WithFields(logrus.Fields{
		"family_id":       stored.FamilyID,
		"idempotency_key": stored.IdempotencyKey,
	}).Debug("duplicate signal")
	return Decision{Signal: stored, State: s, Duplicate: true}, nil
}

// #endregion

// #region side-effects

// sideEffects adds the queued action, digest item and action resolution the
// decision implies to the pending write.
func (e *Engine) sideEffects(p *pending, sig signal.Signal, f features.Vector, now time.Time) {
	d := &p.decision
	chosen := d.NextAction

	if chosen != nil && chosen.Action.Type != action.TypeDoNothing {
		a := chosen.Action
		p.write.Action = &a
	}

	if (chosen != nil && chosen.Action.Type == action.TypeAddToDigest) || d.SuppressedReason != gate.ReasonNone {
		c := sig.Common()
		title := c.Title
		if title == "" {
			title = string(sig.Type)
		}
		meta := map[string]any{"signalId": sig.ID}
		if d.SuppressedReason != gate.ReasonNone {
			meta["suppressedReason"] = string(d.SuppressedReason)
		}
		if c.Deadline != "" {
			meta["deadline"] = c.Deadline
		}
		p.write.Digest = &store.DigestItem{
			ID:         uuid.New().String(),
			FamilyID:   sig.FamilyID,
			CreatedAt:  now,
			SignalType: sig.Type,
			Title:      title,
			Summary:    c.Summary,
			Urgency:    f.Urgency,
			Impact:     f.Impact,
			Meta:       meta,
			Status:     store.DigestQueued,
		}
	}

	if cp, ok := sig.Payload.(*signal.CompletionPayload); ok && cp.ActionID != "" {
		to := store.ActionDismissed
		if sig.Type == signal.TypeActionCompleted {
			to = store.ActionCompleted
		}
		p.write.Resolve = &store.Resolution{ActionID: cp.ActionID, To: to}
	}
}

// #endregion

// #region budget

// remainingBudget subtracts the minutes of actions queued since UTC midnight.
func (e *Engine) remainingBudget(ctx context.Context, s state.OrchestratorState, now time.Time) (int, error) {
	queued, err := e.store.ListActions(ctx, s.FamilyID, "")
	if err != nil {
		return 0, fmt.Errorf("list actions: %w", err)
	}
	midnight := now.UTC().Truncate(24 * time.Hour)
	used := 0
	for _, q := range queued {
		if !q.QueuedAt.Before(midnight) {
			used += q.TimeCostMin
		}
	}
	return max(0, s.DailyAttentionBudgetMin-used), nil
}

// bucket returns the cached family bucket, resized to the current setpoint.
// Caller holds the family lock.
func (e *Engine) bucket(s state.OrchestratorState, now time.Time) gate.TokenBucket {
	if v, ok := e.buckets.Get(s.FamilyID); ok {
		b := v.(gate.TokenBucket)
		if int(b.Capacity) != s.MaxNotificationsPerHour {
			b = b.Refill(now).Resize(s.MaxNotificationsPerHour)
		}
		return b
	}
	return gate.NewBucket(s, now)
}

// #endregion

// #region provenance

func (e *Engine) record(ctx context.Context, entry logging.DecisionEntry) {
	if err := e.store.RecordDecision(ctx, entry); err != nil {
		e.log.WithError(err).WithField("family_id", entry.FamilyID).Warn("provenance write failed")
	}
}

func candidatesJSON(ranked []optimize.Scored) string {
	recs := make([]logging.CandidateRecord, len(ranked))
	for i, s := range ranked {
		recs[i] = logging.CandidateRecord{
			Type:    string(s.Action.Type),
			Lane:    string(s.Action.Lane),
			Utility: s.Utility,
			Minutes: s.Action.TimeCostMin,
		}
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return ""
	}
	return string(b)
}

func hasType(actions []action.Action, t action.Type) bool {
	for _, a := range actions {
		if a.Type == t {
			return true
		}
	}
	return false
}

// #endregion
