package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Aimtara/teachmo-sub002/internal/action"
	"github.com/Aimtara/teachmo-sub002/internal/logging"
	"github.com/Aimtara/teachmo-sub002/internal/signal"
	"github.com/Aimtara/teachmo-sub002/internal/state"
)

// tsLayout is fixed width so TEXT columns sort chronologically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS family_state (
	family_id   TEXT PRIMARY KEY,
	version     INTEGER NOT NULL,
	zone        TEXT NOT NULL,
	state_json  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS signals (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	family_id   TEXT NOT NULL,
	signal_id   TEXT NOT NULL,
	signal_type TEXT NOT NULL,
	ts          TEXT NOT NULL,
	signal_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_family ON signals(family_id, seq);

CREATE TABLE IF NOT EXISTS signal_keys (
	family_id       TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	signal_json     TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	PRIMARY KEY (family_id, idempotency_key)
);

CREATE TABLE IF NOT EXISTS actions (
	family_id   TEXT NOT NULL,
	action_id   TEXT NOT NULL,
	action_type TEXT NOT NULL,
	status      TEXT NOT NULL,
	queued_at   TEXT NOT NULL,
	resolved_at TEXT,
	action_json TEXT NOT NULL,
	PRIMARY KEY (family_id, action_id)
);

CREATE TABLE IF NOT EXISTS digest_items (
	item_id      TEXT PRIMARY KEY,
	family_id    TEXT NOT NULL,
	status       TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	delivered_at TEXT,
	item_json    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_digest_family ON digest_items(family_id, created_at);

CREATE TABLE IF NOT EXISTS daily_plans (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	plan_id    TEXT NOT NULL UNIQUE,
	family_id  TEXT NOT NULL,
	created_at TEXT NOT NULL,
	plan_json  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS weekly_briefs (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	brief_id   TEXT NOT NULL UNIQUE,
	family_id  TEXT NOT NULL,
	created_at TEXT NOT NULL,
	brief_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS mitigations (
	family_id       TEXT NOT NULL,
	mitigation_type TEXT NOT NULL,
	active          INTEGER NOT NULL,
	expires_at      TEXT NOT NULL,
	record_json     TEXT NOT NULL,
	PRIMARY KEY (family_id, mitigation_type)
);
`

// #endregion schema

// #region store-struct
// SQLiteStore is the durable Store backed by modernc.org/sqlite.
type SQLiteStore struct {
	db       *sql.DB
	defaults state.Defaults
}

// NewSQLiteStore opens a SQLite database and runs migrations.
func NewSQLiteStore(dbPath string, defaults state.Defaults) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy: %w", err)
	}
	if _, err := db.Exec(schema + logging.DecisionLogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db, defaults: defaults}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// #endregion store-struct

// #region state
func (s *SQLiteStore) GetOrCreateState(ctx context.Context, familyID string, now time.Time) (state.OrchestratorState, error) {
	fresh := state.New(familyID, s.defaults, now)
	fresh.Version = 1
	raw, err := json.Marshal(fresh)
	if err != nil {
		return state.OrchestratorState{}, fmt.Errorf("marshal state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO family_state (family_id, version, zone, state_json, updated_at)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT(family_id) DO NOTHING`,
		familyID, fresh.Version, string(fresh.Zone), string(raw), fmtTime(now),
	)
	if err != nil {
		return state.OrchestratorState{}, fmt.Errorf("create state %s: %w", familyID, err)
	}
	return s.GetState(ctx, familyID)
}

func (s *SQLiteStore) GetState(ctx context.Context, familyID string) (state.OrchestratorState, error) {
	var raw string
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version, state_json FROM family_state WHERE family_id = ?`, familyID,
	).Scan(&version, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return state.OrchestratorState{}, fmt.Errorf("get state %s: %w", familyID, ErrNotFound)
	}
	if err != nil {
		return state.OrchestratorState{}, fmt.Errorf("get state %s: %w", familyID, err)
	}
	var st state.OrchestratorState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return state.OrchestratorState{}, fmt.Errorf("unmarshal state %s: %w", familyID, err)
	}
	st.Version = version
	if err := state.Validate(st); err != nil {
		return state.OrchestratorState{}, err
	}
	return st, nil
}

func (s *SQLiteStore) SetState(ctx context.Context, st state.OrchestratorState, now time.Time) (state.OrchestratorState, error) {
	if err := state.Validate(st); err != nil {
		return state.OrchestratorState{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return state.OrchestratorState{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	next, err := setStateTx(ctx, tx, st, now)
	if err != nil {
		return state.OrchestratorState{}, err
	}
	if err := tx.Commit(); err != nil {
		return state.OrchestratorState{}, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

// setStateTx writes st at st.Version+1 if the stored version still equals
// st.Version, inserting the row for a family that has none.
func setStateTx(ctx context.Context, tx *sql.Tx, st state.OrchestratorState, now time.Time) (state.OrchestratorState, error) {
	next := st.Clone()
	next.Version = st.Version + 1
	next.UpdatedAt = now.UTC()
	raw, err := json.Marshal(next)
	if err != nil {
		return state.OrchestratorState{}, fmt.Errorf("marshal state: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE family_state SET version = ?, zone = ?, state_json = ?, updated_at = ?
		 WHERE family_id = ? AND version = ?`,
		next.Version, string(next.Zone), string(raw), fmtTime(now), st.FamilyID, st.Version,
	)
	if err != nil {
		return state.OrchestratorState{}, fmt.Errorf("update state %s: %w", st.FamilyID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var stored int64
		err := tx.QueryRowContext(ctx, `SELECT version FROM family_state WHERE family_id = ?`, st.FamilyID).Scan(&stored)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO family_state (family_id, version, zone, state_json, updated_at) VALUES (?, ?, ?, ?, ?)`,
				st.FamilyID, next.Version, string(next.Zone), string(raw), fmtTime(now),
			); err != nil {
				return state.OrchestratorState{}, fmt.Errorf("insert state %s: %w", st.FamilyID, err)
			}
		case err != nil:
			return state.OrchestratorState{}, fmt.Errorf("check version %s: %w", st.FamilyID, err)
		default:
			return state.OrchestratorState{}, fmt.Errorf("set state %s at version %d (stored %d): %w", st.FamilyID, st.Version, stored, ErrVersionConflict)
		}
	}
	return next, nil
}

func (s *SQLiteStore) ListFamilies(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT family_id FROM family_state ORDER BY family_id`)
	if err != nil {
		return nil, fmt.Errorf("list families: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan family: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// #endregion state

// #region signals
func (s *SQLiteStore) AppendSignal(ctx context.Context, sig signal.Signal, maxHistory int) (signal.Signal, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return signal.Signal{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stored, inserted, err := appendSignalTx(ctx, tx, sig, maxHistory)
	if err != nil || !inserted {
		return stored, inserted, err
	}
	if err := tx.Commit(); err != nil {
		return signal.Signal{}, false, fmt.Errorf("commit: %w", err)
	}
	return stored, true, nil
}

// appendSignalTx claims the idempotency key and appends sig to the family
// ring. A key already claimed returns the first signal and inserted=false.
func appendSignalTx(ctx context.Context, tx *sql.Tx, sig signal.Signal, maxHistory int) (signal.Signal, bool, error) {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	raw, err := json.Marshal(sig)
	if err != nil {
		return signal.Signal{}, false, fmt.Errorf("marshal signal: %w", err)
	}

	if sig.IdempotencyKey != "" {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO signal_keys (family_id, idempotency_key, signal_json, created_at)
			 VALUES (?, ?, ?, ?) ON CONFLICT(family_id, idempotency_key) DO NOTHING`,
			sig.FamilyID, sig.IdempotencyKey, string(raw), fmtTime(sig.Timestamp),
		)
		if err != nil {
			return signal.Signal{}, false, fmt.Errorf("insert idempotency key: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			stored, _, err := lookupSignal(ctx, tx, sig.FamilyID, sig.IdempotencyKey)
			if err != nil {
				return signal.Signal{}, false, err
			}
			return stored, false, nil
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO signals (family_id, signal_id, signal_type, ts, signal_json) VALUES (?, ?, ?, ?, ?)`,
		sig.FamilyID, sig.ID, string(sig.Type), fmtTime(sig.Timestamp), string(raw),
	); err != nil {
		return signal.Signal{}, false, fmt.Errorf("insert signal: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM signals WHERE family_id = ? AND seq NOT IN (
			SELECT seq FROM signals WHERE family_id = ? ORDER BY seq DESC LIMIT ?)`,
		sig.FamilyID, sig.FamilyID, maxHistory,
	); err != nil {
		return signal.Signal{}, false, fmt.Errorf("trim signals: %w", err)
	}
	return sig, true, nil
}

func (s *SQLiteStore) LookupSignal(ctx context.Context, familyID, idempotencyKey string) (signal.Signal, bool, error) {
	if idempotencyKey == "" {
		return signal.Signal{}, false, nil
	}
	return lookupSignal(ctx, s.db, familyID, idempotencyKey)
}

func lookupSignal(ctx context.Context, q querier, familyID, idempotencyKey string) (signal.Signal, bool, error) {
	var first string
	err := q.QueryRowContext(ctx,
		`SELECT signal_json FROM signal_keys WHERE family_id = ? AND idempotency_key = ?`,
		familyID, idempotencyKey,
	).Scan(&first)
	if errors.Is(err, sql.ErrNoRows) {
		return signal.Signal{}, false, nil
	}
	if err != nil {
		return signal.Signal{}, false, fmt.Errorf("get first signal: %w", err)
	}
	stored, err := decodeSignal(first)
	if err != nil {
		return signal.Signal{}, false, err
	}
	return stored, true, nil
}

func (s *SQLiteStore) GetRecentSignals(ctx context.Context, familyID string, limit int) ([]signal.Signal, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT signal_json FROM (SELECT seq, signal_json FROM signals WHERE family_id = ? ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`,
		familyID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get signals: %w", err)
	}
	defer rows.Close()
	var out []signal.Signal
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		sig, err := decodeSignal(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func decodeSignal(raw string) (signal.Signal, error) {
	sig, err := signal.Decode([]byte(raw))
	if err != nil {
		return signal.Signal{}, fmt.Errorf("decode stored signal: %w", err)
	}
	return sig, nil
}

// #endregion signals

// #region ingest
func (s *SQLiteStore) CommitIngest(ctx context.Context, w IngestWrite) (IngestResult, error) {
	if err := state.Validate(w.State); err != nil {
		return IngestResult{}, err
	}
	if w.State.FamilyID != w.Signal.FamilyID {
		return IngestResult{}, fmt.Errorf("commit ingest: state for %s, signal for %s", w.State.FamilyID, w.Signal.FamilyID)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return IngestResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stored, inserted, err := appendSignalTx(ctx, tx, w.Signal, w.MaxHistory)
	if err != nil {
		return IngestResult{}, err
	}
	if !inserted {
		return IngestResult{Signal: stored, Duplicate: true}, nil
	}
	res := IngestResult{Signal: stored}

	if res.State, err = setStateTx(ctx, tx, w.State, w.Now); err != nil {
		return IngestResult{}, err
	}
	if w.Action != nil {
		q, err := enqueueAction(ctx, tx, *w.Action, w.Now)
		if err != nil {
			return IngestResult{}, err
		}
		res.Queued = &q
	}
	if w.Digest != nil {
		item, err := appendDigestItem(ctx, tx, *w.Digest)
		if err != nil {
			return IngestResult{}, err
		}
		res.Digest = &item
	}
	if w.Resolve != nil {
		if res.Resolved, err = resolveAction(ctx, tx, w.Signal.FamilyID, w.Resolve.ActionID, w.Resolve.To, w.Now); err != nil {
			return IngestResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return IngestResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// #endregion ingest

// #region actions
func (s *SQLiteStore) EnqueueAction(ctx context.Context, a action.Action, now time.Time) (QueuedAction, error) {
	return enqueueAction(ctx, s.db, a, now)
}

func enqueueAction(ctx context.Context, q querier, a action.Action, now time.Time) (QueuedAction, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return QueuedAction{}, fmt.Errorf("marshal action: %w", err)
	}
	queued := QueuedAction{Action: a, Status: ActionQueued, QueuedAt: now.UTC()}
	_, err = q.ExecContext(ctx,
		`INSERT INTO actions (family_id, action_id, action_type, status, queued_at, action_json) VALUES (?, ?, ?, ?, ?, ?)`,
		a.FamilyID, a.ID, string(a.Type), string(queued.Status), fmtTime(queued.QueuedAt), string(raw),
	)
	if err != nil {
		return QueuedAction{}, fmt.Errorf("enqueue action: %w", err)
	}
	return queued, nil
}

func (s *SQLiteStore) ListActions(ctx context.Context, familyID string, status ActionStatus) ([]QueuedAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, queued_at, resolved_at, action_json FROM actions
		 WHERE family_id = ? AND (? = '' OR status = ?) ORDER BY queued_at, rowid`,
		familyID, string(status), string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()
	var out []QueuedAction
	for rows.Next() {
		q, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CompleteAction(ctx context.Context, familyID, actionID string, now time.Time) (*QueuedAction, error) {
	return s.resolveAction(ctx, familyID, actionID, ActionCompleted, now)
}

func (s *SQLiteStore) DismissAction(ctx context.Context, familyID, actionID string, now time.Time) (*QueuedAction, error) {
	return s.resolveAction(ctx, familyID, actionID, ActionDismissed, now)
}

func (s *SQLiteStore) resolveAction(ctx context.Context, familyID, actionID string, to ActionStatus, now time.Time) (*QueuedAction, error) {
	return resolveAction(ctx, s.db, familyID, actionID, to, now)
}

func resolveAction(ctx context.Context, q querier, familyID, actionID string, to ActionStatus, now time.Time) (*QueuedAction, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE actions SET status = ?, resolved_at = ? WHERE family_id = ? AND action_id = ? AND status = ?`,
		string(to), fmtTime(now), familyID, actionID, string(ActionQueued),
	)
	if err != nil {
		return nil, fmt.Errorf("resolve action %s: %w", actionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	row := q.QueryRowContext(ctx,
		`SELECT status, queued_at, resolved_at, action_json FROM actions WHERE family_id = ? AND action_id = ?`,
		familyID, actionID,
	)
	queued, err := scanAction(row)
	if err != nil {
		return nil, err
	}
	return &queued, nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAction(row scanner) (QueuedAction, error) {
	var status, queued, raw string
	var resolved sql.NullString
	if err := row.Scan(&status, &queued, &resolved, &raw); err != nil {
		return QueuedAction{}, fmt.Errorf("scan action: %w", err)
	}
	var q QueuedAction
	if err := json.Unmarshal([]byte(raw), &q.Action); err != nil {
		return QueuedAction{}, fmt.Errorf("unmarshal action: %w", err)
	}
	q.Status = ActionStatus(status)
	q.QueuedAt = parseTime(queued)
	q.ResolvedAt = parseNullTime(resolved)
	return q, nil
}

// #endregion actions

// #region digest
func (s *SQLiteStore) AppendDigestItem(ctx context.Context, item DigestItem) (DigestItem, error) {
	return appendDigestItem(ctx, s.db, item)
}

func appendDigestItem(ctx context.Context, q querier, item DigestItem) (DigestItem, error) {
	if item.Status == "" {
		item.Status = DigestQueued
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return DigestItem{}, fmt.Errorf("marshal digest item: %w", err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO digest_items (item_id, family_id, status, created_at, item_json) VALUES (?, ?, ?, ?, ?)`,
		item.ID, item.FamilyID, string(item.Status), fmtTime(item.CreatedAt), string(raw),
	)
	if err != nil {
		return DigestItem{}, fmt.Errorf("append digest item: %w", err)
	}
	return item, nil
}

func (s *SQLiteStore) GetDigest(ctx context.Context, familyID string, status DigestStatus) ([]DigestItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, delivered_at, item_json FROM digest_items
		 WHERE family_id = ? AND (? = '' OR status = ?) ORDER BY created_at, rowid`,
		familyID, string(status), string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("get digest: %w", err)
	}
	defer rows.Close()
	var out []DigestItem
	for rows.Next() {
		var st, raw string
		var delivered sql.NullString
		if err := rows.Scan(&st, &delivered, &raw); err != nil {
			return nil, fmt.Errorf("scan digest item: %w", err)
		}
		var item DigestItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("unmarshal digest item: %w", err)
		}
		item.Status = DigestStatus(st)
		item.DeliveredAt = parseNullTime(delivered)
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkDigestDelivered(ctx context.Context, familyID string, ids []string, now time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := []any{string(DigestDelivered), fmtTime(now), familyID, string(DigestQueued)}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE digest_items SET status = ?, delivered_at = ?
		 WHERE family_id = ? AND status = ? AND item_id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("mark delivered: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// #endregion digest

// #region plans
func (s *SQLiteStore) AppendDailyPlan(ctx context.Context, p DailyPlan) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal daily plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO daily_plans (plan_id, family_id, created_at, plan_json) VALUES (?, ?, ?, ?)`,
		p.ID, p.FamilyID, fmtTime(p.CreatedAt), string(raw),
	)
	if err != nil {
		return fmt.Errorf("append daily plan: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDailyPlans(ctx context.Context, familyID string, limit int) ([]DailyPlan, error) {
	var out []DailyPlan
	err := s.history(ctx, "daily_plans", "plan_json", familyID, limit, func(raw []byte) error {
		var p DailyPlan
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("unmarshal daily plan: %w", err)
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (s *SQLiteStore) AppendWeeklyBrief(ctx context.Context, b WeeklyBrief) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal weekly brief: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO weekly_briefs (brief_id, family_id, created_at, brief_json) VALUES (?, ?, ?, ?)`,
		b.ID, b.FamilyID, fmtTime(b.CreatedAt), string(raw),
	)
	if err != nil {
		return fmt.Errorf("append weekly brief: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetWeeklyBriefs(ctx context.Context, familyID string, limit int) ([]WeeklyBrief, error) {
	var out []WeeklyBrief
	err := s.history(ctx, "weekly_briefs", "brief_json", familyID, limit, func(raw []byte) error {
		var b WeeklyBrief
		if err := json.Unmarshal(raw, &b); err != nil {
			return fmt.Errorf("unmarshal weekly brief: %w", err)
		}
		out = append(out, b)
		return nil
	})
	return out, err
}

// history reads the newest limit rows of an append-only table, oldest first.
func (s *SQLiteStore) history(ctx context.Context, table, column, familyID string, limit int, fn func([]byte) error) error {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+column+` FROM (SELECT seq, `+column+` FROM `+table+` WHERE family_id = ? ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`,
		familyID, limit,
	)
	if err != nil {
		return fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		if err := fn([]byte(raw)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// #endregion plans

// #region mitigation
func (s *SQLiteStore) GetMitigation(ctx context.Context, familyID, mitigationType string) (*MitigationRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT record_json FROM mitigations WHERE family_id = ? AND mitigation_type = ?`,
		familyID, mitigationType,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mitigation: %w", err)
	}
	var rec MitigationRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal mitigation: %w", err)
	}
	return &rec, nil
}

func (s *SQLiteStore) PutMitigation(ctx context.Context, rec MitigationRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal mitigation: %w", err)
	}
	active := 0
	if rec.Active {
		active = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mitigations (family_id, mitigation_type, active, expires_at, record_json) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(family_id, mitigation_type) DO UPDATE SET
		   active = excluded.active, expires_at = excluded.expires_at, record_json = excluded.record_json`,
		rec.FamilyID, rec.MitigationType, active, fmtTime(rec.ExpiresAt), string(raw),
	)
	if err != nil {
		return fmt.Errorf("put mitigation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListExpiredMitigations(ctx context.Context, now time.Time) ([]MitigationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_json FROM mitigations WHERE active = 1 AND expires_at <= ? ORDER BY expires_at`,
		fmtTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("list expired mitigations: %w", err)
	}
	defer rows.Close()
	var out []MitigationRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan mitigation: %w", err)
		}
		var rec MitigationRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal mitigation: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// #endregion mitigation

// #region decisions
func (s *SQLiteStore) RecordDecision(ctx context.Context, e logging.DecisionEntry) error {
	return logging.LogDecision(ctx, s.db, e)
}

func (s *SQLiteStore) ListDecisions(ctx context.Context, familyID string, limit int) ([]logging.DecisionEntry, error) {
	return logging.ListDecisions(ctx, s.db, familyID, limit)
}

// #endregion decisions

// #region time-encoding
func fmtTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(tsLayout, v)
	return t
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	return timePtr(parseTime(v.String))
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// #endregion time-encoding
