package logging

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DecisionLogSchema creates the decision_log table. Stores embed it in their migrations.
const DecisionLogSchema = `
CREATE TABLE IF NOT EXISTS decision_log (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	family_id         TEXT NOT NULL,
	signal_id         TEXT NOT NULL,
	signal_type       TEXT NOT NULL,
	zone_before       TEXT NOT NULL,
	zone_after        TEXT NOT NULL,
	tension           REAL NOT NULL,
	slack             REAL NOT NULL,
	next_action_type  TEXT,
	suppressed_reason TEXT,
	duplicate         INTEGER NOT NULL DEFAULT 0,
	candidates_json   TEXT,
	created_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decision_log_family ON decision_log(family_id, id);
`

// #region log-decision
// LogDecision writes a provenance entry to the decision_log table.
func LogDecision(ctx context.Context, db *sql.DB, entry DecisionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	dup := 0
	if entry.Duplicate {
		dup = 1
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO decision_log (family_id, signal_id, signal_type, zone_before, zone_after, tension, slack,
		 next_action_type, suppressed_reason, duplicate, candidates_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.FamilyID,
		entry.SignalID,
		entry.SignalType,
		entry.ZoneBefore,
		entry.ZoneAfter,
		entry.Tension,
		entry.Slack,
		nullIfEmpty(entry.NextActionType),
		nullIfEmpty(entry.SuppressedReason),
		dup,
		nullIfEmpty(entry.CandidatesJSON),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// #endregion log-decision

// #region list-decisions
// ListDecisions returns the newest limit entries for a family, oldest first.
func ListDecisions(ctx context.Context, db *sql.DB, familyID string, limit int) ([]DecisionEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT family_id, signal_id, signal_type, zone_before, zone_after, tension, slack,
		 next_action_type, suppressed_reason, duplicate, candidates_json, created_at
		 FROM (SELECT * FROM decision_log WHERE family_id = ? ORDER BY id DESC LIMIT ?) ORDER BY id ASC`,
		familyID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionEntry
	for rows.Next() {
		var e DecisionEntry
		var next, reason, cands sql.NullString
		var dup int
		var created string
		if err := rows.Scan(&e.FamilyID, &e.SignalID, &e.SignalType, &e.ZoneBefore, &e.ZoneAfter,
			&e.Tension, &e.Slack, &next, &reason, &dup, &cands, &created); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.NextActionType = next.String
		e.SuppressedReason = reason.String
		e.CandidatesJSON = cands.String
		e.Duplicate = dup == 1
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list-decisions

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
