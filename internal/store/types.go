package store

import (
	"time"

	"github.com/Aimtara/teachmo-sub002/internal/action"
	"github.com/Aimtara/teachmo-sub002/internal/optimize"
	"github.com/Aimtara/teachmo-sub002/internal/signal"
	"github.com/Aimtara/teachmo-sub002/internal/state"
)

// DefaultMaxHistory is the per-family signal ring size.
const DefaultMaxHistory = 200

// #region action-queue
// ActionStatus is the lifecycle of a queued action.
type ActionStatus string

const (
	ActionQueued    ActionStatus = "queued"
	ActionCompleted ActionStatus = "completed"
	ActionDismissed ActionStatus = "dismissed"
)

// QueuedAction is a selected action persisted for the family to act on.
type QueuedAction struct {
	action.Action
	Status     ActionStatus `json:"status"`
	QueuedAt   time.Time    `json:"queuedAt"`
	ResolvedAt *time.Time   `json:"resolvedAt,omitempty"`
}

// #endregion action-queue

// #region digest
// DigestStatus is the lifecycle of a digest item.
type DigestStatus string

const (
	DigestQueued    DigestStatus = "queued"
	DigestDelivered DigestStatus = "delivered"
	DigestDismissed DigestStatus = "dismissed"
)

// DigestItem is a batched notification awaiting delivery.
type DigestItem struct {
	ID          string         `json:"id"`
	FamilyID    string         `json:"familyId"`
	CreatedAt   time.Time      `json:"createdAt"`
	SignalType  signal.Type    `json:"signalType"`
	Title       string         `json:"title"`
	Summary     string         `json:"summary"`
	Urgency     float64        `json:"urgency"`
	Impact      float64        `json:"impact"`
	Meta        map[string]any `json:"meta,omitempty"`
	Status      DigestStatus   `json:"status"`
	DeliveredAt *time.Time     `json:"deliveredAt,omitempty"`
}

// #endregion digest

// #region plans
// DailyPlan is the bounded action plan for one 24h window.
type DailyPlan struct {
	ID                string            `json:"id"`
	FamilyID          string            `json:"familyId"`
	CreatedAt         time.Time         `json:"createdAt"`
	WindowStart       time.Time         `json:"windowStart"`
	WindowEnd         time.Time         `json:"windowEnd"`
	Zone              state.Zone        `json:"zone"`
	BudgetMin         int               `json:"budgetMin"`
	UsedMin           int               `json:"usedMin"`
	NotifyNowAllowed  bool              `json:"notifyNowAllowed"`
	UpcomingDeadlines int               `json:"upcomingDeadlines"`
	Actions           []optimize.Scored `json:"actions"`
	Rationale         string            `json:"rationale"`
}

// Setpoints are the tunable per-family budgets.
type Setpoints struct {
	DailyAttentionBudgetMin int `json:"dailyAttentionBudgetMin"`
	MaxNotificationsPerHour int `json:"maxNotificationsPerHour"`
}

// Tuning records what the weekly regulator did to the setpoints.
type Tuning struct {
	Mode    string    `json:"mode"` // "tighten" | "loosen" | "hold"
	Before  Setpoints `json:"before"`
	After   Setpoints `json:"after"`
	Changed bool      `json:"changed"`
}

// WeeklyBrief is the deterministic weekly digest.
type WeeklyBrief struct {
	ID          string         `json:"id"`
	FamilyID    string         `json:"familyId"`
	CreatedAt   time.Time      `json:"createdAt"`
	WindowStart time.Time      `json:"windowStart"`
	WindowEnd   time.Time      `json:"windowEnd"`
	Zone        state.Zone     `json:"zone"`
	Counts      map[string]int `json:"counts"`
	Highlights  []string       `json:"highlights"`
	Risks       []string       `json:"risks"`
	NextSteps   []string       `json:"nextSteps"`
	Tuning      Tuning         `json:"tuning"`
}

// #endregion plans

// #region mitigation
// MitigationSnapshot holds the fields a mitigation overrides.
type MitigationSnapshot struct {
	CooldownUntil           *time.Time `json:"cooldownUntil"`
	MaxNotificationsPerHour int        `json:"maxNotificationsPerHour"`
}

// MitigationRecord is the reversible-patch contract for one family and mitigation type.
type MitigationRecord struct {
	FamilyID       string             `json:"familyId"`
	MitigationType string             `json:"mitigationType"`
	Active         bool               `json:"active"`
	ActivatedAt    time.Time          `json:"activatedAt"`
	ExpiresAt      time.Time          `json:"expiresAt"`
	PreviousState  MitigationSnapshot `json:"previousState"`
	AppliedPatch   MitigationSnapshot `json:"appliedPatch"`
	Meta           map[string]any     `json:"meta,omitempty"`
	Count          int                `json:"count"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// #endregion mitigation

// #region ingest-write
// Resolution transitions a queued action as part of an ingest commit.
type Resolution struct {
	ActionID string
	To       ActionStatus // ActionCompleted or ActionDismissed
}

// IngestWrite is everything one accepted signal changes. CommitIngest applies
// it as a unit.
type IngestWrite struct {
	Signal     signal.Signal
	MaxHistory int
	// State is the reduced state; its Version is the version it was reduced from.
	State   state.OrchestratorState
	Action  *action.Action
	Digest  *DigestItem
	Resolve *Resolution
	Now     time.Time
}

// IngestResult reports what CommitIngest stored. With Duplicate set nothing
// was written and Signal is the first signal stored under the key.
type IngestResult struct {
	Signal    signal.Signal
	Duplicate bool
	State     state.OrchestratorState
	Queued    *QueuedAction
	Digest    *DigestItem
	Resolved  *QueuedAction
}

// #endregion ingest-write
