package jobs

import (
	"context"

	"github.com/Aimtara/teachmo-sub002/internal/mitigation"
	"github.com/Aimtara/teachmo-sub002/internal/store"
)

// #region interfaces
// Engine is the part of the orchestrator the batch jobs drive.
type Engine interface {
	RunDaily(ctx context.Context, familyID string) (store.DailyPlan, error)
	RunWeekly(ctx context.Context, familyID string) (store.WeeklyBrief, error)
	ReapMitigations(ctx context.Context) (mitigation.ReapResult, error)
	Families(ctx context.Context) ([]string, error)
}

// Deliverer hands a family's queued digest items to an outbound channel.
type Deliverer interface {
	Deliver(ctx context.Context, familyID string, items []store.DigestItem) error
}

// #endregion interfaces

// #region results
// JobResult is one family's outcome in a batch run. Daily runs set PlanID,
// weekly runs set BriefID.
type JobResult struct {
	FamilyID string `json:"familyId"`
	OK       bool   `json:"ok"`
	PlanID   string `json:"planId,omitempty"`
	BriefID  string `json:"briefId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Ref returns whichever of PlanID or BriefID the run produced.
func (r JobResult) Ref() string {
	if r.PlanID != "" {
		return r.PlanID
	}
	return r.BriefID
}

// DeliveryResult summarizes a digest delivery pass.
type DeliveryResult struct {
	Families  int      `json:"families"`
	Delivered int      `json:"delivered"`
	Failed    []string `json:"failed,omitempty"` // family ids whose delivery failed
}

// #endregion results
