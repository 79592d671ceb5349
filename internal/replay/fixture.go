package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Aimtara/teachmo-sub002/internal/optimize"
	"github.com/Aimtara/teachmo-sub002/internal/signal"
	"github.com/Aimtara/teachmo-sub002/internal/state"
	"github.com/Aimtara/teachmo-sub002/internal/store"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture. Signals stay
// raw so one malformed entry is reported as a result, not a load failure.
type Fixture struct {
	Description string            `json:"description"`
	Start       string            `json:"start,omitempty"`
	Defaults    *FixtureDefaults  `json:"defaults,omitempty"`
	Weights     *optimize.Weights `json:"weights,omitempty"`
	Signals     []json.RawMessage `json:"signals"`
	Expected    []ExpectedResult  `json:"expected,omitempty"`
}

// FixtureDefaults overrides the starting state of every family in the run.
// Nil fields keep the stock defaults.
type FixtureDefaults struct {
	ParentBandwidth         *float64          `json:"parentBandwidth,omitempty"`
	SchoolPressure          *float64          `json:"schoolPressure,omitempty"`
	BacklogLoad             *float64          `json:"backlogLoad,omitempty"`
	RelationshipStrain      *float64          `json:"relationshipStrain,omitempty"`
	ChildRisk               *float64          `json:"childRisk,omitempty"`
	EngagementSlack         *float64          `json:"engagementSlack,omitempty"`
	ScheduleDensity         *float64          `json:"scheduleDensity,omitempty"`
	DailyAttentionBudgetMin *int              `json:"dailyAttentionBudgetMin,omitempty"`
	MaxNotificationsPerHour *int              `json:"maxNotificationsPerHour,omitempty"`
	QuietHours              *state.QuietHours `json:"quietHours,omitempty"`
	NoQuietHours            bool              `json:"noQuietHours,omitempty"`
	Timezone                string            `json:"timezone,omitempty"`
}

// ExpectedResult pins the outcome of one signal, matched by position.
type ExpectedResult struct {
	SignalID   string `json:"signalId,omitempty"`
	Action     string `json:"action,omitempty"`
	Suppressed string `json:"suppressed,omitempty"`
	Invalid    bool   `json:"invalid,omitempty"`
	Duplicate  bool   `json:"duplicate,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// WriteFixture writes f as indented JSON.
func WriteFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// ToDefaults applies the overrides on top of base.
func (d *FixtureDefaults) ToDefaults(base state.Defaults) state.Defaults {
	if d == nil {
		return base
	}
	setF := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setF(&base.ParentBandwidth, d.ParentBandwidth)
	setF(&base.SchoolPressure, d.SchoolPressure)
	setF(&base.BacklogLoad, d.BacklogLoad)
	setF(&base.RelationshipStrain, d.RelationshipStrain)
	setF(&base.ChildRisk, d.ChildRisk)
	setF(&base.EngagementSlack, d.EngagementSlack)
	setF(&base.ScheduleDensity, d.ScheduleDensity)
	if d.DailyAttentionBudgetMin != nil {
		base.DailyAttentionBudgetMin = *d.DailyAttentionBudgetMin
	}
	if d.MaxNotificationsPerHour != nil {
		base.MaxNotificationsPerHour = *d.MaxNotificationsPerHour
	}
	if d.QuietHours != nil {
		qh := *d.QuietHours
		base.QuietHours = &qh
	}
	if d.NoQuietHours {
		base.QuietHours = nil
	}
	if d.Timezone != "" {
		base.Timezone = d.Timezone
	}
	return base
}

// #endregion fixture-loader

// #region fixture-export

// ExportFixture builds a fixture from the stored history of one family,
// oldest signal first. Expected results are left empty for review.
func ExportFixture(ctx context.Context, st store.Store, familyID string, limit int) (*Fixture, error) {
	recent, err := st.GetRecentSignals(ctx, familyID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent signals for %s: %w", familyID, err)
	}

	f := &Fixture{
		Description: fmt.Sprintf("exported history of %s", familyID),
		Signals:     make([]json.RawMessage, 0, len(recent)),
	}
	for _, sig := range recent {
		raw, err := json.Marshal(sig)
		if err != nil {
			return nil, fmt.Errorf("encode signal %s: %w", sig.ID, err)
		}
		f.Signals = append(f.Signals, raw)
	}
	if len(recent) > 0 {
		f.Start = signal.FormatTimestamp(recent[0].Timestamp)
	}
	return f, nil
}

// #endregion fixture-export
