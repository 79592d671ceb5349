package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Aimtara/teachmo-sub002/internal/action"
	"github.com/Aimtara/teachmo-sub002/internal/gate"
	"github.com/Aimtara/teachmo-sub002/internal/logging"
	"github.com/Aimtara/teachmo-sub002/internal/orchestrator"
	"github.com/Aimtara/teachmo-sub002/internal/signal"
	"github.com/Aimtara/teachmo-sub002/internal/state"
	"github.com/Aimtara/teachmo-sub002/internal/store"
)

// #region types

// Result captures the outcome of replaying one signal through the engine.
type Result struct {
	Index      int
	SignalID   string
	FamilyID   string
	Type       signal.Type
	At         time.Time
	Action     action.Type // empty when nothing was chosen
	Utility    float64
	Suppressed gate.Reason
	Zone       state.Zone
	Version    int64
	Duplicate  bool
	Mitigated  bool
	Invalid    string // validation error, empty when accepted
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Total        int
	Invalid      int
	Duplicates   int
	ZonesVisited []state.Zone // first-visit order
	Suppressions map[gate.Reason]int
	Actions      map[action.Type]int
	FinalStates  map[string]state.OrchestratorState
}

// #endregion types

// #region replay

// Run replays the fixture signals in order through a fresh engine backed by a
// memory store. The engine clock is pinned to each signal timestamp; signals
// without one reuse the previous clock. Invalid signals become results, store
// failures abort the run.
func Run(ctx context.Context, f *Fixture, config orchestrator.Config) ([]Result, Summary, error) {
	if f.Weights != nil {
		config.Weights = *f.Weights
	}
	st := store.NewMemoryStore(f.Defaults.ToDefaults(state.DefaultDefaults()))

	var clock time.Time
	if f.Start != "" {
		start, ok := signal.ParseTimestamp(f.Start)
		if !ok {
			return nil, Summary{}, fmt.Errorf("fixture start %q is not ISO-8601", f.Start)
		}
		clock = start
	}
	engine := orchestrator.New(st, config,
		orchestrator.WithLogger(logging.Discard()),
		orchestrator.WithClock(func() time.Time { return clock }),
	)

	results := make([]Result, 0, len(f.Signals))
	for i, raw := range f.Signals {
		res := Result{Index: i}
		sig, err := signal.Decode(raw)
		if err == nil {
			if !sig.Timestamp.IsZero() {
				clock = sig.Timestamp
			}
			var d orchestrator.Decision
			d, err = engine.Ingest(ctx, sig)
			if err == nil {
				res.fill(d)
			}
		}
		if err != nil {
			if !errors.Is(err, signal.ErrInvalid) {
				return results, Summary{}, fmt.Errorf("replay signal %d: %w", i, err)
			}
			res.Invalid = err.Error()
		}
		res.At = clock
		results = append(results, res)
	}

	summary := Summarize(results)
	summary.FinalStates = map[string]state.OrchestratorState{}
	families, err := st.ListFamilies(ctx)
	if err != nil {
		return results, summary, err
	}
	for _, id := range families {
		s, err := st.GetState(ctx, id)
		if err != nil {
			return results, summary, err
		}
		summary.FinalStates[id] = s
	}
	return results, summary, nil
}

func (r *Result) fill(d orchestrator.Decision) {
	r.SignalID = d.Signal.ID
	r.FamilyID = d.Signal.FamilyID
	r.Type = d.Signal.Type
	r.Zone = d.State.Zone
	r.Version = d.State.Version
	r.Duplicate = d.Duplicate
	r.Suppressed = d.SuppressedReason
	r.Mitigated = d.Mitigation != nil && d.Mitigation.Applied
	if d.NextAction != nil {
		r.Action = d.NextAction.Action.Type
		r.Utility = d.NextAction.Utility
	}
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result) Summary {
	s := Summary{
		Total:        len(results),
		Suppressions: map[gate.Reason]int{},
		Actions:      map[action.Type]int{},
	}
	seen := map[state.Zone]bool{}
	for _, r := range results {
		switch {
		case r.Invalid != "":
			s.Invalid++
			continue
		case r.Duplicate:
			s.Duplicates++
			continue
		}
		if r.Zone != "" && !seen[r.Zone] {
			seen[r.Zone] = true
			s.ZonesVisited = append(s.ZonesVisited, r.Zone)
		}
		if r.Suppressed != gate.ReasonNone {
			s.Suppressions[r.Suppressed]++
		}
		if r.Action != "" {
			s.Actions[r.Action]++
		}
	}
	return s
}

// #endregion replay

// #region compare

// Mismatch is one expected result that did not hold.
type Mismatch struct {
	Index int
	Field string
	Want  string
	Got   string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("signal %d: %s want %q got %q", m.Index, m.Field, m.Want, m.Got)
}

// Compare checks results against the fixture expectations by position. An
// empty expected action matches any action.
func Compare(expected []ExpectedResult, results []Result) []Mismatch {
	var out []Mismatch
	if len(expected) > len(results) {
		out = append(out, Mismatch{Index: len(results), Field: "count", Want: fmt.Sprint(len(expected)), Got: fmt.Sprint(len(results))})
		expected = expected[:len(results)]
	}
	for i, want := range expected {
		got := results[i]
		check := func(field, w, g string) {
			if w != g {
				out = append(out, Mismatch{Index: i, Field: field, Want: w, Got: g})
			}
		}
		if want.SignalID != "" {
			check("signalId", want.SignalID, got.SignalID)
		}
		if want.Action != "" {
			check("action", want.Action, string(got.Action))
		}
		check("suppressed", want.Suppressed, string(got.Suppressed))
		check("invalid", fmt.Sprint(want.Invalid), fmt.Sprint(got.Invalid != ""))
		check("duplicate", fmt.Sprint(want.Duplicate), fmt.Sprint(got.Duplicate))
	}
	return out
}

// #endregion compare
