package orchestrator

// #region imports
import (
	"time"

	"github.com/Aimtara/teachmo-sub002/internal/action"
	"github.com/Aimtara/teachmo-sub002/internal/features"
	"github.com/Aimtara/teachmo-sub002/internal/gate"
	"github.com/Aimtara/teachmo-sub002/internal/mitigation"
	"github.com/Aimtara/teachmo-sub002/internal/optimize"
	"github.com/Aimtara/teachmo-sub002/internal/planner"
	"github.com/Aimtara/teachmo-sub002/internal/signal"
	"github.com/Aimtara/teachmo-sub002/internal/state"
	"github.com/Aimtara/teachmo-sub002/internal/store"
	"github.com/Aimtara/teachmo-sub002/internal/update"
)

// #endregion

// #region config

// Config gathers the tuning of every stage the engine drives.
type Config struct {
	Extractor  features.ExtractorConfig
	Reducer    update.ReducerConfig
	Gate       gate.GateConfig
	Generator  action.GeneratorConfig
	Weights    optimize.Weights
	Daily      planner.DailyConfig
	Weekly     planner.WeeklyConfig
	Mitigation mitigation.Config
	MaxHistory int // signal ring per family (default 200)
}

// DefaultConfig returns the stock engine configuration.
func DefaultConfig() Config {
	return Config{
		Extractor:  features.DefaultExtractorConfig(),
		Reducer:    update.DefaultReducerConfig(),
		Gate:       gate.DefaultGateConfig(),
		Generator:  action.DefaultGeneratorConfig(),
		Weights:    optimize.DefaultWeights(),
		Daily:      planner.DefaultDailyConfig(),
		Weekly:     planner.DefaultWeeklyConfig(),
		Mitigation: mitigation.DefaultConfig(),
		MaxHistory: store.DefaultMaxHistory,
	}
}

// #endregion

// #region bucket-ttl

// bucketTTL is how long an idle family bucket is cached. A bucket refills
// from empty to full in one hour, so dropping it after an hour idle and
// rebuilding it full changes nothing.
const bucketTTL = time.Hour

// #endregion

// #region decision

// Decision is the result of one ingest cycle.
type Decision struct {
	Signal           signal.Signal           `json:"signal"`
	State            state.OrchestratorState `json:"state"`
	Features         features.Vector         `json:"features"`
	NextAction       *optimize.Scored        `json:"nextAction"`
	Candidates       []optimize.Scored       `json:"candidates"`
	SuppressedReason gate.Reason             `json:"suppressedReason,omitempty"`
	Transition       *update.Transition      `json:"transition,omitempty"`
	HeldByDwell      bool                    `json:"heldByDwell,omitempty"`
	Duplicate        bool                    `json:"duplicate,omitempty"`
	QueuedActionID   string                  `json:"queuedActionId,omitempty"`
	DigestItemID     string                  `json:"digestItemId,omitempty"`
	Resolved         *store.QueuedAction     `json:"resolved,omitempty"`
	Mitigation       *mitigation.ApplyResult `json:"mitigation,omitempty"`
}

// #endregion
