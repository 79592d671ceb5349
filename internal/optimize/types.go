package optimize

import "github.com/Aimtara/teachmo-sub002/internal/action"

// #region weights
// Weights scale each objective in the utility function.
type Weights struct {
	Kid          float64 `json:"kid" yaml:"kid"`
	Relationship float64 `json:"relationship" yaml:"relationship"`
	School       float64 `json:"school" yaml:"school"`
	Cognitive    float64 `json:"cognitive" yaml:"cognitive"`
	Emotional    float64 `json:"emotional" yaml:"emotional"`
	Time         float64 `json:"time" yaml:"time"`
	Fairness     float64 `json:"fairness" yaml:"fairness"`
}

// DefaultWeights returns the stock objective weights.
func DefaultWeights() Weights {
	return Weights{
		Kid:          0.45,
		Relationship: 0.25,
		School:       0.30,
		Cognitive:    0.25,
		Emotional:    0.25,
		Time:         0.20,
		Fairness:     0.15,
	}
}

// #endregion weights

// #region scored
// Scored pairs a candidate with its utility.
type Scored struct {
	Action  action.Action `json:"action"`
	Utility float64       `json:"utility"`
}

// Result is the outcome of single next-action selection.
type Result struct {
	Ranked []Scored
	Chosen *Scored // nil when nothing fits
}

// PlanOptions constrains top-K plan selection.
type PlanOptions struct {
	K                 int
	BudgetMin         int
	DisallowNotifyNow bool
}

// Plan is the outcome of top-K selection.
type Plan struct {
	Ranked    []Scored
	Chosen    []Scored
	UsedMin   int
	Rationale string
}

// #endregion scored
