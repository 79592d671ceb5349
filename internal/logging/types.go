package logging

import "time"

// #region decision-entry
// DecisionEntry is a single row in the decision_log table: one per ingest.
type DecisionEntry struct {
	FamilyID         string    `json:"familyId"`
	SignalID         string    `json:"signalId"`
	SignalType       string    `json:"signalType"`
	ZoneBefore       string    `json:"zoneBefore"`
	ZoneAfter        string    `json:"zoneAfter"`
	Tension          float64   `json:"tension"`
	Slack            float64   `json:"slack"`
	NextActionType   string    `json:"nextActionType,omitempty"` // empty when nothing was chosen
	SuppressedReason string    `json:"suppressedReason,omitempty"`
	Duplicate        bool      `json:"duplicate,omitempty"`
	CandidatesJSON   string    `json:"candidates,omitempty"` // ranked types and utilities, for replay
	CreatedAt        time.Time `json:"createdAt"`
}

// #endregion decision-entry

// #region candidate-record
// CandidateRecord is the compact form of one ranked candidate stored in CandidatesJSON.
type CandidateRecord struct {
	Type    string  `json:"type"`
	Lane    string  `json:"lane"`
	Utility float64 `json:"utility"`
	Minutes int     `json:"minutes"`
}

// #endregion candidate-record
