package models

import "time"

// RunSnapshot is the persisted state of a session's live run
type RunSnapshot struct {
	// Session identification
	SessionID   string    `json:"session_id"`
	CreatedAt   time.Time `json:"created_at"`
	LastSavedAt time.Time `json:"last_saved_at"`
	ConfigHash  string    `json:"config_hash"`

	Run GenerationRun `json:"run"`

	// Credit state at save time (-1 when gating is disabled)
	Identity string `json:"identity,omitempty"`
	Balance  int    `json:"balance"`

	Stats SessionStats `json:"stats"`
}

// SessionStats tracks cumulative counters for a session
type SessionStats struct {
	Runs            int `json:"runs"`
	Edits           int `json:"edits"`
	Refinements     int `json:"refinements"`
	Failures        int `json:"failures"`
	CreditsDebited  int `json:"credits_debited"`
	ProviderCalls   int `json:"provider_calls"`
	MaterialsFailed int `json:"materials_failed"`
}
