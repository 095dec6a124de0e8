package domain

import "time"

// SessionStatus tracks a digest run's lifecycle.
type SessionStatus string

const (
	SessionRunning  SessionStatus = "running"
	SessionComplete SessionStatus = "complete"
	SessionAborted  SessionStatus = "aborted"
)

// Session audits one end-to-end digest run. Immutable once complete.
type Session struct {
	SessionID       string           `json:"session_id"`
	UserID          string           `json:"user_id"`
	Now             time.Time        `json:"now"`
	Timezone        string           `json:"timezone"`
	InputMessageIDs []string         `json:"input_message_ids"`
	OutputHTMLSHA   string           `json:"output_html_sha256,omitempty"`
	StageTimings    map[string]int64 `json:"stage_timings,omitempty"` // stage -> ms
	DeciderCounts   map[string]int64 `json:"decider_counts,omitempty"`
	Status          SessionStatus    `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// CostEvent records one LLM call's spend for the daily cost cap.
type CostEvent struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	Operation       string    `json:"operation"` // classify, verify, extract
	ModelVersion    string    `json:"model_version"`
	PromptVersion   string    `json:"prompt_version"`
	InputTokensEst  int       `json:"input_tokens_est"`
	OutputTokensEst int       `json:"output_tokens_est"`
	CostUSDEst      float64   `json:"cost_usd_est"`
	DurationMS      int64     `json:"duration_ms"`
	CreatedAt       time.Time `json:"created_at"`
}
