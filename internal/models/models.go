package models

import "time"

const (
	RunClassifying = "classifying"
	RunAwaiting    = "awaiting_confirmation"
	RunResearching = "researching"
	RunCompleted   = "completed"
	RunAnswered    = "answered"
	RunDeclined    = "declined"
	RunFailed      = "failed"
)

// ResearchRun is one user query moving through classify, plan, confirm and
// report. Answered runs were out of scope and got a conversational reply.
type ResearchRun struct {
	RunID      string    `json:"run_id"`
	Query      string    `json:"query"`
	Category   string    `json:"category,omitempty"`
	Scope      string    `json:"scope,omitempty"`
	Plan       string    `json:"plan,omitempty"`
	Report     string    `json:"report,omitempty"`
	Response   string    `json:"response,omitempty"`
	Sources    []string  `json:"sources,omitempty"`
	FailedURLs []string  `json:"failed_urls,omitempty"`
	Passages   int       `json:"passages"`
	Status     string    `json:"status"`
	FailReason string    `json:"fail_reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type IndexedChunk struct {
	ChunkID   string         `json:"chunk_id"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type ChunkHit struct {
	ChunkID  string         `json:"chunk_id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
