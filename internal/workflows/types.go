package workflows

import "time"

type ResearchSessionInput struct {
	RunID string `json:"run_id"`
	Query string `json:"query"`
	// AutoConfirm skips the confirmation wait.
	AutoConfirm           bool     `json:"auto_confirm,omitempty"`
	ConfirmTimeoutSeconds int      `json:"confirm_timeout_seconds,omitempty"`
	LLMProviders          int      `json:"llm_providers"`
	LLMProviderRefs       []string `json:"llm_provider_refs,omitempty"`
	CooldownSeconds       int      `json:"cooldown_seconds"`
}

// ConfirmSignal answers the proposed plan.
type ConfirmSignal struct {
	Proceed bool `json:"proceed"`
}

type SessionStatus struct {
	RunID       string            `json:"run_id"`
	Query       string            `json:"query"`
	Status      string            `json:"status"`
	CurrentStep string            `json:"current_step"`
	Category    string            `json:"category,omitempty"`
	Scope       string            `json:"scope,omitempty"`
	Plan        string            `json:"plan,omitempty"`
	Message     string            `json:"message,omitempty"`
	Report      string            `json:"report,omitempty"`
	Response    string            `json:"response,omitempty"`
	Sources     []string          `json:"sources,omitempty"`
	FailedURLs  []string          `json:"failed_urls,omitempty"`
	Passages    int               `json:"passages"`
	FailReason  string            `json:"fail_reason,omitempty"`
	Providers   []string          `json:"providers_used"`
	RetryCounts map[string]int    `json:"retry_counts"`
	Steps       map[string]string `json:"steps"`
}

type WatchlistInput struct {
	Queries         []string `json:"queries"`
	IntervalSeconds int      `json:"interval_seconds"`
	// CyclesPerRun bounds history; the workflow continues as new after it.
	CyclesPerRun int `json:"cycles_per_run,omitempty"`
	Completed    int `json:"completed,omitempty"`
}

type WatchlistProgress struct {
	Completed   int               `json:"completed_cycles"`
	Indexed     map[string]int    `json:"last_indexed"`
	LastErrors  map[string]string `json:"last_errors"`
	NextCycleAt time.Time         `json:"next_cycle_at"`
}
