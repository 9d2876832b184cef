package activities

import "deepresearch/internal/models"

type LLMGenerateInput struct {
	RunID         string   `json:"run_id"`
	Operation     string   `json:"operation"`
	System        string   `json:"system,omitempty"`
	Prompt        string   `json:"prompt"`
	Context       []string `json:"context,omitempty"`
	ProviderIndex int      `json:"provider_index"`
	ProviderRef   string   `json:"provider_ref,omitempty"`
}

type LLMGenerateOutput struct {
	Text         string `json:"text"`
	ProviderName string `json:"provider_name"`
	Model        string `json:"model"`
}

type LogLLMCallInput struct {
	CallID       string `json:"call_id"`
	Operation    string `json:"operation"`
	RunID        string `json:"run_id"`
	ProviderName string `json:"provider_name"`
	Model        string `json:"model"`
	RequestID    string `json:"request_id"`
	Status       string `json:"status"`
	ErrorType    string `json:"error_type"`
}

type GatherInput struct {
	RunID string `json:"run_id"`
	Query string `json:"query"`
}

// GatherOutput points at the gathered texts on disk; only counts travel
// through workflow history.
type GatherOutput struct {
	BundlePath   string   `json:"bundle_path"`
	URLs         []string `json:"urls"`
	TextCount    int      `json:"text_count"`
	PDFSucceeded int      `json:"pdf_succeeded"`
	FailedURLs   []string `json:"failed_urls"`
}

type IndexResearchInput struct {
	RunID      string `json:"run_id"`
	Query      string `json:"query"`
	BundlePath string `json:"bundle_path"`
}

type IndexResearchOutput struct {
	Passages []string `json:"passages"`
}

type StockSnapshotInput struct {
	Query string `json:"query"`
}

type StockSnapshotOutput struct {
	Text string `json:"text"`
	OK   bool   `json:"ok"`
}

type IndexTextsInput struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type RefreshQueryInput struct {
	Query string `json:"query"`
}

type RefreshQueryOutput struct {
	Indexed int `json:"indexed"`
}

type SaveRunInput struct {
	Run models.ResearchRun `json:"run"`
}

type SaveRunOutput struct {
	ArtifactDir string `json:"artifact_dir"`
}
