package research

import (
	"encoding/json"
	"fmt"
	"strings"

	"deepresearch/internal/providers"
)

const (
	classifySystem = "You are a helpful financial query classifier."
	reportSystem   = "You are a financial research assistant producing full professional reports."
	generalSystem  = "You are a helpful assistant."

	// OutOfScope is the classifier label that routes a query to a general reply.
	OutOfScope = "Out-of-Scope"
)

func classifyPrompt(query string) string {
	return "Classify the query into one of the following: Finance, IT, Pharma, Stock, General Conversation, or Out-of-Scope.\n" +
		"Return a JSON with keys: \"type\", \"scope\".\n" +
		"\nQuery: " + query
}

func planSystem(query string) string {
	return fmt.Sprintf("Create a **concise and actionable research plan** for the query: %s.\n", query) +
		"Use short bullet points. Each point should be clear and focused. " +
		"Limit to 5 points maximum. Avoid vague or generic statements. " +
		"Ensure the plan is tailored to financial research. " +
		"Give in 200 words or less."
}

func reportPrompt(query string, passages []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a senior financial research analyst tasked with producing a\n**comprehensive and professional research report** for the query: \"%s\".\n\n", query)
	b.WriteString("Guidelines:\n")
	b.WriteString("- Write in a formal and analytical tone suitable for professional investors or executives.\n")
	b.WriteString("- Provide deep insights, trends, risks, and opportunities.\n")
	b.WriteString("- Support claims with reasoning and contextual analysis.\n")
	b.WriteString("- Organize into sections with headings and subheadings.\n")
	b.WriteString("- Include key metrics, market dynamics, and possible future implications.\n")
	b.WriteString("- Length: at least 2-3 pages equivalent, detailed and thorough.\n\n")
	b.WriteString("Research Context:\n")
	b.WriteString(strings.Join(passages, "\n"))
	b.WriteString("\n\nNow, draft the full research report.")
	return b.String()
}

func generalPrompt(query string) string {
	return "Respond politely and naturally to: " + query
}

// ClassifyRequest asks for a JSON verdict with "type" and "scope" keys.
func ClassifyRequest(query string) providers.GenerateRequest {
	return providers.GenerateRequest{Operation: "classify", System: classifySystem, Prompt: classifyPrompt(query)}
}

func PlanRequest(query string) providers.GenerateRequest {
	return providers.GenerateRequest{Operation: "plan", System: planSystem(query), Prompt: query}
}

// ReportRequest inlines passages as the research context.
func ReportRequest(query string, passages []string) providers.GenerateRequest {
	return providers.GenerateRequest{Operation: "report", System: reportSystem, Prompt: reportPrompt(query, passages)}
}

func GeneralRequest(query string) providers.GenerateRequest {
	return providers.GenerateRequest{Operation: "general", System: generalSystem, Prompt: generalPrompt(query)}
}

// Classification is the classifier's verdict. Raw keeps the model output so
// the out-of-scope check still works when it is not valid JSON.
type Classification struct {
	Type  string `json:"type"`
	Scope string `json:"scope"`
	Raw   string `json:"raw"`
}

// OutOfScope reports whether the query should get a general reply instead of
// research. Any mention of the out-of-scope label counts.
func (c Classification) OutOfScope() bool {
	return strings.Contains(c.Raw, OutOfScope) || c.Type == OutOfScope || c.Scope == OutOfScope
}

// ParseClassification reads the classifier output, tolerating code fences and
// prose around the JSON object.
func ParseClassification(raw string) Classification {
	c := Classification{Raw: strings.TrimSpace(raw)}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return c
	}
	var parsed struct {
		Type  string `json:"type"`
		Scope string `json:"scope"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return c
	}
	c.Type = strings.TrimSpace(parsed.Type)
	c.Scope = strings.TrimSpace(parsed.Scope)
	return c
}
