package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// OpenAIProvider uses standard OpenAI REST APIs when keys are configured.
type OpenAIProvider struct {
	keyName string
	apiKey  string
	model   string
	client  *http.Client
}

func NewOpenAIProvider(keyName string) *OpenAIProvider {
	model := strings.TrimSpace(os.Getenv("RESEARCH_OPENAI_MODEL"))
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		keyName: keyName,
		apiKey:  resolveKey("OPENAI", keyName),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (o *OpenAIProvider) info(model string) ProviderInfo {
	return ProviderInfo{Name: "openai", Model: model, Key: o.keyName}
}

func (o *OpenAIProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	const model = "text-embedding-3-small"
	if o.apiKey == "" {
		return nil, o.info(model), fmt.Errorf("openai key missing for alias %q", o.keyName)
	}
	body := map[string]any{"model": model, "input": req.Inputs}
	if req.Dimension > 0 {
		body["dimensions"] = req.Dimension
	}
	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, o.info(model), fmt.Errorf("build openai embedding request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, o.info(model), fmt.Errorf("openai embedding request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, o.info(model), fmt.Errorf("openai embedding error %d: %s", resp.StatusCode, string(raw))
	}
	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, o.info(model), fmt.Errorf("decode embedding response: %w", err)
	}
	out := make([][]float32, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		out = append(out, d.Embedding)
	}
	return out, o.info(model), nil
}

func (o *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	if o.apiKey == "" {
		return GenerateResponse{}, o.info(o.model), fmt.Errorf("openai key missing for alias %q", o.keyName)
	}
	text, err := chatCompletion(ctx, o.client, "openai", "https://api.openai.com/v1/chat/completions", o.apiKey, o.model, req)
	if err != nil {
		return GenerateResponse{}, o.info(o.model), err
	}
	return GenerateResponse{Text: text}, o.info(o.model), nil
}

// resolveKey looks up RESEARCH_<VENDOR>_KEY_<ALIAS> and falls back to the
// vendor's conventional variable, e.g. OPENAI_API_KEY.
func resolveKey(vendor, alias string) string {
	if alias != "" {
		if k := os.Getenv("RESEARCH_" + vendor + "_KEY_" + sanitizeEnvToken(alias)); k != "" {
			return k
		}
	}
	return os.Getenv(vendor + "_API_KEY")
}
