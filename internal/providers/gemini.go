package providers

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// GeminiProvider generates and embeds through the Gemini API.
type GeminiProvider struct {
	keyName    string
	apiKey     string
	model      string
	embedModel string

	mu     sync.Mutex
	client *genai.Client
}

func NewGeminiProvider(keyName string) *GeminiProvider {
	model := strings.TrimSpace(os.Getenv("RESEARCH_GEMINI_MODEL"))
	if model == "" {
		model = "gemini-2.0-flash"
	}
	embedModel := strings.TrimSpace(os.Getenv("RESEARCH_GEMINI_EMBED_MODEL"))
	if embedModel == "" {
		embedModel = "text-embedding-004"
	}
	apiKey := resolveKey("GEMINI", keyName)
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	return &GeminiProvider{keyName: keyName, apiKey: apiKey, model: model, embedModel: embedModel}
}

// connect creates the client on first use so constructing the provider never
// touches the network.
func (g *GeminiProvider) connect(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	if g.apiKey == "" {
		return nil, fmt.Errorf("gemini key missing for alias %q", g.keyName)
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: g.apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g.client = c
	return c, nil
}

func (g *GeminiProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "gemini", Model: g.model, Key: g.keyName}
	client, err := g.connect(ctx)
	if err != nil {
		return GenerateResponse{}, info, err
	}
	system := req.System
	if strings.TrimSpace(system) == "" {
		system = defaultSystemPrompt
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.1),
	}
	resp, err := client.Models.GenerateContent(ctx, g.model, genai.Text(promptWithContext(req)), cfg)
	if err != nil {
		return GenerateResponse{}, info, fmt.Errorf("gemini generate failed: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return GenerateResponse{}, info, fmt.Errorf("gemini returned empty candidates")
	}
	return GenerateResponse{Text: text}, info, nil
}

func (g *GeminiProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: "gemini", Model: g.embedModel, Key: g.keyName}
	if len(req.Inputs) == 0 {
		return nil, info, fmt.Errorf("no embedding inputs")
	}
	client, err := g.connect(ctx)
	if err != nil {
		return nil, info, err
	}
	contents := make([]*genai.Content, len(req.Inputs))
	for i, text := range req.Inputs {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	cfg := &genai.EmbedContentConfig{}
	if req.Dimension > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(req.Dimension))
	}
	result, err := client.Models.EmbedContent(ctx, g.embedModel, contents, cfg)
	if err != nil {
		return nil, info, fmt.Errorf("gemini embed failed: %w", err)
	}
	if len(result.Embeddings) != len(req.Inputs) {
		return nil, info, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(result.Embeddings), len(req.Inputs))
	}
	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = matchDimension(emb.Values, req.Dimension)
	}
	return out, info, nil
}
