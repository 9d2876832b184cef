package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// MockProvider is deterministic and offline. Embeddings are hashed from the
// input; generation returns canned text shaped like each pipeline step.
type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 768
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	_ = ctx
	dim := req.Dimension
	if dim <= 0 {
		dim = m.dim
	}
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		vectors = append(vectors, deterministicVector(input, dim))
	}
	return vectors, ProviderInfo{Name: "mock", Model: fmt.Sprintf("mock-embed-%d", dim), Key: "mock"}, nil
}

func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	_ = ctx
	info := ProviderInfo{Name: "mock", Model: "mock-llm-v1", Key: "mock"}
	var text string
	switch strings.ToLower(req.Operation) {
	case "classify":
		kind, scope := mockClassify(mockQuery(req.Prompt))
		text = fmt.Sprintf(`{"type": %q, "scope": %q}`, kind, scope)
	case "plan":
		text = "- Map the leading companies and their revenue mix\n" +
			"- Compare recent quarterly results and guidance\n" +
			"- Review valuation multiples against sector peers\n" +
			"- Identify regulatory and macro risks\n" +
			"- Summarise outlook and key catalysts"
	case "report":
		text = "## Executive Summary\nDeterministic offline report.\n" +
			"## Key Findings\n- Mock analysis only; configure a real provider for substance.\n"
	case "general":
		text = "Hello! I focus on financial and sector research. Ask me about a sector, a market or a stock ticker."
	default:
		text = "Mock response."
	}
	return GenerateResponse{Text: text}, info, nil
}

func mockQuery(prompt string) string {
	if i := strings.LastIndex(prompt, "Query:"); i >= 0 {
		line := prompt[i+len("Query:"):]
		if j := strings.IndexByte(line, '\n'); j >= 0 {
			line = line[:j]
		}
		return strings.Trim(strings.TrimSpace(line), `"`)
	}
	return strings.TrimSpace(prompt)
}

func mockClassify(query string) (string, string) {
	q := " " + strings.ToLower(query) + " "
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(q, w) {
				return true
			}
		}
		return false
	}
	switch {
	case has("pharma", "drug", "biotech"):
		return "Pharma", "In-Scope"
	case has(" it ", "software", "tech"):
		return "IT", "In-Scope"
	case has("stock", "ticker", "nasdaq", "shares"):
		return "Stock", "In-Scope"
	case has("financ", "bank", "market", "sector", "econom", "invest"):
		return "Finance", "In-Scope"
	default:
		return "Out-of-Scope", "Out-of-Scope"
	}
}

func deterministicVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(input)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251)))
		u := binary.BigEndian.Uint32(h[:4])
		vec[i] = float32(u%2000)/1000.0 - 1.0
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
