package vector

import (
	"context"
	"fmt"

	"deepresearch/internal/providers"
)

// Index stores texts with metadata and answers nearest-neighbour queries.
// Search returns texts best match first.
type Index interface {
	Add(ctx context.Context, texts []string, metas []map[string]any) error
	Search(ctx context.Context, query string, k int) ([]string, error)
}

const embedBatchSize = 64

// embedAll embeds texts in batches, failing unless the provider returns
// exactly one vector per input.
func embedAll(ctx context.Context, e providers.EmbeddingProvider, dim int, op string, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		batch := texts[start:end]
		vecs, info, err := e.Embed(ctx, providers.EmbedRequest{Operation: op, Inputs: batch, Dimension: dim})
		if err != nil {
			return nil, fmt.Errorf("embed texts: %w", err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embedding provider %s returned %d vectors for %d texts", info.Name, len(vecs), len(batch))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func embedOne(ctx context.Context, e providers.EmbeddingProvider, dim int, text string) ([]float32, error) {
	vecs, err := embedAll(ctx, e, dim, "embed_query", []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
