package vector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"deepresearch/internal/models"
	"deepresearch/internal/providers"
	"deepresearch/internal/storage"

	"github.com/google/uuid"
)

// ChunkStore is the slice of storage.ChunkRepo the pgvector index needs.
type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []storage.ChunkRecord) error
	Nearest(ctx context.Context, queryVec string, k int) ([]models.ChunkHit, error)
}

// PGIndex persists embeddings in Postgres with pgvector, so the index
// survives restarts and is shared by every worker.
type PGIndex struct {
	store    ChunkStore
	embedder providers.EmbeddingProvider
	dim      int
}

func NewPGIndex(store ChunkStore, e providers.EmbeddingProvider, dim int) *PGIndex {
	return &PGIndex{store: store, embedder: e, dim: dim}
}

func (p *PGIndex) Add(ctx context.Context, texts []string, metas []map[string]any) error {
	vecs, err := embedAll(ctx, p.embedder, p.dim, "embed_documents", texts)
	if err != nil {
		return err
	}
	records := make([]storage.ChunkRecord, 0, len(texts))
	for i, t := range texts {
		records = append(records, storage.ChunkRecord{
			ChunkID:   uuid.NewString(),
			Text:      t,
			Metadata:  metas[i],
			Embedding: ToLiteral(vecs[i]),
		})
	}
	if err := p.store.InsertChunks(ctx, records); err != nil {
		return fmt.Errorf("persist chunks: %w", err)
	}
	return nil
}

func (p *PGIndex) Search(ctx context.Context, query string, k int) ([]string, error) {
	q, err := embedOne(ctx, p.embedder, p.dim, query)
	if err != nil {
		return nil, err
	}
	hits, err := p.store.Nearest(ctx, ToLiteral(q), k)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Text)
	}
	return out, nil
}

// ToLiteral renders v in pgvector's text form.
func ToLiteral(v []float32) string {
	parts := make([]string, 0, len(v))
	for _, x := range v {
		parts = append(parts, strconv.FormatFloat(float64(x), 'f', 6, 32))
	}
	return "[" + strings.Join(parts, ",") + "]"
}
