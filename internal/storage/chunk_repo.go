package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"deepresearch/internal/models"
)

type ChunkRecord struct {
	ChunkID   string
	Text      string
	Metadata  map[string]any
	Embedding string // pgvector literal, e.g. [0.1,0.2]
}

type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// InsertChunks writes all records in one transaction. Rows are append-only.
func (r *ChunkRepo) InsertChunks(ctx context.Context, chunks []ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx insert chunks: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		if c.Metadata == nil {
			meta = []byte("{}")
		}
		_, err = tx.Exec(ctx, `
INSERT INTO indexed_chunks (chunk_id, text, metadata, embedding)
VALUES ($1::uuid, $2, $3::jsonb, $4::vector)
ON CONFLICT (chunk_id) DO NOTHING`,
			c.ChunkID, c.Text, string(meta), c.Embedding,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ChunkID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks tx: %w", err)
	}
	return nil
}

// Nearest returns the k chunks closest to the query vector by cosine
// distance, best first.
func (r *ChunkRepo) Nearest(ctx context.Context, queryVec string, k int) ([]models.ChunkHit, error) {
	if k <= 0 {
		k = 10
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT chunk_id::text, text, metadata, 1 - (embedding <=> $1::vector) AS score
FROM indexed_chunks
ORDER BY embedding <=> $1::vector
LIMIT $2`, queryVec, k)
	if err != nil {
		return nil, fmt.Errorf("query nearest chunks: %w", err)
	}
	defer rows.Close()

	out := make([]models.ChunkHit, 0, k)
	for rows.Next() {
		var (
			h    models.ChunkHit
			meta []byte
		)
		if err := rows.Scan(&h.ChunkID, &h.Text, &meta, &h.Score); err != nil {
			return nil, fmt.Errorf("scan chunk hit: %w", err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &h.Metadata)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk hits: %w", err)
	}
	return out, nil
}
