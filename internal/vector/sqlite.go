//go:build sqlite_vec && cgo

package vector

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"deepresearch/internal/providers"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	vec.Auto()
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chunks (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  text       TEXT NOT NULL,
  metadata   TEXT NOT NULL DEFAULT '{}',
  embedding  BLOB NOT NULL,
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLiteIndex keeps embeddings in a local SQLite file and ranks them with
// sqlite-vec's cosine distance. It needs no server.
type SQLiteIndex struct {
	db       *sql.DB
	embedder providers.EmbeddingProvider
	dim      int
}

func NewSQLiteIndex(path string, e providers.EmbeddingProvider, dim int) (*SQLiteIndex, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite index: %w", err)
	}
	db.SetMaxOpenConns(1)
	var version string
	if err := db.QueryRow("SELECT vec_version()").Scan(&version); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec extension not available: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteIndex{db: db, embedder: e, dim: dim}, nil
}

func (s *SQLiteIndex) Add(ctx context.Context, texts []string, metas []map[string]any) error {
	vecs, err := embedAll(ctx, s.embedder, s.dim, "embed_documents", texts)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (text, metadata, embedding) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare sqlite insert: %w", err)
	}
	defer stmt.Close()
	for i, t := range texts {
		meta, _ := json.Marshal(metas[i])
		if _, err := stmt.ExecContext(ctx, t, string(meta), float32Blob(vecs[i])); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite insert: %w", err)
	}
	return nil
}

func (s *SQLiteIndex) Search(ctx context.Context, query string, k int) ([]string, error) {
	if k <= 0 {
		return []string{}, nil
	}
	q, err := embedOne(ctx, s.embedder, s.dim, query)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT text FROM chunks
ORDER BY vec_distance_cosine(embedding, ?) ASC, id ASC
LIMIT ?`, float32Blob(q), k)
	if err != nil {
		return nil, fmt.Errorf("sqlite nearest: %w", err)
	}
	defer rows.Close()
	out := make([]string, 0, k)
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// float32Blob encodes v little-endian, the layout sqlite-vec reads.
func float32Blob(v []float32) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, v)
	return buf.Bytes()
}
