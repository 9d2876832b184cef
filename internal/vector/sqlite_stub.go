//go:build !(sqlite_vec && cgo)

package vector

import (
	"context"
	"errors"

	"deepresearch/internal/providers"
)

var ErrSQLiteUnavailable = errors.New("sqlite index needs a cgo build with -tags sqlite_vec")

// SQLiteIndex is unavailable in this build.
type SQLiteIndex struct{}

func NewSQLiteIndex(string, providers.EmbeddingProvider, int) (*SQLiteIndex, error) {
	return nil, ErrSQLiteUnavailable
}

func (*SQLiteIndex) Add(context.Context, []string, []map[string]any) error {
	return ErrSQLiteUnavailable
}

func (*SQLiteIndex) Search(context.Context, string, int) ([]string, error) {
	return nil, ErrSQLiteUnavailable
}

func (*SQLiteIndex) Close() error { return nil }
