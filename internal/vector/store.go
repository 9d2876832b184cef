package vector

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"deepresearch/internal/util"

	"go.uber.org/zap"
)

// IndexFactory builds the backing index the first time texts are added.
type IndexFactory func(ctx context.Context) (Index, error)

// Chunking splits long texts before indexing. Size <= 0 indexes each text
// whole.
type Chunking struct {
	Size    int
	Overlap int
}

// Store is the process-wide retrieval index. It creates its backend lazily on
// the first AddTexts; until then searches return nothing. Adds are
// serialised, so foreground research and background refresh can share one
// Store.
type Store struct {
	mu       sync.RWMutex
	factory  IndexFactory
	idx      Index
	chunking Chunking
	log      *zap.Logger
}

func NewStore(factory IndexFactory, chunking Chunking, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{factory: factory, chunking: chunking, log: log}
}

// AddTexts indexes texts, attaching a copy of metadata to every stored
// entry. Empty input is a no-op and does not create the index.
func (s *Store) AddTexts(ctx context.Context, texts []string, metadata map[string]any) error {
	entries := s.split(texts)
	if len(entries) == 0 {
		return nil
	}
	metas := make([]map[string]any, len(entries))
	for i := range entries {
		metas[i] = maps.Clone(metadata)
		if metas[i] == nil {
			metas[i] = map[string]any{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx == nil {
		idx, err := s.factory(ctx)
		if err != nil {
			return fmt.Errorf("init vector index: %w", err)
		}
		s.idx = idx
		s.log.Info("vector index initialised")
	}
	if err := s.idx.Add(ctx, entries, metas); err != nil {
		return err
	}
	s.log.Debug("indexed texts", zap.Int("texts", len(texts)), zap.Int("entries", len(entries)))
	return nil
}

// SimilaritySearch returns up to k stored texts, most similar first.
func (s *Store) SimilaritySearch(ctx context.Context, query string, k int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.idx == nil || k <= 0 {
		return []string{}, nil
	}
	out, err := s.idx.Search(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx != nil
}

func (s *Store) split(texts []string) []string {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		if s.chunking.Size <= 0 || len([]rune(t)) <= s.chunking.Size {
			out = append(out, t)
			continue
		}
		out = append(out, util.ChunkText(t, s.chunking.Size, s.chunking.Overlap)...)
	}
	return out
}
