package vector

import (
	"context"
	"math"
	"sort"

	"deepresearch/internal/providers"
)

type memEntry struct {
	text string
	meta map[string]any
	vec  []float32
	norm float64
}

// MemoryIndex is a flat, process-local index scored by cosine similarity.
// Callers serialise access; Store does.
type MemoryIndex struct {
	embedder providers.EmbeddingProvider
	dim      int
	entries  []memEntry
}

func NewMemoryIndex(e providers.EmbeddingProvider, dim int) *MemoryIndex {
	return &MemoryIndex{embedder: e, dim: dim}
}

func (m *MemoryIndex) Add(ctx context.Context, texts []string, metas []map[string]any) error {
	vecs, err := embedAll(ctx, m.embedder, m.dim, "embed_documents", texts)
	if err != nil {
		return err
	}
	for i, t := range texts {
		m.entries = append(m.entries, memEntry{text: t, meta: metas[i], vec: vecs[i], norm: l2(vecs[i])})
	}
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, query string, k int) ([]string, error) {
	if len(m.entries) == 0 || k <= 0 {
		return []string{}, nil
	}
	q, err := embedOne(ctx, m.embedder, m.dim, query)
	if err != nil {
		return nil, err
	}
	qn := l2(q)
	type scored struct {
		i     int
		score float64
	}
	all := make([]scored, 0, len(m.entries))
	for i, e := range m.entries {
		all = append(all, scored{i: i, score: cosine(q, qn, e.vec, e.norm)})
	}
	sort.SliceStable(all, func(a, b int) bool { return all[a].score > all[b].score })
	n := min(k, len(all))
	out := make([]string, 0, n)
	for _, s := range all[:n] {
		out = append(out, m.entries[s.i].text)
	}
	return out, nil
}

func (m *MemoryIndex) Len() int { return len(m.entries) }

func l2(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	n := min(len(a), len(b))
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (an * bn)
}
