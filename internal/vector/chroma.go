package vector

import (
	"context"
	"fmt"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
)

// chromaCollection is the part of chroma.Collection the index uses.
type chromaCollection interface {
	Add(ctx context.Context, opts ...chroma.CollectionAddOption) error
	Query(ctx context.Context, opts ...chroma.CollectionQueryOption) (chroma.QueryResult, error)
}

// ChromaIndex keeps texts in a Chroma collection. Chroma embeds documents
// and queries itself with the collection's embedding function.
type ChromaIndex struct {
	col chromaCollection
}

type ChromaOptions struct {
	BaseURL    string
	Collection string
	// GeminiKey and GeminiModel configure the collection's embedding function.
	GeminiKey   string
	GeminiModel string
}

func NewChromaIndex(ctx context.Context, opts ChromaOptions) (*ChromaIndex, error) {
	if opts.Collection == "" {
		opts.Collection = "sector_research"
	}
	if opts.GeminiModel == "" {
		opts.GeminiModel = "text-embedding-004"
	}
	ef, err := gemini.NewGeminiEmbeddingFunction(
		gemini.WithAPIKey(opts.GeminiKey),
		gemini.WithDefaultModel(embeddings.EmbeddingModel(opts.GeminiModel)))
	if err != nil {
		return nil, fmt.Errorf("create chroma embedding function: %w", err)
	}
	client, err := chroma.NewHTTPClient(chroma.WithBaseURL(opts.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("create chroma client: %w", err)
	}
	col, err := client.GetOrCreateCollection(ctx, opts.Collection, chroma.WithEmbeddingFunctionCreate(ef))
	if err != nil {
		return nil, fmt.Errorf("open chroma collection %s: %w", opts.Collection, err)
	}
	return &ChromaIndex{col: col}, nil
}

func (c *ChromaIndex) Add(ctx context.Context, texts []string, metas []map[string]any) error {
	docMetas := make([]chroma.DocumentMetadata, 0, len(metas))
	for _, m := range metas {
		attrs := make([]*chroma.MetaAttribute, 0, len(m))
		for k, v := range m {
			switch x := v.(type) {
			case string:
				attrs = append(attrs, chroma.NewStringAttribute(k, x))
			case int:
				attrs = append(attrs, chroma.NewIntAttribute(k, int64(x)))
			case int64:
				attrs = append(attrs, chroma.NewIntAttribute(k, x))
			default:
				attrs = append(attrs, chroma.NewStringAttribute(k, fmt.Sprint(x)))
			}
		}
		docMetas = append(docMetas, chroma.NewDocumentMetadata(attrs...))
	}
	err := c.col.Add(ctx,
		chroma.WithTexts(texts...),
		chroma.WithIDGenerator(chroma.NewULIDGenerator()),
		chroma.WithMetadatas(docMetas...),
	)
	if err != nil {
		return fmt.Errorf("add texts to chroma: %w", err)
	}
	return nil
}

func (c *ChromaIndex) Search(ctx context.Context, query string, k int) ([]string, error) {
	r, err := c.col.Query(ctx,
		chroma.WithQueryTexts(query),
		chroma.WithNResults(k),
	)
	if err != nil {
		return nil, fmt.Errorf("query chroma: %w", err)
	}
	groups := r.GetDocumentsGroups()
	if len(groups) == 0 {
		return []string{}, nil
	}
	out := make([]string, 0, len(groups[0]))
	for _, d := range groups[0] {
		out = append(out, d.ContentString())
	}
	return out, nil
}
