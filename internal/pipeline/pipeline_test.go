package pipeline

import (
	"context"
	"testing"
	"time"

	"deepresearch/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		LLMProviders:   "mock",
		EmbedProviders: "mock",
		EmbedDim:       16,
		IndexBackend:   BackendMemory,
		DownloadDir:    t.TempDir(),
		SearchTTL:      time.Minute,
		Sectors:        config.DefaultSectors(),
	}
}

func TestBuildMemoryBackend(t *testing.T) {
	p, err := Build(context.Background(), baseConfig(t), nil)
	require.NoError(t, err)
	defer p.Close()

	require.NotNil(t, p.Assistant)
	require.NotNil(t, p.Refresher)
	require.Nil(t, p.DB)
	require.False(t, p.Store.Initialized())

	ctx := context.Background()
	require.NoError(t, p.Store.AddTexts(ctx, []string{"Indian IT services outlook"}, map[string]any{"query": "IT"}))
	got, err := p.Store.SimilaritySearch(ctx, "Indian IT services outlook", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"Indian IT services outlook"}, got)
}

func TestBuildRejectsBadBackends(t *testing.T) {
	cfg := baseConfig(t)
	cfg.IndexBackend = "faiss"
	_, err := Build(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "unknown index backend")

	cfg.IndexBackend = BackendPG
	_, err = Build(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "RESEARCH_POSTGRES_URL")

	cfg.GeminiAPIKey = ""
	cfg.IndexBackend = BackendChroma
	_, err = Build(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "GEMINI_API_KEY")
}

func TestBuildWithRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := baseConfig(t)
	cfg.RedisAddr = mr.Addr()
	p, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Len(t, p.closers, 1)
	p.Close()
	require.Empty(t, p.closers)
}

func TestBuildSkipsUnreachableRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	cfg := baseConfig(t)
	cfg.RedisAddr = addr
	p, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Empty(t, p.closers)
}
