package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	APIAddr           string
	TemporalAddress   string
	TemporalTaskQueue string
	PostgresURL       string
	RedisAddr         string
	ChromaURL         string
	SQLitePath        string
	GeminiAPIKey      string
	DataOutRoot       string
	DownloadDir       string
	LogLevel          string
	LogJSON           bool

	LLMProviders   string
	EmbedProviders string
	EmbedDim       int

	IndexBackend string
	ChunkSize    int
	ChunkOverlap int

	MaxPDFBytes  int64
	HeadTimeout  time.Duration
	GetTimeout   time.Duration
	HTTPRetries  int
	HTTPBackoff  time.Duration
	SearchPerSec float64
	SearchTTL    time.Duration

	PlainMinURLs  int
	PDFMinURLs    int
	PerCallURLs   int
	RetrievalTopK int

	WatchInterval time.Duration
	Sectors       []Sector
	Watchlist     []string
}

// Sector maps a query keyword to the tickers reported for it, best first.
type Sector struct {
	Keyword string   `yaml:"keyword"`
	Tickers []string `yaml:"tickers"`
}

type fileConfig struct {
	Sectors   []Sector `yaml:"sectors"`
	Watchlist []string `yaml:"watchlist"`
}

func DefaultSectors() []Sector {
	big := []string{"AAPL", "MSFT", "GOOGL", "AMZN", "META", "NVDA", "TSLA"}
	return []Sector{
		{Keyword: "IT", Tickers: big},
		{Keyword: "pharma", Tickers: []string{"JNJ", "PFE", "ABBV", "MRK", "TMO", "DHR", "ABT"}},
		{Keyword: "finance", Tickers: []string{"JPM", "BAC", "WFC", "GS", "MS", "C", "AXP"}},
		{Keyword: "tech", Tickers: big},
	}
}

func DefaultWatchlist() []string {
	return []string{"IT Sector 2025", "Pharma 2025", "NASDAQ Top Stocks 2025"}
}

func Load() Config {
	cfg := Config{
		APIAddr:           getenv("RESEARCH_API_ADDR", ":8080"),
		TemporalAddress:   getenv("RESEARCH_TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTaskQueue: getenv("RESEARCH_TEMPORAL_TASK_QUEUE", "deepresearch"),
		PostgresURL:       getenv("RESEARCH_POSTGRES_URL", ""),
		RedisAddr:         getenv("RESEARCH_REDIS_ADDR", ""),
		ChromaURL:         getenv("RESEARCH_CHROMA_URL", "http://localhost:8000"),
		SQLitePath:        getenv("RESEARCH_SQLITE_PATH", "./data/index.db"),
		GeminiAPIKey:      getenv("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY")),
		DataOutRoot:       getenv("RESEARCH_DATA_OUT", "./data/out"),
		DownloadDir:       getenv("RESEARCH_DOWNLOAD_DIR", "./data/downloaded_pdfs"),
		LogLevel:          getenv("RESEARCH_LOG_LEVEL", "info"),
		LogJSON:           getenvBool("RESEARCH_LOG_JSON", false),
		LLMProviders:      getenv("RESEARCH_LLM_PROVIDERS", "mock"),
		EmbedProviders:    getenv("RESEARCH_EMBED_PROVIDERS", "mock"),
		EmbedDim:          getenvInt("RESEARCH_EMBED_DIM", 768),
		IndexBackend:      getenv("RESEARCH_INDEX_BACKEND", "memory"),
		ChunkSize:         getenvInt("RESEARCH_CHUNK_SIZE", 1200),
		ChunkOverlap:      getenvInt("RESEARCH_CHUNK_OVERLAP", 200),
		MaxPDFBytes:       int64(getenvInt("RESEARCH_MAX_PDF_BYTES", 50*1024*1024)),
		HeadTimeout:       getenvDuration("RESEARCH_HEAD_TIMEOUT", 10*time.Second),
		GetTimeout:        getenvDuration("RESEARCH_GET_TIMEOUT", 20*time.Second),
		HTTPRetries:       getenvInt("RESEARCH_HTTP_RETRIES", 3),
		HTTPBackoff:       getenvDuration("RESEARCH_HTTP_BACKOFF", time.Second),
		SearchPerSec:      getenvFloat("RESEARCH_SEARCH_PER_SEC", 1),
		SearchTTL:         getenvDuration("RESEARCH_SEARCH_CACHE_TTL", 30*time.Minute),
		PlainMinURLs:      getenvInt("RESEARCH_PLAIN_MIN_URLS", 15),
		PDFMinURLs:        getenvInt("RESEARCH_PDF_MIN_URLS", 5),
		PerCallURLs:       getenvInt("RESEARCH_PER_CALL_URLS", 25),
		RetrievalTopK:     getenvInt("RESEARCH_RETRIEVAL_TOP_K", 10),
		WatchInterval:     getenvDuration("RESEARCH_WATCH_INTERVAL", time.Hour),
		Sectors:           DefaultSectors(),
		Watchlist:         DefaultWatchlist(),
	}
	if w := strings.TrimSpace(os.Getenv("RESEARCH_WATCHLIST")); w != "" {
		cfg.Watchlist = splitList(w)
	}
	return cfg
}

// LoadFile overlays the sector table and watchlist from a YAML file. Lists
// present in the file replace the defaults; absent lists are left alone.
func (c *Config) LoadFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if len(fc.Sectors) > 0 {
		c.Sectors = fc.Sectors
	}
	if len(fc.Watchlist) > 0 {
		c.Watchlist = fc.Watchlist
	}
	return nil
}

func splitList(raw string) []string {
	out := make([]string, 0)
	for _, p := range strings.Split(raw, "|") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, fallback string) string {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(k string, fallback int) int {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(k string, fallback float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(k string, fallback bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(k string, fallback time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
