package stock

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"deepresearch/internal/config"

	"go.uber.org/zap"
)

const (
	sectorTopN = 3
	// minFields is how many populated fields a direct lookup needs before
	// the ticker is treated as real.
	minFields = 5
)

// Provider returns the populated quote fields for one ticker. Keys follow
// the yfinance naming: currentPrice, marketCap, trailingPE, dividendYield,
// fiftyTwoWeekHigh, fiftyTwoWeekLow.
type Provider interface {
	Info(ctx context.Context, ticker string) (map[string]any, error)
}

type Lookup struct {
	provider Provider
	sectors  []config.Sector
	log      *zap.Logger
}

func NewLookup(p Provider, sectors []config.Sector, log *zap.Logger) *Lookup {
	if log == nil {
		log = zap.NewNop()
	}
	return &Lookup{provider: p, sectors: sectors, log: log}
}

// Snapshot renders market data for query as a text block. A query naming a
// configured sector reports that sector's leading tickers; anything else is
// tried as a ticker symbol. ok is false when the guidance message is
// returned instead of data.
func (l *Lookup) Snapshot(ctx context.Context, query string) (text string, ok bool) {
	if tickers := l.SectorTickers(query); len(tickers) > 0 {
		return l.sectorSnapshot(ctx, query, tickers), true
	}
	return l.tickerSnapshot(ctx, query)
}

// SectorTickers returns the top tickers of the first sector whose keyword
// occurs in query, case-insensitively, or nil.
func (l *Lookup) SectorTickers(query string) []string {
	q := strings.ToLower(query)
	for _, s := range l.sectors {
		kw := strings.ToLower(strings.TrimSpace(s.Keyword))
		if kw == "" || len(s.Tickers) == 0 {
			continue
		}
		if strings.Contains(q, kw) {
			n := min(sectorTopN, len(s.Tickers))
			return append([]string(nil), s.Tickers[:n]...)
		}
	}
	return nil
}

func (l *Lookup) sectorSnapshot(ctx context.Context, query string, tickers []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stock Data for %s (Sector Analysis):\n", query)
	fmt.Fprintf(&b, "Analyzing top stocks in this sector: %s\n\n", strings.Join(tickers, ", "))
	for _, t := range tickers {
		info, err := l.provider.Info(ctx, t)
		if err != nil {
			l.log.Info("stock lookup failed", zap.String("ticker", t), zap.Error(err))
			fmt.Fprintf(&b, "%s: Error fetching data - %v\n\n", t, err)
			continue
		}
		fmt.Fprintf(&b, "%s:\n", t)
		fmt.Fprintf(&b, "  - Current Price: $%s\n", field(info, "currentPrice"))
		b.WriteString("  - Market Cap: " + marketCap(info) + "\n")
		fmt.Fprintf(&b, "  - PE Ratio: %s\n", field(info, "trailingPE"))
		fmt.Fprintf(&b, "  - 52W High/Low: $%s / $%s\n\n", field(info, "fiftyTwoWeekHigh"), field(info, "fiftyTwoWeekLow"))
	}
	return b.String()
}

func (l *Lookup) tickerSnapshot(ctx context.Context, query string) (string, bool) {
	info, err := l.provider.Info(ctx, strings.TrimSpace(query))
	if err != nil {
		l.log.Info("stock lookup failed", zap.String("ticker", query), zap.Error(err))
		return Guidance(query) + " Error: " + err.Error(), false
	}
	if len(info) < minFields {
		return Guidance(query), false
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Stock Info for %s:\n", query)
	fmt.Fprintf(&b, "- Current Price: $%s\n", field(info, "currentPrice"))
	b.WriteString("- Market Cap: " + marketCap(info) + "\n")
	fmt.Fprintf(&b, "- PE Ratio: %s\n", field(info, "trailingPE"))
	fmt.Fprintf(&b, "- Dividend Yield: %s\n", field(info, "dividendYield"))
	fmt.Fprintf(&b, "- 52 Week High / Low: $%s / $%s\n", field(info, "fiftyTwoWeekHigh"), field(info, "fiftyTwoWeekLow"))
	return b.String(), true
}

func Guidance(query string) string {
	return fmt.Sprintf("No stock data available for %s. Please try a valid stock ticker (e.g., AAPL, MSFT) or sector query (e.g., 'IT sector', 'pharma stocks').", query)
}

func field(info map[string]any, key string) string {
	v, ok := info[key]
	if !ok || v == nil {
		return "N/A"
	}
	return formatValue(v)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// formatFloat prints the shortest round-trip form, keeping a trailing ".0"
// on whole numbers so prices read as prices.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") && !math.IsInf(f, 0) && !math.IsNaN(f) {
		s += ".0"
	}
	return s
}

func marketCap(info map[string]any) string {
	var n int64
	switch x := info["marketCap"].(type) {
	case float64:
		n = int64(x)
	case int64:
		n = x
	case int:
		n = int64(x)
	}
	if n == 0 {
		return "N/A"
	}
	return "$" + thousands(n)
}

func thousands(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	digits := strconv.FormatInt(n, 10)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte(',')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
