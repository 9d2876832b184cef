package pdf

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"deepresearch/internal/util"

	"code.sajari.com/docconv/v2"
	lpdf "github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// ParseFunc returns the text of each page of the document at path, in page
// order. A page that could not be parsed is returned as "".
type ParseFunc func(path string) ([]string, error)

// Extractor runs a layout-aware primary parser and falls back to a more
// tolerant one when the primary fails outright or finds no text.
type Extractor struct {
	Primary  ParseFunc
	Fallback ParseFunc
	log      *zap.Logger
}

func NewExtractor(log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{Primary: ParseLayout, Fallback: ParsePdftotext, log: log}
}

func (e *Extractor) Extract(path string) string {
	if e.Primary != nil {
		pages, err := e.Primary(path)
		if err != nil {
			e.log.Info("primary pdf parser failed", zap.String("path", path), zap.Error(err))
		} else if text := joinPages(pages); text != "" {
			return text
		}
	}
	if e.Fallback == nil {
		return ""
	}
	pages, err := e.Fallback(path)
	if err != nil {
		e.log.Info("fallback pdf parser failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	return joinPages(pages)
}

func joinPages(pages []string) string {
	kept := make([]string, 0, len(pages))
	for _, p := range pages {
		if p = util.SanitizeText(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// ParseLayout reads each page's plain text with ledongthuc/pdf and appends
// any table-like rows as pipe-joined cells.
func ParseLayout(path string) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()
	f, r, err := lpdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	fonts := make(map[string]*lpdf.Font)
	n := r.NumPage()
	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, layoutPage(p, fonts))
	}
	return pages, nil
}

func layoutPage(p lpdf.Page, fonts map[string]*lpdf.Font) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	for _, name := range p.Fonts() {
		if _, ok := fonts[name]; !ok {
			font := p.Font(name)
			fonts[name] = &font
		}
	}
	plain, err := p.GetPlainText(fonts)
	if err != nil {
		return ""
	}
	lines := make([]string, 0, 8)
	if plain = strings.TrimSpace(plain); plain != "" {
		lines = append(lines, plain)
	}
	lines = append(lines, pageTableLines(p)...)
	return strings.Join(lines, "\n")
}

// pageTableLines only sees columns placed with Tm; GetTextByRow reports X=0 for
// text moved with Td, so such rows collapse into a single cell.
func pageTableLines(p lpdf.Page) (lines []string) {
	defer func() {
		if recover() != nil {
			lines = nil
		}
	}()
	rows, err := p.GetTextByRow()
	if err != nil {
		return nil
	}
	grid := make([][]glyph, 0, len(rows))
	for _, row := range rows {
		gs := make([]glyph, 0, len(row.Content))
		for _, t := range row.Content {
			gs = append(gs, glyph{X: t.X, W: t.W, Size: t.FontSize, S: t.S})
		}
		grid = append(grid, gs)
	}
	return tableLines(grid)
}

type glyph struct {
	X, W, Size float64
	S          string
}

// tableLines renders rows that split into two or more cells. A page needs at
// least two such rows before anything is treated as a table.
func tableLines(rows [][]glyph) []string {
	out := make([]string, 0)
	for _, row := range rows {
		cells := splitCells(row)
		if len(cells) >= 2 {
			out = append(out, strings.Join(cells, " | "))
		}
	}
	if len(out) < 2 {
		return nil
	}
	return out
}

// splitCells groups the glyphs of one row into cells. A horizontal gap wider
// than 1.5 font sizes starts a new cell; a smaller visible gap is a space.
func splitCells(row []glyph) []string {
	if len(row) == 0 {
		return nil
	}
	sorted := append([]glyph(nil), row...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	cells := make([]string, 0, 4)
	var cur strings.Builder
	prevEnd := math.Inf(-1)
	for _, g := range sorted {
		size := g.Size
		if size <= 0 {
			size = 10
		}
		gap := g.X - prevEnd
		switch {
		case cur.Len() > 0 && gap > 1.5*size:
			if c := strings.TrimSpace(cur.String()); c != "" {
				cells = append(cells, c)
			}
			cur.Reset()
		case cur.Len() > 0 && gap > 0.2*size:
			cur.WriteByte(' ')
		}
		cur.WriteString(g.S)
		prevEnd = g.X + g.W
	}
	if c := strings.TrimSpace(cur.String()); c != "" {
		cells = append(cells, c)
	}
	return cells
}

// ParsePdftotext extracts text through docconv (poppler's pdftotext), which
// copes with documents the pure-Go parser rejects. Pages are split on form
// feeds when the converter emits them.
func ParsePdftotext(path string) ([]string, error) {
	res, err := docconv.ConvertPath(path)
	if err != nil {
		return nil, fmt.Errorf("docconv convert: %w", err)
	}
	return strings.Split(res.Body, "\f"), nil
}
