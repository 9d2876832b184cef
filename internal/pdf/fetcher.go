package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"deepresearch/internal/httpx"
	"deepresearch/internal/util"

	"go.uber.org/zap"
)

const (
	DefaultMaxBytes    = 50 * 1024 * 1024
	DefaultHeadTimeout = 10 * time.Second
	DefaultGetTimeout  = 20 * time.Second

	chunkSize = 8192
)

var pdfMagic = []byte("%PDF")

type FetchStatus string

const (
	FetchDownloaded FetchStatus = "downloaded"
	FetchSkipped    FetchStatus = "skipped"
	FetchFailed     FetchStatus = "failed"
)

// FetchOutcome is the result of trying to bring one URL's PDF to disk.
// Path is set only for FetchDownloaded; Sniffed reports that the %PDF magic
// bytes were seen (as opposed to trusting the content-type alone).
type FetchOutcome struct {
	Status  FetchStatus `json:"status"`
	Path    string      `json:"path,omitempty"`
	Sniffed bool        `json:"sniffed,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

// URLOutcome records what happened to one candidate URL end to end.
type URLOutcome struct {
	URL       string       `json:"url"`
	Fetch     FetchOutcome `json:"fetch"`
	Extracted bool         `json:"extracted"`
	Chars     int          `json:"chars,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// Failed reports whether the URL counts against the batch: anything that was
// attempted but did not produce text. Skipped URLs were never attempted.
func (o URLOutcome) Failed() bool {
	return o.Fetch.Status == FetchFailed || (o.Fetch.Status == FetchDownloaded && !o.Extracted)
}

type ExtractedDocument struct {
	SourceURL string `json:"source_url"`
	Path      string `json:"path"`
	Text      string `json:"text"`
}

type TextExtractor interface {
	Extract(path string) string
}

type Options struct {
	DownloadDir string
	MaxBytes    int64
	HeadTimeout time.Duration
	GetTimeout  time.Duration
}

type Fetcher struct {
	client    *httpx.Client
	extractor TextExtractor
	opts      Options
	log       *zap.Logger
	now       func() time.Time
}

func NewFetcher(client *httpx.Client, extractor TextExtractor, opts Options, log *zap.Logger) *Fetcher {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.HeadTimeout <= 0 {
		opts.HeadTimeout = DefaultHeadTimeout
	}
	if opts.GetTimeout <= 0 {
		opts.GetTimeout = DefaultGetTimeout
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = "downloaded_pdfs"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{client: client, extractor: extractor, opts: opts, log: log, now: time.Now}
}

// FetchAndExtract downloads url when it looks like a PDF and extracts its
// text. It never returns an error: every fault becomes part of the outcome.
// The document is nil unless non-empty text was extracted.
func (f *Fetcher) FetchAndExtract(ctx context.Context, rawURL string) (*ExtractedDocument, URLOutcome) {
	out := URLOutcome{URL: rawURL}
	var known http.Header
	if !urlSignal(rawURL) {
		h, err := f.head(ctx, rawURL)
		if err != nil || !isPDFContentType(h) {
			out.Fetch = FetchOutcome{Status: FetchSkipped, Reason: util.ErrNoPDFSignal.Error()}
			return nil, out
		}
		known = h
	}

	out.Fetch = f.download(ctx, rawURL, known)
	if out.Fetch.Status != FetchDownloaded {
		return nil, out
	}
	text := f.extractor.Extract(out.Fetch.Path)
	if text == "" {
		f.log.Info("no text extracted, keeping file", zap.String("url", rawURL), zap.String("path", out.Fetch.Path))
		out.Error = util.ErrNoExtractableText.Error()
		return nil, out
	}
	out.Extracted = true
	out.Chars = len(text)
	return &ExtractedDocument{SourceURL: rawURL, Path: out.Fetch.Path, Text: text}, out
}

func (f *Fetcher) download(ctx context.Context, rawURL string, known http.Header) FetchOutcome {
	headers := known
	if headers == nil {
		h, err := f.head(ctx, rawURL)
		if err != nil {
			f.log.Debug("head request failed", zap.String("url", rawURL), zap.Error(err))
			h = http.Header{}
		}
		headers = h
	}

	lower := strings.ToLower(rawURL)
	looksLikePDF := strings.HasSuffix(lower, ".pdf") || strings.Contains(lower, "file=") || strings.Contains(lower, "pdf") || isPDFContentType(headers)
	if !looksLikePDF {
		return failed(util.ErrNoPDFSignal)
	}

	if cl := headers.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > f.opts.MaxBytes {
			f.log.Info("skipping oversized pdf", zap.String("url", rawURL), zap.Int64("content_length", n))
			return failed(fmt.Errorf("content-length %d: %w", n, util.ErrTooLarge))
		}
	}

	resp, err := f.client.Get(ctx, rawURL, f.opts.GetTimeout)
	if err != nil {
		f.log.Info("pdf download failed", zap.String("url", rawURL), zap.Error(err))
		return failed(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.log.Info("pdf download http error", zap.String("url", rawURL), zap.Int("status", resp.StatusCode))
		return failed(fmt.Errorf("http status %d", resp.StatusCode))
	}

	if err := util.EnsureDir(f.opts.DownloadDir); err != nil {
		return failed(err)
	}
	filePath := filepath.Join(f.opts.DownloadDir, f.filename(rawURL, resp.Header))
	magic, err := f.stream(resp.Body, filePath)
	if err != nil {
		_ = os.Remove(filePath)
		if errors.Is(err, util.ErrTooLarge) {
			f.log.Info("aborting pdf download over size ceiling", zap.String("url", rawURL), zap.Int64("max_bytes", f.opts.MaxBytes))
		}
		return failed(err)
	}

	sniffed := bytes.Equal(magic, pdfMagic)
	if !sniffed && !isPDFContentType(resp.Header) {
		_ = os.Remove(filePath)
		f.log.Info("downloaded file is not a pdf", zap.String("url", rawURL))
		return failed(util.ErrNotPDF)
	}
	return FetchOutcome{Status: FetchDownloaded, Path: filePath, Sniffed: sniffed}
}

// stream copies body to path in fixed-size chunks, refusing to write past the
// size ceiling. It returns the first bytes of the payload for sniffing.
func (f *Fetcher) stream(body io.Reader, filePath string) ([]byte, error) {
	out, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", filePath, err)
	}
	defer out.Close()

	head := make([]byte, 0, len(pdfMagic))
	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > f.opts.MaxBytes {
				return nil, util.ErrTooLarge
			}
			if len(head) < cap(head) {
				head = append(head, buf[:min(n, cap(head)-len(head))]...)
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return nil, fmt.Errorf("write %s: %w", filePath, err)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, fmt.Errorf("read body: %w", rerr)
		}
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", filePath, err)
	}
	return head, nil
}

func (f *Fetcher) head(ctx context.Context, rawURL string) (http.Header, error) {
	resp, err := f.client.Head(ctx, rawURL, f.opts.HeadTimeout)
	if err != nil {
		return nil, err
	}
	h := resp.Header.Clone()
	if h.Get("Content-Length") == "" && resp.ContentLength > 0 {
		h.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	return h, nil
}

// filename picks the on-disk name: content-disposition filename, then the URL
// path basename, then host plus timestamp.
func (f *Fetcher) filename(rawURL string, h http.Header) string {
	if cd := h.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return SanitizeFilename(params["filename"])
		}
		if i := strings.Index(cd, "filename="); i >= 0 {
			name := strings.Trim(strings.TrimSpace(cd[i+len("filename="):]), `"`)
			if unq, err := url.PathUnescape(name); err == nil {
				name = unq
			}
			return SanitizeFilename(name)
		}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return SanitizeFilename("")
	}
	if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
		if unq, err := url.PathUnescape(base); err == nil {
			base = unq
		}
		return SanitizeFilename(base)
	}
	host := strings.ReplaceAll(u.Host, ":", "_")
	return fmt.Sprintf("%s_%d.pdf", SanitizeFilename(host), f.now().Unix())
}

// SanitizeFilename keeps letters, digits, space, dot, underscore and dash,
// turns spaces into underscores and caps the result at 200 bytes.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	keep := strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "_")
	if len(keep) > 200 {
		keep = keep[:200]
	}
	if keep == "" || keep == "." || keep == ".." {
		return "downloaded_pdf"
	}
	return keep
}

func urlSignal(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.HasSuffix(lower, ".pdf") || strings.Contains(lower, "pdf") || strings.Contains(lower, "download")
}

func isPDFContentType(h http.Header) bool {
	return strings.Contains(strings.ToLower(h.Get("Content-Type")), "pdf")
}

func failed(err error) FetchOutcome {
	return FetchOutcome{Status: FetchFailed, Reason: err.Error()}
}
