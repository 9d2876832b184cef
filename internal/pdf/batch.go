package pdf

import (
	"context"

	"go.uber.org/zap"
)

// Batch is the aggregate of running FetchAndExtract over a URL list.
// Succeeded lists local paths of every downloaded file, including those that
// later yielded no text; such URLs also appear in Failed.
type Batch struct {
	Texts     []string     `json:"texts"`
	Succeeded []string     `json:"succeeded"`
	Failed    []string     `json:"failed"`
	Outcomes  []URLOutcome `json:"outcomes"`
}

// FetchAll processes urls one at a time, in order.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) Batch {
	b := Batch{
		Texts:     []string{},
		Succeeded: []string{},
		Failed:    []string{},
		Outcomes:  make([]URLOutcome, 0, len(urls)),
	}
	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		doc, out := f.FetchAndExtract(ctx, u)
		b.Outcomes = append(b.Outcomes, out)
		if out.Fetch.Status == FetchDownloaded {
			b.Succeeded = append(b.Succeeded, out.Fetch.Path)
		}
		if out.Failed() {
			b.Failed = append(b.Failed, u)
		}
		if doc != nil {
			b.Texts = append(b.Texts, doc.Text)
		}
	}

	sample := b.Failed
	if len(sample) > 10 {
		sample = sample[:10]
	}
	f.log.Info("pdf fetch summary",
		zap.Int("candidates", len(urls)),
		zap.Int("succeeded", len(b.Succeeded)),
		zap.Int("failed", len(b.Failed)),
		zap.Strings("failed_sample", sample),
	)
	return b
}
