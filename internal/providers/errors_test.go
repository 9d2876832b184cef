package providers

import (
	"errors"
	"fmt"
	"testing"

	"deepresearch/internal/util"
)

func TestClassifyError(t *testing.T) {
	cases := map[string]ErrorType{
		"insufficient_quota":              ErrorQuota,
		"googleapi: RESOURCE_EXHAUSTED":   ErrorQuota,
		"429 rate":                        ErrorRate,
		"rate limit reached for requests": ErrorRate,
		"llm generate failed: bad input":  ErrorPermanent,
		"maximum context length exceeded": ErrorContext,
		"prompt too long":                 ErrorContext,
		"timeout":                         ErrorTransient,
		"context deadline exceeded":       ErrorTransient,
		"bad request":                     ErrorPermanent,
	}
	for msg, want := range cases {
		if got := ClassifyError(errors.New(msg)); got != want {
			t.Fatalf("classify %q: got %s want %s", msg, got, want)
		}
	}
}

func TestClassifyErrorPrefersSentinel(t *testing.T) {
	err := fmt.Errorf("gemini: %w", util.ErrRateLimited)
	if got := ClassifyError(err); got != ErrorRate {
		t.Fatalf("got %s want rate", got)
	}
	if !errors.Is(Sentinel(ClassifyError(errors.New("quota"))), util.ErrQuotaExhausted) {
		t.Fatalf("quota should map to ErrQuotaExhausted")
	}
}
