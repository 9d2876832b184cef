package providers

import (
	"errors"
	"strings"

	"deepresearch/internal/util"
)

type ErrorType string

const (
	ErrorQuota     ErrorType = "quota"
	ErrorRate      ErrorType = "rate"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
	ErrorContext   ErrorType = "context"
)

// ClassifyError buckets a provider error by its message, since vendors do not
// share error types. Wrapped util sentinels take precedence.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, util.ErrQuotaExhausted):
		return ErrorQuota
	case errors.Is(err, util.ErrRateLimited):
		return ErrorRate
	case errors.Is(err, util.ErrContextTooLong):
		return ErrorContext
	case errors.Is(err, util.ErrTransient):
		return ErrorTransient
	case errors.Is(err, util.ErrPermanent):
		return ErrorPermanent
	}
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "quota"), strings.Contains(e, "credit"), strings.Contains(e, "resource_exhausted"):
		return ErrorQuota
	case strings.Contains(e, "rate limit"), strings.Contains(e, "rate_limit"), strings.Contains(e, "ratelimit"),
		strings.Contains(e, "too many requests"), strings.Contains(e, "429"):
		return ErrorRate
	case strings.Contains(e, "context length"), strings.Contains(e, "context window"), strings.Contains(e, "too long"):
		return ErrorContext
	case strings.Contains(e, "timeout"), strings.Contains(e, "deadline exceeded"), strings.Contains(e, "temporarily"), strings.Contains(e, "unavailable"), strings.Contains(e, "connection refused"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}

// Sentinel returns the util sentinel matching err's class.
func Sentinel(t ErrorType) error {
	switch t {
	case ErrorQuota:
		return util.ErrQuotaExhausted
	case ErrorRate:
		return util.ErrRateLimited
	case ErrorContext:
		return util.ErrContextTooLong
	case ErrorTransient:
		return util.ErrTransient
	default:
		return util.ErrPermanent
	}
}
