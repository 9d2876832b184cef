package util

import "errors"

var (
	ErrNoExtractableText = errors.New("no extractable text found in PDF")
	ErrNoPDFSignal       = errors.New("url has no pdf signal")
	ErrNotPDF            = errors.New("downloaded file is not a PDF")
	ErrTooLarge          = errors.New("download exceeds size ceiling")

	ErrQuotaExhausted = errors.New("provider quota exhausted")
	ErrRateLimited    = errors.New("provider rate limited")
	ErrTransient      = errors.New("transient provider error")
	ErrPermanent      = errors.New("permanent provider error")
	ErrContextTooLong = errors.New("context too long")
)
