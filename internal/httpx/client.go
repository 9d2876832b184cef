package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	defaultAccept    = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

type Options struct {
	Retries int
	Backoff time.Duration
	Logger  *zap.Logger
	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

// Client wraps http.Client with browser-like default headers and bounded
// retries with exponential backoff for idempotent methods.
type Client struct {
	hc      *http.Client
	retries int
	backoff time.Duration
	log     *zap.Logger
}

func New(opts Options) *Client {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		hc:      &http.Client{Transport: opts.Transport},
		retries: opts.Retries,
		backoff: opts.Backoff,
		log:     opts.Logger,
	}
}

// Do sends req, retrying GET and HEAD on transport errors and on 429/5xx.
// The final response is returned as-is, whatever its status.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	setDefaultHeaders(req)
	idempotent := req.Method == http.MethodGet || req.Method == http.MethodHead
	attempts := 1
	if idempotent {
		attempts += c.retries
	}
	var (
		resp *http.Response
		err  error
	)
	for i := 0; i < attempts; i++ {
		if i > 0 {
			wait := c.backoff << (i - 1)
			c.log.Debug("retrying request", zap.String("method", req.Method), zap.String("url", req.URL.String()), zap.Int("attempt", i+1), zap.Duration("wait", wait))
			if werr := sleep(req.Context(), wait); werr != nil {
				return nil, werr
			}
		}
		resp, err = c.hc.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			continue
		}
		if !retryStatuses[resp.StatusCode] || i == attempts-1 {
			return resp, nil
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}
	return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
}

// Head issues a HEAD request bounded by timeout. The body is closed.
func (c *Client) Head(ctx context.Context, url string, timeout time.Duration) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build head request: %w", err)
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	_ = resp.Body.Close()
	return resp, nil
}

// Get issues a GET. timeout bounds the wait for response headers, then each
// body read on its own, so a slow transfer that keeps making progress is not
// cut off. Closing the body releases the timer.
func (c *Client) Get(ctx context.Context, url string, timeout time.Duration) (*http.Response, error) {
	return c.GetWithHeader(ctx, url, nil, timeout)
}

// GetWithHeader is Get with extra request headers, such as cookies.
func (c *Client) GetWithHeader(ctx context.Context, url string, h http.Header, timeout time.Duration) (*http.Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	w := newWatchdog(timeout, cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		w.stop()
		cancel()
		return nil, fmt.Errorf("build get request: %w", err)
	}
	for k, vs := range h {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.Do(req)
	if err != nil {
		w.stop()
		cancel()
		if w.expired() {
			return nil, fmt.Errorf("GET %s: %w", url, ErrIdleTimeout)
		}
		return nil, err
	}
	w.kick()
	resp.Body = &idleBody{ReadCloser: resp.Body, w: w, cancel: cancel}
	return resp, nil
}

// ErrIdleTimeout reports that no response or body bytes arrived within the
// request timeout.
var ErrIdleTimeout = errors.New("idle timeout")

// watchdog cancels a request once timeout passes without a kick. A zero
// timeout disables it.
type watchdog struct {
	timeout time.Duration
	timer   *time.Timer
	fired   atomic.Bool
}

func newWatchdog(timeout time.Duration, cancel context.CancelFunc) *watchdog {
	w := &watchdog{timeout: timeout}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() {
			w.fired.Store(true)
			cancel()
		})
	}
	return w
}

func (w *watchdog) kick() {
	if w.timer != nil && !w.fired.Load() {
		w.timer.Reset(w.timeout)
	}
}

func (w *watchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *watchdog) expired() bool { return w.fired.Load() }

type idleBody struct {
	io.ReadCloser
	w      *watchdog
	cancel context.CancelFunc
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && err != io.EOF && b.w.expired() {
		return n, fmt.Errorf("%w after %s: %v", ErrIdleTimeout, b.w.timeout, err)
	}
	b.w.kick()
	return n, err
}

func (b *idleBody) Close() error {
	b.w.stop()
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func setDefaultHeaders(req *http.Request) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", defaultAccept)
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
