package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"
)

// HttpClient is an interface for HTTP operations with optional retry logic.
// This allows mocking or custom transport layers in testing.
type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
	Get(url string) (*http.Response, error)
	Post(url, contentType string, body io.Reader) (*http.Response, error)
	PostForm(url string, data url.Values) (*http.Response, error)
	Head(url string) (*http.Response, error)
	CloseIdleConnections()
	RetryWithExponentialBackoff(ctx context.Context, operation func() (interface{}, error)) (interface{}, error)
	SetBackoffForTest(base, ceiling time.Duration)
}

// HTTPError is a custom error that captures unexpected status codes and response bodies.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, string(e.Body))
}

// Retryable reports whether the upstream status is worth another attempt.
func (e *HTTPError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// userAgentRoundTripper is a custom RoundTripper that adds a User-Agent header.
type userAgentRoundTripper struct {
	Wrapped   http.RoundTripper
	UserAgent string
}

func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone request to avoid mutating the original
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", rt.UserAgent)
	return rt.Wrapped.RoundTrip(clone)
}

// Implementation of HttpClient that wraps a standard *http.Client with retry logic.
type httpClient struct {
	client    *http.Client
	baseDelay time.Duration
	maxDelay  time.Duration
}

// DefaultTimeout bounds a single upstream round trip.
const DefaultTimeout = 30 * time.Second

// NewHttpClient returns a new HttpClient with the given timeout (DefaultTimeout when zero),
// plus a custom User-Agent.
func NewHttpClient(userAgent string, base *http.Client, timeout time.Duration) HttpClient {
	if base.Transport == nil {
		base.Transport = http.DefaultTransport
	}
	base.Transport = &userAgentRoundTripper{
		Wrapped:   base.Transport,
		UserAgent: userAgent,
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	base.Timeout = timeout

	return &httpClient{
		client:    base,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
	}
}

// Implementation of the interface:

func (h *httpClient) Do(req *http.Request) (*http.Response, error) {
	return h.client.Do(req)
}

func (h *httpClient) Get(url string) (*http.Response, error) {
	return h.client.Get(url)
}

func (h *httpClient) Post(url, contentType string, body io.Reader) (*http.Response, error) {
	return h.client.Post(url, contentType, body)
}

func (h *httpClient) PostForm(url string, data url.Values) (*http.Response, error) {
	return h.client.PostForm(url, data)
}

func (h *httpClient) Head(url string) (*http.Response, error) {
	return h.client.Head(url)
}

func (h *httpClient) CloseIdleConnections() {
	h.client.CloseIdleConnections()
}

// Exponential backoff constants
const (
	maxRetries = 5
	baseDelay  = 500 * time.Millisecond
	maxDelay   = 8 * time.Second
)

// RetryWithExponentialBackoff attempts the given operation() up to maxRetries times while it
// fails with a retryable HTTPError (5xx gateway class). Any other error, or a cancelled
// context, ends the loop immediately.
func (h *httpClient) RetryWithExponentialBackoff(ctx context.Context, operation func() (interface{}, error)) (interface{}, error) {
	var result interface{}

	b := retry.NewExponential(h.baseDelay)
	b = retry.WithJitterPercent(50, b)
	b = retry.WithCappedDuration(h.maxDelay, b)
	b = retry.WithMaxRetries(maxRetries-1, b)

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		res, err := operation()
		if err == nil {
			result = res
			return nil
		}

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.Retryable() {
			return retry.RetryableError(err)
		}
		// Not retryable, break
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (h *httpClient) SetBackoffForTest(base, ceiling time.Duration) {
	h.baseDelay = base
	h.maxDelay = ceiling
}
