package nocode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/guarzo/commentproxy/common"
)

// Client defines lower-level HTTP operations against NoCodeBackend:
// GET/POST/PUT/DELETE on the create/read/update/delete endpoints, with the
// instance parameter and bearer credentials attached to every call.
type Client interface {
	GetJSON(ctx context.Context, endpoint string, entity interface{}, params map[string]string) error
	GetBytes(ctx context.Context, endpoint string, params map[string]string) ([]byte, error)
	PostJSON(ctx context.Context, endpoint string, payload interface{}) ([]byte, error)
	PutJSON(ctx context.Context, endpoint string, payload interface{}) ([]byte, error)
	DeleteJSON(ctx context.Context, endpoint string) ([]byte, error)
	DoRequest(ctx context.Context, method, urlStr string, body io.Reader, expectedStatus ...int) ([]byte, error)
}

// RequestObserver receives one callback per upstream round trip. status is 0
// when the request never produced a response.
type RequestObserver interface {
	ObserveUpstream(method, operation string, status int, elapsed time.Duration)
}

type client struct {
	baseURL    string
	instance   string
	httpClient common.HttpClient
	tokens     oauth2.TokenSource
	logger     zerolog.Logger
	observer   RequestObserver
}

// Option customises a Client.
type Option func(*client)

// WithObserver reports every round trip to o.
func WithObserver(o RequestObserver) Option {
	return func(c *client) {
		c.observer = o
	}
}

// StaticToken wraps a NoCodeBackend API key as a bearer token source.
func StaticToken(apiKey string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey, TokenType: "Bearer"})
}

// NewClient creates a Client bound to one backend instance. The baseURL is
// typically "https://openapi.nocodebackend.com".
func NewClient(baseURL, instance string, httpClient common.HttpClient, tokens oauth2.TokenSource, logger zerolog.Logger, opts ...Option) Client {
	c := &client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/",
		instance:   instance,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger.With().Str("component", "nocodebackend").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJSON retrieves JSON from an endpoint and unmarshals into entity.
func (c *client) GetJSON(ctx context.Context, endpoint string, entity interface{}, params map[string]string) error {
	data, err := c.GetBytes(ctx, endpoint, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, entity); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

// GetBytes retrieves raw bytes from an endpoint. Reads are retried on gateway-class failures.
func (c *client) GetBytes(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	urlStr, err := c.buildURL(endpoint, params)
	if err != nil {
		return nil, err
	}

	operation := func() (interface{}, error) {
		return c.DoRequest(ctx, http.MethodGet, urlStr, nil)
	}

	result, err := c.httpClient.RetryWithExponentialBackoff(ctx, operation)
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// PostJSON sends payload as a JSON body.
func (c *client) PostJSON(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	return c.sendJSON(ctx, http.MethodPost, endpoint, payload)
}

// PutJSON sends payload as a JSON body.
func (c *client) PutJSON(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	return c.sendJSON(ctx, http.MethodPut, endpoint, payload)
}

// DeleteJSON sends a DELETE.
func (c *client) DeleteJSON(ctx context.Context, endpoint string) ([]byte, error) {
	urlStr, err := c.buildURL(endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.DoRequest(ctx, http.MethodDelete, urlStr, nil)
}

func (c *client) sendJSON(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	urlStr, err := c.buildURL(endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.DoRequest(ctx, method, urlStr, bytes.NewReader(body))
}

// DoRequest is the core method that actually performs the HTTP request.
// Without expectedStatus any of 200/201 is accepted.
func (c *client) DoRequest(ctx context.Context, method, urlStr string, body io.Reader, expectedStatus ...int) ([]byte, error) {
	if len(expectedStatus) == 0 {
		expectedStatus = []int{http.StatusOK, http.StatusCreated}
	}

	op := operationOf(c.baseURL, urlStr)
	log := c.logger.With().Str("method", method).Str("endpoint", op).Logger()
	log.Debug().Msg("nocodebackend request")

	start := time.Now()
	data, status, err := c.executeRequest(ctx, method, urlStr, body)
	elapsed := time.Since(start)
	if c.observer != nil {
		c.observer.ObserveUpstream(method, op, status, elapsed)
	}
	if err != nil {
		log.Error().Err(err).Dur("duration", elapsed).Msg("nocodebackend request failed")
		return nil, err
	}

	if !statusMatches(status, expectedStatus) {
		log.Warn().
			Int("status", status).
			Str("response", truncate(data, 512)).
			Dur("duration", elapsed).
			Msg("nocodebackend unexpected status")
		return nil, &common.HTTPError{
			StatusCode: status,
			Body:       data,
		}
	}

	log.Info().Int("status", status).Dur("duration", elapsed).Msg("nocodebackend request succeeded")
	return data, nil
}

// executeRequest actually does the low-level HTTP
func (c *client) executeRequest(ctx context.Context, method, urlStr string, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to obtain backend token: %w", err)
		}
		tok.SetAuthHeader(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", readErr)
	}
	return data, resp.StatusCode, nil
}

// buildURL merges baseURL + endpoint + params + Instance
func (c *client) buildURL(endpoint string, params map[string]string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	path, err := url.Parse(strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}

	fullURL := base.ResolveReference(path)
	q := fullURL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("Instance", c.instance)
	fullURL.RawQuery = q.Encode()
	return fullURL.String(), nil
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var httpErr *common.HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}

func statusMatches(statusCode int, expected []int) bool {
	for _, s := range expected {
		if statusCode == s {
			return true
		}
	}
	return false
}

// operationOf reduces a request URL to "<verb>/<table>" so ids never leak into
// log fields or metric labels.
func operationOf(baseURL, urlStr string) string {
	rest := strings.TrimPrefix(urlStr, baseURL)
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest = rest[:i]
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) >= 2 {
		return parts[0] + "/" + parts[1]
	}
	return rest
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
