package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/guarzo/commentproxy/common"
)

// Notifier pushes domain events to an external listener.
type Notifier interface {
	Notify(ctx context.Context, event string, data interface{}) error
	NotifyAsync(ctx context.Context, event string, data interface{})
}

// Payload is the body posted to the webhook URL.
type Payload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

const notifyTimeout = 10 * time.Second

type notifier struct {
	url        string
	httpClient common.HttpClient
	logger     zerolog.Logger
	now        func() time.Time
}

// NewNotifier returns nil when url is empty so callers can skip notification entirely.
func NewNotifier(url string, httpClient common.HttpClient, logger zerolog.Logger) Notifier {
	if url == "" {
		return nil
	}
	return &notifier{
		url:        url,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "webhook").Logger(),
		now:        time.Now,
	}
}

// Notify posts the event and waits for the listener to acknowledge it.
func (n *notifier) Notify(ctx context.Context, event string, data interface{}) error {
	body, err := json.Marshal(Payload{Event: event, Timestamp: n.now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &common.HTTPError{StatusCode: resp.StatusCode, Body: respBody}
	}

	n.logger.Info().Str("event", event).Int("status", resp.StatusCode).Msg("webhook sent")
	return nil
}

// NotifyAsync sends in the background. The request context is detached so the
// notification outlives the handler that triggered it.
func (n *notifier) NotifyAsync(ctx context.Context, event string, data interface{}) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := n.Notify(ctx, event, data); err != nil {
			n.logger.Error().Err(err).Str("event", event).Msg("webhook failed")
		}
	}()
}
