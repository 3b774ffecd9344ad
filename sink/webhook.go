package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/phrasemark/mutation"
)

// ErrRejected is returned when the receiver answers with a 4xx status other
// than 408 or 429. Such deliveries are not retried.
var ErrRejected = errors.New("webhook: rejected")

// Webhook POSTs each Event as JSON. Snapshots carry their HTML by default.
// Network errors, 408, 429 and 5xx answers are retried with doubling
// delays. Each request names its event kind and delivery id in the
// X-Phrasemark-Event and X-Phrasemark-Delivery headers, so receivers can
// drop duplicates after a retry.
type Webhook struct {
	url     string
	client  *http.Client
	retries int
	backoff time.Duration
	html    bool
	logger  *slog.Logger
	last    lastHash
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets how many times a delivery is retried. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.retries = n }
}

// WithWebhookBackoff sets the first retry delay. Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookClient sets the HTTP client.
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithWebhookHTML controls whether snapshot HTML is sent. Default: true.
func WithWebhookHTML(on bool) WebhookOption {
	return func(w *Webhook) { w.html = on }
}

// WithWebhookLogger sets the logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook sink posting to url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		retries: 3,
		backoff: time.Second,
		html:    true,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) Send(ctx context.Context, batch mutation.Batch) error {
	return w.deliver(ctx, BatchEvent(batch))
}

// SendSnapshot skips a snapshot whose HTML is unchanged since the last one
// delivered for the page. A failed delivery is attempted again next time.
func (w *Webhook) SendSnapshot(ctx context.Context, snap mutation.Snapshot) error {
	if w.last.seen(snap.PageID, snap.HTMLHash) {
		return nil
	}
	err := w.deliver(ctx, SnapshotEvent(snap, w.html))
	if err != nil {
		w.last.forget(snap.PageID)
	}
	return err
}

func (w *Webhook) Close() error { return nil }

func (w *Webhook) deliver(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	delay := w.backoff
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = w.post(ctx, e, body)
		if lastErr == nil || errors.Is(lastErr, ErrRejected) || attempt >= w.retries {
			break
		}
		w.logger.Warn("webhook: delivery failed, retrying",
			"kind", e.Kind, "page", e.PageID, "attempt", attempt+1, "error", lastErr)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}
	if lastErr != nil {
		return fmt.Errorf("webhook: %s %s: %w", e.Kind, e.ID, lastErr)
	}
	return nil
}

func (w *Webhook) post(ctx context.Context, e Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Phrasemark-Event", string(e.Kind))
	req.Header.Set("X-Phrasemark-Delivery", e.ID)
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("status %d", code)
	default:
		return fmt.Errorf("%w: status %d", ErrRejected, code)
	}
}
