// Package notify delivers outreach lifecycle events to an external
// notification gateway over a JSON webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// EventType identifies the kind of notification.
type EventType string

const (
	EventRequestComplete EventType = "request_complete"
	EventRequestFailed   EventType = "request_failed"
	EventAlert           EventType = "alert"
)

// Event is a single notification.
type Event struct {
	Type      EventType      `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier sends events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Webhook posts events as JSON to a URL.
type Webhook struct {
	url    string
	token  string
	client *http.Client
}

// Option configures a Webhook.
type Option func(*Webhook)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(w *Webhook) {
		w.client = c
	}
}

// WithToken sends a bearer token with every event.
func WithToken(token string) Option {
	return func(w *Webhook) {
		w.token = token
	}
}

// NewWebhook creates a Webhook notifier.
func NewWebhook(url string, opts ...Option) *Webhook {
	w := &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// New returns a Webhook for url, or Nop when url is empty.
func New(url string, opts ...Option) Notifier {
	if url == "" {
		return Nop{}
	}
	return NewWebhook(url, opts...)
}

func (w *Webhook) Notify(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	zap.L().Debug("notify: event sent", zap.String("type", string(ev.Type)), zap.String("request_id", ev.RequestID))
	return nil
}

// SendAll delivers events and returns how many succeeded. Failures are
// logged, not returned.
func SendAll(ctx context.Context, n Notifier, events []Event) int {
	sent := 0
	for _, ev := range events {
		if err := n.Notify(ctx, ev); err != nil {
			zap.L().Error("notify: failed to send event",
				zap.String("type", string(ev.Type)),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent
}
