package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shortontech/dnaguard/internal/alert"
)

// Webhook POSTs a JSON rendering of each alert to a fixed URL. An empty URL
// turns every delivery into ErrSkipped.
type Webhook struct {
	name   string
	url    string
	client *http.Client
	render func(alert.Event) ([]byte, error)
}

// NewChatWebhook posts a rich chat message per alert.
func NewChatWebhook(url string, timeout time.Duration) *Webhook {
	return newWebhook("chat_webhook", url, timeout, func(ev alert.Event) ([]byte, error) {
		return json.Marshal(alert.ChatMessage(ev))
	})
}

// NewAdminWebhook posts the alert envelope unchanged.
func NewAdminWebhook(url string, timeout time.Duration) *Webhook {
	return newWebhook("admin_webhook", url, timeout, alert.Envelope)
}

func newWebhook(name, url string, timeout time.Duration, render func(alert.Event) ([]byte, error)) *Webhook {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Webhook{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
		render: render,
	}
}

func (s *Webhook) Name() string { return s.name }

func (s *Webhook) Configured() bool { return s.url != "" }

// Start is a no-op. Deliveries are bounded by the client timeout alone so
// alerts already in flight at shutdown still land.
func (s *Webhook) Start(ctx context.Context) error { return nil }

func (s *Webhook) Enqueue(ev alert.Event) error {
	if s.url == "" {
		return ErrSkipped
	}
	body, err := s.render(ev)
	if err != nil {
		return fmt.Errorf("%s: encode alert: %w", s.name, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", s.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "dnaguard-alerts/1")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: post: %w", s.name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: unexpected status %d", s.name, resp.StatusCode)
	}
	return nil
}

func (s *Webhook) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
