// internal/fallback/notifier.go
package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Sender delivers an operator alert
type Sender interface {
	Send(ctx context.Context, content string) error
}

// textMessage is the group-bot webhook payload
type textMessage struct {
	MsgType string `json:"msgtype"`
	Text    struct {
		Content string `json:"content"`
	} `json:"text"`
}

// Notifier posts text alerts to a chat webhook. With no URL configured
// Send does nothing.
type Notifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NotifierOption configures the notifier
type NotifierOption func(*Notifier)

// WithNotifierClient replaces the HTTP client
func WithNotifierClient(c *http.Client) NotifierOption {
	return func(n *Notifier) {
		n.client = c
	}
}

// NewNotifier creates a webhook notifier
func NewNotifier(webhookURL string, logger *zap.Logger, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		url:    webhookURL,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Send posts content as a text message
func (n *Notifier) Send(ctx context.Context, content string) error {
	if n.url == "" {
		n.logger.Warn("webhook url not configured, alert not sent")
		return nil
	}

	var msg textMessage
	msg.MsgType = "text"
	msg.Text.Content = content

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("send alert: webhook returned %d", resp.StatusCode)
	}

	n.logger.Info("alert sent")
	return nil
}
