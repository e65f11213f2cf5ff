package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultWebhookTimeout bounds one delivery attempt
const DefaultWebhookTimeout = 10 * time.Second

// Notifier delivers a message to a webhook endpoint
type Notifier interface {
	Send(ctx context.Context, endpoint string, msg Message) error
}

// WebhookNotifier posts messages as JSON, once, without retries
type WebhookNotifier struct {
	Client *http.Client
}

// NewWebhookNotifier creates a notifier whose client gives up after timeout
func NewWebhookNotifier(timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &WebhookNotifier{Client: &http.Client{Timeout: timeout}}
}

// feishuResponse is the body Feishu bots answer with. A missing code decodes as 0.
type feishuResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Send posts msg to endpoint
func (n *WebhookNotifier) Send(ctx context.Context, endpoint string, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: status %d", ErrDeliveryRejected, resp.StatusCode)
	}

	var fr feishuResponse
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &fr) == nil && fr.Code != 0 {
		return fmt.Errorf("%w: code %d: %s", ErrDeliveryRejected, fr.Code, fr.Msg)
	}
	return nil
}
