package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"watchtower/internal/device/models"
	"watchtower/pkg/platform/sentinel"
)

// WebhookSender POSTs each notification as JSON to a push gateway.
type WebhookSender struct {
	url    string
	client *http.Client
}

func NewWebhookSender(url string, client *http.Client) *WebhookSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSender{url: url, client: client}
}

func (s *WebhookSender) Name() string { return "webhook" }

func (s *WebhookSender) Send(ctx context.Context, target models.Target, n Notification) (Receipt, error) {
	msg := newMessage(uuid.NewString(), target, n, time.Now())
	body, err := json.Marshal(msg)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.ID)

	resp, err := s.client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 500 {
		return Receipt{}, fmt.Errorf("webhook returned status %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Receipt{}, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return Receipt{Backend: s.Name(), ID: msg.ID, DeliveredAt: time.Now()}, nil
}
