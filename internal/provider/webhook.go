package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WebhookRequest is the JSON body posted to every recipient URL.
type WebhookRequest struct {
	Content   string `json:"content"`
	Recipient string `json:"recipient"`
	SentAt    string `json:"sent_at"`
}

// WebhookDeliverer delivers content by POSTing JSON to each recipient, which
// must be an absolute http(s) URL.
type WebhookDeliverer struct {
	httpClient *http.Client
}

func NewWebhookDeliverer(timeout time.Duration) *WebhookDeliverer {
	return &WebhookDeliverer{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Deliver posts to every recipient in order and stops at the first failure.
// A retry re-posts to every recipient, so receivers see at-least-once delivery.
func (p *WebhookDeliverer) Deliver(ctx context.Context, content string, recipients []string) (Response, error) {
	codes := make([]string, 0, len(recipients))
	for _, rcpt := range recipients {
		code, err := p.post(ctx, rcpt, content)
		if err != nil {
			return Response{}, fmt.Errorf("webhook %s: %w", rcpt, err)
		}
		codes = append(codes, fmt.Sprintf("%s %d", rcpt, code))
	}
	return Response{Summary: strings.Join(codes, "; ")}, nil
}

func (p *WebhookDeliverer) post(ctx context.Context, target, content string) (int, error) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return 0, Permanent(fmt.Errorf("malformed webhook url %q", target))
	}

	body, err := json.Marshal(WebhookRequest{
		Content:   content,
		Recipient: target,
		SentAt:    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return 0, Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return 0, Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return resp.StatusCode, ClassifyStatus(resp.StatusCode)
}

// compile-time check that WebhookDeliverer implements Deliverer
var _ Deliverer = (*WebhookDeliverer)(nil)
