package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"
)

var phoneRe = regexp.MustCompile(`^\+?[0-9]{6,15}$`)

// SMSRequest is the JSON body posted to the SMS gateway.
type SMSRequest struct {
	To      []string `json:"to"`
	Content string   `json:"content"`
}

// SMSResponse maps the gateway's acceptance body.
type SMSResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// SMSDeliverer hands messages to an HTTP SMS gateway in one request.
// The gateway URL and API key are injected from config so tests can point to a local mock.
type SMSDeliverer struct {
	gatewayURL string
	apiKey     string
	httpClient *http.Client
}

func NewSMSDeliverer(gatewayURL, apiKey string, timeout time.Duration) *SMSDeliverer {
	return &SMSDeliverer{
		gatewayURL: gatewayURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *SMSDeliverer) Deliver(ctx context.Context, content string, recipients []string) (Response, error) {
	for _, r := range recipients {
		if !phoneRe.MatchString(r) {
			return Response{}, Permanent(fmt.Errorf("invalid phone number %q", r))
		}
	}

	body, err := json.Marshal(SMSRequest{To: recipients, Content: content})
	if err != nil {
		return Response{}, Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if err := ClassifyStatus(resp.StatusCode); err != nil {
		return Response{}, err
	}

	var smsResp SMSResponse
	if err := json.NewDecoder(resp.Body).Decode(&smsResp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return Response{Summary: fmt.Sprintf("sms %s %s", smsResp.MessageID, smsResp.Status)}, nil
}

var _ Deliverer = (*SMSDeliverer)(nil)
