package provider

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/mrz1836/postmark"
)

// ErrInvalidEmailConfig is returned by NewEmailDeliverer for missing settings.
var ErrInvalidEmailConfig = errors.New("invalid email configuration")

// EmailConfig carries the Postmark credentials and envelope defaults.
type EmailConfig struct {
	ServerToken  string
	AccountToken string
	From         string
	Subject      string
}

// postmarkSend is the subset of the Postmark client the deliverer needs;
// it returns the message id, the Postmark error code and message.
type postmarkSend func(ctx context.Context, e postmark.Email) (string, int64, string, error)

// EmailDeliverer sends the rendered content as a plain-text email via Postmark.
type EmailDeliverer struct {
	send    postmarkSend
	from    string
	subject string
}

func NewEmailDeliverer(cfg EmailConfig) (*EmailDeliverer, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: server token is required", ErrInvalidEmailConfig)
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("%w: sender %q: %v", ErrInvalidEmailConfig, cfg.From, err)
	}

	client := postmark.NewClient(cfg.ServerToken, cfg.AccountToken)
	send := func(ctx context.Context, e postmark.Email) (string, int64, string, error) {
		resp, err := client.SendEmail(ctx, e)
		if err != nil {
			return "", 0, "", err
		}
		return resp.MessageID, int64(resp.ErrorCode), resp.Message, nil
	}
	return newEmailDeliverer(send, cfg), nil
}

func newEmailDeliverer(send postmarkSend, cfg EmailConfig) *EmailDeliverer {
	subject := cfg.Subject
	if subject == "" {
		subject = "Notification"
	}
	return &EmailDeliverer{send: send, from: cfg.From, subject: subject}
}

func (p *EmailDeliverer) Deliver(ctx context.Context, content string, recipients []string) (Response, error) {
	for _, r := range recipients {
		if _, err := mail.ParseAddress(r); err != nil {
			return Response{}, Permanent(fmt.Errorf("invalid email address %q", r))
		}
	}

	id, code, msg, err := p.send(ctx, postmark.Email{
		From:     p.from,
		To:       strings.Join(recipients, ","),
		Subject:  p.subject,
		TextBody: content,
		Tag:      "gns",
	})
	if err != nil {
		return Response{}, fmt.Errorf("postmark: %w", err)
	}
	if code > 0 {
		// Postmark API error codes are request problems (bad sender, inactive
		// recipient, invalid JSON); retrying the same message does not help.
		return Response{}, Permanent(fmt.Errorf("postmark error: %d - %s", code, msg))
	}
	return Response{Summary: "postmark " + id}, nil
}

var _ Deliverer = (*EmailDeliverer)(nil)
