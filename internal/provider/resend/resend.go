// Package resend implements a Provider that sends emails via the Resend API.
package resend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/resend/resend-go/v3"

	"github.com/shineum/certmail-lite/internal/email"
)

// Config holds the configuration for creating a Resend Provider.
type Config struct {
	APIKey string
	Sender string
}

// Provider sends email through the Resend HTTP API.
type Provider struct {
	client *resend.Client
	sender string
}

// New creates a Resend Provider.
func New(cfg Config) *Provider {
	return &Provider{
		client: resend.NewClient(cfg.APIKey),
		sender: cfg.Sender,
	}
}

// newWithBaseURL points the client at a test server.
func newWithBaseURL(cfg Config, baseURL string, httpClient *http.Client) (*Provider, error) {
	u, err := url.Parse(baseURL + "/")
	if err != nil {
		return nil, err
	}
	client := resend.NewCustomClient(httpClient, cfg.APIKey)
	client.BaseURL = u
	return &Provider{client: client, sender: cfg.Sender}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "resend"
}

// Send submits msg and returns the id Resend assigned to it.
func (p *Provider) Send(ctx context.Context, msg *email.Email) (string, error) {
	from := msg.From
	if from == "" {
		from = p.sender
	}

	req := &resend.SendEmailRequest{
		From:    from,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HtmlBody,
		Text:    msg.TextBody,
	}
	if msg.MessageID != "" {
		req.Headers = map[string]string{"Message-ID": msg.MessageID}
	}
	if len(msg.Attachments) > 0 {
		req.Attachments = make([]*resend.Attachment, len(msg.Attachments))
		for i, a := range msg.Attachments {
			req.Attachments[i] = &resend.Attachment{
				Filename:    a.Filename,
				Content:     a.Content,
				ContentType: a.ContentType,
			}
		}
	}

	resp, err := p.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("resend: failed to send email: %w", err)
	}
	return resp.Id, nil
}
