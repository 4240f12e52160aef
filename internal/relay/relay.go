// Package relay is the mail transport: it resolves sender credentials
// against the process defaults, validates an outbound message and hands
// it to the configured upstream provider.
package relay

import (
	"bytes"
	"cmp"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	netmail "net/mail"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"github.com/shineum/certmail-lite/internal/email"
	"github.com/shineum/certmail-lite/internal/mail"
	"github.com/shineum/certmail-lite/internal/metrics"
	"github.com/shineum/certmail-lite/internal/provider"
)

// ErrInvalidMessage is wrapped by every validation failure. Such messages
// never reach the upstream provider.
var ErrInvalidMessage = errors.New("invalid message")

// Defaults are the process-wide sender credentials.
type Defaults struct {
	Sender   string
	Password string
}

// Options configures a Relay.
type Options struct {
	Defaults Defaults

	// Markdown renders the body as Markdown into an HTML alternative.
	Markdown bool

	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

// Relay sends outbound messages through one provider.
type Relay struct {
	provider provider.Provider
	defaults Defaults
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
	metrics  *metrics.Recorder
	logger   *slog.Logger
}

// New creates a Relay in front of p.
func New(p provider.Provider, opts Options) *Relay {
	r := &Relay{
		provider: p,
		defaults: opts.Defaults,
		metrics:  opts.Metrics,
		logger:   cmp.Or(opts.Logger, slog.Default()),
	}
	if opts.Markdown {
		r.markdown = goldmark.New()
		r.policy = bluemonday.UGCPolicy()
	}
	return r
}

// Provider returns the upstream provider name.
func (r *Relay) Provider() string {
	return r.provider.Name()
}

// Send validates msg, resolves its sender and submits it upstream. The
// send is all or nothing: a returned error means no message was accepted.
func (r *Relay) Send(ctx context.Context, msg *mail.Message) (mail.Receipt, error) {
	out, err := r.resolve(msg)
	if err != nil {
		r.metrics.RelaySend(r.provider.Name(), "invalid")
		return mail.Receipt{}, err
	}

	start := time.Now()
	id, err := r.provider.Send(ctx, out)
	if err != nil {
		r.metrics.RelaySend(r.provider.Name(), "failed")
		r.logger.Warn("upstream send failed",
			"provider", r.provider.Name(),
			"recipient", out.To[0],
			"error", err,
		)
		return mail.Receipt{}, fmt.Errorf("%s: %w", r.provider.Name(), err)
	}

	r.metrics.RelaySend(r.provider.Name(), "sent")
	id = cmp.Or(id, out.MessageID)
	r.logger.Info("mail sent",
		"provider", r.provider.Name(),
		"recipient", out.To[0],
		"message_id", id,
		"duration", time.Since(start),
	)
	return mail.Receipt{MessageID: id}, nil
}

// resolve turns the wire message into a provider email.
func (r *Relay) resolve(msg *mail.Message) (*email.Email, error) {
	sender := cmp.Or(strings.TrimSpace(msg.SenderMail), r.defaults.Sender)
	password := cmp.Or(msg.SenderPassword, r.defaults.Password)

	if sender == "" {
		return nil, fmt.Errorf("%w: no sender address and no default configured", ErrInvalidMessage)
	}
	from, err := netmail.ParseAddress(sender)
	if err != nil {
		return nil, fmt.Errorf("%w: sender address %q: %v", ErrInvalidMessage, sender, err)
	}
	if password == "" && provider.NeedsSenderCredentials(r.provider) {
		return nil, fmt.Errorf("%w: no sender password and no default configured", ErrInvalidMessage)
	}

	to, err := netmail.ParseAddress(strings.TrimSpace(msg.RecipientMail))
	if err != nil {
		return nil, fmt.Errorf("%w: recipient address %q: %v", ErrInvalidMessage, msg.RecipientMail, err)
	}

	out := &email.Email{
		From:      from.Address,
		To:        []string{to.Address},
		Subject:   msg.Subject,
		TextBody:  msg.Body,
		MessageID: newMessageID(from.Address),
	}
	if password != "" {
		out.Credentials = &email.Credentials{Username: from.Address, Password: password}
	}

	for i, att := range msg.Attachments {
		a, err := decodeAttachment(att)
		if err != nil {
			return nil, fmt.Errorf("%w: attachment %d: %v", ErrInvalidMessage, i, err)
		}
		out.Attachments = append(out.Attachments, a)
	}

	if r.markdown != nil && msg.Body != "" {
		var buf bytes.Buffer
		if err := r.markdown.Convert([]byte(msg.Body), &buf); err != nil {
			return nil, fmt.Errorf("%w: body markdown: %v", ErrInvalidMessage, err)
		}
		out.HtmlBody = r.policy.Sanitize(buf.String())
	}

	return out, nil
}

func decodeAttachment(att mail.Attachment) (email.Attachment, error) {
	if strings.TrimSpace(att.Filename) == "" {
		return email.Attachment{}, errors.New("no filename")
	}
	if att.Encoding != "" && !strings.EqualFold(att.Encoding, mail.EncodingBase64) {
		return email.Attachment{}, fmt.Errorf("unsupported encoding %q", att.Encoding)
	}
	content, err := base64.StdEncoding.DecodeString(att.Content)
	if err != nil {
		return email.Attachment{}, fmt.Errorf("bad base64 content: %w", err)
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(att.Filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return email.Attachment{
		Filename:    att.Filename,
		ContentType: contentType,
		Content:     content,
	}, nil
}

// newMessageID returns an RFC 5322 Message-ID in the sender's domain.
func newMessageID(sender string) string {
	domain := "localhost"
	if at := strings.LastIndex(sender, "@"); at >= 0 && at < len(sender)-1 {
		domain = sender[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
