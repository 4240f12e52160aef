// Package dispatch hands one outbound message to the mail transport,
// either over HTTP or in process, and reports transport failures as
// DispatchError. It never retries.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shineum/certmail-lite/internal/mail"
)

var tracer = otel.Tracer("github.com/shineum/certmail-lite/internal/dispatch")

// maxResponseBody caps how much of a transport reply is read.
const maxResponseBody = 1 << 20

// Client sends one message and returns the transport's receipt.
type Client interface {
	Send(ctx context.Context, msg *mail.Message) (mail.Receipt, error)
}

// DispatchError is a rejected or failed send. StatusCode is zero when
// the transport was not reached over HTTP.
type DispatchError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *DispatchError) Error() string {
	var b strings.Builder
	b.WriteString("dispatch failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// HTTPClient posts messages as JSON to a transport endpoint such as
// POST /api/mail of `certmail serve`.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTP creates an HTTPClient. A nil hc uses http.DefaultClient.
func NewHTTP(endpoint string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPClient{endpoint: endpoint, client: hc}
}

// Send posts msg and interprets the transport's reply.
func (c *HTTPClient) Send(ctx context.Context, msg *mail.Message) (mail.Receipt, error) {
	ctx, span := tracer.Start(ctx, "dispatch.HTTP", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("mail.endpoint", c.endpoint),
		attribute.Int("mail.attachments", len(msg.Attachments)),
	)

	receipt, err := c.send(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		return mail.Receipt{}, err
	}
	span.SetAttributes(attribute.String("mail.message_id", receipt.MessageID))
	span.SetStatus(codes.Ok, "")
	return receipt, nil
}

func (c *HTTPClient) send(ctx context.Context, msg *mail.Message) (mail.Receipt, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return mail.Receipt{}, &DispatchError{Message: "cannot encode message", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return mail.Receipt{}, &DispatchError{Message: "cannot build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return mail.Receipt{}, &DispatchError{Message: "transport unreachable", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return mail.Receipt{}, &DispatchError{StatusCode: resp.StatusCode, Message: "cannot read reply", Err: err}
	}

	var reply mail.Response
	decodeErr := json.Unmarshal(raw, &reply)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := reply.Error
		if decodeErr != nil || message == "" {
			message = strings.TrimSpace(string(raw))
		}
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return mail.Receipt{}, &DispatchError{StatusCode: resp.StatusCode, Message: message}
	}
	if decodeErr != nil {
		return mail.Receipt{}, &DispatchError{StatusCode: resp.StatusCode, Message: "malformed reply", Err: decodeErr}
	}
	if reply.Error != "" {
		return mail.Receipt{}, &DispatchError{StatusCode: resp.StatusCode, Message: reply.Error}
	}

	return mail.Receipt{MessageID: reply.MessageID}, nil
}

// Sender is the in-process transport, implemented by *relay.Relay.
type Sender interface {
	Send(ctx context.Context, msg *mail.Message) (mail.Receipt, error)
}

// Local dispatches to an in-process transport.
type Local struct {
	sender Sender
}

// NewLocal wraps s.
func NewLocal(s Sender) *Local {
	return &Local{sender: s}
}

// Send delegates to the wrapped transport and wraps its failure.
func (l *Local) Send(ctx context.Context, msg *mail.Message) (mail.Receipt, error) {
	ctx, span := tracer.Start(ctx, "dispatch.Local")
	defer span.End()

	receipt, err := l.sender.Send(ctx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		return mail.Receipt{}, &DispatchError{Err: err}
	}
	span.SetStatus(codes.Ok, "")
	return receipt, nil
}
