package ses

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/shineum/certmail-lite/internal/email"
	"github.com/shineum/certmail-lite/internal/provider"
)

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.sendFn != nil {
		return m.sendFn(ctx, params, optFns...)
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

var _ provider.Provider = (*SESProvider)(nil)

func TestName(t *testing.T) {
	t.Parallel()
	p := NewWithClient("sender@example.com", 0, &mockSESClient{})
	if got := p.Name(); got != "ses" {
		t.Errorf("Name(): got %q, want %q", got, "ses")
	}
}

func TestSend_SimpleTextEmail(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("sender@example.com", 0, mock)

	id, err := p.Send(context.Background(), &email.Email{
		To:       []string{"to@example.com"},
		Subject:  "Test Subject",
		TextBody: "Hello, World!",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "test-message-id" {
		t.Errorf("message id: got %q, want %q", id, "test-message-id")
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}

	input := mock.lastInput
	if input.Content.Simple == nil {
		t.Fatal("expected simple email content, got nil")
	}
	if got := *input.FromEmailAddress; got != "sender@example.com" {
		t.Errorf("FromEmailAddress: got %q, want %q", got, "sender@example.com")
	}
	if got := *input.Content.Simple.Subject.Data; got != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", got, "Test Subject")
	}
	if got := *input.Content.Simple.Body.Text.Data; got != "Hello, World!" {
		t.Errorf("TextBody: got %q, want %q", got, "Hello, World!")
	}
	if input.Content.Simple.Body.Html != nil {
		t.Error("expected no HTML body")
	}
}

func TestSend_SenderOverride(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("default@example.com", 0, mock)

	_, err := p.Send(context.Background(), &email.Email{
		From:     "campaign@example.com",
		To:       []string{"to@example.com"},
		Subject:  "Override",
		TextBody: "Hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := *mock.lastInput.FromEmailAddress; got != "campaign@example.com" {
		t.Errorf("FromEmailAddress: got %q, want %q", got, "campaign@example.com")
	}
}

func TestSend_WithAttachments(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("sender@example.com", 0, mock)

	_, err := p.Send(context.Background(), &email.Email{
		To:       []string{"to@example.com"},
		Subject:  "Your certificate",
		TextBody: "See attachment",
		Attachments: []email.Attachment{
			{
				Filename:    "image-to@example.com.png",
				ContentType: "image/png",
				Content:     []byte("png"),
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	input := mock.lastInput
	if input.Content.Raw == nil {
		t.Fatal("expected raw email content for attachment, got nil")
	}
	if input.Content.Simple != nil {
		t.Error("expected no simple content when using raw message")
	}
	if got := input.Destination.ToAddresses; len(got) != 1 || got[0] != "to@example.com" {
		t.Errorf("ToAddresses: got %v", got)
	}

	rawStr := string(input.Content.Raw.Data)
	for _, want := range []string{
		"From: sender@example.com",
		"To: to@example.com",
		"Subject: Your certificate",
		"multipart/mixed",
		"image/png",
		"image-to@example.com.png",
	} {
		if !strings.Contains(rawStr, want) {
			t.Errorf("raw message missing %q", want)
		}
	}
}

func TestSend_NoRetryByDefault(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, errors.New("MessageRejected")
		},
	}
	p := NewWithClient("sender@example.com", 0, mock)

	_, err := p.Send(context.Background(), &email.Email{
		To:       []string{"to@example.com"},
		Subject:  "Fail",
		TextBody: "Hello",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "MessageRejected") {
		t.Errorf("error should wrap upstream cause, got %q", err.Error())
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}
}

func TestSend_RetryOnError(t *testing.T) {
	t.Parallel()

	callCount := 0
	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			callCount++
			if callCount == 1 {
				return nil, errors.New("transient error")
			}
			return &sesv2.SendEmailOutput{MessageId: aws.String("ok")}, nil
		},
	}
	p := NewWithClient("sender@example.com", 1, mock)

	id, err := p.Send(context.Background(), &email.Email{
		To:       []string{"to@example.com"},
		Subject:  "Retry Test",
		TextBody: "Hello",
	})
	if err != nil {
		t.Fatalf("expected success after retry, got: %v", err)
	}
	if id != "ok" {
		t.Errorf("message id: got %q, want %q", id, "ok")
	}
	if callCount != 2 {
		t.Errorf("call count: got %d, want 2", callCount)
	}
}

func TestSend_ContextCancelledDuringRetry(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, errors.New("error")
		},
	}
	p := NewWithClient("sender@example.com", 3, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Send(ctx, &email.Email{
		To:       []string{"to@example.com"},
		Subject:  "Cancel Test",
		TextBody: "Hello",
	})
	if err == nil {
		t.Fatal("expected error when context cancelled")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBuildSimpleInput(t *testing.T) {
	t.Parallel()

	msg := &email.Email{
		To:       []string{"to@example.com"},
		Subject:  "Test",
		TextBody: "text",
		HtmlBody: "<p>html</p>",
	}

	input := buildSimpleInput("sender@example.com", msg)

	if got := *input.FromEmailAddress; got != "sender@example.com" {
		t.Errorf("FromEmailAddress: got %q, want %q", got, "sender@example.com")
	}
	if input.Content.Simple.Body.Html == nil {
		t.Fatal("expected HTML body")
	}
	if input.Content.Simple.Body.Text == nil {
		t.Fatal("expected text body")
	}
	if got := *input.Content.Simple.Body.Html.Charset; got != "UTF-8" {
		t.Errorf("HTML charset: got %q, want %q", got, "UTF-8")
	}
	if got := input.Destination.ToAddresses; len(got) != 1 || got[0] != "to@example.com" {
		t.Errorf("ToAddresses: got %v, want [to@example.com]", got)
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
	}

	for _, tt := range tests {
		if got := backoffDelay(tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d): got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
