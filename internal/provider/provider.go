// Package provider defines the interface for upstream mail delivery backends.
package provider

import (
	"context"

	"github.com/shineum/certmail-lite/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// Each provider hands a resolved message to the upstream service
// (SMTP server, AWS SES, Microsoft Graph, Resend, stdout).
type Provider interface {
	// Send delivers an email message through this provider and returns
	// the upstream message id (or the locally assigned one when the
	// upstream does not report any).
	Send(ctx context.Context, msg *email.Email) (string, error)

	// Name returns the human-readable name of this provider.
	Name() string
}

// SenderLogin is implemented by providers that authenticate to the
// upstream with the sender's own credentials. The relay requires a
// password for such providers before contacting them.
type SenderLogin interface {
	UsesSenderCredentials() bool
}

// NeedsSenderCredentials reports whether p logs in as the sender.
func NeedsSenderCredentials(p Provider) bool {
	sl, ok := p.(SenderLogin)
	return ok && sl.UsesSenderCredentials()
}
