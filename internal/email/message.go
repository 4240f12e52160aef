// Package email defines the provider-neutral message handed to upstream
// mail providers.
package email

// Email is a fully resolved message ready for an upstream provider.
// From and Credentials have already been resolved against the process
// defaults by the relay.
type Email struct {
	From        string
	To          []string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	MessageID   string

	// Credentials are only consulted by providers that log in to the
	// upstream as the sender (SMTP). Nil means use the provider's own.
	Credentials *Credentials
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Credentials is a username/password pair for upstream authentication.
type Credentials struct {
	Username string
	Password string
}
