// Package mail defines the outbound message exchanged between the batch
// driver and the mail transport, in its JSON wire shape.
package mail

import (
	"encoding/base64"
	"log/slog"
)

// SuccessMessage is the acknowledgement text of a successful send.
const SuccessMessage = "Email sent successfully!"

// EncodingBase64 is the only attachment content encoding.
const EncodingBase64 = "base64"

// Message is one outbound email. Empty SenderMail and SenderPassword
// select the transport's default credentials.
type Message struct {
	Subject        string       `json:"subject"`
	Body           string       `json:"body"`
	SenderMail     string       `json:"senderMail,omitempty"`
	SenderPassword string       `json:"senderPassword,omitempty"`
	RecipientMail  string       `json:"recipientMail"`
	Attachments    []Attachment `json:"attachments"`
}

// Attachment carries base64 content.
type Attachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"`
}

// Response is the transport's reply body. Exactly one of Message and
// Error is set.
type Response struct {
	Message   string `json:"message,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Receipt acknowledges an accepted send.
type Receipt struct {
	MessageID string
}

// AttachmentName is the file name of a recipient's rendered image.
func AttachmentName(recipient string) string {
	return "image-" + recipient + ".png"
}

// ImageAttachment wraps a rendered PNG for recipient.
func ImageAttachment(recipient string, png []byte) Attachment {
	return Attachment{
		Filename: AttachmentName(recipient),
		Content:  base64.StdEncoding.EncodeToString(png),
		Encoding: EncodingBase64,
	}
}

// LogValue keeps the sender password and attachment payloads out of logs.
func (m *Message) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("recipient", m.RecipientMail),
		slog.String("sender", m.SenderMail),
		slog.Bool("sender_password", m.SenderPassword != ""),
		slog.String("subject", m.Subject),
		slog.Int("attachments", len(m.Attachments)),
	)
}
