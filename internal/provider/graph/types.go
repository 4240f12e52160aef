// Package graph implements a Provider that sends emails via the Microsoft Graph API.
// Merged certificates travel as fileAttachment entries inline in the
// sendMail request, so no upload session is needed for typical PNG sizes.
package graph

import (
	"encoding/base64"

	"github.com/shineum/certmail-lite/internal/email"
)

const fileAttachmentType = "#microsoft.graph.fileAttachment"

// sendMailRequest is the body of POST /users/{sender}/sendMail.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject      string            `json:"subject"`
	Body         messageBody       `json:"body"`
	ToRecipients []recipient       `json:"toRecipients"`
	Attachments  []graphAttachment `json:"attachments,omitempty"`
}

// messageBody carries either the plain text or the rendered Markdown.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// graphErrorResponse is the error envelope Graph returns on non-2xx.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts a resolved certificate mail into a
// sendMail body. The HTML alternative wins over the text body when the
// relay rendered one. Sent copies are kept in the sender's mailbox.
func buildSendMailRequest(msg *email.Email) *sendMailRequest {
	body := messageBody{ContentType: "text", Content: msg.TextBody}
	if msg.HtmlBody != "" {
		body = messageBody{ContentType: "html", Content: msg.HtmlBody}
	}

	to := make([]recipient, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, recipient{EmailAddress: emailAddress{Address: addr}})
	}

	var attachments []graphAttachment
	for _, att := range msg.Attachments {
		attachments = append(attachments, graphAttachment{
			ODataType:    fileAttachmentType,
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	return &sendMailRequest{
		Message: sendMailMessage{
			Subject:      msg.Subject,
			Body:         body,
			ToRecipients: to,
			Attachments:  attachments,
		},
		SaveToSentItems: true,
	}
}
