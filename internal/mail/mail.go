// Package mail delivers generated reports and failure alerts.
package mail

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"reportd/internal/models"
)

// Kind tells the dispatcher how to deliver a message.
type Kind string

const (
	KindReport  Kind = "report"
	KindFailure Kind = "failure"
)

// Attachment is a file sent along a mail. Content is base64 in JSON.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"content"`
}

// Message is the payload of a mail queue job.
type Message struct {
	Kind        Kind                `json:"kind"`
	TaskName    string              `json:"taskName,omitempty"`
	Result      models.ReportResult `json:"result"`
	Recipients  []string            `json:"recipients,omitempty"`
	Attachments []Attachment        `json:"attachments,omitempty"`
}

// Mail is a rendered mail ready to be sent.
type Mail struct {
	To          []string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Sender delivers a rendered mail.
type Sender interface {
	Send(ctx context.Context, m Mail) error
}

// SendGridSender sends mails through the SendGrid v3 API.
type SendGridSender struct {
	client   *sendgrid.Client
	fromName string
	from     string
}

// NewSendGridSender creates a sender for the given API key.
func NewSendGridSender(apiKey, from string) *SendGridSender {
	return &SendGridSender{
		client:   sendgrid.NewSendClient(apiKey),
		fromName: "reportd",
		from:     from,
	}
}

// Send sends one mail with every recipient in a single personalization.
func (s *SendGridSender) Send(ctx context.Context, m Mail) error {
	if len(m.To) == 0 {
		return models.NewArgumentError("mail %q has no recipient", m.Subject)
	}

	message := sgmail.NewV3Mail()
	message.SetFrom(sgmail.NewEmail(s.fromName, s.from))
	message.Subject = m.Subject

	p := sgmail.NewPersonalization()
	for _, to := range m.To {
		p.AddTos(sgmail.NewEmail("", to))
	}
	message.AddPersonalizations(p)

	if m.Text != "" {
		message.AddContent(sgmail.NewContent("text/plain", m.Text))
	}
	if m.HTML != "" {
		message.AddContent(sgmail.NewContent("text/html", m.HTML))
	}

	for _, a := range m.Attachments {
		attachment := sgmail.NewAttachment()
		attachment.SetContent(base64.StdEncoding.EncodeToString(a.Content))
		attachment.SetType(a.ContentType)
		attachment.SetFilename(a.Name)
		attachment.SetDisposition("attachment")
		message.AddAttachment(attachment)
	}

	// Send stores the body on the client, so each mail works on a copy.
	client := *s.client
	response, err := client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email via SendGrid: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("SendGrid API error: status %d, body: %s", response.StatusCode, response.Body)
	}
	return nil
}

// NoopSender logs mails instead of sending them. Used when no API key is set.
type NoopSender struct {
	logger *zap.Logger
}

func NewNoopSender(logger *zap.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

func (s *NoopSender) Send(_ context.Context, m Mail) error {
	s.logger.Info("Mail sending disabled, dropping mail",
		zap.Strings("to", m.To),
		zap.String("subject", m.Subject),
		zap.Int("attachments", len(m.Attachments)),
	)
	return nil
}

// NewSender picks SendGrid when a key is configured.
func NewSender(apiKey, from string, logger *zap.Logger) Sender {
	if apiKey == "" {
		logger.Warn("SENDGRID_API_KEY is not set, mails will not be sent")
		return NewNoopSender(logger)
	}
	return NewSendGridSender(apiKey, from)
}
