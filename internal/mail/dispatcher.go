package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"reportd/internal/models"
	"reportd/internal/pkg/utils"
	"reportd/internal/queue"
)

// Alerter pushes short operator alerts, typically to a Telegram chat.
type Alerter interface {
	Enabled() bool
	SendMessage(ctx context.Context, chatID, text string) error
	SendDocument(ctx context.Context, chatID string, fileData []byte, filename, caption string) error
}

// Dispatcher is the mail queue processor.
type Dispatcher struct {
	sender          Sender
	alerter         Alerter
	chatID          string
	alertRecipients []string
	logger          *zap.Logger
}

func NewDispatcher(sender Sender, alerter Alerter, chatID string, alertRecipients []string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sender:          sender,
		alerter:         alerter,
		chatID:          chatID,
		alertRecipients: alertRecipients,
		logger:          logger,
	}
}

// Process handles one mail job.
func (d *Dispatcher) Process(ctx context.Context, job *queue.Job) error {
	var msg Message
	if err := job.Decode(&msg); err != nil {
		return queue.Permanent(err)
	}

	switch msg.Kind {
	case KindReport:
		return d.sendReport(ctx, msg)
	case KindFailure:
		return d.sendFailure(ctx, msg, job.AttemptsMade+1 >= job.MaxAttempts)
	default:
		return queue.Permanent(models.NewArgumentError("unknown mail kind %q", msg.Kind))
	}
}

func (d *Dispatcher) sendReport(ctx context.Context, msg Message) error {
	if len(msg.Recipients) == 0 {
		d.logger.Warn("Report has no recipient", zap.String("task_id", msg.Result.Detail.TaskID))
		return nil
	}

	path := msg.Result.Detail.Files.Report
	if path == "" {
		return queue.Permanent(models.NewArgumentError("report of task %q has no file", msg.Result.Detail.TaskID))
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return queue.Permanent(err)
		}
		return err
	}

	subject, text, body := reportContent(msg)
	attachments := append([]Attachment{{
		Name:        filepath.Base(path),
		ContentType: "application/pdf",
		Content:     content,
	}}, msg.Attachments...)

	if err := d.sender.Send(ctx, Mail{
		To:          msg.Recipients,
		Subject:     subject,
		Text:        text,
		HTML:        body,
		Attachments: attachments,
	}); err != nil {
		return err
	}

	d.logger.Info("Report sent",
		zap.String("task_id", msg.Result.Detail.TaskID),
		zap.Strings("to", msg.Recipients),
		zap.String("size", utils.FormatBytes(int64(len(content)))),
	)
	return nil
}

// sendFailure mails the alert recipients first. The chat alert goes out once:
// after the mail is sent, or on the last attempt when the mail keeps failing.
func (d *Dispatcher) sendFailure(ctx context.Context, msg Message, lastAttempt bool) error {
	detail, err := json.MarshalIndent(msg.Result, "", "  ")
	if err != nil {
		return queue.Permanent(err)
	}

	subject := failureSubject(msg)
	text := failureText(msg)

	if len(d.alertRecipients) == 0 {
		d.logger.Warn("No alert recipient configured, failure mail dropped", zap.String("subject", subject))
		d.alert(ctx, subject, text, detail)
		return nil
	}

	attachments := append([]Attachment{{
		Name:        "detail.json",
		ContentType: "application/json",
		Content:     detail,
	}}, msg.Attachments...)

	err = d.sender.Send(ctx, Mail{
		To:          d.alertRecipients,
		Subject:     subject,
		Text:        text,
		HTML:        "<pre>" + html.EscapeString(text) + "</pre>",
		Attachments: attachments,
	})
	if err == nil || lastAttempt {
		d.alert(ctx, subject, text, detail)
	}
	return err
}

func (d *Dispatcher) alert(ctx context.Context, subject, text string, detail []byte) {
	if d.alerter == nil || !d.alerter.Enabled() || d.chatID == "" {
		return
	}
	msg := fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(subject), html.EscapeString(utils.Truncate(text, 3000)))
	if err := d.alerter.SendMessage(ctx, d.chatID, msg); err != nil {
		d.logger.Warn("Failed to send Telegram alert", zap.Error(err))
		return
	}
	if err := d.alerter.SendDocument(ctx, d.chatID, detail, "detail.json", html.EscapeString(subject)); err != nil {
		d.logger.Warn("Failed to send Telegram alert detail", zap.Error(err))
	}
}

func reportContent(msg Message) (subject, text, body string) {
	name := msg.TaskName
	if name == "" {
		name = msg.Result.Detail.TaskID
	}
	subject = "Report: " + name

	period := ""
	if p := msg.Result.Detail.Period; p != nil {
		period = fmt.Sprintf("%s - %s", p.Start.Format("02/01/2006"), p.End.Add(-time.Second).Format("02/01/2006"))
		subject += " (" + period + ")"
	}

	var sb strings.Builder
	sb.WriteString("Hello,\n\n")
	sb.WriteString(fmt.Sprintf("Your report \"%s\" is attached.\n", name))
	if period != "" {
		sb.WriteString(fmt.Sprintf("It covers %s.\n", period))
	}
	if stats := msg.Result.Detail.Stats; stats != nil {
		sb.WriteString(fmt.Sprintf("%d page(s), %s.\n", stats.Pages, utils.FormatBytes(stats.Size)))
	}
	sb.WriteString("\nThis is an automated email. Please do not reply.\n")
	text = sb.String()

	body = "<p>" + strings.ReplaceAll(html.EscapeString(strings.TrimSpace(text)), "\n", "<br>") + "</p>"
	return subject, text, body
}

func failureSubject(msg Message) string {
	name := msg.TaskName
	if name == "" {
		name = msg.Result.Detail.TaskID
	}
	if name == "" {
		name = msg.Result.Detail.Origin
	}
	return "Report generation failed: " + name
}

func failureText(msg Message) string {
	d := msg.Result.Detail
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Date: %s\n", d.Date.UTC().Format(time.RFC3339)))
	if d.TaskID != "" {
		sb.WriteString(fmt.Sprintf("Task: %s\n", d.TaskID))
	}
	sb.WriteString(fmt.Sprintf("Origin: %s\n", d.Origin))
	if d.Error != nil {
		sb.WriteString(fmt.Sprintf("Error: %s\n", d.Error.Message))
	}
	if d.Files.Detail != "" {
		sb.WriteString(fmt.Sprintf("Detail: %s\n", d.Files.Detail))
	}
	return sb.String()
}
