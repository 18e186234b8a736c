package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/ashmitsharp/accountant-api/internal/logger"
	"github.com/ashmitsharp/accountant-api/internal/models"
	"github.com/google/uuid"
	"github.com/mailgun/mailgun-go/v4"
	"github.com/rs/zerolog"
)

// ErrEmailDisabled is returned by mailers that have no provider configured
var ErrEmailDisabled = errors.New("email service not configured")

// Email is a rendered outgoing message
type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers rendered emails
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// MailgunMailer sends email through the Mailgun API
type MailgunMailer struct {
	mg          mailgun.Mailgun
	senderEmail string
	senderName  string
}

// NewMailgunMailer creates a mailer for domain using apiKey
func NewMailgunMailer(domain, apiKey, senderEmail, senderName string) *MailgunMailer {
	return &MailgunMailer{
		mg:          mailgun.NewMailgun(domain, apiKey),
		senderEmail: senderEmail,
		senderName:  senderName,
	}
}

func (m *MailgunMailer) Send(ctx context.Context, email Email) error {
	from := fmt.Sprintf("%s <%s>", m.senderName, m.senderEmail)

	message := m.mg.NewMessage(from, email.Subject, email.Text, email.To)
	if email.HTML != "" {
		message.SetHtml(email.HTML)
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	resp, id, err := m.mg.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("mailgun send failed: %w. Response: %s", err, resp)
	}
	log := logger.FromContext(ctx)
	log.Debug().Str("mailgun_id", id).Str("to", email.To).Msg("email sent")
	return nil
}

// NoopMailer is used when no provider is configured; every send reports ErrEmailDisabled
type NoopMailer struct{}

func (NoopMailer) Send(ctx context.Context, email Email) error {
	return ErrEmailDisabled
}

// NotificationStore persists in-app notifications
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	MarkNotificationEmailSent(ctx context.Context, id string) error
}

// Notifier records in-app notifications and mirrors some of them by email.
// Email delivery never fails the operation that triggered it.
type Notifier struct {
	store   NotificationStore
	mailer  Mailer
	baseURL string
	log     zerolog.Logger
	now     func() time.Time
}

// NewNotifier creates a notifier; a nil mailer disables email
func NewNotifier(store NotificationStore, mailer Mailer, baseURL string, log zerolog.Logger) *Notifier {
	if mailer == nil {
		mailer = NoopMailer{}
	}
	return &Notifier{
		store:   store,
		mailer:  mailer,
		baseURL: baseURL,
		log:     log.With().Str("component", "notifier").Logger(),
		now:     time.Now,
	}
}

// MonthName returns the English name of month (1-12)
func MonthName(month int) string {
	if month < 1 || month > 12 {
		return fmt.Sprintf("Month %d", month)
	}
	return time.Month(month).String()
}

// ProcessingComplete tells the owner a statement was processed
func (n *Notifier) ProcessingComplete(ctx context.Context, biz *models.Business, stmt *models.Statement) {
	count := 0
	if stmt.TotalTransactions != nil {
		count = *stmt.TotalTransactions
	}
	period := fmt.Sprintf("%s %d", MonthName(stmt.Month), stmt.Year)

	note := &models.Notification{
		UserID:  biz.UserID,
		Type:    models.NotificationProcessingComplete,
		Title:   "Bank Statement Processed",
		Message: fmt.Sprintf("Your bank statement for %s has been processed. %d transactions analyzed.", period, count),
	}

	email, err := n.render(processingTemplate, biz.Email, "Bank Statement Processed - "+period, note.Message, map[string]any{
		"Name":         biz.OwnerName,
		"Company":      biz.CompanyName,
		"Period":       period,
		"Transactions": count,
		"Link":         n.baseURL + "/dashboard",
	})
	n.deliver(ctx, note, email, err)
}

// SubmissionSucceeded records an accepted submission and emails the confirmation
func (n *Notifier) SubmissionSucceeded(ctx context.Context, biz *models.Business, decl *models.Declaration) {
	confirmation := ""
	if decl.RSGeConfirmation != nil {
		confirmation = *decl.RSGeConfirmation
	}
	period := fmt.Sprintf("%s %d", MonthName(decl.Month), decl.Year)

	note := &models.Notification{
		UserID:               biz.UserID,
		Type:                 models.NotificationSubmissionSuccess,
		Title:                "Declaration Submitted Successfully",
		Message:              fmt.Sprintf("Your %s declaration for %d/%d has been submitted to rs.ge. Confirmation: %s", decl.Type.DisplayName(), decl.Month, decl.Year, confirmation),
		RelatedDeclarationID: &decl.ID,
	}

	email, err := n.render(submissionTemplate, biz.Email, "Declaration Submitted - "+period, note.Message, map[string]any{
		"Name":         biz.OwnerName,
		"Company":      biz.CompanyName,
		"Period":       period,
		"Type":         decl.Type.DisplayName(),
		"Confirmation": confirmation,
		"Link":         n.baseURL + "/declarations",
	})
	n.deliver(ctx, note, email, err)
}

// SubmissionFailed records a failed submission. No email is sent.
func (n *Notifier) SubmissionFailed(ctx context.Context, biz *models.Business, decl *models.Declaration, cause error) {
	note := &models.Notification{
		UserID:               biz.UserID,
		Type:                 models.NotificationSubmissionError,
		Title:                "Declaration Submission Failed",
		Message:              fmt.Sprintf("Failed to submit declaration: %v", cause),
		RelatedDeclarationID: &decl.ID,
	}
	n.deliver(ctx, note, nil, nil)
}

// DeadlineReminder warns the owner that the filing deadline for month/year is near.
// It reports whether the email went out.
func (n *Notifier) DeadlineReminder(ctx context.Context, biz *models.Business, month, year int, deadline time.Time, daysLeft int) bool {
	period := fmt.Sprintf("%s %d", MonthName(month), year)
	deadlineStr := deadline.Format("January 2, 2006")

	note := &models.Notification{
		UserID:  biz.UserID,
		Type:    models.NotificationDeadlineReminder,
		Title:   "Tax Declaration Deadline Approaching",
		Message: fmt.Sprintf("Reminder: Your tax declaration for %d/%d is due by %s. %d days remaining.", month, year, deadlineStr, daysLeft),
	}

	email, err := n.render(reminderTemplate, biz.Email, "Tax Declaration Deadline Reminder - "+period, note.Message, map[string]any{
		"Name":     biz.OwnerName,
		"Company":  biz.CompanyName,
		"Period":   period,
		"Deadline": deadlineStr,
		"Link":     n.baseURL + "/dashboard",
		"Settings": n.baseURL + "/settings",
	})
	return n.deliver(ctx, note, email, err)
}

func (n *Notifier) deliver(ctx context.Context, note *models.Notification, email *Email, renderErr error) bool {
	note.ID = uuid.NewString()
	note.CreatedAt = n.now().UTC()

	if err := n.store.CreateNotification(ctx, note); err != nil {
		n.log.Error().Err(err).Str("user_id", note.UserID).Str("type", string(note.Type)).Msg("failed to record notification")
		return false
	}

	if renderErr != nil {
		n.log.Error().Err(renderErr).Str("type", string(note.Type)).Msg("failed to render email")
		return false
	}
	if email == nil || email.To == "" {
		return false
	}

	if err := n.mailer.Send(ctx, *email); err != nil {
		if errors.Is(err, ErrEmailDisabled) {
			n.log.Debug().Str("type", string(note.Type)).Msg("email service not configured, skipping")
		} else {
			n.log.Warn().Err(err).Str("to", email.To).Str("type", string(note.Type)).Msg("failed to send email")
		}
		return false
	}

	if err := n.store.MarkNotificationEmailSent(ctx, note.ID); err != nil {
		n.log.Warn().Err(err).Str("notification_id", note.ID).Msg("failed to flag notification email")
	}
	note.EmailSent = true
	return true
}

func (n *Notifier) render(tmpl *template.Template, to, subject, text string, data map[string]any) (*Email, error) {
	var html bytes.Buffer
	if err := tmpl.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return &Email{To: to, Subject: subject, Text: text, HTML: html.String()}, nil
}

const emailStyle = `body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
.container { max-width: 600px; margin: 0 auto; padding: 20px; }
.content { padding: 20px; background: #f9fafb; }
.button { display: inline-block; background: #2563eb; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; }
.footer { text-align: center; padding: 20px; color: #6b7280; font-size: 14px; }`

var processingTemplate = template.Must(template.New("processing_complete").Parse(`<!DOCTYPE html>
<html><head><meta charset="UTF-8"><style>` + emailStyle + `</style></head>
<body><div class="container"><h1>Bank Statement Processed</h1><div class="content">
<p>Hello {{.Name}},</p>
<p>Your bank statement for {{.Company}} has been successfully processed.</p>
<p><strong>Period:</strong> {{.Period}}<br><strong>Transactions:</strong> {{.Transactions}} transactions analyzed</p>
<p>All transactions have been categorized and draft declarations are ready for your review.</p>
<a href="{{.Link}}" class="button">Review Declarations</a>
</div><div class="footer"><p>This is an automated notification.</p></div></div></body></html>`))

var submissionTemplate = template.Must(template.New("submission_success").Parse(`<!DOCTYPE html>
<html><head><meta charset="UTF-8"><style>` + emailStyle + `</style></head>
<body><div class="container"><h1>Declaration Submitted Successfully</h1><div class="content">
<p>Hello {{.Name}},</p>
<p>Your tax declaration has been submitted to the Revenue Service of Georgia (rs.ge).</p>
<p><strong>Company:</strong> {{.Company}}<br><strong>Period:</strong> {{.Period}}<br><strong>Declaration Type:</strong> {{.Type}}
{{- if .Confirmation}}<br><strong>Confirmation Number:</strong> {{.Confirmation}}{{end}}</p>
<p>Please keep this confirmation for your records.</p>
<a href="{{.Link}}" class="button">View Declarations</a>
</div><div class="footer"><p>This is an automated confirmation email.</p></div></div></body></html>`))

var reminderTemplate = template.Must(template.New("deadline_reminder").Parse(`<!DOCTYPE html>
<html><head><meta charset="UTF-8"><style>` + emailStyle + `</style></head>
<body><div class="container"><h1>Tax Declaration Deadline Reminder</h1><div class="content">
<p>Hello {{.Name}},</p>
<p>Your tax declaration deadline is approaching for {{.Company}}.</p>
<p><strong>Deadline:</strong> {{.Deadline}}<br><strong>Period:</strong> {{.Period}}</p>
<p>Please upload your bank statement and review your declaration before the deadline to avoid penalties.</p>
<a href="{{.Link}}" class="button">Go to Dashboard</a>
<p>If you have already submitted your declaration, please disregard this email.</p>
</div><div class="footer"><p>You're receiving this email because you have deadline reminders enabled.
Manage your notification preferences in <a href="{{.Settings}}">Settings</a>.</p></div></div></body></html>`))
