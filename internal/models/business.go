package models

import "time"

// Business is the company a user files declarations for
type Business struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	CompanyName string `json:"company_name"`
	TIN         string `json:"tin"`
	OwnerName   string `json:"owner_name"`
	Email       string `json:"email"`

	// Encrypted with the service key, never serialized
	RSGeUsername string `json:"-"`
	RSGePassword string `json:"-"`

	RemindersEnabled   bool      `json:"reminders_enabled"`
	ReminderDaysBefore int       `json:"reminder_days_before"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// HasCredentials reports whether tax authority credentials are configured
func (b *Business) HasCredentials() bool {
	return b.RSGeUsername != "" && b.RSGePassword != ""
}

// NotificationType categorizes in-app notifications
type NotificationType string

const (
	NotificationProcessingComplete NotificationType = "processing_complete"
	NotificationSubmissionSuccess  NotificationType = "submission_success"
	NotificationSubmissionError    NotificationType = "submission_error"
	NotificationDeadlineReminder   NotificationType = "deadline_reminder"
)

// Notification is an in-app message, optionally mirrored by email
type Notification struct {
	ID                   string           `json:"id"`
	UserID               string           `json:"user_id"`
	Type                 NotificationType `json:"type"`
	Title                string           `json:"title"`
	Message              string           `json:"message"`
	Read                 bool             `json:"read"`
	EmailSent            bool             `json:"email_sent"`
	RelatedDeclarationID *string          `json:"related_declaration_id,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
}
