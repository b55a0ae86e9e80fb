package models

import (
	"encoding/json"
	"time"
)

// NotificationType tags what a notification is about.
type NotificationType string

// Notification types.
const (
	NotificationScheduleChange      NotificationType = "SCHEDULE_CHANGE"
	NotificationEnrollmentConfirmed NotificationType = "ENROLLMENT_CONFIRMED"
	NotificationWaitlistUpdate      NotificationType = "WAITLIST_UPDATE"
	NotificationPlanApproved        NotificationType = "PLAN_APPROVED"
	NotificationPlanRejected        NotificationType = "PLAN_REJECTED"
	NotificationAdvisorAction       NotificationType = "ADVISOR_ACTION"
	NotificationGeneral             NotificationType = "GENERAL"
)

// Notification is a persisted message to a user; delivery (email) happens
// asynchronously and flips the sent flags.
type Notification struct {
	ID          string           `db:"id" json:"id"`
	RecipientID string           `db:"recipient_id" json:"recipient_id"`
	Type        NotificationType `db:"notification_type" json:"notification_type"`
	Title       string           `db:"title" json:"title"`
	Message     string           `db:"message" json:"message"`
	Link        string           `db:"link" json:"link,omitempty"`
	IsRead      bool             `db:"is_read" json:"is_read"`
	IsSent      bool             `db:"is_sent" json:"is_sent"`
	SendEmail   bool             `db:"send_email" json:"send_email"`
	EmailSent   bool             `db:"email_sent" json:"email_sent"`
	Metadata    json.RawMessage  `db:"metadata" json:"metadata"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	ReadAt      *time.Time       `db:"read_at" json:"read_at,omitempty"`
	SentAt      *time.Time       `db:"sent_at" json:"sent_at,omitempty"`
}

// NotificationPreference holds per-user opt-outs. Absence of a row means
// everything is allowed.
type NotificationPreference struct {
	UserID                string    `db:"user_id" json:"user_id"`
	EmailNotifications    bool      `db:"email_notifications" json:"email_notifications"`
	ScheduleChanges       bool      `db:"schedule_changes" json:"schedule_changes"`
	RegistrationDeadlines bool      `db:"registration_deadlines" json:"registration_deadlines"`
	AdvisorActions        bool      `db:"advisor_actions" json:"advisor_actions"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

// NotificationFilter provides filters for listing notifications.
type NotificationFilter struct {
	RecipientID string
	UnreadOnly  bool
	Page        int
	PageSize    int
}
