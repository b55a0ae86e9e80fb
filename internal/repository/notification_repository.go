package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/LoganDawes/Smart-Registration-Services/internal/models"
)

// NotificationRepository handles persistence of notifications and per-user
// preferences.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = `id, recipient_id, notification_type, title, message, link, is_read, is_sent,
        send_email, email_sent, metadata, created_at, read_at, sent_at`

// Create persists a new notification.
func (r *NotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if len(notification.Metadata) == 0 {
		notification.Metadata = json.RawMessage(`{}`)
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, recipient_id, notification_type, title, message, link,
        is_read, is_sent, send_email, email_sent, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if _, err := r.db.ExecContext(ctx, query, notification.ID, notification.RecipientID, notification.Type,
		notification.Title, notification.Message, notification.Link, notification.IsRead, notification.IsSent,
		notification.SendEmail, notification.EmailSent, []byte(notification.Metadata), notification.CreatedAt); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// FindByID returns a notification by its ID.
func (r *NotificationRepository) FindByID(ctx context.Context, id string) (*models.Notification, error) {
	query := fmt.Sprintf(`SELECT %s FROM notifications WHERE id = $1`, notificationColumns)
	var notification models.Notification
	if err := r.db.GetContext(ctx, &notification, query, id); err != nil {
		return nil, err
	}
	return &notification, nil
}

// List returns a recipient's notifications, newest first.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	clause := " WHERE recipient_id = $1"
	args := []interface{}{filter.RecipientID}
	if filter.UnreadOnly {
		clause += " AND is_read = FALSE"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM notifications%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		notificationColumns, clause, size, offset)
	var notifications []models.Notification
	if err := r.db.SelectContext(ctx, &notifications, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM notifications%s", clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return notifications, total, nil
}

// MarkRead stamps a notification as read for its recipient.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID string, at time.Time) error {
	const query = `UPDATE notifications SET is_read = TRUE, read_at = $3 WHERE id = $1 AND recipient_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, recipientID, at)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkEmailSent records a completed email delivery.
func (r *NotificationRepository) MarkEmailSent(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE notifications SET email_sent = TRUE, is_sent = TRUE, sent_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// FindPreference returns a user's notification preference row, if any.
func (r *NotificationRepository) FindPreference(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	const query = `SELECT user_id, email_notifications, schedule_changes, registration_deadlines, advisor_actions, updated_at
        FROM notification_preferences WHERE user_id = $1`
	var pref models.NotificationPreference
	if err := r.db.GetContext(ctx, &pref, query, userID); err != nil {
		return nil, err
	}
	return &pref, nil
}

// UpsertPreference creates or replaces a user's preference row.
func (r *NotificationRepository) UpsertPreference(ctx context.Context, pref *models.NotificationPreference) error {
	pref.UpdatedAt = time.Now().UTC()
	const query = `INSERT INTO notification_preferences (user_id, email_notifications, schedule_changes, registration_deadlines, advisor_actions, updated_at)
        VALUES (:user_id, :email_notifications, :schedule_changes, :registration_deadlines, :advisor_actions, :updated_at)
        ON CONFLICT (user_id) DO UPDATE SET email_notifications = EXCLUDED.email_notifications,
        schedule_changes = EXCLUDED.schedule_changes, registration_deadlines = EXCLUDED.registration_deadlines,
        advisor_actions = EXCLUDED.advisor_actions, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, pref); err != nil {
		return fmt.Errorf("upsert notification preference: %w", err)
	}
	return nil
}
