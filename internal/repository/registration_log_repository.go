package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/LoganDawes/Smart-Registration-Services/internal/models"
)

// RegistrationLogRepository appends to and reads the audit trail. Rows are
// never updated or deleted.
type RegistrationLogRepository struct {
	db *sqlx.DB
}

// NewRegistrationLogRepository constructs the repository.
func NewRegistrationLogRepository(db *sqlx.DB) *RegistrationLogRepository {
	return &RegistrationLogRepository{db: db}
}

// Append inserts an audit record.
func (r *RegistrationLogRepository) Append(ctx context.Context, log *models.RegistrationLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if len(log.Details) == 0 {
		log.Details = json.RawMessage(`{}`)
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO registration_logs (id, user_id, enrollment_id, request_id, action, details, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.db.ExecContext(ctx, query, log.ID, log.UserID, log.EnrollmentID, log.RequestID, log.Action, []byte(log.Details), log.CreatedAt); err != nil {
		return fmt.Errorf("append registration log: %w", err)
	}
	return nil
}

// ListByUser returns a user's audit trail, newest first.
func (r *RegistrationLogRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.RegistrationLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id, user_id, enrollment_id, request_id, action, details, created_at
        FROM registration_logs WHERE user_id = $1 ORDER BY created_at DESC LIMIT %d`, limit)
	var logs []models.RegistrationLog
	if err := r.db.SelectContext(ctx, &logs, query, userID); err != nil {
		return nil, fmt.Errorf("list registration logs: %w", err)
	}
	return logs, nil
}
