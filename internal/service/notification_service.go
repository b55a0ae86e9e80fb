package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LoganDawes/Smart-Registration-Services/internal/models"
	appErrors "github.com/LoganDawes/Smart-Registration-Services/pkg/errors"
	"github.com/LoganDawes/Smart-Registration-Services/pkg/jobs"
)

type notificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
	FindByID(ctx context.Context, id string) (*models.Notification, error)
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, id, recipientID string, at time.Time) error
	MarkEmailSent(ctx context.Context, id string, at time.Time) error
	FindPreference(ctx context.Context, userID string) (*models.NotificationPreference, error)
	UpsertPreference(ctx context.Context, pref *models.NotificationPreference) error
}

// EmailSender delivers a rendered notification email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogEmailSender writes outgoing mail to the log instead of an SMTP relay.
// Used in development and as the default when no relay is configured.
type LogEmailSender struct {
	Logger *zap.Logger
}

// Send logs the outgoing message.
func (s LogEmailSender) Send(_ context.Context, to, subject, body string) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("email delivered",
		zap.String("to", to), zap.String("subject", subject), zap.Int("body_bytes", len(body)))
	return nil
}

type notificationRecipientReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// NotificationConfig tunes the email worker pool.
type NotificationConfig struct {
	WorkerConcurrency int
	WorkerRetries     int
	RetryDelay        time.Duration
	FromAddress       string
}

// UpdatePreferencesRequest carries a user's notification opt-outs.
type UpdatePreferencesRequest struct {
	EmailNotifications    bool `json:"email_notifications"`
	ScheduleChanges       bool `json:"schedule_changes"`
	RegistrationDeadlines bool `json:"registration_deadlines"`
	AdvisorActions        bool `json:"advisor_actions"`
}

type emailJobPayload struct {
	NotificationID string
	RecipientID    string
	Subject        string
	Body           string
}

// NotificationService persists notifications, applies per-user preference
// gating and pushes email delivery onto a background queue.
type NotificationService struct {
	store      notificationStore
	recipients notificationRecipientReader
	sender     EmailSender
	queue      *jobs.Queue
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        NotificationConfig
}

// NewNotificationService constructs a NotificationService and its email queue.
// Call Start before dispatching and Stop on shutdown.
func NewNotificationService(store notificationStore, recipients notificationRecipientReader, sender EmailSender, validate *validator.Validate, logger *zap.Logger, cfg NotificationConfig) *NotificationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		sender = LogEmailSender{Logger: logger}
	}
	s := &NotificationService{
		store:      store,
		recipients: recipients,
		sender:     sender,
		validator:  validate,
		logger:     logger,
		cfg:        cfg,
	}
	s.queue = jobs.NewQueue("notification-email", s.handleEmailJob, jobs.QueueConfig{
		Workers:    cfg.WorkerConcurrency,
		MaxRetries: cfg.WorkerRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the email workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the email workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Dispatch creates a notification for the recipient, honoring their
// preferences. Schedule-change and advisor-action notices are suppressed
// entirely when the matching opt-out is set; the email flag only controls
// delivery, never the in-app record. A missing preference row means
// everything is allowed. Returns nil without error when suppressed.
func (s *NotificationService) Dispatch(ctx context.Context, recipientID string, ntype models.NotificationType, title, message string, metadata map[string]interface{}) (*models.Notification, error) {
	pref, err := s.preferencesFor(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	switch ntype {
	case models.NotificationScheduleChange:
		if !pref.ScheduleChanges {
			return nil, nil
		}
	case models.NotificationAdvisorAction, models.NotificationPlanApproved, models.NotificationPlanRejected:
		if !pref.AdvisorActions {
			return nil, nil
		}
	}

	raw := json.RawMessage(`{}`)
	if len(metadata) > 0 {
		if encoded, err := json.Marshal(metadata); err == nil {
			raw = encoded
		}
	}

	notification := &models.Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Type:        ntype,
		Title:       title,
		Message:     message,
		SendEmail:   pref.EmailNotifications,
		Metadata:    raw,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Create(ctx, notification); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create notification")
	}

	if notification.SendEmail {
		s.enqueueEmail(notification)
	}
	return notification, nil
}

// List returns the recipient's notifications with pagination metadata.
func (s *NotificationService) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error) {
	notifications, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return notifications, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// MarkRead stamps a notification read. Recipients can only mark their own.
func (s *NotificationService) MarkRead(ctx context.Context, id, recipientID string) error {
	if err := s.store.MarkRead(ctx, id, recipientID, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return nil
}

// GetPreferences returns the user's preferences, defaulting to allow-all when
// no row exists.
func (s *NotificationService) GetPreferences(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	return s.preferencesFor(ctx, userID)
}

// UpdatePreferences stores the user's opt-outs.
func (s *NotificationService) UpdatePreferences(ctx context.Context, userID string, req UpdatePreferencesRequest) (*models.NotificationPreference, error) {
	pref := &models.NotificationPreference{
		UserID:                userID,
		EmailNotifications:    req.EmailNotifications,
		ScheduleChanges:       req.ScheduleChanges,
		RegistrationDeadlines: req.RegistrationDeadlines,
		AdvisorActions:        req.AdvisorActions,
	}
	if err := s.store.UpsertPreference(ctx, pref); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update preferences")
	}
	return pref, nil
}

func (s *NotificationService) preferencesFor(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	pref, err := s.store.FindPreference(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.NotificationPreference{
				UserID:                userID,
				EmailNotifications:    true,
				ScheduleChanges:       true,
				RegistrationDeadlines: true,
				AdvisorActions:        true,
			}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preferences")
	}
	return pref, nil
}

func (s *NotificationService) enqueueEmail(notification *models.Notification) {
	job := jobs.Job{
		ID:   notification.ID,
		Type: "notification-email",
		Payload: emailJobPayload{
			NotificationID: notification.ID,
			RecipientID:    notification.RecipientID,
			Subject:        notification.Title,
			Body:           notification.Message,
		},
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue notification email",
			zap.String("notification_id", notification.ID), zap.Error(err))
	}
}

func (s *NotificationService) handleEmailJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(emailJobPayload)
	if !ok {
		s.logger.Error("unexpected email job payload", zap.String("job_id", job.ID))
		return nil
	}

	recipient, err := s.recipients.FindByID(ctx, payload.RecipientID)
	if err != nil {
		return err
	}
	if err := s.sender.Send(ctx, recipient.Email, payload.Subject, payload.Body); err != nil {
		return err
	}
	if err := s.store.MarkEmailSent(ctx, payload.NotificationID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to mark notification email sent",
			zap.String("notification_id", payload.NotificationID), zap.Error(err))
	}
	return nil
}
