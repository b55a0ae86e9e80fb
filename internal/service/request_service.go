package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/LoganDawes/Smart-Registration-Services/internal/models"
	appErrors "github.com/LoganDawes/Smart-Registration-Services/pkg/errors"
)

type requestStore interface {
	FindByID(ctx context.Context, id string) (*models.RegistrationRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.RegistrationRequest, int, error)
	Create(ctx context.Context, request *models.RegistrationRequest) error
	UpdateReview(ctx context.Context, id string, status models.RequestStatus, advisorID, comments string, at time.Time) error
}

type requestAuditWriter interface {
	Append(ctx context.Context, log *models.RegistrationLog) error
}

type requestNotifier interface {
	Dispatch(ctx context.Context, recipientID string, ntype models.NotificationType, title, message string, metadata map[string]interface{}) (*models.Notification, error)
}

// SubmitRequestRequest opens a registration request for advisor review.
type SubmitRequestRequest struct {
	AdvisorID string  `json:"advisor_id" validate:"required"`
	PlanID    *string `json:"plan_id"`
	Notes     string  `json:"notes"`
}

// RequestService manages registration requests through advisor review.
type RequestService struct {
	requests  requestStore
	audit     requestAuditWriter
	notifier  requestNotifier
	validator *validator.Validate
	logger    *zap.Logger
}

// NewRequestService constructs a RequestService.
func NewRequestService(requests requestStore, audit requestAuditWriter, notifier requestNotifier, validate *validator.Validate, logger *zap.Logger) *RequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestService{requests: requests, audit: audit, notifier: notifier, validator: validate, logger: logger}
}

// Submit opens a request and notifies the assigned advisor.
func (s *RequestService) Submit(ctx context.Context, studentID string, req SubmitRequestRequest) (*models.RegistrationRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}

	request := &models.RegistrationRequest{
		StudentID: studentID,
		AdvisorID: &req.AdvisorID,
		PlanID:    req.PlanID,
		Status:    models.RequestStatusPending,
		Notes:     req.Notes,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}

	if s.notifier != nil {
		if _, err := s.notifier.Dispatch(ctx, req.AdvisorID, models.NotificationAdvisorAction,
			"Registration request submitted",
			"A student has submitted a registration request for your review.",
			map[string]interface{}{"request_id": request.ID, "student_id": studentID}); err != nil {
			s.logger.Warn("failed to notify advisor of request", zap.String("request_id", request.ID), zap.Error(err))
		}
	}
	return request, nil
}

// Get returns a request. Students see only their own.
func (s *RequestService) Get(ctx context.Context, id, actorID string, actorRole models.UserRole) (*models.RegistrationRequest, error) {
	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if actorRole == models.RoleStudent && request.StudentID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot view another student's request")
	}
	return request, nil
}

// List returns requests with pagination metadata.
func (s *RequestService) List(ctx context.Context, filter models.RequestFilter) ([]models.RegistrationRequest, *models.Pagination, error) {
	requests, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return requests, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Approve records an advisor approval.
func (s *RequestService) Approve(ctx context.Context, id, advisorID, comments string) (*models.RegistrationRequest, error) {
	return s.review(ctx, id, advisorID, comments, models.RequestStatusApproved)
}

// Reject records an advisor rejection. A comment explaining the decision is
// mandatory.
func (s *RequestService) Reject(ctx context.Context, id, advisorID, comments string) (*models.RegistrationRequest, error) {
	if strings.TrimSpace(comments) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection requires an advisor comment")
	}
	return s.review(ctx, id, advisorID, comments, models.RequestStatusRejected)
}

func (s *RequestService) review(ctx context.Context, id, advisorID, comments string, status models.RequestStatus) (*models.RegistrationRequest, error) {
	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if request.AdvisorID == nil || *request.AdvisorID != advisorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "request is not assigned to this advisor")
	}
	if request.Status != models.RequestStatusPending {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "request has already been reviewed")
	}

	now := time.Now().UTC()
	if err := s.requests.UpdateReview(ctx, id, status, advisorID, comments, now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record review")
	}
	request.Status = status
	request.AdvisorComments = comments
	request.ReviewedAt = &now

	action := models.LogActionApprove
	title := "Registration request approved"
	message := "Your registration request was approved."
	if status == models.RequestStatusRejected {
		action = models.LogActionReject
		title = "Registration request rejected"
		message = fmt.Sprintf("Your registration request was rejected: %s", comments)
	}

	if s.audit != nil {
		if err := s.audit.Append(ctx, &models.RegistrationLog{
			UserID:    &advisorID,
			RequestID: &request.ID,
			Action:    action,
			Details:   mustLogDetails(map[string]interface{}{"student_id": request.StudentID, "status": string(status)}),
		}); err != nil {
			s.logger.Warn("failed to record request review", zap.String("request_id", request.ID), zap.Error(err))
		}
	}

	if s.notifier != nil {
		if _, err := s.notifier.Dispatch(ctx, request.StudentID, models.NotificationAdvisorAction, title, message,
			map[string]interface{}{"request_id": request.ID, "status": string(status)}); err != nil {
			s.logger.Warn("failed to notify student of review", zap.String("request_id", request.ID), zap.Error(err))
		}
	}
	return request, nil
}
