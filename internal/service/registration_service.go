package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/LoganDawes/Smart-Registration-Services/internal/models"
	"github.com/LoganDawes/Smart-Registration-Services/internal/schedule"
	appErrors "github.com/LoganDawes/Smart-Registration-Services/pkg/errors"
)

type registrationEnrollmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ListEnrolledByStudentTerm(ctx context.Context, studentID, term string, year int) ([]models.EnrollmentDetail, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
	RegisterWithCapacity(ctx context.Context, studentID, sectionID, actorID string) (*models.Enrollment, error)
	DropEnrollment(ctx context.Context, enrollmentID, actorID string) (*models.Enrollment, error)
}

type registrationSectionReader interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
	FindDetailByID(ctx context.Context, id string) (*models.SectionDetail, error)
}

type registrationNotifier interface {
	Dispatch(ctx context.Context, recipientID string, ntype models.NotificationType, title, message string, metadata map[string]interface{}) (*models.Notification, error)
}

type registrationMetrics interface {
	RecordRegistration(status models.EnrollmentStatus)
	RecordDrop()
}

// EnrollRequest is a seat claim for one section.
type EnrollRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	SectionID string `json:"section_id" validate:"required"`
}

// BulkEnrollRequest asks for seats in several sections at once.
type BulkEnrollRequest struct {
	StudentID  string   `json:"student_id" validate:"required"`
	SectionIDs []string `json:"section_ids" validate:"required,min=1,dive,required"`
}

// BulkEnrollResult reports the per-section outcome of a bulk registration.
type BulkEnrollResult struct {
	SectionID  string                   `json:"section_id"`
	Enrollment *models.EnrollmentDetail `json:"enrollment,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

// EligibilityReport previews what a registration attempt would run into.
type EligibilityReport struct {
	SectionID      string              `json:"section_id"`
	Available      bool                `json:"available"`
	SeatsLeft      int                 `json:"seats_left"`
	WouldWaitlist  bool                `json:"would_waitlist"`
	TimeConflicts  []schedule.Conflict `json:"time_conflicts"`
	AlreadyHolding bool                `json:"already_holding"`
}

// RegistrationService drives the enrollment lifecycle: seat claims, drops and
// bulk registration. Capacity accounting lives in the repository transaction;
// this layer adds schedule-conflict screening and notification fan-out.
type RegistrationService struct {
	enrollments registrationEnrollmentStore
	sections    registrationSectionReader
	notifier    registrationNotifier
	metrics     registrationMetrics
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(enrollments registrationEnrollmentStore, sections registrationSectionReader, notifier registrationNotifier, metrics registrationMetrics, validate *validator.Validate, logger *zap.Logger) *RegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{
		enrollments: enrollments,
		sections:    sections,
		notifier:    notifier,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
	}
}

// Enroll claims a seat for a student. Enrollment is refused when the section
// overlaps any of the student's ENROLLED sections in the same term and year.
// Prerequisites are not enforced here; the planning flow surfaces them before
// registration and registrar-driven enrollment deliberately bypasses them.
func (s *RegistrationService) Enroll(ctx context.Context, req EnrollRequest, actorID string) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	section, err := s.sections.FindDetailByID(ctx, req.SectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}

	if err := s.checkTimeConflicts(ctx, req.StudentID, section); err != nil {
		return nil, err
	}

	enrollment, err := s.enrollments.RegisterWithCapacity(ctx, req.StudentID, req.SectionID, actorID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordRegistration(enrollment.Status)
	}

	s.notifyEnrollment(ctx, enrollment, section)

	detail, err := s.enrollments.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// BulkEnroll registers a student into several sections. Each section runs in
// its own seat-claim transaction, so one failure never rolls back siblings.
// Sections in the batch are not conflict-checked against each other, only
// against what the student already holds when each claim runs.
func (s *RegistrationService) BulkEnroll(ctx context.Context, req BulkEnrollRequest, actorID string) ([]BulkEnrollResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk enrollment payload")
	}

	results := make([]BulkEnrollResult, 0, len(req.SectionIDs))
	for _, sectionID := range req.SectionIDs {
		detail, err := s.Enroll(ctx, EnrollRequest{StudentID: req.StudentID, SectionID: sectionID}, actorID)
		if err != nil {
			results = append(results, BulkEnrollResult{SectionID: sectionID, Error: appErrors.FromError(err).Message})
			continue
		}
		results = append(results, BulkEnrollResult{SectionID: sectionID, Enrollment: detail})
	}
	return results, nil
}

// Drop releases an enrollment. Students may only drop their own; advisors and
// registrars may drop anyone's.
func (s *RegistrationService) Drop(ctx context.Context, enrollmentID, actorID string, actorRole models.UserRole) (*models.Enrollment, error) {
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if actorRole == models.RoleStudent && enrollment.StudentID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot drop another student's enrollment")
	}

	dropped, err := s.enrollments.DropEnrollment(ctx, enrollmentID, actorID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordDrop()
	}
	return dropped, nil
}

// CheckEligibility previews a registration attempt without claiming a seat.
// The answer is advisory: seats can vanish between the preview and the claim.
func (s *RegistrationService) CheckEligibility(ctx context.Context, studentID, sectionID string) (*EligibilityReport, error) {
	section, err := s.sections.FindDetailByID(ctx, sectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}

	report := &EligibilityReport{
		SectionID:     sectionID,
		Available:     section.IsAvailable,
		SeatsLeft:     section.AvailableSeats(),
		WouldWaitlist: section.IsFull(),
	}

	existing, err := s.enrollments.ListEnrolledByStudentTerm(ctx, studentID, section.Term, section.Year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current enrollments")
	}

	candidate := schedule.Placement{
		ID:           section.ID,
		CourseCode:   section.CourseCode,
		MeetingDays:  section.MeetingDays,
		StartMinutes: section.StartMinutes,
		EndMinutes:   section.EndMinutes,
	}
	for _, held := range existing {
		if held.SectionID == sectionID {
			report.AlreadyHolding = true
			continue
		}
		holder := schedule.Placement{
			ID:           held.SectionID,
			CourseCode:   held.CourseCode,
			MeetingDays:  held.MeetingDays,
			StartMinutes: held.StartMinutes,
			EndMinutes:   held.EndMinutes,
		}
		if ok, description := schedule.PlacementsConflict(candidate, holder); ok {
			report.TimeConflicts = append(report.TimeConflicts, schedule.Conflict{
				First:       candidate,
				Second:      holder,
				Type:        schedule.ConflictTypeTimeOverlap,
				Description: description,
			})
		}
	}
	return report, nil
}

// ListEnrollments returns a student's enrollment history, newest first.
func (s *RegistrationService) ListEnrollments(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	enrollments, err := s.enrollments.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, nil
}

// WeeklySchedule lays the student's ENROLLED sections for a term onto the
// weekly grid.
func (s *RegistrationService) WeeklySchedule(ctx context.Context, studentID, term string, year int) (*schedule.Grid, error) {
	enrollments, err := s.enrollments.ListEnrolledByStudentTerm(ctx, studentID, term, year)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	sources := make([]schedule.GridSource, 0, len(enrollments))
	for _, e := range enrollments {
		sources = append(sources, schedule.GridSource{
			MeetingDays: e.MeetingDays,
			Entry: schedule.GridEntry{
				CourseCode:   e.CourseCode,
				CourseTitle:  e.CourseTitle,
				Section:      e.SectionNumber,
				StartMinutes: e.StartMinutes,
				EndMinutes:   e.EndMinutes,
				Location:     e.Location,
				Credits:      e.Credits,
			},
		})
	}
	grid := schedule.BuildGrid(sources)
	return &grid, nil
}

func (s *RegistrationService) checkTimeConflicts(ctx context.Context, studentID string, section *models.SectionDetail) error {
	existing, err := s.enrollments.ListEnrolledByStudentTerm(ctx, studentID, section.Term, section.Year)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current enrollments")
	}

	candidate := schedule.Placement{
		ID:           section.ID,
		CourseCode:   section.CourseCode,
		MeetingDays:  section.MeetingDays,
		StartMinutes: section.StartMinutes,
		EndMinutes:   section.EndMinutes,
	}
	for _, held := range existing {
		if held.SectionID == section.ID {
			continue
		}
		holder := schedule.Placement{
			ID:           held.SectionID,
			CourseCode:   held.CourseCode,
			MeetingDays:  held.MeetingDays,
			StartMinutes: held.StartMinutes,
			EndMinutes:   held.EndMinutes,
		}
		if ok, description := schedule.PlacementsConflict(candidate, holder); ok {
			return appErrors.Clone(appErrors.ErrScheduleConflict, description)
		}
	}
	return nil
}

func (s *RegistrationService) notifyEnrollment(ctx context.Context, enrollment *models.Enrollment, section *models.SectionDetail) {
	if s.notifier == nil {
		return
	}
	ntype := models.NotificationEnrollmentConfirmed
	title := "Enrollment confirmed"
	message := fmt.Sprintf("You are enrolled in %s section %s.", section.CourseCode, section.SectionNumber)
	if enrollment.Status == models.EnrollmentStatusWaitlisted {
		ntype = models.NotificationWaitlistUpdate
		title = "Added to waitlist"
		message = fmt.Sprintf("%s section %s is full; you are on the waitlist.", section.CourseCode, section.SectionNumber)
	}
	if _, err := s.notifier.Dispatch(ctx, enrollment.StudentID, ntype, title, message, map[string]interface{}{
		"enrollment_id": enrollment.ID,
		"section_id":    section.ID,
		"status":        string(enrollment.Status),
	}); err != nil {
		s.logger.Warn("failed to send enrollment notification",
			zap.String("enrollment_id", enrollment.ID), zap.Error(err))
	}
}
