package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/LoganDawes/Smart-Registration-Services/internal/models"
	"github.com/LoganDawes/Smart-Registration-Services/internal/schedule"
	appErrors "github.com/LoganDawes/Smart-Registration-Services/pkg/errors"
)

type sectionStore interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
	FindDetailByID(ctx context.Context, id string) (*models.SectionDetail, error)
	List(ctx context.Context, filter models.SectionFilter) ([]models.SectionDetail, int, error)
	Create(ctx context.Context, section *models.Section) error
	Update(ctx context.Context, section *models.Section) error
}

type sectionCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type sectionEnrollmentReader interface {
	ListEnrolledStudentIDs(ctx context.Context, sectionID string) ([]string, error)
}

type sectionNotifier interface {
	Dispatch(ctx context.Context, recipientID string, ntype models.NotificationType, title, message string, metadata map[string]interface{}) (*models.Notification, error)
}

// CreateSectionRequest describes a new section offering.
type CreateSectionRequest struct {
	CourseID      string  `json:"course_id" validate:"required"`
	SectionNumber string  `json:"section_number" validate:"required"`
	Term          string  `json:"term" validate:"required"`
	Year          int     `json:"year" validate:"required,min=2000"`
	InstructorID  *string `json:"instructor_id"`
	Location      string  `json:"location"`
	MeetingDays   string  `json:"meeting_days" validate:"required"`
	StartMinutes  int     `json:"start_minutes" validate:"min=0,max=1439"`
	EndMinutes    int     `json:"end_minutes" validate:"min=0,max=1440"`
	MaxEnrollment int     `json:"max_enrollment" validate:"required,min=1"`
}

// UpdateSectionRequest carries optional field overrides; nil fields keep
// their current value.
type UpdateSectionRequest struct {
	SectionNumber *string `json:"section_number"`
	InstructorID  *string `json:"instructor_id"`
	Location      *string `json:"location"`
	MeetingDays   *string `json:"meeting_days"`
	StartMinutes  *int    `json:"start_minutes" validate:"omitempty,min=0,max=1439"`
	EndMinutes    *int    `json:"end_minutes" validate:"omitempty,min=0,max=1440"`
	MaxEnrollment *int    `json:"max_enrollment" validate:"omitempty,min=1"`
	IsAvailable   *bool   `json:"is_available"`
}

// SectionService manages section offerings. Updates are applied by loading
// the pre-image, mutating, diffing the schedule-relevant fields and fanning a
// change notice out to every currently enrolled student.
type SectionService struct {
	sections    sectionStore
	courses     sectionCourseReader
	enrollments sectionEnrollmentReader
	notifier    sectionNotifier
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewSectionService constructs a SectionService.
func NewSectionService(sections sectionStore, courses sectionCourseReader, enrollments sectionEnrollmentReader, notifier sectionNotifier, validate *validator.Validate, logger *zap.Logger) *SectionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SectionService{
		sections:    sections,
		courses:     courses,
		enrollments: enrollments,
		notifier:    notifier,
		validator:   validate,
		logger:      logger,
	}
}

// Get returns a section with course context.
func (s *SectionService) Get(ctx context.Context, id string) (*models.SectionDetail, error) {
	detail, err := s.sections.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	return detail, nil
}

// List returns sections with pagination metadata.
func (s *SectionService) List(ctx context.Context, filter models.SectionFilter) ([]models.SectionDetail, *models.Pagination, error) {
	sections, total, err := s.sections.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sections")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return sections, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Create adds a section. Creation never notifies anyone; there is nobody
// enrolled yet.
func (s *SectionService) Create(ctx context.Context, req CreateSectionRequest) (*models.SectionDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid section payload")
	}
	if req.EndMinutes <= req.StartMinutes {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end time must be after start time")
	}
	if len(schedule.ParseMeetingDays(req.MeetingDays)) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "meeting days must contain at least one valid day letter")
	}
	if _, err := s.courses.FindByID(ctx, req.CourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	section := &models.Section{
		CourseID:      req.CourseID,
		SectionNumber: req.SectionNumber,
		Term:          strings.ToUpper(req.Term),
		Year:          req.Year,
		InstructorID:  req.InstructorID,
		Location:      req.Location,
		MeetingDays:   strings.ToUpper(req.MeetingDays),
		StartMinutes:  req.StartMinutes,
		EndMinutes:    req.EndMinutes,
		MaxEnrollment: req.MaxEnrollment,
		IsAvailable:   true,
	}
	if err := s.sections.Create(ctx, section); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create section")
	}
	return s.Get(ctx, section.ID)
}

// Update applies the changed fields to a section and notifies enrolled
// students when any schedule-relevant field moved. Waitlisted and dropped
// students are not notified.
func (s *SectionService) Update(ctx context.Context, id string, req UpdateSectionRequest) (*models.SectionDetail, []models.SectionFieldChange, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid section payload")
	}

	section, err := s.sections.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	before := *section

	if req.SectionNumber != nil {
		section.SectionNumber = *req.SectionNumber
	}
	if req.InstructorID != nil {
		section.InstructorID = req.InstructorID
	}
	if req.Location != nil {
		section.Location = *req.Location
	}
	if req.MeetingDays != nil {
		days := strings.ToUpper(*req.MeetingDays)
		if len(schedule.ParseMeetingDays(days)) == 0 {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "meeting days must contain at least one valid day letter")
		}
		section.MeetingDays = days
	}
	if req.StartMinutes != nil {
		section.StartMinutes = *req.StartMinutes
	}
	if req.EndMinutes != nil {
		section.EndMinutes = *req.EndMinutes
	}
	if section.EndMinutes <= section.StartMinutes {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "end time must be after start time")
	}
	if req.MaxEnrollment != nil {
		section.MaxEnrollment = *req.MaxEnrollment
	}
	if req.IsAvailable != nil {
		section.IsAvailable = *req.IsAvailable
	}

	changes := diffWatchedFields(&before, section)

	if err := s.sections.Update(ctx, section); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update section")
	}

	if len(changes) > 0 {
		s.notifyEnrolled(ctx, section, changes)
	}

	detail, err := s.sections.FindDetailByID(ctx, id)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section detail")
	}
	return detail, changes, nil
}

// Watched fields. Only changes to these trigger student notifications;
// capacity and availability edits are administrative and stay silent.
func diffWatchedFields(before, after *models.Section) []models.SectionFieldChange {
	var changes []models.SectionFieldChange

	add := func(field, oldVal, newVal string) {
		if oldVal == newVal {
			return
		}
		o, n := oldVal, newVal
		changes = append(changes, models.SectionFieldChange{Field: field, Old: &o, New: &n})
	}

	add("meeting_days", before.MeetingDays, after.MeetingDays)
	add("start_time", schedule.FormatMinutes(before.StartMinutes), schedule.FormatMinutes(after.StartMinutes))
	add("end_time", schedule.FormatMinutes(before.EndMinutes), schedule.FormatMinutes(after.EndMinutes))
	add("location", before.Location, after.Location)
	add("instructor", derefOr(before.InstructorID, ""), derefOr(after.InstructorID, ""))

	return changes
}

func (s *SectionService) notifyEnrolled(ctx context.Context, section *models.Section, changes []models.SectionFieldChange) {
	if s.notifier == nil {
		return
	}
	studentIDs, err := s.enrollments.ListEnrolledStudentIDs(ctx, section.ID)
	if err != nil {
		s.logger.Warn("failed to list enrolled students for change notice",
			zap.String("section_id", section.ID), zap.Error(err))
		return
	}

	summary := make([]string, 0, len(changes))
	for _, c := range changes {
		summary = append(summary, fmt.Sprintf("%s: %s -> %s", c.Field, derefOr(c.Old, ""), derefOr(c.New, "")))
	}
	title := "Section schedule updated"
	message := fmt.Sprintf("Section %s has been updated. %s", section.SectionNumber, strings.Join(summary, "; "))
	metadata := map[string]interface{}{
		"section_id": section.ID,
		"changes":    changes,
	}

	for _, studentID := range studentIDs {
		if _, err := s.notifier.Dispatch(ctx, studentID, models.NotificationScheduleChange, title, message, metadata); err != nil {
			s.logger.Warn("failed to notify student of section change",
				zap.String("section_id", section.ID), zap.String("student_id", studentID), zap.Error(err))
		}
	}
}

func derefOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}
