package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/LoganDawes/Smart-Registration-Services/internal/models"
	"github.com/LoganDawes/Smart-Registration-Services/internal/schedule"
	appErrors "github.com/LoganDawes/Smart-Registration-Services/pkg/errors"
)

type planStore interface {
	FindByID(ctx context.Context, id string) (*models.StudentPlan, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.StudentPlan, error)
	ListByAdvisorStatus(ctx context.Context, advisorID string, status models.PlanStatus) ([]models.StudentPlan, error)
	Create(ctx context.Context, plan *models.StudentPlan) error
	UpdateStatus(ctx context.Context, id string, status models.PlanStatus, comments string, at time.Time) error
	AddPlannedCourse(ctx context.Context, planned *models.PlannedCourse) error
	RemovePlannedCourse(ctx context.Context, planID, plannedCourseID string) error
	ExistsPlacement(ctx context.Context, planID, sectionID string) (bool, error)
	ListPlannedCourses(ctx context.Context, planID string) ([]models.PlannedCourseDetail, error)
	ListConflicts(ctx context.Context, planID string) ([]models.ScheduleConflict, error)
	ReplaceConflicts(ctx context.Context, planID string, conflicts []models.ScheduleConflict) error
}

type planSectionReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.SectionDetail, error)
}

type planCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	PrerequisiteRefs(ctx context.Context, courseID string) ([]models.CourseRef, error)
}

type planCompletionReader interface {
	CompletedCourseIDs(ctx context.Context, studentID string) (map[string]bool, error)
}

type planAuditWriter interface {
	Append(ctx context.Context, log *models.RegistrationLog) error
}

type planNotifier interface {
	Dispatch(ctx context.Context, recipientID string, ntype models.NotificationType, title, message string, metadata map[string]interface{}) (*models.Notification, error)
}

type planMetrics interface {
	RecordConflictsDetected(count int)
}

// CreatePlanRequest starts a new draft plan.
type CreatePlanRequest struct {
	Name      string  `json:"name" validate:"required"`
	Term      string  `json:"term" validate:"required"`
	Year      int     `json:"year" validate:"required,min=2000"`
	AdvisorID *string `json:"advisor_id"`
	Notes     string  `json:"notes"`
}

// AddPlannedCourseRequest places a section into a plan.
type AddPlannedCourseRequest struct {
	SectionID string `json:"section_id" validate:"required"`
	Priority  int    `json:"priority"`
	Notes     string `json:"notes"`
}

// PlanDetail bundles a plan with its placements and current conflict set.
type PlanDetail struct {
	Plan      models.StudentPlan           `json:"plan"`
	Courses   []models.PlannedCourseDetail `json:"courses"`
	Conflicts []models.ScheduleConflict    `json:"conflicts"`
}

// PlanMutationResult reports the conflict count after a membership change so
// callers can surface it immediately.
type PlanMutationResult struct {
	Plan          *PlanDetail `json:"plan"`
	ConflictCount int         `json:"conflict_count"`
}

// PlanService manages candidate schedules. The conflict set of a plan is
// derived state: every membership change rebuilds it from scratch against
// the current placements.
type PlanService struct {
	plans       planStore
	sections    planSectionReader
	courses     planCourseReader
	completions planCompletionReader
	audit       planAuditWriter
	notifier    planNotifier
	metrics     planMetrics
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewPlanService constructs a PlanService.
func NewPlanService(plans planStore, sections planSectionReader, courses planCourseReader, completions planCompletionReader, audit planAuditWriter, notifier planNotifier, metrics planMetrics, validate *validator.Validate, logger *zap.Logger) *PlanService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanService{
		plans:       plans,
		sections:    sections,
		courses:     courses,
		completions: completions,
		audit:       audit,
		notifier:    notifier,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
	}
}

// Create starts a new draft plan for the student.
func (s *PlanService) Create(ctx context.Context, studentID string, req CreatePlanRequest) (*models.StudentPlan, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid plan payload")
	}
	plan := &models.StudentPlan{
		StudentID: studentID,
		AdvisorID: req.AdvisorID,
		Term:      strings.ToUpper(req.Term),
		Year:      req.Year,
		Status:    models.PlanStatusDraft,
		Name:      req.Name,
		Notes:     req.Notes,
	}
	if err := s.plans.Create(ctx, plan); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create plan")
	}
	return plan, nil
}

// Get returns a plan with its placements and conflicts. Students see only
// their own plans; advisors and registrars see any.
func (s *PlanService) Get(ctx context.Context, planID, actorID string, actorRole models.UserRole) (*PlanDetail, error) {
	plan, err := s.loadPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if actorRole == models.RoleStudent && plan.StudentID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot view another student's plan")
	}
	return s.detail(ctx, plan)
}

// ListMine returns the student's plans.
func (s *PlanService) ListMine(ctx context.Context, studentID string) ([]models.StudentPlan, error) {
	plans, err := s.plans.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list plans")
	}
	return plans, nil
}

// ListPendingReview returns an advisor's submitted plans awaiting a decision.
func (s *PlanService) ListPendingReview(ctx context.Context, advisorID string) ([]models.StudentPlan, error) {
	plans, err := s.plans.ListByAdvisorStatus(ctx, advisorID, models.PlanStatusSubmitted)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list submitted plans")
	}
	return plans, nil
}

// AddCourse places a section into the plan and resyncs the conflict set.
func (s *PlanService) AddCourse(ctx context.Context, planID, studentID string, req AddPlannedCourseRequest) (*PlanMutationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid planned course payload")
	}

	plan, err := s.loadOwnedDraft(ctx, planID, studentID)
	if err != nil {
		return nil, err
	}

	section, err := s.sections.FindDetailByID(ctx, req.SectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	if section.Term != plan.Term || section.Year != plan.Year {
		return nil, appErrors.Clone(appErrors.ErrValidation, "section is not offered in the plan's term")
	}

	exists, err := s.plans.ExistsPlacement(ctx, planID, req.SectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check plan membership")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "section is already in the plan")
	}

	planned := &models.PlannedCourse{
		PlanID:    planID,
		SectionID: req.SectionID,
		Priority:  req.Priority,
		Notes:     req.Notes,
	}
	if err := s.plans.AddPlannedCourse(ctx, planned); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add course to plan")
	}

	return s.resyncAndReport(ctx, plan)
}

// RemoveCourse takes a placement out of the plan and resyncs the conflict
// set. Conflicts referencing the removed placement disappear with it.
func (s *PlanService) RemoveCourse(ctx context.Context, planID, plannedCourseID, studentID string) (*PlanMutationResult, error) {
	plan, err := s.loadOwnedDraft(ctx, planID, studentID)
	if err != nil {
		return nil, err
	}

	if err := s.plans.RemovePlannedCourse(ctx, planID, plannedCourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "planned course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove course from plan")
	}

	return s.resyncAndReport(ctx, plan)
}

// CheckPrerequisites evaluates a course's prerequisites against the
// student's completed coursework. Missing prerequisites come back in the
// order the course declares them.
func (s *PlanService) CheckPrerequisites(ctx context.Context, studentID, courseID string) (*models.PrerequisiteCheck, error) {
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	refs, err := s.courses.PrerequisiteRefs(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
	}
	if len(refs) == 0 {
		return &models.PrerequisiteCheck{Met: true, Missing: []models.CourseRef{}}, nil
	}

	completed, err := s.completions.CompletedCourseIDs(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load completed courses")
	}

	missing := []models.CourseRef{}
	for _, ref := range refs {
		if !completed[ref.ID] {
			missing = append(missing, ref)
		}
	}
	return &models.PrerequisiteCheck{Met: len(missing) == 0, Missing: missing}, nil
}

// Submit moves a draft plan into advisor review and notifies the advisor.
func (s *PlanService) Submit(ctx context.Context, planID, studentID string) (*models.StudentPlan, error) {
	plan, err := s.loadPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.StudentID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot submit another student's plan")
	}
	if plan.Status != models.PlanStatusDraft && plan.Status != models.PlanStatusRejected {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "plan is not in a submittable state")
	}

	courses, err := s.plans.ListPlannedCourses(ctx, planID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load planned courses")
	}
	if len(courses) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "plan has no courses")
	}

	now := time.Now().UTC()
	if err := s.plans.UpdateStatus(ctx, planID, models.PlanStatusSubmitted, plan.AdvisorComments, now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit plan")
	}
	plan.Status = models.PlanStatusSubmitted
	plan.SubmittedAt = &now
	plan.UpdatedAt = now

	if s.notifier != nil && plan.AdvisorID != nil {
		if _, err := s.notifier.Dispatch(ctx, *plan.AdvisorID, models.NotificationAdvisorAction,
			"Plan submitted for review",
			fmt.Sprintf("Plan %q is awaiting your review.", plan.Name),
			map[string]interface{}{"plan_id": plan.ID, "student_id": plan.StudentID}); err != nil {
			s.logger.Warn("failed to notify advisor of submission", zap.String("plan_id", plan.ID), zap.Error(err))
		}
	}
	return plan, nil
}

// Approve records an advisor approval and notifies the student.
func (s *PlanService) Approve(ctx context.Context, planID, advisorID, comments string) (*models.StudentPlan, error) {
	return s.review(ctx, planID, advisorID, comments, models.PlanStatusApproved)
}

// Reject records an advisor rejection. A rejection without a comment is
// refused; the student needs to know what to fix.
func (s *PlanService) Reject(ctx context.Context, planID, advisorID, comments string) (*models.StudentPlan, error) {
	if strings.TrimSpace(comments) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection requires an advisor comment")
	}
	return s.review(ctx, planID, advisorID, comments, models.PlanStatusRejected)
}

// Grid lays the plan's placements out on the weekly grid.
func (s *PlanService) Grid(ctx context.Context, planID, actorID string, actorRole models.UserRole) (*schedule.Grid, error) {
	plan, err := s.loadPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if actorRole == models.RoleStudent && plan.StudentID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot view another student's plan")
	}

	courses, err := s.plans.ListPlannedCourses(ctx, planID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load planned courses")
	}
	sources := make([]schedule.GridSource, 0, len(courses))
	for _, c := range courses {
		sources = append(sources, schedule.GridSource{
			MeetingDays: c.MeetingDays,
			Entry: schedule.GridEntry{
				CourseCode:   c.CourseCode,
				CourseTitle:  c.CourseTitle,
				StartMinutes: c.StartMinutes,
				EndMinutes:   c.EndMinutes,
				Location:     c.Location,
				Credits:      c.Credits,
			},
		})
	}
	grid := schedule.BuildGrid(sources)
	return &grid, nil
}

func (s *PlanService) review(ctx context.Context, planID, advisorID, comments string, status models.PlanStatus) (*models.StudentPlan, error) {
	plan, err := s.loadPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.AdvisorID == nil || *plan.AdvisorID != advisorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "plan is not assigned to this advisor")
	}
	if plan.Status != models.PlanStatusSubmitted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "plan is not awaiting review")
	}

	now := time.Now().UTC()
	if err := s.plans.UpdateStatus(ctx, planID, status, comments, now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update plan status")
	}
	plan.Status = status
	plan.AdvisorComments = comments
	plan.UpdatedAt = now

	action := models.LogActionApprove
	ntype := models.NotificationPlanApproved
	title := "Plan approved"
	message := fmt.Sprintf("Your plan %q was approved.", plan.Name)
	if status == models.PlanStatusRejected {
		action = models.LogActionReject
		ntype = models.NotificationPlanRejected
		title = "Plan rejected"
		message = fmt.Sprintf("Your plan %q was rejected: %s", plan.Name, comments)
	} else {
		plan.ApprovedAt = &now
	}

	if s.audit != nil {
		if err := s.audit.Append(ctx, &models.RegistrationLog{
			UserID:  &advisorID,
			Action:  action,
			Details: mustLogDetails(map[string]interface{}{"plan_id": plan.ID, "student_id": plan.StudentID, "status": string(status)}),
		}); err != nil {
			s.logger.Warn("failed to record plan review", zap.String("plan_id", plan.ID), zap.Error(err))
		}
	}

	if s.notifier != nil {
		if _, err := s.notifier.Dispatch(ctx, plan.StudentID, ntype, title, message,
			map[string]interface{}{"plan_id": plan.ID, "status": string(status)}); err != nil {
			s.logger.Warn("failed to notify student of review", zap.String("plan_id", plan.ID), zap.Error(err))
		}
	}
	return plan, nil
}

// resyncAndReport rebuilds the conflict set from the current placements and
// returns the refreshed plan detail.
func (s *PlanService) resyncAndReport(ctx context.Context, plan *models.StudentPlan) (*PlanMutationResult, error) {
	courses, err := s.plans.ListPlannedCourses(ctx, plan.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load planned courses")
	}

	placements := make([]schedule.Placement, 0, len(courses))
	for _, c := range courses {
		placements = append(placements, schedule.Placement{
			ID:           c.ID,
			CourseCode:   c.CourseCode,
			MeetingDays:  c.MeetingDays,
			StartMinutes: c.StartMinutes,
			EndMinutes:   c.EndMinutes,
		})
	}

	detected := schedule.DetectConflicts(placements)
	conflicts := make([]models.ScheduleConflict, 0, len(detected))
	for _, d := range detected {
		conflicts = append(conflicts, models.ScheduleConflict{
			PlannedCourse1: d.First.ID,
			PlannedCourse2: d.Second.ID,
			ConflictType:   d.Type,
			Description:    d.Description,
		})
	}

	if err := s.plans.ReplaceConflicts(ctx, plan.ID, conflicts); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store conflicts")
	}
	if s.metrics != nil && len(conflicts) > 0 {
		s.metrics.RecordConflictsDetected(len(conflicts))
	}

	return &PlanMutationResult{
		Plan: &PlanDetail{
			Plan:      *plan,
			Courses:   courses,
			Conflicts: conflicts,
		},
		ConflictCount: len(conflicts),
	}, nil
}

func (s *PlanService) detail(ctx context.Context, plan *models.StudentPlan) (*PlanDetail, error) {
	courses, err := s.plans.ListPlannedCourses(ctx, plan.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load planned courses")
	}
	conflicts, err := s.plans.ListConflicts(ctx, plan.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load conflicts")
	}
	return &PlanDetail{Plan: *plan, Courses: courses, Conflicts: conflicts}, nil
}

func (s *PlanService) loadPlan(ctx context.Context, planID string) (*models.StudentPlan, error) {
	plan, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	return plan, nil
}

func mustLogDetails(details map[string]interface{}) json.RawMessage {
	raw, err := json.Marshal(details)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

// loadOwnedDraft enforces that membership changes happen on the student's
// own plan and only before submission.
func (s *PlanService) loadOwnedDraft(ctx context.Context, planID, studentID string) (*models.StudentPlan, error) {
	plan, err := s.loadPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.StudentID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot modify another student's plan")
	}
	if plan.Status == models.PlanStatusApproved || plan.Status == models.PlanStatusSubmitted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "plan can no longer be modified")
	}
	return plan, nil
}
