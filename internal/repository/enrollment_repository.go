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
	appErrors "github.com/LoganDawes/Smart-Registration-Services/pkg/errors"
)

// PassingGrades is the allow-list used to decide prerequisite completion.
var PassingGrades = []string{"A", "A+", "A-", "B", "B+", "B-", "C", "C+", "C-", "P", "S"}

// EnrollmentRepository handles persistence of enrollments and owns the
// transactional seat-claim path.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, student_id, section_id, status, grade, enrolled_at, dropped_at, updated_at`

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByStudentAndSection returns the single row for the pairing, any status.
func (r *EnrollmentRepository) FindByStudentAndSection(ctx context.Context, studentID, sectionID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 AND section_id = $2`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, sectionID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

const enrollmentDetailQuery = `SELECT e.id, e.student_id, e.section_id, e.status, e.grade, e.enrolled_at, e.dropped_at, e.updated_at,
        c.course_code, c.title AS course_title, cs.section_number, cs.term, cs.year, c.credits,
        cs.meeting_days, cs.start_minutes, cs.end_minutes, cs.location
        FROM enrollments e
        JOIN course_sections cs ON cs.id = e.section_id
        JOIN courses c ON c.id = cs.course_id`

// FindDetailByID returns an enrollment with course and schedule context.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	query := enrollmentDetailQuery + ` WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListEnrolledByStudentTerm returns the student's ENROLLED sections for one
// term and year. Conflict checks never cross terms.
func (r *EnrollmentRepository) ListEnrolledByStudentTerm(ctx context.Context, studentID, term string, year int) ([]models.EnrollmentDetail, error) {
	query := enrollmentDetailQuery + ` WHERE e.student_id = $1 AND e.status = $2 AND cs.term = $3 AND cs.year = $4 ORDER BY e.enrolled_at`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID, models.EnrollmentStatusEnrolled, term, year); err != nil {
		return nil, fmt.Errorf("list term enrollments: %w", err)
	}
	return enrollments, nil
}

// ListByStudent returns all of a student's enrollments, newest first.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	query := enrollmentDetailQuery + ` WHERE e.student_id = $1 ORDER BY e.enrolled_at DESC`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return enrollments, nil
}

// ListEnrolledStudentIDs returns the IDs of all currently ENROLLED students
// of a section. Waitlisted students are excluded.
func (r *EnrollmentRepository) ListEnrolledStudentIDs(ctx context.Context, sectionID string) ([]string, error) {
	const query = `SELECT student_id FROM enrollments WHERE section_id = $1 AND status = $2 ORDER BY enrolled_at`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, sectionID, models.EnrollmentStatusEnrolled); err != nil {
		return nil, fmt.Errorf("list enrolled students: %w", err)
	}
	return ids, nil
}

// CompletedCourseIDs returns the set of course IDs the student has a passing
// grade for. The grade allow-list, not the status transition history, decides
// completion.
func (r *EnrollmentRepository) CompletedCourseIDs(ctx context.Context, studentID string) (map[string]bool, error) {
	query, args, err := sqlx.In(`SELECT DISTINCT cs.course_id
        FROM enrollments e
        JOIN course_sections cs ON cs.id = e.section_id
        WHERE e.student_id = ? AND e.status = ? AND e.grade IN (?)`,
		studentID, models.EnrollmentStatusEnrolled, PassingGrades)
	if err != nil {
		return nil, fmt.Errorf("build completed courses query: %w", err)
	}
	query = r.db.Rebind(query)

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("list completed courses: %w", err)
	}
	completed := make(map[string]bool, len(ids))
	for _, id := range ids {
		completed[id] = true
	}
	return completed, nil
}

// UpdateGrade sets the post-hoc grade on an enrollment.
func (r *EnrollmentRepository) UpdateGrade(ctx context.Context, id, grade string) error {
	const query = `UPDATE enrollments SET grade = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, grade)
	if err != nil {
		return fmt.Errorf("update grade: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RegisterWithCapacity claims a seat for the student under one transaction.
// The section row is locked for the duration of the capacity check and
// counter increment, so concurrent calls serialize per section and the
// counter can never pass max_enrollment. When the section is full the
// student is waitlisted and the counter is untouched. A prior DROPPED row is
// reactivated; an active row aborts with a duplicate error.
func (r *EnrollmentRepository) RegisterWithCapacity(ctx context.Context, studentID, sectionID, actorID string) (enrollment *models.Enrollment, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin register transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var section models.Section
	const lockQuery = `SELECT id, course_id, section_number, term, year, instructor_id, location, meeting_days,
        start_minutes, end_minutes, max_enrollment, current_enrollment, is_available, created_at, updated_at
        FROM course_sections WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &section, lockQuery, sectionID); err != nil {
		if err == sql.ErrNoRows {
			err = appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, err
	}

	if !section.IsAvailable {
		err = appErrors.Clone(appErrors.ErrSectionUnavailable, "section not available for registration")
		return nil, err
	}

	var existing models.Enrollment
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 AND section_id = $2`, enrollmentColumns)
	findErr := tx.GetContext(ctx, &existing, query, studentID, sectionID)
	if findErr != nil && findErr != sql.ErrNoRows {
		err = findErr
		return nil, err
	}
	if findErr == nil && existing.Status.Active() {
		err = appErrors.Clone(appErrors.ErrConflict, "already enrolled in this section")
		return nil, err
	}

	status := models.EnrollmentStatusEnrolled
	action := models.LogActionRegister
	if section.IsFull() {
		status = models.EnrollmentStatusWaitlisted
		action = models.LogActionWaitlist
	}

	now := time.Now().UTC()
	if findErr == sql.ErrNoRows {
		enrollment = &models.Enrollment{
			ID:         uuid.NewString(),
			StudentID:  studentID,
			SectionID:  sectionID,
			Status:     status,
			EnrolledAt: now,
			UpdatedAt:  now,
		}
		const insertQuery = `INSERT INTO enrollments (id, student_id, section_id, status, grade, enrolled_at, updated_at)
            VALUES ($1, $2, $3, $4, '', $5, $5)`
		if _, err = tx.ExecContext(ctx, insertQuery, enrollment.ID, studentID, sectionID, status, now); err != nil {
			return nil, fmt.Errorf("insert enrollment: %w", err)
		}
	} else {
		// Reactivate the dropped row instead of inserting a second one.
		const reactivateQuery = `UPDATE enrollments SET status = $2, grade = '', enrolled_at = $3, dropped_at = NULL, updated_at = $3 WHERE id = $1`
		if _, err = tx.ExecContext(ctx, reactivateQuery, existing.ID, status, now); err != nil {
			return nil, fmt.Errorf("reactivate enrollment: %w", err)
		}
		reactivated := existing
		reactivated.Status = status
		reactivated.Grade = ""
		reactivated.EnrolledAt = now
		reactivated.DroppedAt = nil
		reactivated.UpdatedAt = now
		enrollment = &reactivated
	}

	if status == models.EnrollmentStatusEnrolled {
		const incrementQuery = `UPDATE course_sections SET current_enrollment = current_enrollment + 1, updated_at = $2 WHERE id = $1`
		if _, err = tx.ExecContext(ctx, incrementQuery, sectionID, now); err != nil {
			return nil, fmt.Errorf("increment enrollment count: %w", err)
		}
	}

	if err = appendLogTx(ctx, tx, models.RegistrationLog{
		UserID:       &actorID,
		EnrollmentID: &enrollment.ID,
		Action:       action,
		Details:      mustDetails(map[string]interface{}{"section_id": sectionID, "status": string(status)}),
	}); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit registration: %w", err)
	}
	return enrollment, nil
}

// DropEnrollment marks the enrollment dropped under one transaction. The
// counter is decremented only when the prior status was ENROLLED and is
// floored at zero. No waitlist promotion happens on the freed seat.
func (r *EnrollmentRepository) DropEnrollment(ctx context.Context, enrollmentID, actorID string) (enrollment *models.Enrollment, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin drop transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current models.Enrollment
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1 FOR UPDATE`, enrollmentColumns)
	if err = tx.GetContext(ctx, &current, query, enrollmentID); err != nil {
		if err == sql.ErrNoRows {
			err = appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, err
	}

	if current.Status == models.EnrollmentStatusDropped {
		err = appErrors.Clone(appErrors.ErrConflict, "enrollment already dropped")
		return nil, err
	}
	priorStatus := current.Status

	now := time.Now().UTC()
	const dropQuery = `UPDATE enrollments SET status = $2, dropped_at = $3, updated_at = $3 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, dropQuery, enrollmentID, models.EnrollmentStatusDropped, now); err != nil {
		return nil, fmt.Errorf("drop enrollment: %w", err)
	}

	if priorStatus == models.EnrollmentStatusEnrolled {
		const decrementQuery = `UPDATE course_sections SET current_enrollment = GREATEST(current_enrollment - 1, 0), updated_at = $2 WHERE id = $1`
		if _, err = tx.ExecContext(ctx, decrementQuery, current.SectionID, now); err != nil {
			return nil, fmt.Errorf("decrement enrollment count: %w", err)
		}
	}

	if err = appendLogTx(ctx, tx, models.RegistrationLog{
		UserID:       &actorID,
		EnrollmentID: &enrollmentID,
		Action:       models.LogActionDrop,
		Details:      mustDetails(map[string]interface{}{"section_id": current.SectionID, "prior_status": string(priorStatus)}),
	}); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit drop: %w", err)
	}

	dropped := current
	dropped.Status = models.EnrollmentStatusDropped
	dropped.DroppedAt = &now
	dropped.UpdatedAt = now
	return &dropped, nil
}

func appendLogTx(ctx context.Context, tx *sqlx.Tx, log models.RegistrationLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if len(log.Details) == 0 {
		log.Details = json.RawMessage(`{}`)
	}
	const query = `INSERT INTO registration_logs (id, user_id, enrollment_id, request_id, action, details, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())`
	if _, err := tx.ExecContext(ctx, query, log.ID, log.UserID, log.EnrollmentID, log.RequestID, log.Action, []byte(log.Details)); err != nil {
		return fmt.Errorf("append registration log: %w", err)
	}
	return nil
}

func mustDetails(details map[string]interface{}) json.RawMessage {
	raw, err := json.Marshal(details)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
