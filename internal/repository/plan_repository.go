package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/LoganDawes/Smart-Registration-Services/internal/models"
)

// PlanRepository handles persistence of student plans, planned courses and
// derived conflict records. It is the sole writer of schedule_conflicts.
type PlanRepository struct {
	db *sqlx.DB
}

// NewPlanRepository constructs the repository.
func NewPlanRepository(db *sqlx.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `id, student_id, advisor_id, term, year, status, name, notes, advisor_comments,
        submitted_at, approved_at, created_at, updated_at`

// FindByID returns a plan by its ID.
func (r *PlanRepository) FindByID(ctx context.Context, id string) (*models.StudentPlan, error) {
	query := fmt.Sprintf(`SELECT %s FROM student_plans WHERE id = $1`, planColumns)
	var plan models.StudentPlan
	if err := r.db.GetContext(ctx, &plan, query, id); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ListByStudent returns a student's plans, newest first.
func (r *PlanRepository) ListByStudent(ctx context.Context, studentID string) ([]models.StudentPlan, error) {
	query := fmt.Sprintf(`SELECT %s FROM student_plans WHERE student_id = $1 ORDER BY created_at DESC`, planColumns)
	var plans []models.StudentPlan
	if err := r.db.SelectContext(ctx, &plans, query, studentID); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// ListByAdvisorStatus returns plans assigned to an advisor in a given status.
func (r *PlanRepository) ListByAdvisorStatus(ctx context.Context, advisorID string, status models.PlanStatus) ([]models.StudentPlan, error) {
	query := fmt.Sprintf(`SELECT %s FROM student_plans WHERE advisor_id = $1 AND status = $2 ORDER BY submitted_at`, planColumns)
	var plans []models.StudentPlan
	if err := r.db.SelectContext(ctx, &plans, query, advisorID, status); err != nil {
		return nil, fmt.Errorf("list advisor plans: %w", err)
	}
	return plans, nil
}

// Create persists a new plan.
func (r *PlanRepository) Create(ctx context.Context, plan *models.StudentPlan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.Status == "" {
		plan.Status = models.PlanStatusDraft
	}
	now := time.Now().UTC()
	plan.CreatedAt = now
	plan.UpdatedAt = now
	const query = `INSERT INTO student_plans (id, student_id, advisor_id, term, year, status, name, notes,
        advisor_comments, submitted_at, approved_at, created_at, updated_at)
        VALUES (:id, :student_id, :advisor_id, :term, :year, :status, :name, :notes,
        :advisor_comments, :submitted_at, :approved_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, plan); err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

// UpdateStatus moves a plan through its review lifecycle.
func (r *PlanRepository) UpdateStatus(ctx context.Context, id string, status models.PlanStatus, comments string, at time.Time) error {
	query := `UPDATE student_plans SET status = $2, advisor_comments = $3, updated_at = $4`
	switch status {
	case models.PlanStatusSubmitted:
		query += `, submitted_at = $4`
	case models.PlanStatusApproved:
		query += `, approved_at = $4`
	}
	query += ` WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, status, comments, at)
	if err != nil {
		return fmt.Errorf("update plan status: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AddPlannedCourse inserts a placement into a plan.
func (r *PlanRepository) AddPlannedCourse(ctx context.Context, planned *models.PlannedCourse) error {
	if planned.ID == "" {
		planned.ID = uuid.NewString()
	}
	planned.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO planned_courses (id, plan_id, section_id, priority, notes, created_at)
        VALUES (:id, :plan_id, :section_id, :priority, :notes, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, planned); err != nil {
		return fmt.Errorf("add planned course: %w", err)
	}
	return nil
}

// RemovePlannedCourse deletes a placement from a plan.
func (r *PlanRepository) RemovePlannedCourse(ctx context.Context, planID, plannedCourseID string) error {
	const query = `DELETE FROM planned_courses WHERE id = $1 AND plan_id = $2`
	result, err := r.db.ExecContext(ctx, query, plannedCourseID, planID)
	if err != nil {
		return fmt.Errorf("remove planned course: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ExistsPlacement checks if the section is already in the plan.
func (r *PlanRepository) ExistsPlacement(ctx context.Context, planID, sectionID string) (bool, error) {
	const query = `SELECT 1 FROM planned_courses WHERE plan_id = $1 AND section_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, planID, sectionID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check placement: %w", err)
	}
	return true, nil
}

// ListPlannedCourses returns a plan's placements with schedule data, in
// insertion order so conflict pairs come out deterministically.
func (r *PlanRepository) ListPlannedCourses(ctx context.Context, planID string) ([]models.PlannedCourseDetail, error) {
	const query = `SELECT pc.id, pc.plan_id, pc.section_id, pc.priority, pc.notes, pc.created_at,
        c.course_code, c.title AS course_title, c.credits,
        cs.meeting_days, cs.start_minutes, cs.end_minutes, cs.location
        FROM planned_courses pc
        JOIN course_sections cs ON cs.id = pc.section_id
        JOIN courses c ON c.id = cs.course_id
        WHERE pc.plan_id = $1
        ORDER BY pc.created_at, pc.id`
	var planned []models.PlannedCourseDetail
	if err := r.db.SelectContext(ctx, &planned, query, planID); err != nil {
		return nil, fmt.Errorf("list planned courses: %w", err)
	}
	return planned, nil
}

// ListConflicts returns the persisted conflict set for a plan.
func (r *PlanRepository) ListConflicts(ctx context.Context, planID string) ([]models.ScheduleConflict, error) {
	const query = `SELECT id, plan_id, planned_course_1, planned_course_2, conflict_type, description, is_resolved, created_at
        FROM schedule_conflicts WHERE plan_id = $1 ORDER BY created_at, id`
	var conflicts []models.ScheduleConflict
	if err := r.db.SelectContext(ctx, &conflicts, query, planID); err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	return conflicts, nil
}

// ReplaceConflicts swaps the plan's entire conflict set in one transaction:
// delete all, bulk insert the fresh records. Readers never observe a
// partially rebuilt set.
func (r *PlanRepository) ReplaceConflicts(ctx context.Context, planID string, conflicts []models.ScheduleConflict) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin conflict resync: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM schedule_conflicts WHERE plan_id = $1`, planID); err != nil {
		return fmt.Errorf("clear conflicts: %w", err)
	}

	now := time.Now().UTC()
	const insertQuery = `INSERT INTO schedule_conflicts (id, plan_id, planned_course_1, planned_course_2, conflict_type, description, is_resolved, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)`
	for i := range conflicts {
		conflict := &conflicts[i]
		if conflict.ID == "" {
			conflict.ID = uuid.NewString()
		}
		conflict.PlanID = planID
		conflict.CreatedAt = now
		if _, err = tx.ExecContext(ctx, insertQuery, conflict.ID, planID, conflict.PlannedCourse1, conflict.PlannedCourse2, conflict.ConflictType, conflict.Description, now); err != nil {
			return fmt.Errorf("insert conflict: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit conflict resync: %w", err)
	}
	return nil
}
