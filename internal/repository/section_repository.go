package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/LoganDawes/Smart-Registration-Services/internal/models"
)

// SectionRepository handles persistence of course sections.
type SectionRepository struct {
	db *sqlx.DB
}

// NewSectionRepository constructs the repository.
func NewSectionRepository(db *sqlx.DB) *SectionRepository {
	return &SectionRepository{db: db}
}

const sectionColumns = `id, course_id, section_number, term, year, instructor_id, location, meeting_days,
        start_minutes, end_minutes, max_enrollment, current_enrollment, is_available, created_at, updated_at`

const sectionDetailBase = `SELECT cs.id, cs.course_id, cs.section_number, cs.term, cs.year, cs.instructor_id,
        cs.location, cs.meeting_days, cs.start_minutes, cs.end_minutes, cs.max_enrollment, cs.current_enrollment,
        cs.is_available, cs.created_at, cs.updated_at,
        c.course_code, c.title AS course_title, c.credits, u.email AS instructor_handle
        FROM course_sections cs
        JOIN courses c ON c.id = cs.course_id
        LEFT JOIN users u ON u.id = cs.instructor_id`

// FindByID returns a section by its ID.
func (r *SectionRepository) FindByID(ctx context.Context, id string) (*models.Section, error) {
	query := fmt.Sprintf(`SELECT %s FROM course_sections WHERE id = $1`, sectionColumns)
	var section models.Section
	if err := r.db.GetContext(ctx, &section, query, id); err != nil {
		return nil, err
	}
	return &section, nil
}

// FindDetailByID returns a section with course and instructor context.
func (r *SectionRepository) FindDetailByID(ctx context.Context, id string) (*models.SectionDetail, error) {
	query := sectionDetailBase + ` WHERE cs.id = $1`
	var detail models.SectionDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns sections filtered by the provided criteria.
func (r *SectionRepository) List(ctx context.Context, filter models.SectionFilter) ([]models.SectionDetail, int, error) {
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("cs.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Term != "" {
		conditions = append(conditions, fmt.Sprintf("cs.term = $%d", len(args)+1))
		args = append(args, filter.Term)
	}
	if filter.Year > 0 {
		conditions = append(conditions, fmt.Sprintf("cs.year = $%d", len(args)+1))
		args = append(args, filter.Year)
	}
	if filter.Department != "" {
		conditions = append(conditions, fmt.Sprintf("c.department = $%d", len(args)+1))
		args = append(args, filter.Department)
	}
	if filter.AvailableOnly {
		conditions = append(conditions, "cs.is_available = TRUE AND cs.current_enrollment < cs.max_enrollment")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
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

	query := fmt.Sprintf("%s%s ORDER BY c.course_code, cs.section_number LIMIT %d OFFSET %d", sectionDetailBase, clause, size, offset)
	var sections []models.SectionDetail
	if err := r.db.SelectContext(ctx, &sections, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sections: %w", err)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM course_sections cs JOIN courses c ON c.id = cs.course_id%s`, clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sections: %w", err)
	}
	return sections, total, nil
}

// Create persists a new section.
func (r *SectionRepository) Create(ctx context.Context, section *models.Section) error {
	if section.ID == "" {
		section.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	section.CreatedAt = now
	section.UpdatedAt = now
	const query = `INSERT INTO course_sections (id, course_id, section_number, term, year, instructor_id, location,
        meeting_days, start_minutes, end_minutes, max_enrollment, current_enrollment, is_available, created_at, updated_at)
        VALUES (:id, :course_id, :section_number, :term, :year, :instructor_id, :location,
        :meeting_days, :start_minutes, :end_minutes, :max_enrollment, :current_enrollment, :is_available, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, section); err != nil {
		return fmt.Errorf("create section: %w", err)
	}
	return nil
}

// Update overwrites the mutable fields of a section. The seat counter is
// owned by the enrollment transactions and is not written here.
func (r *SectionRepository) Update(ctx context.Context, section *models.Section) error {
	section.UpdatedAt = time.Now().UTC()
	const query = `UPDATE course_sections SET section_number = :section_number, term = :term, year = :year,
        instructor_id = :instructor_id, location = :location, meeting_days = :meeting_days,
        start_minutes = :start_minutes, end_minutes = :end_minutes, max_enrollment = :max_enrollment,
        is_available = :is_available, updated_at = :updated_at
        WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, section)
	if err != nil {
		return fmt.Errorf("update section: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
