package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoganDawes/Smart-Registration-Services/internal/models"
	appErrors "github.com/LoganDawes/Smart-Registration-Services/pkg/errors"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var sectionLockColumns = []string{"id", "course_id", "section_number", "term", "year", "instructor_id", "location",
	"meeting_days", "start_minutes", "end_minutes", "max_enrollment", "current_enrollment", "is_available",
	"created_at", "updated_at"}

func sectionLockRow(current, max int, available bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(sectionLockColumns).
		AddRow("sec-1", "course-1", "001", "FALL", 2026, nil, "SCI 101",
			"MWF", 540, 590, max, current, available, now, now)
}

func enrollmentRow(id, studentID, sectionID string, status models.EnrollmentStatus, droppedAt *time.Time) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "student_id", "section_id", "status", "grade", "enrolled_at", "dropped_at", "updated_at"}).
		AddRow(id, studentID, sectionID, status, "", now, droppedAt, now)
}

func TestRegisterWithCapacityOpenSeat(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM course_sections WHERE id = $1 FOR UPDATE")).
		WithArgs("sec-1").
		WillReturnRows(sectionLockRow(4, 30, true))
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE student_id = $1 AND section_id = $2")).
		WithArgs("stu-1", "sec-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WithArgs(sqlmock.AnyArg(), "stu-1", "sec-1", models.EnrollmentStatusEnrolled, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE course_sections SET current_enrollment = current_enrollment + 1")).
		WithArgs("sec-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registration_logs")).
		WithArgs(sqlmock.AnyArg(), "actor-1", sqlmock.AnyArg(), nil, models.LogActionRegister, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	enrollment, err := repo.RegisterWithCapacity(context.Background(), "stu-1", "sec-1", "actor-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterWithCapacityFullSectionWaitlists(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM course_sections WHERE id = $1 FOR UPDATE")).
		WithArgs("sec-1").
		WillReturnRows(sectionLockRow(30, 30, true))
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE student_id = $1 AND section_id = $2")).
		WithArgs("stu-1", "sec-1").
		WillReturnError(sql.ErrNoRows)
	// Waitlisted rows never touch the counter, so only the insert and the
	// audit record run before commit.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WithArgs(sqlmock.AnyArg(), "stu-1", "sec-1", models.EnrollmentStatusWaitlisted, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registration_logs")).
		WithArgs(sqlmock.AnyArg(), "actor-1", sqlmock.AnyArg(), nil, models.LogActionWaitlist, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	enrollment, err := repo.RegisterWithCapacity(context.Background(), "stu-1", "sec-1", "actor-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWaitlisted, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterWithCapacityDuplicateActive(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("sec-1").
		WillReturnRows(sectionLockRow(4, 30, true))
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE student_id = $1 AND section_id = $2")).
		WithArgs("stu-1", "sec-1").
		WillReturnRows(enrollmentRow("enr-1", "stu-1", "sec-1", models.EnrollmentStatusEnrolled, nil))
	mock.ExpectRollback()

	_, err := repo.RegisterWithCapacity(context.Background(), "stu-1", "sec-1", "actor-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterWithCapacityUnavailableSection(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("sec-1").
		WillReturnRows(sectionLockRow(0, 30, false))
	mock.ExpectRollback()

	_, err := repo.RegisterWithCapacity(context.Background(), "stu-1", "sec-1", "actor-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrSectionUnavailable.Code, appErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterWithCapacityReactivatesDroppedRow(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	droppedAt := time.Now().Add(-24 * time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("sec-1").
		WillReturnRows(sectionLockRow(4, 30, true))
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE student_id = $1 AND section_id = $2")).
		WithArgs("stu-1", "sec-1").
		WillReturnRows(enrollmentRow("enr-1", "stu-1", "sec-1", models.EnrollmentStatusDropped, &droppedAt))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, grade = '', enrolled_at = $3, dropped_at = NULL")).
		WithArgs("enr-1", models.EnrollmentStatusEnrolled, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE course_sections SET current_enrollment = current_enrollment + 1")).
		WithArgs("sec-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registration_logs")).
		WithArgs(sqlmock.AnyArg(), "actor-1", "enr-1", nil, models.LogActionRegister, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	enrollment, err := repo.RegisterWithCapacity(context.Background(), "stu-1", "sec-1", "actor-1")
	require.NoError(t, err)
	assert.Equal(t, "enr-1", enrollment.ID)
	assert.Equal(t, models.EnrollmentStatusEnrolled, enrollment.Status)
	assert.Nil(t, enrollment.DroppedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDropEnrollmentDecrementsCounter(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(enrollmentRow("enr-1", "stu-1", "sec-1", models.EnrollmentStatusEnrolled, nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, dropped_at = $3")).
		WithArgs("enr-1", models.EnrollmentStatusDropped, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("GREATEST(current_enrollment - 1, 0)")).
		WithArgs("sec-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registration_logs")).
		WithArgs(sqlmock.AnyArg(), "actor-1", "enr-1", nil, models.LogActionDrop, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	enrollment, err := repo.DropEnrollment(context.Background(), "enr-1", "actor-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusDropped, enrollment.Status)
	require.NotNil(t, enrollment.DroppedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDropEnrollmentWaitlistedLeavesCounter(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(enrollmentRow("enr-1", "stu-1", "sec-1", models.EnrollmentStatusWaitlisted, nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, dropped_at = $3")).
		WithArgs("enr-1", models.EnrollmentStatusDropped, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registration_logs")).
		WithArgs(sqlmock.AnyArg(), "actor-1", "enr-1", nil, models.LogActionDrop, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err := repo.DropEnrollment(context.Background(), "enr-1", "actor-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDropEnrollmentAlreadyDropped(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	droppedAt := time.Now().Add(-time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(enrollmentRow("enr-1", "stu-1", "sec-1", models.EnrollmentStatusDropped, &droppedAt))
	mock.ExpectRollback()

	_, err := repo.DropEnrollment(context.Background(), "enr-1", "actor-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompletedCourseIDs(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"course_id"}).AddRow("course-1").AddRow("course-2")
	mock.ExpectQuery("SELECT DISTINCT cs.course_id").
		WillReturnRows(rows)

	completed, err := repo.CompletedCourseIDs(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.True(t, completed["course-1"])
	assert.True(t, completed["course-2"])
	assert.False(t, completed["course-3"])
	require.NoError(t, mock.ExpectationsWereMet())
}
