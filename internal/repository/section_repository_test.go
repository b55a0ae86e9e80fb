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
)

func newSectionRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestSectionRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newSectionRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(sectionLockColumns).
		AddRow("sec-1", "course-1", "001", "FALL", 2026, nil, "SCI 101", "MWF", 540, 590, 30, 12, true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM course_sections WHERE id = $1")).
		WithArgs("sec-1").
		WillReturnRows(rows)

	section, err := repo.FindByID(context.Background(), "sec-1")
	require.NoError(t, err)
	assert.Equal(t, "MWF", section.MeetingDays)
	assert.Equal(t, 18, section.AvailableSeats())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryListAvailableOnly(t *testing.T) {
	db, mock, cleanup := newSectionRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	now := time.Now()
	detailColumns := append(append([]string{}, sectionLockColumns...),
		"course_code", "course_title", "credits", "instructor_handle")
	rows := sqlmock.NewRows(detailColumns).
		AddRow("sec-1", "course-1", "001", "FALL", 2026, nil, "SCI 101", "MWF", 540, 590, 30, 12, true, now, now,
			"CS101", "Intro to Computing", 3, nil)
	mock.ExpectQuery(regexp.QuoteMeta("cs.is_available = TRUE AND cs.current_enrollment < cs.max_enrollment")).
		WithArgs("FALL", 2026).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM course_sections")).
		WithArgs("FALL", 2026).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	sections, total, err := repo.List(context.Background(), models.SectionFilter{
		Term:          "FALL",
		Year:          2026,
		AvailableOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, sections, 1)
	assert.Equal(t, "CS101", sections[0].CourseCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryUpdateMissing(t *testing.T) {
	db, mock, cleanup := newSectionRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE course_sections SET section_number")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.Section{ID: "sec-missing"})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryUpdate(t *testing.T) {
	db, mock, cleanup := newSectionRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE course_sections SET section_number")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Update(context.Background(), &models.Section{
		ID:            "sec-1",
		SectionNumber: "002",
		Term:          "FALL",
		Year:          2026,
		Location:      "SCI 202",
		MeetingDays:   "TR",
		StartMinutes:  600,
		EndMinutes:    675,
		MaxEnrollment: 25,
		IsAvailable:   true,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
