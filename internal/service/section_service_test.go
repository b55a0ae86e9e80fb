package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LoganDawes/Smart-Registration-Services/internal/models"
	appErrors "github.com/LoganDawes/Smart-Registration-Services/pkg/errors"
)

type mockSectionStore struct {
	sections map[string]*models.Section
	updates  int
}

func (m *mockSectionStore) FindByID(_ context.Context, id string) (*models.Section, error) {
	if s, ok := m.sections[id]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSectionStore) FindDetailByID(_ context.Context, id string) (*models.SectionDetail, error) {
	if s, ok := m.sections[id]; ok {
		return &models.SectionDetail{Section: *s}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSectionStore) List(_ context.Context, _ models.SectionFilter) ([]models.SectionDetail, int, error) {
	out := make([]models.SectionDetail, 0, len(m.sections))
	for _, s := range m.sections {
		out = append(out, models.SectionDetail{Section: *s})
	}
	return out, len(out), nil
}

func (m *mockSectionStore) Create(_ context.Context, section *models.Section) error {
	section.ID = fmt.Sprintf("sec-%d", len(m.sections)+1)
	copied := *section
	m.sections[section.ID] = &copied
	return nil
}

func (m *mockSectionStore) Update(_ context.Context, section *models.Section) error {
	if _, ok := m.sections[section.ID]; !ok {
		return sql.ErrNoRows
	}
	m.updates++
	copied := *section
	m.sections[section.ID] = &copied
	return nil
}

type mockEnrolledReader struct {
	studentIDs []string
}

func (m *mockEnrolledReader) ListEnrolledStudentIDs(_ context.Context, _ string) ([]string, error) {
	return m.studentIDs, nil
}

type sectionFixture struct {
	store    *mockSectionStore
	notifier *recordingNotifier
	svc      *SectionService
}

func newSectionFixture(enrolled []string) *sectionFixture {
	instructor := "instr-1"
	store := &mockSectionStore{sections: map[string]*models.Section{
		"sec-1": {
			ID:            "sec-1",
			CourseID:      "course-1",
			SectionNumber: "001",
			Term:          "FALL",
			Year:          2026,
			InstructorID:  &instructor,
			Location:      "Hall 101",
			MeetingDays:   "MWF",
			StartMinutes:  540,
			EndMinutes:    590,
			MaxEnrollment: 30,
			IsAvailable:   true,
		},
	}}
	courses := &mockCourseReader{courses: map[string]models.Course{"course-1": {ID: "course-1", CourseCode: "CS101"}}}
	notifier := &recordingNotifier{}
	svc := NewSectionService(store, courses, &mockEnrolledReader{studentIDs: enrolled}, notifier, validator.New(), zap.NewNop())
	return &sectionFixture{store: store, notifier: notifier, svc: svc}
}

func strPtr(v string) *string { return &v }
func intPtr(v int) *int       { return &v }
func boolPtr(v bool) *bool    { return &v }

func TestSectionUpdateNotifiesEnrolledOnWatchedFields(t *testing.T) {
	f := newSectionFixture([]string{"stu-1", "stu-2", "stu-3"})

	detail, changes, err := f.svc.Update(context.Background(), "sec-1", UpdateSectionRequest{
		Location:     strPtr("Hall 205"),
		StartMinutes: intPtr(600),
		EndMinutes:   intPtr(650),
	})
	require.NoError(t, err)
	assert.Equal(t, "Hall 205", detail.Location)
	require.Len(t, changes, 3)

	fields := make([]string, 0, len(changes))
	for _, c := range changes {
		fields = append(fields, c.Field)
	}
	assert.ElementsMatch(t, []string{"start_time", "end_time", "location"}, fields)

	// one notice per enrolled student
	for _, id := range []string{"stu-1", "stu-2", "stu-3"} {
		require.Len(t, f.notifier.byUser[id], 1)
		assert.Equal(t, models.NotificationScheduleChange, f.notifier.byUser[id][0])
	}
}

func TestSectionUpdateReportsOldAndNewValues(t *testing.T) {
	f := newSectionFixture([]string{"stu-1"})

	_, changes, err := f.svc.Update(context.Background(), "sec-1", UpdateSectionRequest{
		MeetingDays: strPtr("TR"),
	})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "meeting_days", changes[0].Field)
	assert.Equal(t, "MWF", *changes[0].Old)
	assert.Equal(t, "TR", *changes[0].New)
}

func TestSectionUpdateCapacityChangeStaysSilent(t *testing.T) {
	f := newSectionFixture([]string{"stu-1", "stu-2"})

	detail, changes, err := f.svc.Update(context.Background(), "sec-1", UpdateSectionRequest{
		MaxEnrollment: intPtr(45),
		IsAvailable:   boolPtr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, 45, detail.MaxEnrollment)
	assert.False(t, detail.IsAvailable)
	assert.Empty(t, changes)
	assert.Empty(t, f.notifier.messages)
	assert.Equal(t, 1, f.store.updates)
}

func TestSectionUpdateNoopValueProducesNoNotice(t *testing.T) {
	f := newSectionFixture([]string{"stu-1"})

	// setting a watched field to its current value is not a change
	_, changes, err := f.svc.Update(context.Background(), "sec-1", UpdateSectionRequest{
		Location: strPtr("Hall 101"),
	})
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Empty(t, f.notifier.messages)
}

func TestSectionUpdateInstructorChangeNotifies(t *testing.T) {
	f := newSectionFixture([]string{"stu-1"})

	_, changes, err := f.svc.Update(context.Background(), "sec-1", UpdateSectionRequest{
		InstructorID: strPtr("instr-2"),
	})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "instructor", changes[0].Field)
	assert.Contains(t, f.notifier.byUser["stu-1"], models.NotificationScheduleChange)
}

func TestSectionUpdateRejectsInvertedWindow(t *testing.T) {
	f := newSectionFixture(nil)

	_, _, err := f.svc.Update(context.Background(), "sec-1", UpdateSectionRequest{
		StartMinutes: intPtr(600),
		EndMinutes:   intPtr(600),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, f.store.updates)
}

func TestSectionUpdateRejectsBadMeetingDays(t *testing.T) {
	f := newSectionFixture(nil)

	_, _, err := f.svc.Update(context.Background(), "sec-1", UpdateSectionRequest{
		MeetingDays: strPtr("XYZ"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSectionUpdateMissingSection(t *testing.T) {
	f := newSectionFixture(nil)

	_, _, err := f.svc.Update(context.Background(), "sec-missing", UpdateSectionRequest{
		Location: strPtr("Hall 1"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestSectionCreateNeverNotifies(t *testing.T) {
	f := newSectionFixture([]string{"stu-1"})

	detail, err := f.svc.Create(context.Background(), CreateSectionRequest{
		CourseID:      "course-1",
		SectionNumber: "002",
		Term:          "fall",
		Year:          2026,
		MeetingDays:   "TR",
		StartMinutes:  600,
		EndMinutes:    675,
		MaxEnrollment: 25,
	})
	require.NoError(t, err)
	assert.Equal(t, "FALL", detail.Term)
	assert.Equal(t, "TR", detail.MeetingDays)
	assert.True(t, detail.IsAvailable)
	assert.Empty(t, f.notifier.messages)
}

func TestSectionCreateUnknownCourse(t *testing.T) {
	f := newSectionFixture(nil)

	_, err := f.svc.Create(context.Background(), CreateSectionRequest{
		CourseID:      "course-missing",
		SectionNumber: "001",
		Term:          "FALL",
		Year:          2026,
		MeetingDays:   "MWF",
		StartMinutes:  540,
		EndMinutes:    590,
		MaxEnrollment: 30,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
