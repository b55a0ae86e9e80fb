package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LoganDawes/Smart-Registration-Services/internal/models"
	appErrors "github.com/LoganDawes/Smart-Registration-Services/pkg/errors"
)

// memEnrollmentStore mirrors the repository's seat-claim semantics with a
// mutex standing in for the row lock: capacity check, row write and counter
// change happen atomically per call.
type memEnrollmentStore struct {
	mu          sync.Mutex
	sections    map[string]*models.Section
	details     map[string]models.SectionDetail
	enrollments map[string]*models.Enrollment
	nextID      int
}

func newMemEnrollmentStore() *memEnrollmentStore {
	return &memEnrollmentStore{
		sections:    make(map[string]*models.Section),
		details:     make(map[string]models.SectionDetail),
		enrollments: make(map[string]*models.Enrollment),
	}
}

func (m *memEnrollmentStore) addSection(detail models.SectionDetail) {
	section := detail.Section
	m.sections[section.ID] = &section
	m.details[section.ID] = detail
}

func (m *memEnrollmentStore) FindByID(_ context.Context, id string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.enrollments[id]; ok {
		copied := *e
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memEnrollmentStore) FindDetailByID(_ context.Context, id string) (*models.EnrollmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	detail := m.details[e.SectionID]
	return &models.EnrollmentDetail{
		Enrollment:    *e,
		CourseCode:    detail.CourseCode,
		CourseTitle:   detail.CourseTitle,
		SectionNumber: detail.SectionNumber,
		Term:          detail.Term,
		Year:          detail.Year,
		MeetingDays:   detail.MeetingDays,
		StartMinutes:  detail.StartMinutes,
		EndMinutes:    detail.EndMinutes,
		Location:      detail.Location,
	}, nil
}

func (m *memEnrollmentStore) ListEnrolledByStudentTerm(_ context.Context, studentID, term string, year int) ([]models.EnrollmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EnrollmentDetail
	for _, e := range m.enrollments {
		if e.StudentID != studentID || e.Status != models.EnrollmentStatusEnrolled {
			continue
		}
		detail := m.details[e.SectionID]
		if detail.Term != term || detail.Year != year {
			continue
		}
		out = append(out, models.EnrollmentDetail{
			Enrollment:   *e,
			CourseCode:   detail.CourseCode,
			MeetingDays:  detail.MeetingDays,
			StartMinutes: detail.StartMinutes,
			EndMinutes:   detail.EndMinutes,
			Term:         detail.Term,
			Year:         detail.Year,
		})
	}
	return out, nil
}

func (m *memEnrollmentStore) ListByStudent(_ context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EnrollmentDetail
	for _, e := range m.enrollments {
		if e.StudentID == studentID {
			out = append(out, models.EnrollmentDetail{Enrollment: *e})
		}
	}
	return out, nil
}

func (m *memEnrollmentStore) RegisterWithCapacity(_ context.Context, studentID, sectionID, _ string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	section, ok := m.sections[sectionID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
	}
	if !section.IsAvailable {
		return nil, appErrors.Clone(appErrors.ErrSectionUnavailable, "section not available for registration")
	}

	var existing *models.Enrollment
	for _, e := range m.enrollments {
		if e.StudentID == studentID && e.SectionID == sectionID {
			existing = e
			break
		}
	}
	if existing != nil && existing.Status.Active() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "already enrolled in this section")
	}

	status := models.EnrollmentStatusEnrolled
	if section.IsFull() {
		status = models.EnrollmentStatusWaitlisted
	}

	now := time.Now().UTC()
	var enrollment *models.Enrollment
	if existing != nil {
		existing.Status = status
		existing.DroppedAt = nil
		existing.EnrolledAt = now
		enrollment = existing
	} else {
		m.nextID++
		enrollment = &models.Enrollment{
			ID:         fmt.Sprintf("enr-%d", m.nextID),
			StudentID:  studentID,
			SectionID:  sectionID,
			Status:     status,
			EnrolledAt: now,
		}
		m.enrollments[enrollment.ID] = enrollment
	}
	if status == models.EnrollmentStatusEnrolled {
		section.CurrentEnrollment++
	}
	copied := *enrollment
	return &copied, nil
}

func (m *memEnrollmentStore) DropEnrollment(_ context.Context, enrollmentID, _ string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.enrollments[enrollmentID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	if e.Status == models.EnrollmentStatusDropped {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment already dropped")
	}
	if e.Status == models.EnrollmentStatusEnrolled {
		if section := m.sections[e.SectionID]; section != nil && section.CurrentEnrollment > 0 {
			section.CurrentEnrollment--
		}
	}
	now := time.Now().UTC()
	e.Status = models.EnrollmentStatusDropped
	e.DroppedAt = &now
	copied := *e
	return &copied, nil
}

type memSectionReader struct {
	store *memEnrollmentStore
}

func (m *memSectionReader) FindByID(_ context.Context, id string) (*models.Section, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if s, ok := m.store.sections[id]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memSectionReader) FindDetailByID(_ context.Context, id string) (*models.SectionDetail, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if d, ok := m.store.details[id]; ok {
		detail := d
		detail.Section = *m.store.sections[id]
		return &detail, nil
	}
	return nil, sql.ErrNoRows
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []models.NotificationType
	byUser   map[string][]models.NotificationType
}

func (n *recordingNotifier) Dispatch(_ context.Context, recipientID string, ntype models.NotificationType, _, _ string, _ map[string]interface{}) (*models.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.byUser == nil {
		n.byUser = make(map[string][]models.NotificationType)
	}
	n.messages = append(n.messages, ntype)
	n.byUser[recipientID] = append(n.byUser[recipientID], ntype)
	return &models.Notification{RecipientID: recipientID, Type: ntype}, nil
}

func testSection(id, code, days string, start, end, max int) models.SectionDetail {
	return models.SectionDetail{
		Section: models.Section{
			ID:            id,
			CourseID:      "course-" + id,
			SectionNumber: "001",
			Term:          "FALL",
			Year:          2026,
			MeetingDays:   days,
			StartMinutes:  start,
			EndMinutes:    end,
			MaxEnrollment: max,
			IsAvailable:   true,
		},
		CourseCode: code,
	}
}

func newRegistrationService(store *memEnrollmentStore, notifier *recordingNotifier) *RegistrationService {
	return NewRegistrationService(store, &memSectionReader{store: store}, notifier, nil, validator.New(), zap.NewNop())
}

func TestRegistrationEnroll(t *testing.T) {
	store := newMemEnrollmentStore()
	store.addSection(testSection("sec-1", "CS101", "MWF", 540, 590, 30))
	notifier := &recordingNotifier{}
	svc := newRegistrationService(store, notifier)

	detail, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"}, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, detail.Status)
	assert.Equal(t, 1, store.sections["sec-1"].CurrentEnrollment)
	require.Len(t, notifier.messages, 1)
	assert.Equal(t, models.NotificationEnrollmentConfirmed, notifier.messages[0])
}

func TestRegistrationEnrollRejectsTimeConflict(t *testing.T) {
	store := newMemEnrollmentStore()
	store.addSection(testSection("sec-1", "CS101", "MWF", 540, 590, 30))
	store.addSection(testSection("sec-2", "MATH201", "WF", 560, 620, 30))
	svc := newRegistrationService(store, &recordingNotifier{})

	_, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"}, "stu-1")
	require.NoError(t, err)

	_, err = svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-2"}, "stu-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrScheduleConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, store.sections["sec-2"].CurrentEnrollment)
}

func TestRegistrationEnrollAllowsTouchingWindows(t *testing.T) {
	store := newMemEnrollmentStore()
	store.addSection(testSection("sec-1", "CS101", "MWF", 540, 590, 30))
	store.addSection(testSection("sec-2", "MATH201", "MWF", 590, 640, 30))
	svc := newRegistrationService(store, &recordingNotifier{})

	_, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"}, "stu-1")
	require.NoError(t, err)
	_, err = svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-2"}, "stu-1")
	require.NoError(t, err)
}

func TestRegistrationFullSectionWaitlists(t *testing.T) {
	store := newMemEnrollmentStore()
	store.addSection(testSection("sec-1", "CS101", "MWF", 540, 590, 1))
	notifier := &recordingNotifier{}
	svc := newRegistrationService(store, notifier)

	first, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"}, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, first.Status)

	second, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-2", SectionID: "sec-1"}, "stu-2")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWaitlisted, second.Status)
	assert.Equal(t, 1, store.sections["sec-1"].CurrentEnrollment)
	assert.Contains(t, notifier.byUser["stu-2"], models.NotificationWaitlistUpdate)
}

// Concurrent seat claims on a section with N seats must end with exactly N
// ENROLLED rows, everyone else waitlisted, and the counter exactly at max.
func TestRegistrationConcurrentClaimsNeverOversell(t *testing.T) {
	const seats = 10
	const students = 40

	store := newMemEnrollmentStore()
	store.addSection(testSection("sec-1", "CS101", "MWF", 540, 590, seats))
	svc := newRegistrationService(store, &recordingNotifier{})

	var wg sync.WaitGroup
	for i := 0; i < students; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			studentID := fmt.Sprintf("stu-%d", n)
			_, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: studentID, SectionID: "sec-1"}, studentID)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	enrolled, waitlisted := 0, 0
	for _, e := range store.enrollments {
		switch e.Status {
		case models.EnrollmentStatusEnrolled:
			enrolled++
		case models.EnrollmentStatusWaitlisted:
			waitlisted++
		}
	}
	assert.Equal(t, seats, enrolled)
	assert.Equal(t, students-seats, waitlisted)
	assert.Equal(t, seats, store.sections["sec-1"].CurrentEnrollment)
}

func TestRegistrationDropRestoresSeat(t *testing.T) {
	store := newMemEnrollmentStore()
	store.addSection(testSection("sec-1", "CS101", "MWF", 540, 590, 1))
	svc := newRegistrationService(store, &recordingNotifier{})

	first, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"}, "stu-1")
	require.NoError(t, err)

	_, err = svc.Drop(context.Background(), first.ID, "stu-1", models.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, 0, store.sections["sec-1"].CurrentEnrollment)

	// The freed seat is claimable again; nobody is promoted automatically.
	second, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-2", SectionID: "sec-1"}, "stu-2")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, second.Status)
}

func TestRegistrationDropForbiddenForOtherStudents(t *testing.T) {
	store := newMemEnrollmentStore()
	store.addSection(testSection("sec-1", "CS101", "MWF", 540, 590, 30))
	svc := newRegistrationService(store, &recordingNotifier{})

	detail, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"}, "stu-1")
	require.NoError(t, err)

	_, err = svc.Drop(context.Background(), detail.ID, "stu-2", models.RoleStudent)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.Drop(context.Background(), detail.ID, "registrar-1", models.RoleRegistrar)
	require.NoError(t, err)
}

func TestRegistrationReenrollAfterDrop(t *testing.T) {
	store := newMemEnrollmentStore()
	store.addSection(testSection("sec-1", "CS101", "MWF", 540, 590, 30))
	svc := newRegistrationService(store, &recordingNotifier{})

	first, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"}, "stu-1")
	require.NoError(t, err)
	_, err = svc.Drop(context.Background(), first.ID, "stu-1", models.RoleStudent)
	require.NoError(t, err)

	again, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"}, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, models.EnrollmentStatusEnrolled, again.Status)
	assert.Nil(t, again.DroppedAt)
	assert.Len(t, store.enrollments, 1)
}

func TestRegistrationDuplicateEnrollRejected(t *testing.T) {
	store := newMemEnrollmentStore()
	store.addSection(testSection("sec-1", "CS101", "MWF", 540, 590, 30))
	svc := newRegistrationService(store, &recordingNotifier{})

	_, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"}, "stu-1")
	require.NoError(t, err)
	_, err = svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"}, "stu-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

// Bulk registration treats each section independently: a conflicting sibling
// fails on its own while the others land.
func TestRegistrationBulkEnrollIsolatesFailures(t *testing.T) {
	store := newMemEnrollmentStore()
	store.addSection(testSection("sec-1", "CS101", "MWF", 540, 590, 30))
	store.addSection(testSection("sec-2", "MATH201", "MW", 560, 620, 30))
	store.addSection(testSection("sec-3", "ENG110", "TR", 600, 675, 30))
	svc := newRegistrationService(store, &recordingNotifier{})

	results, err := svc.BulkEnroll(context.Background(), BulkEnrollRequest{
		StudentID:  "stu-1",
		SectionIDs: []string{"sec-1", "sec-2", "sec-3"},
	}, "stu-1")
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Empty(t, results[0].Error)
	assert.NotNil(t, results[0].Enrollment)
	assert.NotEmpty(t, results[1].Error)
	assert.Nil(t, results[1].Enrollment)
	assert.Empty(t, results[2].Error)
	assert.NotNil(t, results[2].Enrollment)
}

func TestRegistrationCheckEligibility(t *testing.T) {
	store := newMemEnrollmentStore()
	store.addSection(testSection("sec-1", "CS101", "MWF", 540, 590, 1))
	store.addSection(testSection("sec-2", "MATH201", "WF", 560, 620, 30))
	svc := newRegistrationService(store, &recordingNotifier{})

	_, err := svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", SectionID: "sec-1"}, "stu-1")
	require.NoError(t, err)

	report, err := svc.CheckEligibility(context.Background(), "stu-1", "sec-2")
	require.NoError(t, err)
	assert.True(t, report.Available)
	assert.False(t, report.WouldWaitlist)
	require.Len(t, report.TimeConflicts, 1)
	assert.Contains(t, report.TimeConflicts[0].Description, "CS101")

	// A full section previews as waitlist for everyone else.
	report, err = svc.CheckEligibility(context.Background(), "stu-2", "sec-1")
	require.NoError(t, err)
	assert.True(t, report.WouldWaitlist)
	assert.Equal(t, 0, report.SeatsLeft)
}
