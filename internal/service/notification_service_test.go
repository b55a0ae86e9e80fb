package service

import (
	"context"
	"database/sql"
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

type mockNotificationStore struct {
	mu            sync.Mutex
	notifications map[string]*models.Notification
	preferences   map[string]*models.NotificationPreference
	emailsSent    []string
}

func newMockNotificationStore() *mockNotificationStore {
	return &mockNotificationStore{
		notifications: make(map[string]*models.Notification),
		preferences:   make(map[string]*models.NotificationPreference),
	}
}

func (m *mockNotificationStore) Create(_ context.Context, notification *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *notification
	m.notifications[notification.ID] = &copied
	return nil
}

func (m *mockNotificationStore) FindByID(_ context.Context, id string) (*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.notifications[id]; ok {
		copied := *n
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockNotificationStore) List(_ context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, n := range m.notifications {
		if n.RecipientID == filter.RecipientID {
			out = append(out, *n)
		}
	}
	return out, len(out), nil
}

func (m *mockNotificationStore) MarkRead(_ context.Context, id, recipientID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return sql.ErrNoRows
	}
	n.IsRead = true
	n.ReadAt = &at
	return nil
}

func (m *mockNotificationStore) MarkEmailSent(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return sql.ErrNoRows
	}
	n.EmailSent = true
	n.SentAt = &at
	m.emailsSent = append(m.emailsSent, id)
	return nil
}

func (m *mockNotificationStore) FindPreference(_ context.Context, userID string) (*models.NotificationPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.preferences[userID]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockNotificationStore) UpsertPreference(_ context.Context, pref *models.NotificationPreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *pref
	m.preferences[pref.UserID] = &copied
	return nil
}

type mockRecipientReader struct {
	users map[string]models.User
}

func (m *mockRecipientReader) FindByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		copied := u
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

type sentEmail struct {
	to      string
	subject string
}

type channelEmailSender struct {
	sent chan sentEmail
}

func (s *channelEmailSender) Send(_ context.Context, to, subject, _ string) error {
	s.sent <- sentEmail{to: to, subject: subject}
	return nil
}

func newNotificationFixture() (*NotificationService, *mockNotificationStore, *channelEmailSender) {
	store := newMockNotificationStore()
	recipients := &mockRecipientReader{users: map[string]models.User{
		"stu-1": {ID: "stu-1", Email: "stu1@university.edu"},
	}}
	sender := &channelEmailSender{sent: make(chan sentEmail, 8)}
	svc := NewNotificationService(store, recipients, sender, validator.New(), zap.NewNop(), NotificationConfig{
		WorkerConcurrency: 1,
		WorkerRetries:     1,
		RetryDelay:        10 * time.Millisecond,
	})
	return svc, store, sender
}

func TestNotificationDispatchStoresAndEmails(t *testing.T) {
	svc, store, sender := newNotificationFixture()
	svc.Start(context.Background())
	defer svc.Stop()

	n, err := svc.Dispatch(context.Background(), "stu-1", models.NotificationEnrollmentConfirmed,
		"Enrollment confirmed", "You are enrolled in CS101.", map[string]interface{}{"section_id": "sec-1"})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.True(t, n.SendEmail)

	select {
	case mail := <-sender.sent:
		assert.Equal(t, "stu1@university.edu", mail.to)
		assert.Equal(t, "Enrollment confirmed", mail.subject)
	case <-time.After(2 * time.Second):
		t.Fatal("email was never delivered")
	}

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.emailsSent) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotificationScheduleChangeSuppressed(t *testing.T) {
	svc, store, _ := newNotificationFixture()
	_, err := svc.UpdatePreferences(context.Background(), "stu-1", UpdatePreferencesRequest{
		EmailNotifications: true,
		ScheduleChanges:    false,
		AdvisorActions:     true,
	})
	require.NoError(t, err)

	n, err := svc.Dispatch(context.Background(), "stu-1", models.NotificationScheduleChange,
		"Section updated", "Room changed.", nil)
	require.NoError(t, err)
	assert.Nil(t, n)
	assert.Empty(t, store.notifications)

	// Other notification types are unaffected by the schedule opt-out.
	n, err = svc.Dispatch(context.Background(), "stu-1", models.NotificationWaitlistUpdate,
		"Waitlisted", "You are waitlisted.", nil)
	require.NoError(t, err)
	require.NotNil(t, n)
}

func TestNotificationAdvisorActionSuppressed(t *testing.T) {
	svc, store, _ := newNotificationFixture()
	_, err := svc.UpdatePreferences(context.Background(), "stu-1", UpdatePreferencesRequest{
		EmailNotifications: true,
		ScheduleChanges:    true,
		AdvisorActions:     false,
	})
	require.NoError(t, err)

	for _, ntype := range []models.NotificationType{
		models.NotificationAdvisorAction,
		models.NotificationPlanApproved,
		models.NotificationPlanRejected,
	} {
		n, err := svc.Dispatch(context.Background(), "stu-1", ntype, "Review", "Plan reviewed.", nil)
		require.NoError(t, err)
		assert.Nil(t, n)
	}
	assert.Empty(t, store.notifications)
}

func TestNotificationEmailOptOutKeepsInAppRecord(t *testing.T) {
	svc, store, _ := newNotificationFixture()
	svc.Start(context.Background())
	defer svc.Stop()

	_, err := svc.UpdatePreferences(context.Background(), "stu-1", UpdatePreferencesRequest{
		EmailNotifications: false,
		ScheduleChanges:    true,
		AdvisorActions:     true,
	})
	require.NoError(t, err)

	n, err := svc.Dispatch(context.Background(), "stu-1", models.NotificationScheduleChange,
		"Section updated", "Room changed.", nil)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.False(t, n.SendEmail)

	store.mu.Lock()
	count := len(store.notifications)
	store.mu.Unlock()
	assert.Equal(t, 1, count)
	assert.Empty(t, store.emailsSent)
}

func TestNotificationMissingPreferenceRowAllowsAll(t *testing.T) {
	svc, _, _ := newNotificationFixture()

	pref, err := svc.GetPreferences(context.Background(), "stu-unknown")
	require.NoError(t, err)
	assert.True(t, pref.EmailNotifications)
	assert.True(t, pref.ScheduleChanges)
	assert.True(t, pref.AdvisorActions)

	n, err := svc.Dispatch(context.Background(), "stu-unknown", models.NotificationScheduleChange,
		"Section updated", "Room changed.", nil)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.True(t, n.SendEmail)
}

func TestNotificationMarkReadScopedToRecipient(t *testing.T) {
	svc, _, _ := newNotificationFixture()

	n, err := svc.Dispatch(context.Background(), "stu-1", models.NotificationGeneral, "Hello", "Welcome.", nil)
	require.NoError(t, err)
	require.NotNil(t, n)

	err = svc.MarkRead(context.Background(), n.ID, "stu-2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.MarkRead(context.Background(), n.ID, "stu-1"))

	fetched, _, err := svc.List(context.Background(), models.NotificationFilter{RecipientID: "stu-1"})
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	assert.True(t, fetched[0].IsRead)
}
