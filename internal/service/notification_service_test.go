package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edupoint/slms-api/internal/models"
	appErrors "github.com/edupoint/slms-api/pkg/errors"
)

type mockNotificationRepo struct {
	notifications map[string]*models.Notification
	jobs          map[string][]models.DeliveryJob
	prefs         map[string]*models.NotificationPreference
}

func newMockNotificationRepo() *mockNotificationRepo {
	return &mockNotificationRepo{
		notifications: make(map[string]*models.Notification),
		jobs:          make(map[string][]models.DeliveryJob),
		prefs:         make(map[string]*models.NotificationPreference),
	}
}

func prefKey(userID string, t models.NotificationType) string {
	return userID + "|" + string(t)
}

func (m *mockNotificationRepo) CreateWithJobs(ctx context.Context, n *models.Notification, jobs []models.DeliveryJob) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.Status = models.NotificationUnread
	n.CreatedAt = time.Now().UTC()
	m.notifications[n.ID] = n
	for i := range jobs {
		jobs[i].NotificationID = n.ID
	}
	m.jobs[n.ID] = jobs
	return nil
}

func (m *mockNotificationRepo) FindByID(ctx context.Context, id string) (*models.Notification, error) {
	n, ok := m.notifications[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return n, nil
}

func (m *mockNotificationRepo) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	var out []models.Notification
	for _, n := range m.notifications {
		if n.RecipientID != filter.RecipientID {
			continue
		}
		if filter.Status != "" && string(n.Status) != filter.Status {
			continue
		}
		if filter.Status == "" && n.Status == models.NotificationDeleted {
			continue
		}
		out = append(out, *n)
	}
	return out, len(out), nil
}

func (m *mockNotificationRepo) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	count := 0
	for _, n := range m.notifications {
		if n.RecipientID == recipientID && n.Status == models.NotificationUnread {
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationRepo) Transition(ctx context.Context, id string, to models.NotificationStatus, ts time.Time) error {
	n, ok := m.notifications[id]
	if !ok {
		return sql.ErrNoRows
	}
	n.Status = to
	return nil
}

func (m *mockNotificationRepo) MarkAllRead(ctx context.Context, recipientID string, ts time.Time) (int64, error) {
	var count int64
	for _, n := range m.notifications {
		if n.RecipientID == recipientID && n.Status == models.NotificationUnread {
			n.Status = models.NotificationRead
			n.ReadAt = &ts
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationRepo) GetPreference(ctx context.Context, userID string, t models.NotificationType) (*models.NotificationPreference, error) {
	if pref, ok := m.prefs[prefKey(userID, t)]; ok {
		return pref, nil
	}
	return &models.NotificationPreference{UserID: userID, Type: t, Enabled: true, EmailEnabled: false}, nil
}

func (m *mockNotificationRepo) ListPreferences(ctx context.Context, userID string) ([]models.NotificationPreference, error) {
	var out []models.NotificationPreference
	for _, pref := range m.prefs {
		if pref.UserID == userID {
			out = append(out, *pref)
		}
	}
	return out, nil
}

func (m *mockNotificationRepo) UpsertPreference(ctx context.Context, pref *models.NotificationPreference) error {
	m.prefs[prefKey(pref.UserID, pref.Type)] = pref
	return nil
}

func (m *mockNotificationRepo) ListJobsByNotification(ctx context.Context, notificationID string) ([]models.DeliveryJob, error) {
	return m.jobs[notificationID], nil
}

func (m *mockNotificationRepo) ListJobs(ctx context.Context, status models.DeliveryStatus, limit int) ([]models.DeliveryJob, error) {
	var out []models.DeliveryJob
	for _, jobs := range m.jobs {
		for _, job := range jobs {
			if status == "" || job.Status == status {
				out = append(out, job)
			}
		}
	}
	return out, nil
}

type mockHub struct {
	events []models.PushEvent
}

func (m *mockHub) Publish(ctx context.Context, event models.PushEvent) {
	m.events = append(m.events, event)
}

func newNotificationService() (*NotificationService, *mockNotificationRepo, *mockHub) {
	repo := newMockNotificationRepo()
	hub := &mockHub{}
	svc := NewNotificationService(repo, hub, nil, validator.New(), zap.NewNop())
	return svc, repo, hub
}

func TestCreateNotificationInAppOnly(t *testing.T) {
	svc, repo, hub := newNotificationService()

	n, err := svc.Create(context.Background(), CreateNotificationInput{
		RecipientID: "u1",
		Type:        models.NotifyAttendanceUpdate,
		Title:       "Attendance Marked",
		Message:     "You were marked present on 2026-03-01.",
	})
	require.NoError(t, err)
	assert.Equal(t, models.NotificationUnread, n.Status)

	jobs := repo.jobs[n.ID]
	require.Len(t, jobs, 1)
	assert.Equal(t, models.ChannelInApp, jobs[0].Channel)
	assert.Equal(t, models.DeliveryDelivered, jobs[0].Status)

	require.Len(t, hub.events, 1)
	assert.Equal(t, models.PushNotificationCreated, hub.events[0].Kind)
	assert.Equal(t, "u1", hub.events[0].RecipientID)
}

func TestCreateNotificationWithEmailJob(t *testing.T) {
	svc, repo, _ := newNotificationService()
	repo.prefs[prefKey("u1", models.NotifySystemAnnouncement)] = &models.NotificationPreference{
		UserID: "u1", Type: models.NotifySystemAnnouncement, Enabled: true, EmailEnabled: true,
	}

	n, err := svc.Create(context.Background(), CreateNotificationInput{
		RecipientID: "u1",
		Type:        models.NotifySystemAnnouncement,
		Title:       "Maintenance",
		Message:     "Planned downtime tonight.",
	})
	require.NoError(t, err)

	jobs := repo.jobs[n.ID]
	require.Len(t, jobs, 2)
	assert.Equal(t, models.ChannelEmail, jobs[1].Channel)
	assert.Equal(t, models.DeliveryPending, jobs[1].Status)
}

func TestCreateNotificationSuppressed(t *testing.T) {
	svc, repo, hub := newNotificationService()
	repo.prefs[prefKey("u1", models.NotifyAttendanceUpdate)] = &models.NotificationPreference{
		UserID: "u1", Type: models.NotifyAttendanceUpdate, Enabled: false,
	}

	_, err := svc.Create(context.Background(), CreateNotificationInput{
		RecipientID: "u1",
		Type:        models.NotifyAttendanceUpdate,
		Title:       "Attendance Marked",
		Message:     "You were marked present.",
	})
	assert.ErrorIs(t, err, ErrNotificationSuppressed)
	assert.Empty(t, repo.notifications)
	assert.Empty(t, hub.events)
}

func TestRepeatedCreatesAreNotCollapsed(t *testing.T) {
	svc, repo, _ := newNotificationService()

	for i := 0; i < 2; i++ {
		_, err := svc.Create(context.Background(), CreateNotificationInput{
			RecipientID: "u1",
			Type:        models.NotifyAttendanceUpdate,
			Title:       "Attendance Marked",
			Message:     "Identical message.",
		})
		require.NoError(t, err)
	}
	assert.Len(t, repo.notifications, 2)
}

func TestTransitionFollowsDAG(t *testing.T) {
	svc, _, hub := newNotificationService()

	n, err := svc.Create(context.Background(), CreateNotificationInput{
		RecipientID: "u1", Type: models.NotifyAccountActivity,
		Title: "t", Message: "m",
	})
	require.NoError(t, err)

	read, err := svc.Transition(context.Background(), "u1", n.ID, models.NotificationRead)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationRead, read.Status)
	assert.NotNil(t, read.ReadAt)

	// read → unread is not an edge
	_, err = svc.Transition(context.Background(), "u1", n.ID, models.NotificationUnread)
	require.Error(t, err)

	deleted, err := svc.Transition(context.Background(), "u1", n.ID, models.NotificationDeleted)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationDeleted, deleted.Status)

	// no edge leaves deleted
	_, err = svc.Transition(context.Background(), "u1", n.ID, models.NotificationArchived)
	require.Error(t, err)

	var updates int
	for _, event := range hub.events {
		if event.Kind == models.PushNotificationUpdated {
			updates++
		}
	}
	assert.Equal(t, 2, updates)
}

func TestTransitionRejectsForeignRecipient(t *testing.T) {
	svc, _, _ := newNotificationService()

	n, err := svc.Create(context.Background(), CreateNotificationInput{
		RecipientID: "u1", Type: models.NotifyAccountActivity, Title: "t", Message: "m",
	})
	require.NoError(t, err)

	_, err = svc.Transition(context.Background(), "u2", n.ID, models.NotificationRead)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestMarkAllRead(t *testing.T) {
	svc, _, _ := newNotificationService()

	for i := 0; i < 3; i++ {
		_, err := svc.Create(context.Background(), CreateNotificationInput{
			RecipientID: "u1", Type: models.NotifyAccountActivity, Title: "t", Message: "m",
		})
		require.NoError(t, err)
	}

	count, err := svc.MarkAllRead(context.Background(), "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	unread, err := svc.UnreadCount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestPreferencesFillDefaults(t *testing.T) {
	svc, repo, _ := newNotificationService()
	repo.prefs[prefKey("u1", models.NotifyAttendanceUpdate)] = &models.NotificationPreference{
		UserID: "u1", Type: models.NotifyAttendanceUpdate, Enabled: false,
	}

	prefs, err := svc.Preferences(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, prefs, 6)
	for _, pref := range prefs {
		if pref.Type == models.NotifyAttendanceUpdate {
			assert.False(t, pref.Enabled)
		} else {
			assert.True(t, pref.Enabled)
			assert.False(t, pref.EmailEnabled)
		}
	}
}
