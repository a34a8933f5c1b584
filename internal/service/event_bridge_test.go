package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edupoint/slms-api/internal/models"
)

type mockOutboxReader struct {
	pending   []models.OutboxEvent
	processed []string
}

func (m *mockOutboxReader) ListPending(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	return m.pending, nil
}

func (m *mockOutboxReader) MarkProcessed(ctx context.Context, id string) error {
	m.processed = append(m.processed, id)
	return nil
}

type mockStaffLookup struct {
	staff []models.User
	err   error
}

func (m *mockStaffLookup) ListByRoles(ctx context.Context, roles ...models.UserRole) ([]models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.staff, nil
}

type mockNotifier struct {
	created []CreateNotificationInput
	failFor map[string]error
}

func (m *mockNotifier) Create(ctx context.Context, in CreateNotificationInput) (*models.Notification, error) {
	if err, ok := m.failFor[in.RecipientID]; ok {
		return nil, err
	}
	m.created = append(m.created, in)
	return &models.Notification{ID: "n-" + in.RecipientID, RecipientID: in.RecipientID}, nil
}

func event(t *testing.T, id string, eventType models.DomainEventType, payload interface{}) models.OutboxEvent {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return models.OutboxEvent{ID: id, EventType: eventType, Payload: raw, CreatedAt: time.Now().UTC()}
}

func newBridgeFixture(events ...models.OutboxEvent) (*EventBridge, *mockOutboxReader, *mockNotifier, *mockStaffLookup) {
	outbox := &mockOutboxReader{pending: events}
	staff := &mockStaffLookup{staff: []models.User{
		{ID: "admin-1", Role: models.RoleSuperAdmin},
		{ID: "admin-2", Role: models.RoleAdmin},
	}}
	notifier := &mockNotifier{failFor: map[string]error{}}
	bridge := NewEventBridge(outbox, staff, notifier, zap.NewNop(), time.Second)
	return bridge, outbox, notifier, staff
}

func TestDrainFansAdmissionOutToStaff(t *testing.T) {
	bridge, outbox, notifier, _ := newBridgeFixture(
		event(t, "e1", models.EventAdmissionSubmitted, models.ActorEventPayload{ActorName: "John Doe"}),
	)

	bridge.Drain(context.Background())

	require.Len(t, notifier.created, 2)
	recipients := []string{notifier.created[0].RecipientID, notifier.created[1].RecipientID}
	assert.ElementsMatch(t, []string{"admin-1", "admin-2"}, recipients)
	assert.Equal(t, models.NotifyStudentAdmission, notifier.created[0].Type)
	assert.Contains(t, notifier.created[0].Message, "John Doe")
	assert.Equal(t, []string{"e1"}, outbox.processed)
}

func TestDrainRoutesAttendanceToStudent(t *testing.T) {
	bridge, outbox, notifier, _ := newBridgeFixture(
		event(t, "e1", models.EventAttendanceMarked, models.AttendanceEventPayload{
			StudentUserID: "s1", Action: "mark", IsPresent: true, Date: "2026-03-01",
		}),
	)

	bridge.Drain(context.Background())

	require.Len(t, notifier.created, 1)
	in := notifier.created[0]
	assert.Equal(t, "s1", in.RecipientID)
	assert.Equal(t, models.NotifyAttendanceUpdate, in.Type)
	assert.Equal(t, "Attendance Marked", in.Title)
	assert.Contains(t, in.Message, "present")
	assert.Contains(t, in.Message, "2026-03-01")
	assert.Equal(t, []string{"e1"}, outbox.processed)
}

func TestDrainRoutesDocumentRejection(t *testing.T) {
	bridge, _, notifier, _ := newBridgeFixture(
		event(t, "e1", models.EventDocumentReviewed, models.DocumentReviewPayload{
			OwnerUserID: "s1", DocumentID: "d1", Category: "photos", Approved: false, Reason: "blurry scan",
		}),
	)

	bridge.Drain(context.Background())

	require.Len(t, notifier.created, 1)
	assert.Equal(t, "Document Rejected", notifier.created[0].Title)
	assert.Contains(t, notifier.created[0].Message, "blurry scan")
}

func TestDrainRoutesAnnouncementToExplicitRecipients(t *testing.T) {
	bridge, _, notifier, _ := newBridgeFixture(
		event(t, "e1", models.EventSystemAnnouncement, models.AnnouncementPayload{
			Title: "Delivery Failure", Message: "job j1 exhausted retries", Recipients: []string{"ops-1"},
		}),
	)

	bridge.Drain(context.Background())

	require.Len(t, notifier.created, 1)
	assert.Equal(t, "ops-1", notifier.created[0].RecipientID)
	assert.Equal(t, models.NotifySystemAnnouncement, notifier.created[0].Type)
}

func TestDrainIsolatesRecipientFailures(t *testing.T) {
	bridge, outbox, notifier, _ := newBridgeFixture(
		event(t, "e1", models.EventComplaintFiled, models.ActorEventPayload{ActorName: "Jane", Detail: "wifi down"}),
	)
	notifier.failFor["admin-1"] = errors.New("db unavailable")

	bridge.Drain(context.Background())

	require.Len(t, notifier.created, 1)
	assert.Equal(t, "admin-2", notifier.created[0].RecipientID)
	assert.Equal(t, []string{"e1"}, outbox.processed)
}

func TestDrainTreatsSuppressionAsSuccess(t *testing.T) {
	bridge, outbox, notifier, _ := newBridgeFixture(
		event(t, "e1", models.EventTeacherSignup, models.ActorEventPayload{ActorName: "Jane"}),
	)
	notifier.failFor["admin-1"] = ErrNotificationSuppressed

	bridge.Drain(context.Background())

	require.Len(t, notifier.created, 1)
	assert.Equal(t, []string{"e1"}, outbox.processed)
}

func TestDrainRetriesWhenRecipientListingFails(t *testing.T) {
	bridge, outbox, notifier, staff := newBridgeFixture(
		event(t, "e1", models.EventAdmissionSubmitted, models.ActorEventPayload{ActorName: "John Doe"}),
	)
	staff.err = errors.New("db connection reset")

	bridge.Drain(context.Background())

	// Nothing was created, so the event must stay in the outbox.
	assert.Empty(t, notifier.created)
	assert.Empty(t, outbox.processed)

	staff.err = nil
	bridge.Drain(context.Background())

	require.Len(t, notifier.created, 2)
	assert.Equal(t, []string{"e1"}, outbox.processed)
}

func TestDrainRetriesSingleRecipientFailure(t *testing.T) {
	bridge, outbox, notifier, _ := newBridgeFixture(
		event(t, "e1", models.EventAttendanceMarked, models.AttendanceEventPayload{
			StudentUserID: "s1", Action: "mark", IsPresent: true, Date: "2026-03-01",
		}),
	)
	notifier.failFor["s1"] = errors.New("db unavailable")

	bridge.Drain(context.Background())
	assert.Empty(t, notifier.created)
	assert.Empty(t, outbox.processed)

	delete(notifier.failFor, "s1")
	bridge.Drain(context.Background())

	require.Len(t, notifier.created, 1)
	assert.Equal(t, "s1", notifier.created[0].RecipientID)
	assert.Equal(t, []string{"e1"}, outbox.processed)
}

func TestDrainConsumesMalformedPayloads(t *testing.T) {
	bridge, outbox, notifier, _ := newBridgeFixture(
		models.OutboxEvent{ID: "e1", EventType: models.EventAttendanceMarked, Payload: json.RawMessage(`{broken`)},
	)

	bridge.Drain(context.Background())

	assert.Empty(t, notifier.created)
	assert.Equal(t, []string{"e1"}, outbox.processed)
}

func TestDrainMarksUnknownEventsProcessed(t *testing.T) {
	bridge, outbox, notifier, _ := newBridgeFixture(
		models.OutboxEvent{ID: "e1", EventType: "unknown.kind", Payload: json.RawMessage(`{}`)},
		event(t, "e2", models.EventAdmissionDecided, models.AdmissionDecisionPayload{
			ApplicantUserID: "s1", ApplicantName: "John Doe", Admitted: true,
		}),
	)

	bridge.Drain(context.Background())

	assert.Equal(t, []string{"e1", "e2"}, outbox.processed)
	require.Len(t, notifier.created, 1)
	assert.Contains(t, notifier.created[0].Message, "Congratulations John Doe")
}
