package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edupoint/slms-api/internal/models"
	"github.com/edupoint/slms-api/pkg/jobs"
	"github.com/edupoint/slms-api/pkg/mailer"
)

type mockDeliveryRepo struct {
	jobs          map[string]*models.DeliveryJob
	notifications map[string]*models.Notification
}

func newMockDeliveryRepo() *mockDeliveryRepo {
	return &mockDeliveryRepo{
		jobs:          make(map[string]*models.DeliveryJob),
		notifications: make(map[string]*models.Notification),
	}
}

func (m *mockDeliveryRepo) FindJob(ctx context.Context, id string) (*models.DeliveryJob, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *job
	return &copied, nil
}

func (m *mockDeliveryRepo) UpdateJob(ctx context.Context, job *models.DeliveryJob) error {
	if _, ok := m.jobs[job.ID]; !ok {
		return sql.ErrNoRows
	}
	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *mockDeliveryRepo) ClaimPending(ctx context.Context, leaseSeconds, limit int) ([]models.DeliveryJob, error) {
	lease := time.Duration(leaseSeconds) * time.Second
	var out []models.DeliveryJob
	for _, job := range m.jobs {
		fresh := job.Status == models.DeliveryPending && job.Channel != models.ChannelInApp
		stale := job.Status == models.DeliverySending && time.Since(job.UpdatedAt) >= lease
		if fresh || stale {
			job.Status = models.DeliverySending
			job.UpdatedAt = time.Now().UTC()
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *mockDeliveryRepo) ClaimRetryable(ctx context.Context, maxRetries, maxDelaySeconds, limit int) ([]models.DeliveryJob, error) {
	var out []models.DeliveryJob
	for _, job := range m.jobs {
		if job.Status == models.DeliveryFailed && job.Retries < maxRetries {
			job.Status = models.DeliverySending
			job.UpdatedAt = time.Now().UTC()
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *mockDeliveryRepo) FindByID(ctx context.Context, id string) (*models.Notification, error) {
	n, ok := m.notifications[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return n, nil
}

type mockRecipientLookup struct {
	users map[string]*models.User
}

func (m *mockRecipientLookup) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

// flakyMailer fails the first failures sends, then succeeds.
type flakyMailer struct {
	failures int
	sent     []mailer.Message
	attempts int
}

func (m *flakyMailer) Send(ctx context.Context, msg mailer.Message) error {
	m.attempts++
	if m.attempts <= m.failures {
		return errors.New("smtp: connection reset")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func newDeliveryFixture(failures int) (*DeliveryService, *mockDeliveryRepo, *flakyMailer, *mockOutbox) {
	repo := newMockDeliveryRepo()
	repo.notifications["n1"] = &models.Notification{
		ID:          "n1",
		RecipientID: "u1",
		Type:        models.NotifySystemAnnouncement,
		Title:       "Maintenance",
		Message:     "Planned downtime tonight.",
	}
	repo.jobs["j1"] = &models.DeliveryJob{
		ID:             "j1",
		NotificationID: "n1",
		Channel:        models.ChannelEmail,
		Status:         models.DeliveryPending,
	}
	users := &mockRecipientLookup{users: map[string]*models.User{
		"u1": {ID: "u1", Email: "u1@example.com", FullName: "User One", Active: true},
	}}
	mail := &flakyMailer{failures: failures}
	outbox := &mockOutbox{}
	svc := NewDeliveryService(repo, users, mail, outbox, zap.NewNop(), nil, DeliveryConfig{
		MaxRetries:    3,
		MaxRetryDelay: 30 * time.Second,
	})
	return svc, repo, mail, outbox
}

func deliver(svc *DeliveryService, repo *mockDeliveryRepo, id string) {
	job := *repo.jobs[id]
	_ = svc.handle(context.Background(), jobs.Job{ID: id, Type: string(job.Channel), Payload: job})
}

func TestDeliverySucceedsFirstAttempt(t *testing.T) {
	svc, repo, mail, _ := newDeliveryFixture(0)

	deliver(svc, repo, "j1")

	job := repo.jobs["j1"]
	assert.Equal(t, models.DeliveryDelivered, job.Status)
	assert.Zero(t, job.Retries)
	assert.Empty(t, job.LastError)
	require.Len(t, mail.sent, 1)
	assert.Equal(t, "u1@example.com", mail.sent[0].ToEmail)
	assert.Equal(t, "Maintenance", mail.sent[0].Subject)
}

func TestDeliveryRecoversAfterTwoFailures(t *testing.T) {
	svc, repo, mail, outbox := newDeliveryFixture(2)

	deliver(svc, repo, "j1")
	assert.Equal(t, models.DeliveryFailed, repo.jobs["j1"].Status)
	assert.Equal(t, 1, repo.jobs["j1"].Retries)
	assert.Contains(t, repo.jobs["j1"].LastError, "connection reset")

	deliver(svc, repo, "j1")
	assert.Equal(t, models.DeliveryFailed, repo.jobs["j1"].Status)
	assert.Equal(t, 2, repo.jobs["j1"].Retries)

	deliver(svc, repo, "j1")
	job := repo.jobs["j1"]
	assert.Equal(t, models.DeliveryDelivered, job.Status)
	assert.Equal(t, 2, job.Retries)
	assert.Empty(t, job.LastError)
	assert.Len(t, mail.sent, 1)
	assert.Empty(t, outbox.events)
}

func TestDeliveryExhaustsRetries(t *testing.T) {
	svc, repo, mail, outbox := newDeliveryFixture(10)

	for i := 0; i < 3; i++ {
		deliver(svc, repo, "j1")
	}

	job := repo.jobs["j1"]
	assert.Equal(t, models.DeliveryFailedPermanent, job.Status)
	assert.Equal(t, 3, job.Retries)
	assert.Empty(t, mail.sent)

	require.Len(t, outbox.events, 1)
	assert.Equal(t, models.EventSystemAnnouncement, outbox.events[0].EventType)
	var payload models.AnnouncementPayload
	require.NoError(t, json.Unmarshal(outbox.events[0].Payload, &payload))
	assert.Equal(t, "Delivery Failure", payload.Title)
	assert.Contains(t, payload.Message, "j1")
}

func TestClaimRetryableMovesJobToSending(t *testing.T) {
	svc, repo, _, _ := newDeliveryFixture(0)
	repo.jobs["j1"].Status = models.DeliveryFailed
	repo.jobs["j1"].Retries = 1

	claimed, err := repo.ClaimRetryable(context.Background(), svc.config.MaxRetries, 30, 100)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, models.DeliverySending, repo.jobs["j1"].Status)
}

func TestClaimPendingIsExclusive(t *testing.T) {
	_, repo, _, _ := newDeliveryFixture(0)

	first, err := repo.ClaimPending(context.Background(), 120, 100)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, models.DeliverySending, repo.jobs["j1"].Status)

	// A second scheduler pass sees the claim and must come back empty.
	second, err := repo.ClaimPending(context.Background(), 120, 100)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestClaimPendingReclaimsExpiredLease(t *testing.T) {
	_, repo, _, _ := newDeliveryFixture(0)
	repo.jobs["j1"].Status = models.DeliverySending
	repo.jobs["j1"].UpdatedAt = time.Now().UTC().Add(-10 * time.Minute)

	claimed, err := repo.ClaimPending(context.Background(), 120, 100)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "j1", claimed[0].ID)
}

func TestAdminRetryResetsJob(t *testing.T) {
	svc, repo, _, _ := newDeliveryFixture(0)
	repo.jobs["j1"].Status = models.DeliveryFailedPermanent
	repo.jobs["j1"].Retries = 3
	repo.jobs["j1"].LastError = "smtp: connection reset"

	job, err := svc.Retry(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPending, job.Status)
	assert.Zero(t, job.Retries)
	assert.Empty(t, job.LastError)
}

func TestAdminRetryRejectsDelivered(t *testing.T) {
	svc, repo, _, _ := newDeliveryFixture(0)
	repo.jobs["j1"].Status = models.DeliveryDelivered

	_, err := svc.Retry(context.Background(), "j1")
	require.Error(t, err)
}

func TestAdminRetryUnknownJob(t *testing.T) {
	svc, _, _, _ := newDeliveryFixture(0)

	_, err := svc.Retry(context.Background(), "missing")
	require.Error(t, err)
}
