package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edupoint/slms-api/internal/models"
	appErrors "github.com/edupoint/slms-api/pkg/errors"
	"github.com/edupoint/slms-api/pkg/jobs"
	"github.com/edupoint/slms-api/pkg/mailer"
)

type deliveryRepository interface {
	FindJob(ctx context.Context, id string) (*models.DeliveryJob, error)
	UpdateJob(ctx context.Context, job *models.DeliveryJob) error
	ClaimPending(ctx context.Context, leaseSeconds, limit int) ([]models.DeliveryJob, error)
	ClaimRetryable(ctx context.Context, maxRetries, maxDelaySeconds, limit int) ([]models.DeliveryJob, error)
	FindByID(ctx context.Context, id string) (*models.Notification, error)
}

type recipientLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// DeliveryConfig bounds the retry scheduler. SendLease is how long a
// claimed job may sit in 'sending' before another scheduler treats its
// worker as dead and reclaims it.
type DeliveryConfig struct {
	MaxRetries        int
	MaxRetryDelay     time.Duration
	SchedulerInterval time.Duration
	SendLease         time.Duration
	Workers           int
}

// DeliveryService drives pending and failed delivery jobs through their
// channel drivers. The job table is the only coordination point between
// request workers and this scheduler: workers insert, the scheduler updates.
type DeliveryService struct {
	repo    deliveryRepository
	users   recipientLookup
	mail    mailer.Mailer
	outbox  documentOutbox
	logger  *zap.Logger
	metrics *MetricsService
	config  DeliveryConfig

	queue *jobs.Queue

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewDeliveryService constructs the service and its worker queue.
func NewDeliveryService(repo deliveryRepository, users recipientLookup, mail mailer.Mailer, outbox documentOutbox, logger *zap.Logger, metrics *MetricsService, config DeliveryConfig) *DeliveryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.MaxRetryDelay <= 0 {
		config.MaxRetryDelay = 30 * time.Second
	}
	if config.SchedulerInterval <= 0 {
		config.SchedulerInterval = 15 * time.Second
	}
	if config.SendLease <= 0 {
		config.SendLease = 2 * time.Minute
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}

	s := &DeliveryService{
		repo:     repo,
		users:    users,
		mail:     mail,
		outbox:   outbox,
		logger:   logger,
		metrics:  metrics,
		config:   config,
		inFlight: make(map[string]struct{}),
	}
	s.queue = jobs.NewQueue("delivery", s.handle, jobs.QueueConfig{
		Workers: config.Workers,
		// The job table owns retry state. One attempt per enqueue.
		MaxRetries: 1,
		Logger:     logger,
	})
	return s
}

// Start launches the worker queue and the scheduler loop.
func (s *DeliveryService) Start(ctx context.Context) {
	s.queue.Start(ctx)
	go s.run(ctx)
}

// Stop drains the worker queue.
func (s *DeliveryService) Stop() {
	s.queue.Stop()
}

func (s *DeliveryService) run(ctx context.Context) {
	ticker := time.NewTicker(s.config.SchedulerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one scheduler pass: first attempts for freshly planned jobs
// plus retries whose backoff has elapsed. Both passes claim atomically in
// the database, so concurrent schedulers on other nodes never pick up the
// same job. Exposed for tests.
func (s *DeliveryService) Tick(ctx context.Context) {
	pending, err := s.repo.ClaimPending(ctx, int(s.config.SendLease.Seconds()), 100)
	if err != nil {
		s.logger.Error("failed to claim pending jobs", zap.Error(err))
	} else {
		s.enqueue(pending)
	}

	retryable, err := s.repo.ClaimRetryable(ctx, s.config.MaxRetries, int(s.config.MaxRetryDelay.Seconds()), 100)
	if err != nil {
		s.logger.Error("failed to claim retryable jobs", zap.Error(err))
		return
	}
	s.enqueue(retryable)
}

func (s *DeliveryService) enqueue(deliveries []models.DeliveryJob) {
	for _, job := range deliveries {
		if job.Channel == models.ChannelInApp {
			continue
		}
		s.mu.Lock()
		if _, busy := s.inFlight[job.ID]; busy {
			s.mu.Unlock()
			continue
		}
		s.inFlight[job.ID] = struct{}{}
		s.mu.Unlock()

		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Channel), Payload: job}); err != nil {
			s.logger.Warn("failed to enqueue delivery job", zap.String("job_id", job.ID), zap.Error(err))
			s.release(job.ID)
		}
	}
}

func (s *DeliveryService) release(jobID string) {
	s.mu.Lock()
	delete(s.inFlight, jobID)
	s.mu.Unlock()
}

func (s *DeliveryService) handle(ctx context.Context, queued jobs.Job) error {
	job, ok := queued.Payload.(models.DeliveryJob)
	if !ok {
		s.release(queued.ID)
		return nil
	}
	defer s.release(job.ID)

	if err := s.attempt(ctx, &job); err != nil {
		s.recordFailure(ctx, &job, err)
		return nil
	}

	job.Status = models.DeliveryDelivered
	job.LastError = ""
	s.metrics.RecordDelivery(string(job.Channel), "delivered")
	if err := s.repo.UpdateJob(ctx, &job); err != nil {
		s.logger.Error("failed to mark job delivered", zap.String("job_id", job.ID), zap.Error(err))
	}
	s.logger.Info("delivery succeeded",
		zap.String("job_id", job.ID),
		zap.String("channel", string(job.Channel)),
		zap.Int("retries", job.Retries))
	return nil
}

func (s *DeliveryService) attempt(ctx context.Context, job *models.DeliveryJob) error {
	n, err := s.repo.FindByID(ctx, job.NotificationID)
	if err != nil {
		return fmt.Errorf("load notification: %w", err)
	}
	switch job.Channel {
	case models.ChannelEmail:
		user, err := s.users.FindByID(ctx, n.RecipientID)
		if err != nil {
			return fmt.Errorf("load recipient: %w", err)
		}
		return s.mail.Send(ctx, mailer.Message{
			ToName:   user.FullName,
			ToEmail:  user.Email,
			Subject:  n.Title,
			TextBody: n.Message,
		})
	default:
		return fmt.Errorf("no driver for channel %s", job.Channel)
	}
}

// recordFailure advances the job state machine: failed while retries remain,
// failed-permanent at the cap, in which case operators are told.
func (s *DeliveryService) recordFailure(ctx context.Context, job *models.DeliveryJob, cause error) {
	job.Retries++
	job.LastError = cause.Error()
	if job.Retries >= s.config.MaxRetries {
		job.Status = models.DeliveryFailedPermanent
	} else {
		job.Status = models.DeliveryFailed
	}
	s.metrics.RecordDelivery(string(job.Channel), string(job.Status))
	if err := s.repo.UpdateJob(ctx, job); err != nil {
		s.logger.Error("failed to record delivery failure", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	s.logger.Warn("delivery attempt failed",
		zap.String("job_id", job.ID),
		zap.String("channel", string(job.Channel)),
		zap.Int("retries", job.Retries),
		zap.String("status", string(job.Status)),
		zap.Error(cause))

	if job.Status == models.DeliveryFailedPermanent && s.outbox != nil {
		payload, _ := json.Marshal(models.AnnouncementPayload{
			Title:   "Delivery Failure",
			Message: fmt.Sprintf("Delivery job %s (%s) exhausted its retries: %s", job.ID, job.Channel, cause),
		})
		if err := s.outbox.Append(ctx, &models.OutboxEvent{
			EventType: models.EventSystemAnnouncement,
			Payload:   payload,
		}); err != nil {
			s.logger.Error("failed to enqueue failure announcement", zap.Error(err))
		}
	}
}

// Retry re-drives one failed or failed-permanent job on operator request.
func (s *DeliveryService) Retry(ctx context.Context, jobID string) (*models.DeliveryJob, error) {
	job, err := s.repo.FindJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "delivery job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load delivery job")
	}
	if job.Status == models.DeliveryDelivered {
		return nil, appErrors.Clone(appErrors.ErrValidation, "job is already delivered")
	}

	job.Status = models.DeliveryPending
	job.Retries = 0
	job.LastError = ""
	if err := s.repo.UpdateJob(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset delivery job")
	}
	// The next scheduler pass claims it; enqueueing here as well would race
	// that claim into a duplicate send.
	return job, nil
}
