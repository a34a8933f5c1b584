package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edupoint/slms-api/internal/models"
	appErrors "github.com/edupoint/slms-api/pkg/errors"
)

// ErrNotificationSuppressed signals that the recipient has disabled the
// notification type; no record was created.
var ErrNotificationSuppressed = errors.New("notification suppressed by recipient preference")

const unreadCacheTTL = time.Minute

type notificationRepository interface {
	CreateWithJobs(ctx context.Context, n *models.Notification, jobs []models.DeliveryJob) error
	FindByID(ctx context.Context, id string) (*models.Notification, error)
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	Transition(ctx context.Context, id string, to models.NotificationStatus, ts time.Time) error
	MarkAllRead(ctx context.Context, recipientID string, ts time.Time) (int64, error)
	GetPreference(ctx context.Context, userID string, t models.NotificationType) (*models.NotificationPreference, error)
	ListPreferences(ctx context.Context, userID string) ([]models.NotificationPreference, error)
	UpsertPreference(ctx context.Context, pref *models.NotificationPreference) error
	ListJobsByNotification(ctx context.Context, notificationID string) ([]models.DeliveryJob, error)
	ListJobs(ctx context.Context, status models.DeliveryStatus, limit int) ([]models.DeliveryJob, error)
}

type pushPublisher interface {
	Publish(ctx context.Context, event models.PushEvent)
}

// CreateNotificationInput is the delivery planner contract.
type CreateNotificationInput struct {
	RecipientID string                  `validate:"required"`
	Type        models.NotificationType `validate:"required"`
	Title       string                  `validate:"required,max=200"`
	Message     string                  `validate:"required"`
	Data        map[string]interface{}
}

// NotificationService implements the delivery planner and the user-facing
// notification operations. Creation is suppressed entirely when the
// recipient disabled the type; otherwise one record plus one job per enabled
// channel commit atomically and the push bus is notified.
type NotificationService struct {
	repo      notificationRepository
	hub       pushPublisher
	cache     *redis.Client
	validator *validator.Validate
	logger    *zap.Logger
}

// NewNotificationService constructs the service. hub and cache may be nil.
func NewNotificationService(repo notificationRepository, hub pushPublisher, cache *redis.Client, validate *validator.Validate, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &NotificationService{repo: repo, hub: hub, cache: cache, validator: validate, logger: logger}
}

// Create runs the delivery planner. Repeated identical calls create distinct
// notifications; deduplication is intentionally absent.
func (s *NotificationService) Create(ctx context.Context, in CreateNotificationInput) (*models.Notification, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid notification payload")
	}

	pref, err := s.repo.GetPreference(ctx, in.RecipientID, in.Type)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preference")
	}
	if !pref.Enabled {
		s.logger.Debug("notification suppressed",
			zap.String("recipient", in.RecipientID), zap.String("type", string(in.Type)))
		return nil, ErrNotificationSuppressed
	}

	var data json.RawMessage
	if in.Data != nil {
		encoded, err := json.Marshal(in.Data)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "notification data is not serialisable")
		}
		data = encoded
	}

	n := &models.Notification{
		RecipientID: in.RecipientID,
		Type:        in.Type,
		Title:       in.Title,
		Message:     in.Message,
		Data:        data,
		Status:      models.NotificationUnread,
	}

	// Persistence is the in-app delivery, so that job is born delivered.
	jobs := []models.DeliveryJob{{Channel: models.ChannelInApp, Status: models.DeliveryDelivered}}
	if pref.EmailEnabled {
		jobs = append(jobs, models.DeliveryJob{Channel: models.ChannelEmail, Status: models.DeliveryPending})
	}

	if err := s.repo.CreateWithJobs(ctx, n, jobs); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create notification")
	}

	s.invalidateUnread(ctx, in.RecipientID)
	if s.hub != nil {
		s.hub.Publish(ctx, models.PushEvent{
			Kind:         models.PushNotificationCreated,
			RecipientID:  in.RecipientID,
			Notification: n,
		})
	}
	return n, nil
}

// List pages through a recipient's notifications.
func (s *NotificationService) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return items, total, nil
}

// UnreadCount returns the recipient's unread total, cached briefly.
func (s *NotificationService) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	key := unreadKey(recipientID)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key).Result(); err == nil {
			if count, convErr := strconv.Atoi(cached); convErr == nil {
				return count, nil
			}
		}
	}
	count, err := s.repo.UnreadCount(ctx, recipientID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count unread")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, strconv.Itoa(count), unreadCacheTTL).Err(); err != nil {
			s.logger.Debug("failed to cache unread count", zap.Error(err))
		}
	}
	return count, nil
}

// Transition moves one notification along the status DAG on behalf of its
// recipient and announces the change on the push bus.
func (s *NotificationService) Transition(ctx context.Context, recipientID, notificationID string, to models.NotificationStatus) (*models.Notification, error) {
	n, err := s.repo.FindByID(ctx, notificationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notification")
	}
	if n.RecipientID != recipientID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "notification belongs to another user")
	}
	if !n.Status.CanTransition(to) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("cannot move notification from %s to %s", n.Status, to))
	}

	ts := time.Now().UTC()
	if err := s.repo.Transition(ctx, n.ID, to, ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update notification")
	}

	prev := n.Status
	n.Status = to
	switch to {
	case models.NotificationRead:
		n.ReadAt = &ts
	case models.NotificationArchived:
		n.ArchivedAt = &ts
	case models.NotificationDeleted:
		n.DeletedAt = &ts
	}
	if prev == models.NotificationUnread {
		s.invalidateUnread(ctx, recipientID)
	}
	if s.hub != nil {
		s.hub.Publish(ctx, models.PushEvent{
			Kind:         models.PushNotificationUpdated,
			RecipientID:  recipientID,
			Notification: n,
		})
	}
	return n, nil
}

// MarkAllRead flips every unread notification for the recipient.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	count, err := s.repo.MarkAllRead(ctx, recipientID, time.Now().UTC())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	s.invalidateUnread(ctx, recipientID)
	if s.hub != nil {
		zero := 0
		if unread, countErr := s.repo.UnreadCount(ctx, recipientID); countErr == nil {
			zero = unread
		}
		s.hub.Publish(ctx, models.PushEvent{
			Kind:        models.PushUnreadCount,
			RecipientID: recipientID,
			UnreadCount: &zero,
		})
	}
	return count, nil
}

// Preferences returns the effective per-type settings, filling unset types
// with the defaults.
func (s *NotificationService) Preferences(ctx context.Context, userID string) ([]models.NotificationPreference, error) {
	stored, err := s.repo.ListPreferences(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list preferences")
	}
	byType := make(map[models.NotificationType]models.NotificationPreference, len(stored))
	for _, pref := range stored {
		byType[pref.Type] = pref
	}
	all := []models.NotificationType{
		models.NotifyStudentAdmission,
		models.NotifyApplicationStatus,
		models.NotifyAccountActivity,
		models.NotifyAttendanceUpdate,
		models.NotifyDocumentApproval,
		models.NotifySystemAnnouncement,
	}
	result := make([]models.NotificationPreference, 0, len(all))
	for _, t := range all {
		if pref, ok := byType[t]; ok {
			result = append(result, pref)
			continue
		}
		result = append(result, models.NotificationPreference{UserID: userID, Type: t, Enabled: true, EmailEnabled: false})
	}
	return result, nil
}

// UpdatePreference writes one per-type setting.
func (s *NotificationService) UpdatePreference(ctx context.Context, pref *models.NotificationPreference) error {
	if pref.UserID == "" || pref.Type == "" {
		return appErrors.Clone(appErrors.ErrValidation, "user and type are required")
	}
	if err := s.repo.UpsertPreference(ctx, pref); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save preference")
	}
	return nil
}

// DeliveryLog exposes job state for operators.
func (s *NotificationService) DeliveryLog(ctx context.Context, status models.DeliveryStatus, limit int) ([]models.DeliveryJob, error) {
	jobs, err := s.repo.ListJobs(ctx, status, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list delivery jobs")
	}
	return jobs, nil
}

// JobsFor returns the delivery jobs of one notification.
func (s *NotificationService) JobsFor(ctx context.Context, notificationID string) ([]models.DeliveryJob, error) {
	jobs, err := s.repo.ListJobsByNotification(ctx, notificationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list delivery jobs")
	}
	return jobs, nil
}

func (s *NotificationService) invalidateUnread(ctx context.Context, recipientID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, unreadKey(recipientID)).Err(); err != nil {
		s.logger.Debug("failed to invalidate unread cache", zap.Error(err))
	}
}

func unreadKey(recipientID string) string {
	return "slms:unread:" + recipientID
}
