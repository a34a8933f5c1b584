package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edupoint/slms-api/internal/models"
)

type outboxReader interface {
	ListPending(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id string) error
}

type staffLookup interface {
	ListByRoles(ctx context.Context, roles ...models.UserRole) ([]models.User, error)
}

type notificationCreator interface {
	Create(ctx context.Context, in CreateNotificationInput) (*models.Notification, error)
}

// EventBridge polls the transactional outbox and maps each domain event to
// delivery-planner calls, one per intended recipient. Fan-out handlers are
// failure-isolated: one recipient's failure never blocks the rest. An event
// is only marked processed once its dispatch ran without a transient
// failure, so a recipient lookup falling over leaves the event pending for
// the next drain. Malformed payloads are consumed immediately; replaying
// them can never succeed.
type EventBridge struct {
	outbox   outboxReader
	users    staffLookup
	notifier notificationCreator
	logger   *zap.Logger
	interval time.Duration
}

// NewEventBridge constructs the bridge.
func NewEventBridge(outbox outboxReader, users staffLookup, notifier notificationCreator, logger *zap.Logger, interval time.Duration) *EventBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &EventBridge{outbox: outbox, users: users, notifier: notifier, logger: logger, interval: interval}
}

// Start polls until the context ends.
func (b *EventBridge) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.Drain(ctx)
			}
		}
	}()
}

// Drain processes every pending outbox event once. Exposed for tests and
// for callers that want an immediate flush.
func (b *EventBridge) Drain(ctx context.Context) {
	events, err := b.outbox.ListPending(ctx, 100)
	if err != nil {
		b.logger.Error("failed to list outbox events", zap.Error(err))
		return
	}
	for _, event := range events {
		if err := b.dispatch(ctx, event); err != nil {
			b.logger.Error("event dispatch failed, leaving event for the next drain",
				zap.String("event_id", event.ID), zap.Error(err))
			continue
		}
		if err := b.outbox.MarkProcessed(ctx, event.ID); err != nil {
			b.logger.Error("failed to mark event processed",
				zap.String("event_id", event.ID), zap.Error(err))
		}
	}
}

func (b *EventBridge) dispatch(ctx context.Context, event models.OutboxEvent) error {
	switch event.EventType {
	case models.EventAdmissionSubmitted:
		return b.fanOutToStaff(ctx, event, models.NotifyStudentAdmission,
			"New Admission Request", func(p models.ActorEventPayload) string {
				return fmt.Sprintf("%s has submitted a new admission request.", p.ActorName)
			})
	case models.EventApplicationSubmitted:
		return b.fanOutToStaff(ctx, event, models.NotifyApplicationStatus,
			"New Application Submitted", func(p models.ActorEventPayload) string {
				return fmt.Sprintf("%s has submitted a new application.", p.ActorName)
			})
	case models.EventCorrectionRequested:
		return b.fanOutToStaff(ctx, event, models.NotifyApplicationStatus,
			"New Correction Request", func(p models.ActorEventPayload) string {
				return fmt.Sprintf("%s has requested a correction.", p.ActorName)
			})
	case models.EventAdminSignupRequested:
		return b.fanOutToStaff(ctx, event, models.NotifyAccountActivity,
			"New Admin Signup Request", func(p models.ActorEventPayload) string {
				return fmt.Sprintf("%s has requested an admin account.", p.ActorName)
			})
	case models.EventTeacherSignup:
		return b.fanOutToStaff(ctx, event, models.NotifyAccountActivity,
			"New Teacher Signup Request", func(p models.ActorEventPayload) string {
				return fmt.Sprintf("%s has requested a teacher account.", p.ActorName)
			})
	case models.EventComplaintFiled:
		return b.fanOutToStaff(ctx, event, models.NotifySystemAnnouncement,
			"New Complaint Submitted", func(p models.ActorEventPayload) string {
				return fmt.Sprintf("%s has filed a complaint: %s", p.ActorName, p.Detail)
			})
	case models.EventAttendanceMarked:
		return b.handleAttendance(ctx, event)
	case models.EventDocumentReviewed:
		return b.handleDocumentReview(ctx, event)
	case models.EventAdmissionDecided:
		return b.handleAdmissionDecision(ctx, event)
	case models.EventSystemAnnouncement:
		return b.handleAnnouncement(ctx, event)
	default:
		b.logger.Warn("dropping unknown outbox event",
			zap.String("event_id", event.ID), zap.String("type", string(event.EventType)))
		return nil
	}
}

func (b *EventBridge) fanOutToStaff(ctx context.Context, event models.OutboxEvent, t models.NotificationType, title string, messageFor func(models.ActorEventPayload) string) error {
	var payload models.ActorEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		b.logger.Error("malformed event payload", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}
	staff, err := b.users.ListByRoles(ctx, models.RoleSuperAdmin, models.RoleAdmin)
	if err != nil {
		return fmt.Errorf("list staff recipients: %w", err)
	}
	message := messageFor(payload)
	for _, user := range staff {
		// Per-recipient isolation: one failed insert must not block the rest.
		b.create(ctx, event.ID, CreateNotificationInput{
			RecipientID: user.ID,
			Type:        t,
			Title:       title,
			Message:     message,
		}) //nolint:errcheck
	}
	return nil
}

func (b *EventBridge) handleAttendance(ctx context.Context, event models.OutboxEvent) error {
	var payload models.AttendanceEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		b.logger.Error("malformed attendance payload", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}
	state := "absent"
	if payload.IsPresent {
		state = "present"
	}
	var title, message string
	switch payload.Action {
	case "update":
		title = "Attendance Updated"
		message = fmt.Sprintf("Your attendance for %s was updated to %s.", payload.Date, state)
	case "approve":
		title = "Attendance Approved"
		message = fmt.Sprintf("Your attendance correction for %s was approved.", payload.Date)
	case "reject":
		title = "Attendance Rejected"
		message = fmt.Sprintf("Your attendance correction for %s was rejected.", payload.Date)
	default:
		title = "Attendance Marked"
		message = fmt.Sprintf("You were marked %s on %s.", state, payload.Date)
	}
	return b.create(ctx, event.ID, CreateNotificationInput{
		RecipientID: payload.StudentUserID,
		Type:        models.NotifyAttendanceUpdate,
		Title:       title,
		Message:     message,
		Data:        map[string]interface{}{"date": payload.Date, "is_present": payload.IsPresent},
	})
}

func (b *EventBridge) handleDocumentReview(ctx context.Context, event models.OutboxEvent) error {
	var payload models.DocumentReviewPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		b.logger.Error("malformed review payload", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}
	title := "Document Rejected"
	message := fmt.Sprintf("Your %s document was rejected.", payload.Category)
	if payload.Approved {
		title = "Document Approved"
		message = fmt.Sprintf("Your %s document was approved.", payload.Category)
	} else if payload.Reason != "" {
		message = fmt.Sprintf("Your %s document was rejected: %s", payload.Category, payload.Reason)
	}
	return b.create(ctx, event.ID, CreateNotificationInput{
		RecipientID: payload.OwnerUserID,
		Type:        models.NotifyDocumentApproval,
		Title:       title,
		Message:     message,
		Data:        map[string]interface{}{"document_id": payload.DocumentID},
	})
}

func (b *EventBridge) handleAdmissionDecision(ctx context.Context, event models.OutboxEvent) error {
	var payload models.AdmissionDecisionPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		b.logger.Error("malformed decision payload", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}
	title := "Admission Decision"
	message := fmt.Sprintf("Dear %s, your admission request was not accepted.", payload.ApplicantName)
	if payload.Admitted {
		message = fmt.Sprintf("Congratulations %s, your admission has been accepted.", payload.ApplicantName)
	}
	return b.create(ctx, event.ID, CreateNotificationInput{
		RecipientID: payload.ApplicantUserID,
		Type:        models.NotifyStudentAdmission,
		Title:       title,
		Message:     message,
	})
}

func (b *EventBridge) handleAnnouncement(ctx context.Context, event models.OutboxEvent) error {
	var payload models.AnnouncementPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		b.logger.Error("malformed announcement payload", zap.String("event_id", event.ID), zap.Error(err))
		return nil
	}
	recipients := payload.Recipients
	if len(recipients) == 0 {
		staff, err := b.users.ListByRoles(ctx, models.RoleSuperAdmin, models.RoleAdmin)
		if err != nil {
			return fmt.Errorf("list announcement recipients: %w", err)
		}
		for _, user := range staff {
			recipients = append(recipients, user.ID)
		}
	}
	for _, recipient := range recipients {
		b.create(ctx, event.ID, CreateNotificationInput{
			RecipientID: recipient,
			Type:        models.NotifySystemAnnouncement,
			Title:       payload.Title,
			Message:     payload.Message,
		}) //nolint:errcheck
	}
	return nil
}

// create plans one notification. Suppression counts as success; a real
// failure is reported so single-recipient events stay in the outbox.
func (b *EventBridge) create(ctx context.Context, eventID string, in CreateNotificationInput) error {
	_, err := b.notifier.Create(ctx, in)
	if err == nil || err == ErrNotificationSuppressed {
		return nil
	}
	b.logger.Error("failed to create notification for event",
		zap.String("event_id", eventID),
		zap.String("recipient", in.RecipientID),
		zap.Error(err))
	return err
}
