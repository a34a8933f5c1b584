package models

import (
	"encoding/json"
	"time"
)

// NotificationType enumerates the event families a user can receive.
type NotificationType string

const (
	NotifyStudentAdmission   NotificationType = "student_admission"
	NotifyApplicationStatus  NotificationType = "application_status"
	NotifyAccountActivity    NotificationType = "account_activity"
	NotifyAttendanceUpdate   NotificationType = "attendance_update"
	NotifyDocumentApproval   NotificationType = "document_approval"
	NotifySystemAnnouncement NotificationType = "system_announcement"
)

// NotificationStatus follows a DAG: unread → read → archived → deleted with
// the direct edges unread→archived, unread→deleted and read→deleted. No edge
// leaves deleted.
type NotificationStatus string

const (
	NotificationUnread   NotificationStatus = "unread"
	NotificationRead     NotificationStatus = "read"
	NotificationArchived NotificationStatus = "archived"
	NotificationDeleted  NotificationStatus = "deleted"
)

// CanTransition reports whether the status DAG allows from → to.
func (s NotificationStatus) CanTransition(to NotificationStatus) bool {
	switch s {
	case NotificationUnread:
		return to == NotificationRead || to == NotificationArchived || to == NotificationDeleted
	case NotificationRead:
		return to == NotificationArchived || to == NotificationDeleted
	case NotificationArchived:
		return to == NotificationDeleted
	default:
		return false
	}
}

// Notification is a persisted per-recipient message.
type Notification struct {
	ID          string             `db:"id" json:"id"`
	RecipientID string             `db:"recipient_id" json:"recipient_id"`
	Type        NotificationType   `db:"type" json:"type"`
	Title       string             `db:"title" json:"title"`
	Message     string             `db:"message" json:"message"`
	Data        json.RawMessage    `db:"data" json:"data,omitempty"`
	Status      NotificationStatus `db:"status" json:"status"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
	ReadAt      *time.Time         `db:"read_at" json:"read_at,omitempty"`
	ArchivedAt  *time.Time         `db:"archived_at" json:"archived_at,omitempty"`
	DeletedAt   *time.Time         `db:"deleted_at" json:"deleted_at,omitempty"`
}

// NotificationPreference holds the per-user, per-type channel flags. Rows
// are seeded lazily: absence means enabled=true, email_enabled=false.
type NotificationPreference struct {
	UserID       string           `db:"user_id" json:"user_id"`
	Type         NotificationType `db:"type" json:"type"`
	Enabled      bool             `db:"enabled" json:"enabled"`
	EmailEnabled bool             `db:"email_enabled" json:"email_enabled"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

// DeliveryChannel identifies how a notification is pushed out.
type DeliveryChannel string

const (
	ChannelInApp DeliveryChannel = "in-app"
	ChannelEmail DeliveryChannel = "email"
)

// DeliveryStatus is the per-job state machine. "sending" is the claim
// marker: a scheduler that picks a job up flips it there so no other
// scheduler attempts the same job concurrently.
type DeliveryStatus string

const (
	DeliveryPending         DeliveryStatus = "pending"
	DeliverySending         DeliveryStatus = "sending"
	DeliveryDelivered       DeliveryStatus = "delivered"
	DeliveryFailed          DeliveryStatus = "failed"
	DeliveryFailedPermanent DeliveryStatus = "failed-permanent"
)

// DeliveryJob is one planned channel attempt for a notification.
type DeliveryJob struct {
	ID             string          `db:"id" json:"id"`
	NotificationID string          `db:"notification_id" json:"notification_id"`
	Channel        DeliveryChannel `db:"channel" json:"channel"`
	Status         DeliveryStatus  `db:"status" json:"status"`
	Retries        int             `db:"retries" json:"retries"`
	LastError      string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// NotificationFilter narrows notification listings.
type NotificationFilter struct {
	RecipientID string
	Status      string
	Type        string
	Page        int
	PageSize    int
}

// PushEventKind enumerates the message kinds emitted on the push bus.
type PushEventKind string

const (
	PushNotificationCreated PushEventKind = "notification-created"
	PushNotificationUpdated PushEventKind = "notification-updated"
	PushUnreadCount         PushEventKind = "unread-count"
)

// PushEvent is the payload fanned out to live subscribers.
type PushEvent struct {
	Kind         PushEventKind `json:"kind"`
	RecipientID  string        `json:"recipient_id"`
	Notification *Notification `json:"notification,omitempty"`
	UnreadCount  *int          `json:"unread_count,omitempty"`
}
