package models

import (
	"encoding/json"
	"time"
)

// DomainEventType enumerates the state transitions the event bridge
// translates into notifications.
type DomainEventType string

const (
	EventAdmissionSubmitted   DomainEventType = "admission.submitted"
	EventApplicationSubmitted DomainEventType = "application.submitted"
	EventCorrectionRequested  DomainEventType = "application.correction"
	EventAdminSignupRequested DomainEventType = "signup.admin"
	EventTeacherSignup        DomainEventType = "signup.teacher"
	EventComplaintFiled       DomainEventType = "complaint.filed"
	EventAttendanceMarked     DomainEventType = "attendance.marked"
	EventDocumentReviewed     DomainEventType = "document.reviewed"
	EventAdmissionDecided     DomainEventType = "admission.decided"
	EventSystemAnnouncement   DomainEventType = "system.announcement"
)

// OutboxEvent is one domain state change awaiting fan-out. Rows are written
// in the same transaction as the mutation that caused them, giving the
// bridge at-least-once delivery across process crashes.
type OutboxEvent struct {
	ID          string          `db:"id" json:"id"`
	EventType   DomainEventType `db:"event_type" json:"event_type"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

// AttendanceEventPayload is the payload for attendance.marked events.
type AttendanceEventPayload struct {
	StudentUserID string `json:"student_user_id"`
	Action        string `json:"action"`
	IsPresent     bool   `json:"is_present"`
	Date          string `json:"date"`
}

// DocumentReviewPayload is the payload for document.reviewed events.
type DocumentReviewPayload struct {
	OwnerUserID string `json:"owner_user_id"`
	DocumentID  string `json:"document_id"`
	Category    string `json:"category"`
	Approved    bool   `json:"approved"`
	Reason      string `json:"reason,omitempty"`
}

// AdmissionDecisionPayload is the payload for admission.decided events.
type AdmissionDecisionPayload struct {
	ApplicantUserID string `json:"applicant_user_id"`
	ApplicantName   string `json:"applicant_name"`
	Admitted        bool   `json:"admitted"`
}

// ActorEventPayload covers staff-facing events carrying an actor name.
type ActorEventPayload struct {
	ActorName string `json:"actor_name"`
	Detail    string `json:"detail,omitempty"`
}

// AnnouncementPayload is the payload for operator announcements.
type AnnouncementPayload struct {
	Title      string   `json:"title"`
	Message    string   `json:"message"`
	Recipients []string `json:"recipients"`
}
