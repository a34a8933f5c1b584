package models

import (
	"time"

	"github.com/lib/pq"

	"github.com/edupoint/slms-api/pkg/storage"
)

// DocumentStatus tracks the lifecycle of a stored document.
type DocumentStatus string

const (
	DocumentActive    DocumentStatus = "active"
	DocumentDeleted   DocumentStatus = "deleted"
	DocumentCorrupted DocumentStatus = "corrupted"
)

// DocumentSource records how a document entered the repository.
type DocumentSource string

const (
	SourceAdmission DocumentSource = "admission"
	SourceManual    DocumentSource = "manual"
	SourceMigration DocumentSource = "migration"
)

// Document is the index entry over a stored blob. The blob itself lives on
// disk at Path; Size and SHA256 mirror the on-disk content for integrity
// verification.
type Document struct {
	ID                string         `db:"id" json:"id"`
	OwnerKind         string         `db:"owner_kind" json:"owner_kind"`
	OwnerID           string         `db:"owner_id" json:"owner_id"`
	OwnerName         string         `db:"owner_name" json:"owner_name"`
	Category          string         `db:"category" json:"category"`
	SingleSlot        bool           `db:"single_slot" json:"single_slot"`
	Path              string         `db:"path" json:"path"`
	SizeBytes         int64          `db:"size_bytes" json:"size_bytes"`
	SHA256            string         `db:"sha256" json:"sha256"`
	Mime              string         `db:"mime" json:"mime"`
	Status            DocumentStatus `db:"status" json:"status"`
	Tags              pq.StringArray `db:"tags" json:"tags"`
	Description       string         `db:"description" json:"description"`
	SearchText        string         `db:"search_text" json:"-"`
	Source            DocumentSource `db:"source" json:"source"`
	SourceID          *string        `db:"source_id" json:"source_id,omitempty"`
	OriginalFieldName *string        `db:"original_field_name" json:"original_field_name,omitempty"`
	DeptCode          string         `db:"dept_code" json:"dept_code"`
	Session           string         `db:"session" json:"session"`
	Shift             string         `db:"shift" json:"shift"`
	UploadedAt        time.Time      `db:"uploaded_at" json:"uploaded_at"`
	LastModified      time.Time      `db:"last_modified" json:"last_modified"`
}

// AccessKind enumerates logged document interactions.
type AccessKind string

const (
	AccessUpload        AccessKind = "upload"
	AccessView          AccessKind = "view"
	AccessDownload      AccessKind = "download"
	AccessPreview       AccessKind = "preview"
	AccessDelete        AccessKind = "delete"
	AccessIntegrityFail AccessKind = "integrity-fail"
)

// DocumentAccessLog is an append-only record of a document interaction.
type DocumentAccessLog struct {
	ID         string     `db:"id" json:"id"`
	DocumentID *string    `db:"document_id" json:"document_id,omitempty"`
	UserID     *string    `db:"user_id" json:"user_id,omitempty"`
	Kind       AccessKind `db:"kind" json:"kind"`
	IPAddress  string     `db:"ip_address" json:"ip_address"`
	UserAgent  string     `db:"user_agent" json:"user_agent"`
	OK         bool       `db:"ok" json:"ok"`
	Error      string     `db:"error" json:"error,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// DocumentFilter narrows document searches.
type DocumentFilter struct {
	Query    string
	OwnerID  string
	Category string
	Year     string
	Dept     string
	Session  string
	Page     int
	PageSize int
}

// IntegrityOutcome classifies an integrity check result.
type IntegrityOutcome string

const (
	IntegrityHealthy      IntegrityOutcome = "healthy"
	IntegrityMissing      IntegrityOutcome = "missing"
	IntegrityInaccessible IntegrityOutcome = "inaccessible"
	IntegritySizeMismatch IntegrityOutcome = "size_mismatch"
	IntegrityHashMismatch IntegrityOutcome = "hash_mismatch"
)

// IntegrityReport is the result of verifying a document against its blob.
type IntegrityReport struct {
	DocumentID   string           `json:"document_id"`
	Outcome      IntegrityOutcome `json:"outcome"`
	ExpectedSize int64            `json:"expected_size"`
	ActualSize   int64            `json:"actual_size,omitempty"`
	ExpectedHash string           `json:"expected_hash"`
	ActualHash   string           `json:"actual_hash,omitempty"`
}

// DocumentStats summarises repository usage.
type DocumentStats struct {
	TotalActive     int   `db:"total_active" json:"total_active"`
	TotalDeleted    int   `db:"total_deleted" json:"total_deleted"`
	TotalCorrupted  int   `db:"total_corrupted" json:"total_corrupted"`
	TotalBytes      int64 `db:"total_bytes" json:"total_bytes"`
	DuplicateGroups int   `db:"duplicate_groups" json:"duplicate_groups"`
}

// DocumentOwner carries the owner attributes the path planner needs.
type DocumentOwner struct {
	Kind     storage.OwnerKind `json:"kind"`
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	DeptCode string            `json:"dept_code"`
	Session  string            `json:"session"`
	Shift    string            `json:"shift"`
}
