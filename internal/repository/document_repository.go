package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edupoint/slms-api/internal/models"
)

const documentColumns = `id, owner_kind, owner_id, owner_name, category, single_slot, path, size_bytes, sha256, mime, status, tags, description, search_text, source, source_id, original_field_name, dept_code, session, shift, uploaded_at, last_modified`

// DocumentRepository provides persistence for the document index and its
// access log.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository creates the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// CreateWithLog inserts the index entry and its upload access log in one
// transaction. The blob write precedes this call; the caller unlinks the
// blob when the transaction fails.
func (r *DocumentRepository) CreateWithLog(ctx context.Context, doc *models.Document, log *models.DocumentAccessLog) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = now
	}
	doc.LastModified = now
	if doc.Status == "" {
		doc.Status = models.DocumentActive
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin document tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insertDoc = `INSERT INTO documents (id, owner_kind, owner_id, owner_name, category, single_slot, path, size_bytes, sha256, mime, status, tags, description, search_text, source, source_id, original_field_name, dept_code, session, shift, uploaded_at, last_modified)
VALUES (:id, :owner_kind, :owner_id, :owner_name, :category, :single_slot, :path, :size_bytes, :sha256, :mime, :status, :tags, :description, :search_text, :source, :source_id, :original_field_name, :dept_code, :session, :shift, :uploaded_at, :last_modified)`
	if _, err := tx.NamedExecContext(ctx, insertDoc, doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}

	if log != nil {
		log.DocumentID = &doc.ID
		if err := insertAccessLog(ctx, tx, log); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit document tx: %w", err)
	}
	return nil
}

// FindByID returns a document by identifier.
func (r *DocumentRepository) FindByID(ctx context.Context, id string) (*models.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1 LIMIT 1`, documentColumns)
	var doc models.Document
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find document by id: %w", err)
	}
	return &doc, nil
}

// FindActiveByHashOwner answers the duplicate probe: an active document with
// the same content hash belonging to the same owner.
func (r *DocumentRepository) FindActiveByHashOwner(ctx context.Context, sha256, ownerID string) (*models.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE sha256 = $1 AND owner_id = $2 AND status = 'active' LIMIT 1`, documentColumns)
	var doc models.Document
	if err := r.db.GetContext(ctx, &doc, query, sha256, ownerID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("probe duplicate: %w", err)
	}
	return &doc, nil
}

// FindActiveByOwnerCategory returns the active single-slot occupant, if any.
func (r *DocumentRepository) FindActiveByOwnerCategory(ctx context.Context, ownerID, category string) (*models.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE owner_id = $1 AND category = $2 AND status = 'active' LIMIT 1`, documentColumns)
	var doc models.Document
	if err := r.db.GetContext(ctx, &doc, query, ownerID, category); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find slot occupant: %w", err)
	}
	return &doc, nil
}

// ListByOwner returns active documents for an owner, optionally narrowed to
// one category, newest first.
func (r *DocumentRepository) ListByOwner(ctx context.Context, ownerID, category string) ([]models.Document, error) {
	args := []interface{}{ownerID}
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE owner_id = $1 AND status = 'active'`, documentColumns)
	if category != "" {
		query += " AND category = $2"
		args = append(args, category)
	}
	query += " ORDER BY uploaded_at DESC"
	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, query, args...); err != nil {
		return nil, fmt.Errorf("list documents by owner: %w", err)
	}
	return docs, nil
}

// Search performs a case-insensitive substring search over filename,
// category, search text, owner name and owner id, with structured filters.
func (r *DocumentRepository) Search(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error) {
	base := "FROM documents"
	where := []string{"status = 'active'"}
	var args []interface{}

	if q := strings.TrimSpace(filter.Query); q != "" {
		idx := len(args) + 1
		where = append(where, fmt.Sprintf("(LOWER(path) LIKE $%d OR LOWER(category) LIKE $%d OR LOWER(search_text) LIKE $%d OR LOWER(owner_name) LIKE $%d OR LOWER(owner_id) LIKE $%d)", idx, idx, idx, idx, idx))
		args = append(args, "%"+strings.ToLower(q)+"%")
	}
	if filter.OwnerID != "" {
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)+1))
		args = append(args, filter.OwnerID)
	}
	if filter.Category != "" {
		where = append(where, fmt.Sprintf("category = $%d", len(args)+1))
		args = append(args, filter.Category)
	}
	if filter.Year != "" {
		where = append(where, fmt.Sprintf("TO_CHAR(uploaded_at, 'YYYY') = $%d", len(args)+1))
		args = append(args, filter.Year)
	}
	if filter.Dept != "" {
		where = append(where, fmt.Sprintf("dept_code = $%d", len(args)+1))
		args = append(args, strings.ToLower(filter.Dept))
	}
	if filter.Session != "" {
		where = append(where, fmt.Sprintf("session = $%d", len(args)+1))
		args = append(args, strings.ToLower(filter.Session))
	}

	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s WHERE %s ORDER BY uploaded_at DESC LIMIT %d OFFSET %d", documentColumns, base, whereClause, size, offset)
	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("search documents: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}
	return docs, total, nil
}

// UpdateStatus flips the lifecycle status of a document.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status models.DocumentStatus, ts time.Time) error {
	const query = `UPDATE documents SET status = $2, last_modified = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, ts); err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return nil
}

// UpdateMetadata rewrites the mutable metadata and re-derived search text.
func (r *DocumentRepository) UpdateMetadata(ctx context.Context, doc *models.Document) error {
	doc.LastModified = time.Now().UTC()
	const query = `UPDATE documents SET tags = :tags, description = :description, search_text = :search_text, last_modified = :last_modified WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, doc); err != nil {
		return fmt.Errorf("update document metadata: %w", err)
	}
	return nil
}

// AppendAccessLog stores one access record outside a document transaction.
func (r *DocumentRepository) AppendAccessLog(ctx context.Context, log *models.DocumentAccessLog) error {
	if err := insertAccessLog(ctx, r.db, log); err != nil {
		return err
	}
	return nil
}

// ListAccessLogs returns access records for a document, newest first.
func (r *DocumentRepository) ListAccessLogs(ctx context.Context, documentID string) ([]models.DocumentAccessLog, error) {
	const query = `SELECT id, document_id, user_id, kind, ip_address, user_agent, ok, error, created_at
FROM document_access_logs WHERE document_id = $1 ORDER BY created_at DESC`
	var logs []models.DocumentAccessLog
	if err := r.db.SelectContext(ctx, &logs, query, documentID); err != nil {
		return nil, fmt.Errorf("list access logs: %w", err)
	}
	return logs, nil
}

// Stats aggregates repository usage and global dedup statistics.
func (r *DocumentRepository) Stats(ctx context.Context) (*models.DocumentStats, error) {
	const query = `SELECT
  COUNT(*) FILTER (WHERE status = 'active') AS total_active,
  COUNT(*) FILTER (WHERE status = 'deleted') AS total_deleted,
  COUNT(*) FILTER (WHERE status = 'corrupted') AS total_corrupted,
  COALESCE(SUM(size_bytes) FILTER (WHERE status = 'active'), 0) AS total_bytes,
  (SELECT COUNT(*) FROM (SELECT sha256 FROM documents WHERE status = 'active' GROUP BY sha256 HAVING COUNT(*) > 1) d) AS duplicate_groups
FROM documents`
	var stats models.DocumentStats
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("document stats: %w", err)
	}
	return &stats, nil
}

// ListActive streams all active documents, used by integrity sweeps and
// orphan cleanup.
func (r *DocumentRepository) ListActive(ctx context.Context) ([]models.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE status = 'active' ORDER BY uploaded_at`, documentColumns)
	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, query); err != nil {
		return nil, fmt.Errorf("list active documents: %w", err)
	}
	return docs, nil
}

type execer interface {
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

func insertAccessLog(ctx context.Context, db execer, log *models.DocumentAccessLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO document_access_logs (id, document_id, user_id, kind, ip_address, user_agent, ok, error, created_at)
VALUES (:id, :document_id, :user_id, :kind, :ip_address, :user_agent, :ok, :error, :created_at)`
	if _, err := db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("append access log: %w", err)
	}
	return nil
}
