package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edupoint/slms-api/internal/models"
	appErrors "github.com/edupoint/slms-api/pkg/errors"
	"github.com/edupoint/slms-api/pkg/storage"
)

type documentRepository interface {
	CreateWithLog(ctx context.Context, doc *models.Document, log *models.DocumentAccessLog) error
	FindByID(ctx context.Context, id string) (*models.Document, error)
	FindActiveByHashOwner(ctx context.Context, sha256, ownerID string) (*models.Document, error)
	FindActiveByOwnerCategory(ctx context.Context, ownerID, category string) (*models.Document, error)
	ListByOwner(ctx context.Context, ownerID, category string) ([]models.Document, error)
	Search(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error)
	UpdateStatus(ctx context.Context, id string, status models.DocumentStatus, ts time.Time) error
	UpdateMetadata(ctx context.Context, doc *models.Document) error
	AppendAccessLog(ctx context.Context, log *models.DocumentAccessLog) error
	ListAccessLogs(ctx context.Context, documentID string) ([]models.DocumentAccessLog, error)
	Stats(ctx context.Context) (*models.DocumentStats, error)
	ListActive(ctx context.Context) ([]models.Document, error)
}

type documentOutbox interface {
	Append(ctx context.Context, event *models.OutboxEvent) error
}

// UploadInput carries one upload through the policy gate, duplicate probe,
// path planner and blob store.
type UploadInput struct {
	Owner       models.DocumentOwner
	Category    string
	FileName    string
	Size        int64
	Body        io.Reader
	Tags        []string
	Description string
	Source      models.DocumentSource
	SourceID    *string
	UserID      *string
	IP          string
	UserAgent   string
}

// BatchResult reports the per-file outcome of a batch upload.
type BatchResult struct {
	FileName string           `json:"file_name"`
	Document *models.Document `json:"document,omitempty"`
	Error    string           `json:"error,omitempty"`
	Code     string           `json:"code,omitempty"`
}

// DownloadResult hands a blob stream plus metadata to the HTTP layer. The
// caller closes the stream.
type DownloadResult struct {
	Document *models.Document
	Stream   io.ReadCloser
	Size     int64
	Mime     string
}

// DocumentService orchestrates the structured document store: policy
// validation, duplicate detection, deterministic placement, atomic blob
// writes, indexing and the append-only access log.
type DocumentService struct {
	repo    documentRepository
	blobs   *storage.BlobStore
	policy  DocumentPolicy
	signer  *storage.SignedURLSigner
	outbox  documentOutbox
	logger  *zap.Logger
	metrics *MetricsService
}

// NewDocumentService constructs the service. outbox may be nil when no
// operator notifications are wanted (tests).
func NewDocumentService(repo documentRepository, blobs *storage.BlobStore, policy DocumentPolicy, signer *storage.SignedURLSigner, outbox documentOutbox, logger *zap.Logger, metrics *MetricsService) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{repo: repo, blobs: blobs, policy: policy, signer: signer, outbox: outbox, logger: logger, metrics: metrics}
}

// Upload runs the full pipeline for a single file: policy gate, hash,
// duplicate probe, single-slot check, deterministic path, atomic write and
// the transactional index+log insert. On index failure the blob is unlinked.
func (s *DocumentService) Upload(ctx context.Context, in UploadInput) (*models.Document, error) {
	if err := s.policy.Validate(in.Category, in.FileName, in.Size, ""); err != nil {
		s.metrics.RecordUpload(strings.ToLower(in.Category), "rejected", 0)
		return nil, err
	}

	digest, size, buffered, err := storage.Hash(in.Body)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload")
	}
	if size == 0 {
		return nil, appErrors.WithField(appErrors.ErrEmptyFile, "file")
	}

	header := make([]byte, 512)
	n, _ := buffered.Read(header)
	if _, err := buffered.Seek(0, io.SeekStart); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rewind upload")
	}
	mime := http.DetectContentType(header[:n])
	if err := s.policy.Validate(in.Category, in.FileName, size, mime); err != nil {
		s.metrics.RecordUpload(strings.ToLower(in.Category), "rejected", 0)
		return nil, err
	}

	if existing, err := s.repo.FindActiveByHashOwner(ctx, digest, in.Owner.ID); err == nil {
		dup := appErrors.Clone(appErrors.ErrDuplicateFile, fmt.Sprintf("identical document already stored as %s", existing.ID))
		return existing, appErrors.WithField(dup, "file")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "duplicate probe failed")
	}

	category := strings.ToLower(strings.TrimSpace(in.Category))
	singleSlot := storage.SingleSlot(category)
	if singleSlot {
		if _, err := s.repo.FindActiveByOwnerCategory(ctx, in.Owner.ID, category); err == nil {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("an active %s document already exists; delete it first", category))
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "slot probe failed")
		}
	}

	path := storage.DocumentPath(storage.PathRequest{
		OwnerKind: in.Owner.Kind,
		OwnerName: in.Owner.Name,
		OwnerID:   in.Owner.ID,
		DeptCode:  in.Owner.DeptCode,
		Session:   in.Owner.Session,
		Shift:     in.Owner.Shift,
		Category:  category,
		Ext:       s.policy.Ext(in.FileName),
	})

	info, err := s.blobs.Save(path, buffered, !singleSlot)
	if err != nil {
		if errors.Is(err, storage.ErrBlobExists) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "target path already holds different content")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}

	fieldName := in.FileName
	doc := &models.Document{
		OwnerKind:         string(in.Owner.Kind),
		OwnerID:           in.Owner.ID,
		OwnerName:         in.Owner.Name,
		Category:          category,
		SingleSlot:        singleSlot,
		Path:              info.Path,
		SizeBytes:         info.Size,
		SHA256:            info.SHA256,
		Mime:              info.Mime,
		Tags:              in.Tags,
		Description:       in.Description,
		SearchText:        deriveSearchText(in.Owner.Name, in.Owner.ID, category, in.Description, in.Tags),
		Source:            in.Source,
		SourceID:          in.SourceID,
		OriginalFieldName: &fieldName,
		DeptCode:          strings.ToLower(in.Owner.DeptCode),
		Session:           strings.ToLower(in.Owner.Session),
		Shift:             strings.ToLower(in.Owner.Shift),
	}
	log := &models.DocumentAccessLog{
		UserID:    in.UserID,
		Kind:      models.AccessUpload,
		IPAddress: in.IP,
		UserAgent: in.UserAgent,
		OK:        true,
	}

	if err := s.repo.CreateWithLog(ctx, doc, log); err != nil {
		if unlinkErr := s.blobs.Delete(info.Path); unlinkErr != nil {
			s.logger.Error("failed to unlink blob after index failure",
				zap.String("path", info.Path), zap.Error(unlinkErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to index document")
	}

	s.metrics.RecordUpload(doc.Category, "accepted", doc.SizeBytes)
	s.logger.Info("document uploaded",
		zap.String("document_id", doc.ID),
		zap.String("owner_id", doc.OwnerID),
		zap.String("category", doc.Category),
		zap.Int64("size", doc.SizeBytes))
	return doc, nil
}

// UploadBatch validates aggregate limits and runs Upload per file. One bad
// file never aborts the rest.
func (s *DocumentService) UploadBatch(ctx context.Context, inputs []UploadInput) ([]BatchResult, error) {
	var total int64
	for _, in := range inputs {
		total += in.Size
	}
	if err := s.policy.ValidateBatch(len(inputs), total); err != nil {
		return nil, err
	}

	results := make([]BatchResult, 0, len(inputs))
	for _, in := range inputs {
		doc, err := s.Upload(ctx, in)
		result := BatchResult{FileName: in.FileName}
		if err != nil {
			appErr := appErrors.FromError(err)
			result.Error = appErr.Message
			result.Code = appErr.Code
		} else {
			result.Document = doc
		}
		results = append(results, result)
	}
	return results, nil
}

// CheckDuplicate answers the probe without writing anything.
func (s *DocumentService) CheckDuplicate(ctx context.Context, ownerID string, body io.Reader) (*models.Document, bool, error) {
	digest, _, _, err := storage.Hash(body)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash content")
	}
	existing, err := s.repo.FindActiveByHashOwner(ctx, digest, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "duplicate probe failed")
	}
	return existing, true, nil
}

// SignDownloadURL issues a short-lived token for browser downloads.
func (s *DocumentService) SignDownloadURL(ctx context.Context, documentID string) (string, time.Time, error) {
	doc, err := s.findActive(ctx, documentID)
	if err != nil {
		return "", time.Time{}, err
	}
	token, expiresAt, err := s.signer.Generate(doc.ID, doc.Path)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
	}
	return token, expiresAt, nil
}

// Download opens the blob for a signed token and appends the access log.
func (s *DocumentService) Download(ctx context.Context, token string, kind models.AccessKind, userID *string, ip, userAgent string) (*DownloadResult, error) {
	docID, _, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "download link is invalid or expired")
	}
	return s.open(ctx, docID, kind, userID, ip, userAgent)
}

// Open streams a blob for an authenticated caller without a signed token.
func (s *DocumentService) Open(ctx context.Context, documentID string, kind models.AccessKind, userID *string, ip, userAgent string) (*DownloadResult, error) {
	return s.open(ctx, documentID, kind, userID, ip, userAgent)
}

func (s *DocumentService) open(ctx context.Context, documentID string, kind models.AccessKind, userID *string, ip, userAgent string) (*DownloadResult, error) {
	doc, err := s.findActive(ctx, documentID)
	if err != nil {
		return nil, err
	}

	file, info, err := s.blobs.Open(doc.Path)
	logEntry := &models.DocumentAccessLog{
		DocumentID: &doc.ID,
		UserID:     userID,
		Kind:       kind,
		IPAddress:  ip,
		UserAgent:  userAgent,
		OK:         err == nil,
	}
	if err != nil {
		logEntry.Error = err.Error()
	}
	if logErr := s.repo.AppendAccessLog(ctx, logEntry); logErr != nil {
		s.logger.Warn("failed to append access log", zap.Error(logErr))
	}
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "stored file is missing")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	return &DownloadResult{Document: doc, Stream: file, Size: info.Size, Mime: info.Mime}, nil
}

// ListByOwner returns the owner's active documents.
func (s *DocumentService) ListByOwner(ctx context.Context, ownerID, category string) ([]models.Document, error) {
	docs, err := s.repo.ListByOwner(ctx, ownerID, strings.ToLower(strings.TrimSpace(category)))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}
	return docs, nil
}

// Search runs the substring search with filters.
func (s *DocumentService) Search(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error) {
	docs, total, err := s.repo.Search(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "search failed")
	}
	return docs, total, nil
}

// UpdateMetadata rewrites tags and description, re-deriving the search text.
func (s *DocumentService) UpdateMetadata(ctx context.Context, documentID string, tags []string, description string) (*models.Document, error) {
	doc, err := s.findActive(ctx, documentID)
	if err != nil {
		return nil, err
	}
	doc.Tags = tags
	doc.Description = description
	doc.SearchText = deriveSearchText(doc.OwnerName, doc.OwnerID, doc.Category, description, tags)
	if err := s.repo.UpdateMetadata(ctx, doc); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update metadata")
	}
	return doc, nil
}

// Delete soft-deletes the index entry and unlinks the blob. Logs are kept.
func (s *DocumentService) Delete(ctx context.Context, documentID string, userID *string, ip, userAgent string) error {
	doc, err := s.findActive(ctx, documentID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, doc.ID, models.DocumentDeleted, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete document")
	}
	if err := s.blobs.Delete(doc.Path); err != nil {
		s.logger.Error("failed to unlink blob for deleted document",
			zap.String("document_id", doc.ID), zap.Error(err))
	}
	if logErr := s.repo.AppendAccessLog(ctx, &models.DocumentAccessLog{
		DocumentID: &doc.ID,
		UserID:     userID,
		Kind:       models.AccessDelete,
		IPAddress:  ip,
		UserAgent:  userAgent,
		OK:         true,
	}); logErr != nil {
		s.logger.Warn("failed to append delete log", zap.Error(logErr))
	}
	return nil
}

// IntegrityCheck compares a document's recorded size and hash with the blob
// on disk. Non-healthy outcomes flip the document to corrupted, log an
// integrity-fail access record and notify operators.
func (s *DocumentService) IntegrityCheck(ctx context.Context, documentID string) (*models.IntegrityReport, error) {
	doc, err := s.findActive(ctx, documentID)
	if err != nil {
		return nil, err
	}
	report := s.verify(doc)
	if report.Outcome != models.IntegrityHealthy {
		s.flagCorrupted(ctx, doc, report)
	}
	return report, nil
}

// IntegritySweep verifies every active document and returns the non-healthy
// reports.
func (s *DocumentService) IntegritySweep(ctx context.Context) ([]models.IntegrityReport, error) {
	docs, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}
	var unhealthy []models.IntegrityReport
	for i := range docs {
		report := s.verify(&docs[i])
		if report.Outcome == models.IntegrityHealthy {
			continue
		}
		s.flagCorrupted(ctx, &docs[i], report)
		unhealthy = append(unhealthy, *report)
	}
	return unhealthy, nil
}

func (s *DocumentService) verify(doc *models.Document) *models.IntegrityReport {
	report := &models.IntegrityReport{
		DocumentID:   doc.ID,
		ExpectedSize: doc.SizeBytes,
		ExpectedHash: doc.SHA256,
	}
	size, digest, err := s.blobs.Stat(doc.Path)
	switch {
	case errors.Is(err, storage.ErrBlobNotFound):
		report.Outcome = models.IntegrityMissing
	case err != nil:
		report.Outcome = models.IntegrityInaccessible
	case size != doc.SizeBytes:
		report.Outcome = models.IntegritySizeMismatch
		report.ActualSize = size
		report.ActualHash = digest
	case digest != doc.SHA256:
		report.Outcome = models.IntegrityHashMismatch
		report.ActualSize = size
		report.ActualHash = digest
	default:
		report.Outcome = models.IntegrityHealthy
		report.ActualSize = size
		report.ActualHash = digest
	}
	return report
}

func (s *DocumentService) flagCorrupted(ctx context.Context, doc *models.Document, report *models.IntegrityReport) {
	s.logger.Error("document failed integrity check",
		zap.String("document_id", doc.ID),
		zap.String("outcome", string(report.Outcome)))

	if err := s.repo.UpdateStatus(ctx, doc.ID, models.DocumentCorrupted, time.Now().UTC()); err != nil {
		s.logger.Error("failed to mark document corrupted", zap.Error(err))
	}
	if err := s.repo.AppendAccessLog(ctx, &models.DocumentAccessLog{
		DocumentID: &doc.ID,
		Kind:       models.AccessIntegrityFail,
		OK:         false,
		Error:      string(report.Outcome),
	}); err != nil {
		s.logger.Warn("failed to append integrity log", zap.Error(err))
	}
	if s.outbox != nil {
		payload, _ := json.Marshal(models.AnnouncementPayload{
			Title:   "Document Integrity Failure",
			Message: fmt.Sprintf("Document %s failed its integrity check: %s", doc.ID, report.Outcome),
		})
		if err := s.outbox.Append(ctx, &models.OutboxEvent{
			EventType: models.EventSystemAnnouncement,
			Payload:   payload,
		}); err != nil {
			s.logger.Error("failed to enqueue integrity announcement", zap.Error(err))
		}
	}
}

// Stats returns index-wide aggregates including dedup groups.
func (s *DocumentService) Stats(ctx context.Context) (*models.DocumentStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute stats")
	}
	return stats, nil
}

// AccessLogs returns the audit trail of a document.
func (s *DocumentService) AccessLogs(ctx context.Context, documentID string) ([]models.DocumentAccessLog, error) {
	logs, err := s.repo.ListAccessLogs(ctx, documentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list access logs")
	}
	return logs, nil
}

// CleanupOrphaned removes blobs on disk that no active document references
// and returns the removed relative paths. Temp upload leftovers are included.
func (s *DocumentService) CleanupOrphaned(ctx context.Context) ([]string, error) {
	docs, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}
	indexed := make(map[string]bool, len(docs))
	for _, doc := range docs {
		indexed[filepath.Clean(doc.Path)] = true
	}

	base := s.blobs.BaseDir()
	var removed []string
	walkErr := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(base, path)
		if relErr != nil {
			return relErr
		}
		if indexed[filepath.Clean(rel)] {
			return nil
		}
		if rmErr := os.Remove(path); rmErr != nil {
			s.logger.Warn("failed to remove orphaned blob", zap.String("path", rel), zap.Error(rmErr))
			return nil
		}
		removed = append(removed, filepath.ToSlash(rel))
		return nil
	})
	if walkErr != nil {
		return removed, appErrors.Wrap(walkErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "cleanup walk failed")
	}
	s.logger.Info("orphan cleanup finished", zap.Int("removed", len(removed)))
	return removed, nil
}

func (s *DocumentService) findActive(ctx context.Context, documentID string) (*models.Document, error) {
	doc, err := s.repo.FindByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	if doc.Status != models.DocumentActive {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
	}
	return doc, nil
}

func deriveSearchText(ownerName, ownerID, category, description string, tags []string) string {
	parts := []string{ownerName, ownerID, category, description}
	parts = append(parts, tags...)
	return strings.ToLower(strings.Join(parts, " "))
}
