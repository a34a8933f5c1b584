package service

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edupoint/slms-api/internal/models"
	appErrors "github.com/edupoint/slms-api/pkg/errors"
	"github.com/edupoint/slms-api/pkg/storage"
)

type mockDocumentRepo struct {
	docs       map[string]*models.Document
	accessLogs []*models.DocumentAccessLog
	createErr  error
}

func newMockDocumentRepo() *mockDocumentRepo {
	return &mockDocumentRepo{docs: make(map[string]*models.Document)}
}

func (m *mockDocumentRepo) CreateWithLog(ctx context.Context, doc *models.Document, log *models.DocumentAccessLog) error {
	if m.createErr != nil {
		return m.createErr
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.Status = models.DocumentActive
	doc.UploadedAt = time.Now().UTC()
	m.docs[doc.ID] = doc
	if log != nil {
		log.DocumentID = &doc.ID
		m.accessLogs = append(m.accessLogs, log)
	}
	return nil
}

func (m *mockDocumentRepo) FindByID(ctx context.Context, id string) (*models.Document, error) {
	doc, ok := m.docs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return doc, nil
}

func (m *mockDocumentRepo) FindActiveByHashOwner(ctx context.Context, sha256, ownerID string) (*models.Document, error) {
	for _, doc := range m.docs {
		if doc.SHA256 == sha256 && doc.OwnerID == ownerID && doc.Status == models.DocumentActive {
			return doc, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockDocumentRepo) FindActiveByOwnerCategory(ctx context.Context, ownerID, category string) (*models.Document, error) {
	for _, doc := range m.docs {
		if doc.OwnerID == ownerID && doc.Category == category && doc.Status == models.DocumentActive {
			return doc, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockDocumentRepo) ListByOwner(ctx context.Context, ownerID, category string) ([]models.Document, error) {
	var out []models.Document
	for _, doc := range m.docs {
		if doc.OwnerID == ownerID && doc.Status == models.DocumentActive {
			if category == "" || doc.Category == category {
				out = append(out, *doc)
			}
		}
	}
	return out, nil
}

func (m *mockDocumentRepo) Search(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error) {
	docs, _ := m.ListByOwner(ctx, filter.OwnerID, filter.Category)
	return docs, len(docs), nil
}

func (m *mockDocumentRepo) UpdateStatus(ctx context.Context, id string, status models.DocumentStatus, ts time.Time) error {
	doc, ok := m.docs[id]
	if !ok {
		return sql.ErrNoRows
	}
	doc.Status = status
	return nil
}

func (m *mockDocumentRepo) UpdateMetadata(ctx context.Context, doc *models.Document) error {
	m.docs[doc.ID] = doc
	return nil
}

func (m *mockDocumentRepo) AppendAccessLog(ctx context.Context, log *models.DocumentAccessLog) error {
	m.accessLogs = append(m.accessLogs, log)
	return nil
}

func (m *mockDocumentRepo) ListAccessLogs(ctx context.Context, documentID string) ([]models.DocumentAccessLog, error) {
	var out []models.DocumentAccessLog
	for _, log := range m.accessLogs {
		if log.DocumentID != nil && *log.DocumentID == documentID {
			out = append(out, *log)
		}
	}
	return out, nil
}

func (m *mockDocumentRepo) Stats(ctx context.Context) (*models.DocumentStats, error) {
	return &models.DocumentStats{TotalActive: len(m.docs)}, nil
}

func (m *mockDocumentRepo) ListActive(ctx context.Context) ([]models.Document, error) {
	var out []models.Document
	for _, doc := range m.docs {
		if doc.Status == models.DocumentActive {
			out = append(out, *doc)
		}
	}
	return out, nil
}

type mockOutbox struct {
	events []*models.OutboxEvent
}

func (m *mockOutbox) Append(ctx context.Context, event *models.OutboxEvent) error {
	m.events = append(m.events, event)
	return nil
}

func jpegBytes(n int) []byte {
	data := make([]byte, n)
	copy(data, []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00})
	return data
}

func newDocumentService(t *testing.T) (*DocumentService, *mockDocumentRepo, *mockOutbox) {
	t.Helper()
	blobs, err := storage.NewBlobStore(t.TempDir())
	require.NoError(t, err)
	repo := newMockDocumentRepo()
	outbox := &mockOutbox{}
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	svc := NewDocumentService(repo, blobs, testPolicy(), signer, outbox, zap.NewNop(), nil)
	return svc, repo, outbox
}

func johnDoe() models.DocumentOwner {
	return models.DocumentOwner{
		Kind:     storage.OwnerStudent,
		ID:       "CR-001",
		Name:     "John Doe",
		DeptCode: "cse",
		Session:  "2020-2021",
		Shift:    "morning",
	}
}

func TestUploadPhoto(t *testing.T) {
	svc, repo, _ := newDocumentService(t)
	content := jpegBytes(2 << 20)

	doc, err := svc.Upload(context.Background(), UploadInput{
		Owner:    johnDoe(),
		Category: "photo",
		FileName: "me.jpg",
		Size:     int64(len(content)),
		Body:     bytes.NewReader(content),
		Source:   models.SourceManual,
	})
	require.NoError(t, err)
	assert.Equal(t, "Student_Documents/cse/2020-2021/morning/JohnDoe_CR-001/photo.jpg", doc.Path)
	assert.Equal(t, models.DocumentActive, doc.Status)
	assert.True(t, doc.SingleSlot)

	require.Len(t, repo.accessLogs, 1)
	assert.Equal(t, models.AccessUpload, repo.accessLogs[0].Kind)
	assert.True(t, repo.accessLogs[0].OK)
}

func TestUploadRejectsOversize(t *testing.T) {
	svc, repo, _ := newDocumentService(t)

	_, err := svc.Upload(context.Background(), UploadInput{
		Owner:    johnDoe(),
		Category: "photo",
		FileName: "me.jpg",
		Size:     6 << 20,
		Body:     bytes.NewReader(jpegBytes(16)),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrFileTooLarge.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.docs)
	assert.Empty(t, repo.accessLogs)
}

func TestUploadCountsEveryRejection(t *testing.T) {
	blobs, err := storage.NewBlobStore(t.TempDir())
	require.NoError(t, err)
	metrics := NewMetricsService()
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	svc := NewDocumentService(newMockDocumentRepo(), blobs, testPolicy(), signer, &mockOutbox{}, zap.NewNop(), metrics)

	// JPEG bytes behind a .png name only fail once the content is sniffed.
	content := jpegBytes(1024)
	_, err = svc.Upload(context.Background(), UploadInput{
		Owner: johnDoe(), Category: "photo", FileName: "me.png",
		Size: int64(len(content)), Body: bytes.NewReader(content),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrBadFileType.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.uploadTotal.WithLabelValues("photo", "rejected")))

	// A pre-read rejection lands on the same counter.
	_, err = svc.Upload(context.Background(), UploadInput{
		Owner: johnDoe(), Category: "photo", FileName: "me.jpg",
		Size: 6 << 20, Body: bytes.NewReader(jpegBytes(16)),
	})
	require.Error(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.uploadTotal.WithLabelValues("photo", "rejected")))
}

func TestUploadDetectsDuplicate(t *testing.T) {
	svc, _, _ := newDocumentService(t)
	content := jpegBytes(1024)

	first, err := svc.Upload(context.Background(), UploadInput{
		Owner:    johnDoe(),
		Category: "photo",
		FileName: "me.jpg",
		Size:     int64(len(content)),
		Body:     bytes.NewReader(content),
	})
	require.NoError(t, err)

	existing, err := svc.Upload(context.Background(), UploadInput{
		Owner:    johnDoe(),
		Category: "nid",
		FileName: "copy.jpg",
		Size:     int64(len(content)),
		Body:     bytes.NewReader(content),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateFile.Code, appErrors.FromError(err).Code)
	require.NotNil(t, existing)
	assert.Equal(t, first.ID, existing.ID)
}

func TestUploadRefusesOccupiedSlot(t *testing.T) {
	svc, _, _ := newDocumentService(t)

	_, err := svc.Upload(context.Background(), UploadInput{
		Owner: johnDoe(), Category: "photo", FileName: "me.jpg",
		Size: 1024, Body: bytes.NewReader(jpegBytes(1024)),
	})
	require.NoError(t, err)

	_, err = svc.Upload(context.Background(), UploadInput{
		Owner: johnDoe(), Category: "photo", FileName: "new.jpg",
		Size: 2048, Body: bytes.NewReader(jpegBytes(2048)),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUploadUnlinksBlobOnIndexFailure(t *testing.T) {
	svc, repo, _ := newDocumentService(t)
	repo.createErr = sql.ErrConnDone

	_, err := svc.Upload(context.Background(), UploadInput{
		Owner: johnDoe(), Category: "photo", FileName: "me.jpg",
		Size: 1024, Body: bytes.NewReader(jpegBytes(1024)),
	})
	require.Error(t, err)

	_, _, err = svc.blobs.Open("Student_Documents/cse/2020-2021/morning/JohnDoe_CR-001/photo.jpg")
	assert.ErrorIs(t, err, storage.ErrBlobNotFound)
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	svc, _, _ := newDocumentService(t)
	content := jpegBytes(4096)

	doc, err := svc.Upload(context.Background(), UploadInput{
		Owner: johnDoe(), Category: "photo", FileName: "me.jpg",
		Size: int64(len(content)), Body: bytes.NewReader(content),
	})
	require.NoError(t, err)

	token, _, err := svc.SignDownloadURL(context.Background(), doc.ID)
	require.NoError(t, err)

	result, err := svc.Download(context.Background(), token, models.AccessDownload, nil, "127.0.0.1", "test")
	require.NoError(t, err)
	defer result.Stream.Close()

	downloaded, err := io.ReadAll(result.Stream)
	require.NoError(t, err)
	assert.Equal(t, content, downloaded)
}

func TestIntegrityCheckFlagsTamper(t *testing.T) {
	svc, repo, outbox := newDocumentService(t)
	content := jpegBytes(1024)

	doc, err := svc.Upload(context.Background(), UploadInput{
		Owner: johnDoe(), Category: "photo", FileName: "me.jpg",
		Size: int64(len(content)), Body: bytes.NewReader(content),
	})
	require.NoError(t, err)

	report, err := svc.IntegrityCheck(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntegrityHealthy, report.Outcome)

	require.NoError(t, svc.blobs.Delete(doc.Path))

	report, err = svc.IntegrityCheck(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntegrityMissing, report.Outcome)
	assert.Equal(t, models.DocumentCorrupted, repo.docs[doc.ID].Status)
	require.Len(t, outbox.events, 1)
	assert.Equal(t, models.EventSystemAnnouncement, outbox.events[0].EventType)
}

func TestDeleteSoftDeletesAndUnlinks(t *testing.T) {
	svc, repo, _ := newDocumentService(t)
	content := jpegBytes(1024)

	doc, err := svc.Upload(context.Background(), UploadInput{
		Owner: johnDoe(), Category: "photo", FileName: "me.jpg",
		Size: int64(len(content)), Body: bytes.NewReader(content),
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), doc.ID, nil, "127.0.0.1", "test"))
	assert.Equal(t, models.DocumentDeleted, repo.docs[doc.ID].Status)

	_, _, err = svc.blobs.Open(doc.Path)
	assert.ErrorIs(t, err, storage.ErrBlobNotFound)

	logs, err := svc.AccessLogs(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 2) // upload + delete
}

func TestUploadBatchIsolatesFailures(t *testing.T) {
	svc, _, _ := newDocumentService(t)
	good := jpegBytes(1024)

	results, err := svc.UploadBatch(context.Background(), []UploadInput{
		{Owner: johnDoe(), Category: "photo", FileName: "me.jpg", Size: int64(len(good)), Body: bytes.NewReader(good)},
		{Owner: johnDoe(), Category: "nid", FileName: "bad.exe", Size: 1024, Body: bytes.NewReader(jpegBytes(1024))},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NotNil(t, results[0].Document)
	assert.Empty(t, results[0].Error)
	assert.Nil(t, results[1].Document)
	assert.Equal(t, appErrors.ErrBadFileType.Code, results[1].Code)
}

func TestCheckDuplicate(t *testing.T) {
	svc, _, _ := newDocumentService(t)
	content := jpegBytes(1024)

	_, err := svc.Upload(context.Background(), UploadInput{
		Owner: johnDoe(), Category: "photo", FileName: "me.jpg",
		Size: int64(len(content)), Body: bytes.NewReader(content),
	})
	require.NoError(t, err)

	_, dup, err := svc.CheckDuplicate(context.Background(), "CR-001", bytes.NewReader(content))
	require.NoError(t, err)
	assert.True(t, dup)

	_, dup, err = svc.CheckDuplicate(context.Background(), "CR-001", bytes.NewReader(jpegBytes(77)))
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestCleanupOrphaned(t *testing.T) {
	svc, _, _ := newDocumentService(t)
	content := jpegBytes(1024)

	doc, err := svc.Upload(context.Background(), UploadInput{
		Owner: johnDoe(), Category: "photo", FileName: "me.jpg",
		Size: int64(len(content)), Body: bytes.NewReader(content),
	})
	require.NoError(t, err)

	_, err = svc.blobs.Save("Student_Documents/stray/orphan.jpg", bytes.NewReader(jpegBytes(64)), false)
	require.NoError(t, err)

	removed, err := svc.CleanupOrphaned(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Student_Documents/stray/orphan.jpg"}, removed)

	_, _, err = svc.blobs.Open(doc.Path)
	assert.NoError(t, err)
}
