package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edupoint/slms-api/internal/models"
)

func documentRows(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "owner_kind", "owner_id", "owner_name", "category", "single_slot", "path",
		"size_bytes", "sha256", "mime", "status", "tags", "description", "search_text",
		"source", "source_id", "original_field_name", "dept_code", "session", "shift",
		"uploaded_at", "last_modified",
	}).AddRow(
		"doc-1", "student", "CR-001", "John Doe", "photo", true,
		"Student_Documents/cse/2020-2021/morning/JohnDoe_CR-001/photo.jpg",
		2048, "abc123", "image/jpeg", "active", "{}", "", "john doe photo",
		"manual", nil, nil, "cse", "2020-2021", "morning", now, now,
	)
}

func TestCreateDocumentWithLog(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO document_access_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	doc := &models.Document{
		OwnerKind: "student", OwnerID: "CR-001", OwnerName: "John Doe",
		Category: "photo", SingleSlot: true,
		Path:   "Student_Documents/cse/2020-2021/morning/JohnDoe_CR-001/photo.jpg",
		SHA256: "abc123", SizeBytes: 2048, Mime: "image/jpeg",
	}
	log := &models.DocumentAccessLog{Kind: models.AccessUpload, OK: true}
	err := repo.CreateWithLog(context.Background(), doc, log)
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	require.NotNil(t, log.DocumentID)
	assert.Equal(t, doc.ID, *log.DocumentID)
	assert.Equal(t, models.DocumentActive, doc.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDocumentRollsBackOnLogFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO documents").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO document_access_logs").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.CreateWithLog(context.Background(), &models.Document{}, &models.DocumentAccessLog{Kind: models.AccessUpload})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveByHashOwner(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	now := time.Now()
	mock.ExpectQuery("SELECT .+ FROM documents WHERE sha256 = \\$1 AND owner_id = \\$2 AND status = 'active'").
		WithArgs("abc123", "CR-001").
		WillReturnRows(documentRows(now))

	doc, err := repo.FindActiveByHashOwner(context.Background(), "abc123", "CR-001")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveByHashOwnerNoRows(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	mock.ExpectQuery("SELECT .+ FROM documents WHERE sha256").
		WithArgs("missing", "CR-001").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindActiveByHashOwner(context.Background(), "missing", "CR-001")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchDocuments(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	now := time.Now()
	mock.ExpectQuery("SELECT .+ FROM documents WHERE status = 'active' AND .*LIKE.*ORDER BY uploaded_at DESC LIMIT 20 OFFSET 0").
		WithArgs("%john%").
		WillReturnRows(documentRows(now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM documents WHERE status = 'active'")).
		WithArgs("%john%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	docs, total, err := repo.Search(context.Background(), models.DocumentFilter{Query: "John"})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentStats(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	rows := sqlmock.NewRows([]string{"total_active", "total_deleted", "total_corrupted", "total_bytes", "duplicate_groups"}).
		AddRow(10, 2, 1, 123456, 3)
	mock.ExpectQuery("SELECT\\s+COUNT").WillReturnRows(rows)

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalActive)
	assert.Equal(t, 3, stats.DuplicateGroups)
	assert.NoError(t, mock.ExpectationsWereMet())
}
