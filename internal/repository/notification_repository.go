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

const notificationColumns = `id, recipient_id, type, title, message, data, status, created_at, read_at, archived_at, deleted_at`
const deliveryJobColumns = `id, notification_id, channel, status, retries, last_error, created_at, updated_at`

// NotificationRepository persists notifications, preferences and delivery
// jobs. Notification creation and its job rows commit in one transaction so
// a pushed record can never disappear afterwards.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// CreateWithJobs inserts the notification and its delivery jobs atomically.
func (r *NotificationRepository) CreateWithJobs(ctx context.Context, n *models.Notification, jobs []models.DeliveryJob) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Status == "" {
		n.Status = models.NotificationUnread
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin notification tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insertNotification = `INSERT INTO notifications (id, recipient_id, type, title, message, data, status, created_at)
VALUES (:id, :recipient_id, :type, :title, :message, :data, :status, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insertNotification, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	const insertJob = `INSERT INTO delivery_jobs (id, notification_id, channel, status, retries, last_error, created_at, updated_at)
VALUES (:id, :notification_id, :channel, :status, :retries, :last_error, :created_at, :updated_at)`
	for i := range jobs {
		job := &jobs[i]
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		job.NotificationID = n.ID
		if job.Status == "" {
			job.Status = models.DeliveryPending
		}
		now := time.Now().UTC()
		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
		}
		job.UpdatedAt = now
		if _, err := tx.NamedExecContext(ctx, insertJob, job); err != nil {
			return fmt.Errorf("create delivery job: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit notification tx: %w", err)
	}
	return nil
}

// FindByID returns a notification by identifier.
func (r *NotificationRepository) FindByID(ctx context.Context, id string) (*models.Notification, error) {
	query := fmt.Sprintf(`SELECT %s FROM notifications WHERE id = $1 LIMIT 1`, notificationColumns)
	var n models.Notification
	if err := r.db.GetContext(ctx, &n, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find notification: %w", err)
	}
	return &n, nil
}

// List returns notifications for a recipient with optional status/type
// filters, newest first. Deleted notifications are excluded unless asked
// for explicitly.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	base := "FROM notifications"
	where := []string{"recipient_id = $1"}
	args := []interface{}{filter.RecipientID}

	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	} else {
		where = append(where, "status <> 'deleted'")
	}
	if filter.Type != "" {
		where = append(where, fmt.Sprintf("type = $%d", len(args)+1))
		args = append(args, filter.Type)
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

	query := fmt.Sprintf("SELECT %s %s WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d", notificationColumns, base, whereClause, size, offset)
	var items []models.Notification
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return items, total, nil
}

// UnreadCount returns the number of unread notifications for a recipient.
func (r *NotificationRepository) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	const query = `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND status = 'unread'`
	var count int
	if err := r.db.GetContext(ctx, &count, query, recipientID); err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}

// Transition applies a status change, stamping the matching timestamp
// column. The caller validates the DAG edge before calling.
func (r *NotificationRepository) Transition(ctx context.Context, id string, to models.NotificationStatus, ts time.Time) error {
	var column string
	switch to {
	case models.NotificationRead:
		column = "read_at"
	case models.NotificationArchived:
		column = "archived_at"
	case models.NotificationDeleted:
		column = "deleted_at"
	default:
		return fmt.Errorf("no timestamp column for status %s", to)
	}
	query := fmt.Sprintf(`UPDATE notifications SET status = $2, %s = $3 WHERE id = $1`, column)
	res, err := r.db.ExecContext(ctx, query, id, to, ts)
	if err != nil {
		return fmt.Errorf("transition notification: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkAllRead flips every unread notification for a recipient.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID string, ts time.Time) (int64, error) {
	const query = `UPDATE notifications SET status = 'read', read_at = $2 WHERE recipient_id = $1 AND status = 'unread'`
	res, err := r.db.ExecContext(ctx, query, recipientID, ts)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows, nil
}

// GetPreference returns the stored preference or the lazy default
// (enabled=true, email_enabled=false) when no row exists.
func (r *NotificationRepository) GetPreference(ctx context.Context, userID string, t models.NotificationType) (*models.NotificationPreference, error) {
	const query = `SELECT user_id, type, enabled, email_enabled, updated_at FROM notification_preferences WHERE user_id = $1 AND type = $2 LIMIT 1`
	var pref models.NotificationPreference
	err := r.db.GetContext(ctx, &pref, query, userID, t)
	if err == sql.ErrNoRows {
		return &models.NotificationPreference{UserID: userID, Type: t, Enabled: true, EmailEnabled: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preference: %w", err)
	}
	return &pref, nil
}

// ListPreferences returns all stored preference rows for a user.
func (r *NotificationRepository) ListPreferences(ctx context.Context, userID string) ([]models.NotificationPreference, error) {
	const query = `SELECT user_id, type, enabled, email_enabled, updated_at FROM notification_preferences WHERE user_id = $1 ORDER BY type`
	var prefs []models.NotificationPreference
	if err := r.db.SelectContext(ctx, &prefs, query, userID); err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	return prefs, nil
}

// UpsertPreference writes a preference row, seeding it on first update.
func (r *NotificationRepository) UpsertPreference(ctx context.Context, pref *models.NotificationPreference) error {
	pref.UpdatedAt = time.Now().UTC()
	const query = `INSERT INTO notification_preferences (user_id, type, enabled, email_enabled, updated_at)
VALUES (:user_id, :type, :enabled, :email_enabled, :updated_at)
ON CONFLICT (user_id, type) DO UPDATE SET enabled = EXCLUDED.enabled, email_enabled = EXCLUDED.email_enabled, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, pref); err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

// FindJob returns a delivery job by identifier.
func (r *NotificationRepository) FindJob(ctx context.Context, id string) (*models.DeliveryJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM delivery_jobs WHERE id = $1 LIMIT 1`, deliveryJobColumns)
	var job models.DeliveryJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find delivery job: %w", err)
	}
	return &job, nil
}

// ListJobsByNotification returns all delivery jobs for a notification.
func (r *NotificationRepository) ListJobsByNotification(ctx context.Context, notificationID string) ([]models.DeliveryJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM delivery_jobs WHERE notification_id = $1 ORDER BY created_at`, deliveryJobColumns)
	var jobs []models.DeliveryJob
	if err := r.db.SelectContext(ctx, &jobs, query, notificationID); err != nil {
		return nil, fmt.Errorf("list delivery jobs: %w", err)
	}
	return jobs, nil
}

// ListJobs returns delivery jobs filtered by status, newest first.
func (r *NotificationRepository) ListJobs(ctx context.Context, status models.DeliveryStatus, limit int) ([]models.DeliveryJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args := []interface{}{}
	query := fmt.Sprintf("SELECT %s FROM delivery_jobs", deliveryJobColumns)
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY updated_at DESC LIMIT %d", limit)
	var jobs []models.DeliveryJob
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// ClaimPending atomically claims jobs awaiting their first attempt, oldest
// first. Claimed jobs move to 'sending' so a second scheduler (another
// process, or this one on the next tick) can never pick them up again.
// Jobs stuck in 'sending' longer than the lease belong to a crashed worker
// and are reclaimed.
func (r *NotificationRepository) ClaimPending(ctx context.Context, leaseSeconds, limit int) ([]models.DeliveryJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`UPDATE delivery_jobs SET status = 'sending', updated_at = NOW()
WHERE id IN (
  SELECT id FROM delivery_jobs
  WHERE (status = 'pending' AND channel <> 'in-app')
     OR (status = 'sending' AND updated_at + $1 * INTERVAL '1 second' <= NOW())
  ORDER BY updated_at
  LIMIT %d
  FOR UPDATE SKIP LOCKED
)
RETURNING %s`, limit, deliveryJobColumns)
	var jobs []models.DeliveryJob
	if err := r.db.SelectContext(ctx, &jobs, query, leaseSeconds); err != nil {
		return nil, fmt.Errorf("claim pending jobs: %w", err)
	}
	return jobs, nil
}

// ClaimRetryable atomically claims failed jobs whose exponential backoff has
// elapsed, oldest first, moving them straight to 'sending'. delay =
// min(2^(retries-1), maxDelaySeconds) seconds since the last update.
func (r *NotificationRepository) ClaimRetryable(ctx context.Context, maxRetries, maxDelaySeconds, limit int) ([]models.DeliveryJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`UPDATE delivery_jobs SET status = 'sending', updated_at = NOW()
WHERE id IN (
  SELECT id FROM delivery_jobs
  WHERE status = 'failed' AND retries < $1
    AND updated_at + LEAST(POWER(2, GREATEST(retries - 1, 0)), $2) * INTERVAL '1 second' <= NOW()
  ORDER BY updated_at
  LIMIT %d
  FOR UPDATE SKIP LOCKED
)
RETURNING %s`, limit, deliveryJobColumns)
	var jobs []models.DeliveryJob
	if err := r.db.SelectContext(ctx, &jobs, query, maxRetries, maxDelaySeconds); err != nil {
		return nil, fmt.Errorf("claim retryable jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJob rewrites the mutable job state.
func (r *NotificationRepository) UpdateJob(ctx context.Context, job *models.DeliveryJob) error {
	job.UpdatedAt = time.Now().UTC()
	const query = `UPDATE delivery_jobs SET status = :status, retries = :retries, last_error = :last_error, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("update delivery job: %w", err)
	}
	return nil
}
