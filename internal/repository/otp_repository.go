package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edupoint/slms-api/internal/models"
)

const otpColumns = `id, user_id, token, expires_at, attempts, max_attempts, used, created_at`

// OTPRepository persists one-time password tokens and the append-only
// attempt log that drives rate limiting.
type OTPRepository struct {
	db *sqlx.DB
}

// NewOTPRepository creates the repository.
func NewOTPRepository(db *sqlx.DB) *OTPRepository {
	return &OTPRepository{db: db}
}

// Issue invalidates any live token for the user and inserts the new one in
// a single transaction, so at most one token is ever verifiable.
func (r *OTPRepository) Issue(ctx context.Context, token *models.OTPToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin otp tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const invalidate = `UPDATE otp_tokens SET used = TRUE WHERE user_id = $1 AND used = FALSE`
	if _, err := tx.ExecContext(ctx, invalidate, token.UserID); err != nil {
		return fmt.Errorf("invalidate previous tokens: %w", err)
	}

	const insert = `INSERT INTO otp_tokens (id, user_id, token, expires_at, attempts, max_attempts, used, created_at)
VALUES (:id, :user_id, :token, :expires_at, :attempts, :max_attempts, :used, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, token); err != nil {
		return fmt.Errorf("insert otp token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit otp tx: %w", err)
	}
	return nil
}

// FindActiveByUser returns the single un-used token for a user, or
// sql.ErrNoRows when none exists. Expiry is judged by the caller so that
// verification can distinguish expired from invalid.
func (r *OTPRepository) FindActiveByUser(ctx context.Context, userID string) (*models.OTPToken, error) {
	query := fmt.Sprintf(`SELECT %s FROM otp_tokens
WHERE user_id = $1 AND used = FALSE
ORDER BY created_at DESC LIMIT 1`, otpColumns)
	var token models.OTPToken
	if err := r.db.GetContext(ctx, &token, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find active otp: %w", err)
	}
	return &token, nil
}

// IncrementAttempts bumps the verification counter and returns the new
// value. The used flag stays untouched: an exhausted token is blocked by
// the attempts guard, and keeping the row visible lets callers report
// "exceeded" rather than a generic miss.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	const query = `UPDATE otp_tokens
SET attempts = attempts + 1
WHERE id = $1
RETURNING attempts`
	var attempts int
	if err := r.db.GetContext(ctx, &attempts, query, id); err != nil {
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	}
	return attempts, nil
}

// MarkUsed consumes the token.
func (r *OTPRepository) MarkUsed(ctx context.Context, id string) error {
	const query = `UPDATE otp_tokens SET used = TRUE WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark otp used: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordAttempt appends one reset attempt for the sliding-window counters.
func (r *OTPRepository) RecordAttempt(ctx context.Context, attempt *models.ResetAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO reset_attempts (id, email, ip_address, success, user_agent, created_at)
VALUES (:id, :email, :ip_address, :success, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, attempt); err != nil {
		return fmt.Errorf("record reset attempt: %w", err)
	}
	return nil
}

// CountSuccessByEmailSince counts successful issues for an email address
// after the given instant.
func (r *OTPRepository) CountSuccessByEmailSince(ctx context.Context, email string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM reset_attempts WHERE email = $1 AND success = TRUE AND created_at >= $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, email, since); err != nil {
		return 0, fmt.Errorf("count attempts by email: %w", err)
	}
	return count, nil
}

// CountByIPSince counts all attempts from an IP after the given instant.
func (r *OTPRepository) CountByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM reset_attempts WHERE ip_address = $1 AND created_at >= $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, ip, since); err != nil {
		return 0, fmt.Errorf("count attempts by ip: %w", err)
	}
	return count, nil
}
