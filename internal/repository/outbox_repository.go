package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edupoint/slms-api/internal/models"
)

// OutboxRepository stores domain events awaiting notification fan-out.
type OutboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository creates the repository.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Append inserts a pending event. Callers that mutate state in a
// transaction should use AppendTx with the same transaction instead.
func (r *OutboxRepository) Append(ctx context.Context, event *models.OutboxEvent) error {
	return appendOutbox(ctx, r.db, event)
}

// AppendTx inserts a pending event inside the caller's transaction.
func (r *OutboxRepository) AppendTx(ctx context.Context, tx *sqlx.Tx, event *models.OutboxEvent) error {
	return appendOutbox(ctx, tx, event)
}

func appendOutbox(ctx context.Context, ext sqlx.ExtContext, event *models.OutboxEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO outbox_events (id, event_type, payload, created_at)
VALUES ($1, $2, $3, $4)`
	if _, err := ext.ExecContext(ctx, query, event.ID, event.EventType, event.Payload, event.CreatedAt); err != nil {
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}

// ListPending returns unprocessed events oldest first.
func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id, event_type, payload, created_at, processed_at
FROM outbox_events WHERE processed_at IS NULL ORDER BY created_at LIMIT %d`, limit)
	var events []models.OutboxEvent
	if err := r.db.SelectContext(ctx, &events, query); err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	return events, nil
}

// MarkProcessed stamps the event so it is never replayed.
func (r *OutboxRepository) MarkProcessed(ctx context.Context, id string) error {
	const query = `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1 AND processed_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}
