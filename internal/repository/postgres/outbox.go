package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/pkg/errors"
)

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, payload, status, error_message,
	retry_count, retry_at, created_at, processed_at, updated_at`

type outboxRepository struct {
	BaseRepository
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}

	query := `
		INSERT INTO outbox_events (
			id, aggregate_type, aggregate_id, event_type, payload, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = model.OutboxStatusPending
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.UpdatedAt = event.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.AggregateType,
		event.AggregateID,
		event.EventType,
		[]byte(event.Payload),
		event.Status,
		event.CreatedAt,
	)
	if err != nil {
		return mapError(err, "failed to create outbox event")
	}
	return nil
}

// GetPendingEventsWithLock must run inside a transaction; the row locks keep
// parallel processors off the same events.
func (r *outboxRepository) GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE status = 'pending'
		AND (retry_at IS NULL OR retry_at <= NOW())
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	events := []*model.OutboxEvent{}
	if err := r.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, mapError(err, "failed to get pending events")
	}
	return events, nil
}

func (r *outboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	query := `
		UPDATE outbox_events
		SET status = $1,
			error_message = $2,
			retry_at = $4,
			retry_count = retry_count + CASE WHEN $2::text IS NULL THEN 0 ELSE 1 END,
			processed_at = CASE WHEN $1 = 'processed' THEN NOW() ELSE processed_at END,
			updated_at = NOW()
		WHERE id = $3
	`
	result, err := r.db.ExecContext(ctx, query, status, errorMessage, id, retryAt)
	if err != nil {
		return mapError(err, "failed to update outbox event")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.NewNotFound("outbox event", nil)
	}
	return nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM outbox_events
		WHERE status = 'processed'
		AND processed_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}
	return result.RowsAffected()
}
