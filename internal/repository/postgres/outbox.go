package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/model"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/repository"
)

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		return insertOutboxEvent(ctx, tx, event)
	})
}

func insertOutboxEvent(ctx context.Context, tx *sqlx.Tx, event *model.OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.CreatedAt = time.Now()
	event.UpdatedAt = time.Now()
	event.Status = string(model.OutboxStatusPending)

	query := `
		INSERT INTO outbox_events (
			id, event_type, payload, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := tx.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.Payload,
		event.Status,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

func (r *outboxRepository) GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	query := `
		SELECT id, event_type, payload, status, error_message, retry_count, created_at, processed_at, updated_at, retry_at
		FROM outbox_events
		WHERE status IN ('pending', 'retry')
		AND (retry_at IS NULL OR retry_at <= NOW())
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`
	var events []*model.OutboxEvent
	err := r.db.SelectContext(ctx, &events, query, limit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return events, err
}

func (r *outboxRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

func (r *outboxRepository) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, status string, errorMessage *string, retryAt *time.Time) error {
	query := `
		UPDATE outbox_events
		SET status = $1,
			error_message = $2,
			retry_at = $4,
			retry_count = retry_count + CASE WHEN $1 = 'retry' THEN 1 ELSE 0 END,
			processed_at = CASE WHEN $1 = 'processed' THEN NOW() ELSE processed_at END,
			updated_at = NOW()
		WHERE id = $3
	`
	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, status, errorMessage, id, retryAt)
	} else {
		_, err = r.db.ExecContext(ctx, query, status, errorMessage, id, retryAt)
	}
	return err
}

func (r *outboxRepository) MoveToDeadLetter(ctx context.Context, tx *sql.Tx, evt *model.OutboxEvent) error {
	query := `
		INSERT INTO outbox_events_deadletter (
			event_id, event_type, payload, error_message,
			retry_count, last_retry_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, evt.ID, evt.EventType, evt.Payload,
			evt.ErrorMessage, evt.RetryCount, evt.RetryAt)
	} else {
		_, err = r.db.ExecContext(ctx, query, evt.ID, evt.EventType, evt.Payload,
			evt.ErrorMessage, evt.RetryCount, evt.RetryAt)
	}
	return err
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
