package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	// OutboxStatusPending indicates the event is waiting to be relayed
	OutboxStatusPending = "pending"
	// OutboxStatusRelayed indicates the event was published to its stream
	OutboxStatusRelayed = "relayed"
	// OutboxStatusFailed indicates the last relay attempt failed (will be retried)
	OutboxStatusFailed = "failed"
	// OutboxStatusDeadLetter indicates the event failed too many times
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRelayAttempts is the number of failures before moving to dead letter
	MaxRelayAttempts = 5

	// DefaultScanStream is the Redis stream scan events are relayed to
	DefaultScanStream = "stream:scan_results"
)

// OutboxEvent is a row in the transactional outbox. Events are inserted in
// the same transaction as the scan they describe and relayed asynchronously.
type OutboxEvent struct {
	ID           uuid.UUID       `db:"id"`
	ScanID       string          `db:"scan_id"`
	EventType    string          `db:"event_type"`
	Payload      json.RawMessage `db:"payload"`
	TargetStream string          `db:"target_stream"`
	Status       string          `db:"status"`
	Attempts     int             `db:"attempts"`
	LastError    *string         `db:"last_error"`
	CreatedAt    time.Time       `db:"created_at"`
	RelayedAt    *time.Time      `db:"relayed_at"`
	NextRetryAt  *time.Time      `db:"next_retry_at"`
}

// OutboxRepository handles outbox event persistence
type OutboxRepository struct {
	db *DB
}

// NewOutboxRepository creates a new outbox repository
func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// InsertWithTx inserts an event into the outbox within an existing transaction,
// so the event commits or rolls back together with the scan it belongs to.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		event.TargetStream = DefaultScanStream
	}

	now := time.Now()
	event.CreatedAt = now
	if event.NextRetryAt == nil {
		event.NextRetryAt = &now
	}

	query := `
		INSERT INTO scan_outbox (
			id, scan_id, event_type, payload,
			target_stream, status, attempts,
			created_at, next_retry_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)`

	_, err := tx.Exec(ctx, query,
		event.ID, event.ScanID, event.EventType, event.Payload,
		event.TargetStream, event.Status, event.Attempts,
		event.CreatedAt, event.NextRetryAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return nil
}

// GetPending retrieves events that are due for relaying, oldest first.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `
		SELECT
			id, scan_id, event_type, payload,
			target_stream, status, attempts,
			last_error, created_at, relayed_at, next_retry_at
		FROM scan_outbox
		WHERE status IN ($1, $2)
			AND next_retry_at <= $3
		ORDER BY created_at ASC
		LIMIT $4`

	rows, err := r.db.pool.Query(ctx, query,
		OutboxStatusPending, OutboxStatusFailed,
		time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		event := &OutboxEvent{}
		err := rows.Scan(
			&event.ID, &event.ScanID, &event.EventType, &event.Payload,
			&event.TargetStream, &event.Status, &event.Attempts,
			&event.LastError, &event.CreatedAt, &event.RelayedAt, &event.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return events, nil
}

// MarkRelayed marks an event as successfully published
func (r *OutboxRepository) MarkRelayed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE scan_outbox
		SET status = $1, relayed_at = $2
		WHERE id = $3`

	result, err := r.db.pool.Exec(ctx, query, OutboxStatusRelayed, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event as relayed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("event not found: %s", id)
	}

	return nil
}

// MarkFailed records a relay failure and schedules the next retry
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, relayErr error) error {
	var attempts int
	err := r.db.pool.QueryRow(ctx,
		"SELECT attempts FROM scan_outbox WHERE id = $1", id).Scan(&attempts)
	if err != nil {
		return fmt.Errorf("failed to get attempt count: %w", err)
	}

	attempts++
	errorMsg := relayErr.Error()

	status := OutboxStatusFailed
	nextRetryAt := nextRetryTime(attempts)

	if attempts >= MaxRelayAttempts {
		status = OutboxStatusDeadLetter
	}

	query := `
		UPDATE scan_outbox
		SET status = $1, attempts = $2, last_error = $3, next_retry_at = $4
		WHERE id = $5`

	_, err = r.db.pool.Exec(ctx, query, status, attempts, errorMsg, nextRetryAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}

	return nil
}

// nextRetryTime applies exponential backoff: 1s, 2s, 4s, ... capped at 5 minutes
func nextRetryTime(attempts int) time.Time {
	backoffSeconds := 1 << attempts
	if backoffSeconds > 300 {
		backoffSeconds = 300
	}
	return time.Now().Add(time.Duration(backoffSeconds) * time.Second)
}
