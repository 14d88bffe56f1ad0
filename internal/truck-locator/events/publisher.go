package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Aji945/shopee-taken/internal/database"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeScanCompleted is published when a manifest scan finishes
	EventTypeScanCompleted EventType = "SCAN_COMPLETED"
)

// ScanCompletedPayload is the payload for a SCAN_COMPLETED event
type ScanCompletedPayload struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	ScanID    string    `json:"scan_id"`
	SheetID   string    `json:"sheet_id"`
	Total     int       `json:"total"`
	Found     int       `json:"found"`
	NotFound  int       `json:"not_found"`
	Source    string    `json:"source"`
}

// Publisher publishes events through the transactional outbox
type Publisher struct {
	db     *database.DB
	outbox *database.OutboxRepository
	logger *slog.Logger
}

// NewPublisher creates a new event publisher
func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:     db,
		outbox: database.NewOutboxRepository(db),
		logger: logger.With("component", "event_publisher"),
	}
}

// ScanCompletedEvent builds an outbox event for a finished scan. The caller
// inserts it alongside the scan record so both commit atomically.
func ScanCompletedEvent(payload *ScanCompletedPayload) (*database.OutboxEvent, error) {
	fillDefaults(payload)

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &database.OutboxEvent{
		ScanID:       payload.ScanID,
		EventType:    string(EventTypeScanCompleted),
		Payload:      data,
		TargetStream: database.DefaultScanStream,
	}, nil
}

// PublishScanCompleted writes a SCAN_COMPLETED event to the outbox in its
// own transaction, for callers that do not persist scan history.
func (p *Publisher) PublishScanCompleted(ctx context.Context, payload *ScanCompletedPayload) error {
	outboxEvent, err := ScanCompletedEvent(payload)
	if err != nil {
		return err
	}

	err = p.db.WithTx(ctx, func(tx pgx.Tx) error {
		return p.outbox.InsertWithTx(ctx, tx, outboxEvent)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"scan_id", payload.ScanID,
		"outbox_id", outboxEvent.ID,
	)

	return nil
}

func fillDefaults(payload *ScanCompletedPayload) {
	if payload.EventID == "" {
		payload.EventID = uuid.New().String()
	}
	if payload.EventType == "" {
		payload.EventType = string(EventTypeScanCompleted)
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	if payload.Source == "" {
		payload.Source = "truck-locator"
	}
}
