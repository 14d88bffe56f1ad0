package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// recentScanLimit bounds how much scan history is kept visible
const recentScanLimit = 10

// ScanRecord is a completed manifest scan
type ScanRecord struct {
	ID        uuid.UUID  `db:"id"`
	SheetID   string     `db:"sheet_id"`
	Total     int        `db:"total"`
	Found     int        `db:"found"`
	NotFound  int        `db:"not_found"`
	ScannedAt time.Time  `db:"scanned_at"`
	Items     []ScanItem `db:"-"`
}

// ScanItem is one product row resolved during a scan
type ScanItem struct {
	ProductName string `db:"product_name"`
	OptionName  string `db:"option_name"`
	Quantity    string `db:"quantity"`
	Matched     bool   `db:"matched"`
	Location    string `db:"location"`
}

// ScanStats aggregates match counts across the stored history
type ScanStats struct {
	TotalScans    int64 `db:"total_scans"`
	TotalItems    int64 `db:"total_items"`
	TotalFound    int64 `db:"total_found"`
	TotalNotFound int64 `db:"total_not_found"`
}

// ScanRepository persists scan history and items
type ScanRepository struct {
	db *DB
}

// NewScanRepository creates a new scan repository
func NewScanRepository(db *DB) *ScanRepository {
	return &ScanRepository{db: db}
}

// SaveScan inserts a scan with its items in a single transaction. The
// provided outbox events are inserted in the same transaction so they are
// only relayed if the scan itself commits.
func (r *ScanRepository) SaveScan(ctx context.Context, scan *ScanRecord, events ...*OutboxEvent) error {
	if scan.ID == uuid.Nil {
		scan.ID = uuid.New()
	}
	if scan.ScannedAt.IsZero() {
		scan.ScannedAt = time.Now()
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO scans (
				id, sheet_id, total, found, not_found, scanned_at
			) VALUES (
				$1, $2, $3, $4, $5, $6
			)`

		_, err := tx.Exec(ctx, query,
			scan.ID, scan.SheetID, scan.Total, scan.Found, scan.NotFound, scan.ScannedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert scan: %w", err)
		}

		itemQuery := `
			INSERT INTO scan_items (
				scan_id, product_name, option_name, quantity, matched, location
			) VALUES (
				$1, $2, $3, $4, $5, $6
			)`

		for _, item := range scan.Items {
			_, err := tx.Exec(ctx, itemQuery,
				scan.ID, item.ProductName, item.OptionName, item.Quantity,
				item.Matched, item.Location,
			)
			if err != nil {
				return fmt.Errorf("failed to insert scan item: %w", err)
			}
		}

		outbox := NewOutboxRepository(r.db)
		for _, event := range events {
			if event.ScanID == "" {
				event.ScanID = scan.ID.String()
			}
			if err := outbox.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
		}

		return nil
	})
}

// RecentScans returns the most recent scans, newest first, capped at the
// history limit. Items are not loaded.
func (r *ScanRepository) RecentScans(ctx context.Context) ([]*ScanRecord, error) {
	query := `
		SELECT id, sheet_id, total, found, not_found, scanned_at
		FROM scans
		ORDER BY scanned_at DESC
		LIMIT $1`

	rows, err := r.db.pool.Query(ctx, query, recentScanLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent scans: %w", err)
	}
	defer rows.Close()

	var scans []*ScanRecord
	for rows.Next() {
		scan := &ScanRecord{}
		err := rows.Scan(
			&scan.ID, &scan.SheetID, &scan.Total, &scan.Found,
			&scan.NotFound, &scan.ScannedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		scans = append(scans, scan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return scans, nil
}

// GetScan loads a single scan with its items
func (r *ScanRepository) GetScan(ctx context.Context, id uuid.UUID) (*ScanRecord, error) {
	query := `
		SELECT id, sheet_id, total, found, not_found, scanned_at
		FROM scans
		WHERE id = $1`

	scan := &ScanRecord{}
	err := r.db.pool.QueryRow(ctx, query, id).Scan(
		&scan.ID, &scan.SheetID, &scan.Total, &scan.Found,
		&scan.NotFound, &scan.ScannedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}

	itemQuery := `
		SELECT product_name, option_name, quantity, matched, location
		FROM scan_items
		WHERE scan_id = $1
		ORDER BY id ASC`

	rows, err := r.db.pool.Query(ctx, itemQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get scan items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item ScanItem
		err := rows.Scan(
			&item.ProductName, &item.OptionName, &item.Quantity,
			&item.Matched, &item.Location,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		scan.Items = append(scan.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return scan, nil
}

// Stats aggregates counts over all stored scans
func (r *ScanRepository) Stats(ctx context.Context) (*ScanStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(total), 0),
			COALESCE(SUM(found), 0),
			COALESCE(SUM(not_found), 0)
		FROM scans`

	stats := &ScanStats{}
	err := r.db.pool.QueryRow(ctx, query).Scan(
		&stats.TotalScans, &stats.TotalItems, &stats.TotalFound, &stats.TotalNotFound,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get scan stats: %w", err)
	}

	return stats, nil
}
