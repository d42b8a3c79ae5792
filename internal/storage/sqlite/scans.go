package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scan-intel/backend/internal/storage/models"
)

var ErrScanNotFound = errors.New("scan not found")

func (c *Client) InsertScan(ctx context.Context, scan *models.ScanRecord) error {
	if scan.CreatedAt.IsZero() {
		scan.CreatedAt = c.now()
	}

	query := `INSERT INTO scans (id, kind, content_hash, report, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query, scan.ID, scan.Kind, scan.ContentHash, scan.Report, scan.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert scan: %w", err)
	}

	c.logger.Debug("Scan stored", zap.String("scan_id", scan.ID), zap.String("kind", scan.Kind))
	return nil
}

func (c *Client) GetScan(ctx context.Context, id string) (*models.ScanRecord, error) {
	query := `SELECT id, kind, content_hash, report, created_at FROM scans WHERE id = ?`

	var s models.ScanRecord
	var createdAt int64
	err := c.db.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.Kind, &s.ContentHash, &s.Report, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}

	s.CreatedAt = time.Unix(createdAt, 0)
	return &s, nil
}
