package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/scan-intel/backend/internal/storage/models"
)

// maxParams keeps IN (...) lists well under SQLite's bound-variable limit.
const maxParams = 500

type Client struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewClient(dbPath string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// In-memory databases are per connection.
	if strings.Contains(dbPath, ":memory:") || strings.Contains(dbPath, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	_, err = db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db, logger: logger, now: time.Now}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS alliances (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL COLLATE NOCASE,
		ticker TEXT NOT NULL DEFAULT '',
		executor_organization_id INTEGER,
		last_seen INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_alliances_name ON alliances(name);

	CREATE TABLE IF NOT EXISTS organizations (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL COLLATE NOCASE,
		ticker TEXT NOT NULL DEFAULT '',
		alliance_id INTEGER,
		member_count INTEGER,
		npc INTEGER NOT NULL DEFAULT 0,
		last_seen INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_organizations_alliance ON organizations(alliance_id);

	CREATE TABLE IF NOT EXISTS pilots (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL COLLATE NOCASE,
		organization_id INTEGER,
		alliance_id INTEGER,
		security_status REAL,
		birthday INTEGER,
		last_seen INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0,
		deleted_at INTEGER,
		esi_cache_expires INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_pilots_name ON pilots(name);
	CREATE INDEX IF NOT EXISTS idx_pilots_organization ON pilots(organization_id);

	CREATE TABLE IF NOT EXISTS inv_categories (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS inv_groups (
		id INTEGER PRIMARY KEY,
		category_id INTEGER NOT NULL REFERENCES inv_categories(id),
		name TEXT NOT NULL,
		anchorable INTEGER NOT NULL DEFAULT 0,
		anchored INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS inv_types (
		id INTEGER PRIMARY KEY,
		group_id INTEGER NOT NULL REFERENCES inv_groups(id),
		name TEXT NOT NULL,
		mass REAL NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_types_group ON inv_types(group_id);

	CREATE TABLE IF NOT EXISTS map_systems (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL COLLATE NOCASE,
		constellation_id INTEGER NOT NULL,
		constellation_name TEXT NOT NULL,
		region_id INTEGER NOT NULL,
		region_name TEXT NOT NULL,
		security REAL NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_systems_name ON map_systems(name);

	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		report TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scans_hash ON scans(content_hash);
	CREATE INDEX IF NOT EXISTS idx_scans_created ON scans(created_at);
	`

	_, err := c.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Soft-deleted pilots point here.
	_, err = c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO organizations (id, name, ticker, npc) VALUES (?, 'Doomheim', '666', 1)`,
		models.DeletedOrganizationID,
	)
	if err != nil {
		return fmt.Errorf("failed to seed deleted organization: %w", err)
	}

	c.logger.Info("SQLite schema initialized")
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func chunkIDs(ids []int64, size int) [][]int64 {
	var chunks [][]int64
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0)
}

func nullTimeArg(t sql.NullTime) interface{} {
	if !t.Valid {
		return nil
	}
	return t.Time.Unix()
}

func nullTimeFrom(v sql.NullInt64) sql.NullTime {
	if !v.Valid {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: time.Unix(v.Int64, 0), Valid: true}
}

func nullInt64Arg(v sql.NullInt64) interface{} {
	if !v.Valid {
		return nil
	}
	return v.Int64
}

func nullFloat64Arg(v sql.NullFloat64) interface{} {
	if !v.Valid {
		return nil
	}
	return v.Float64
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
