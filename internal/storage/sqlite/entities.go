package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scan-intel/backend/internal/storage/models"
)

// Upserts overwrite a stored column only when the incoming value is usable:
// empty names and tickers, NULL optional columns and older timestamps never
// clobber what is already there. Parent references are the exception: an
// organization record from upstream is authoritative about its alliance, and
// a pilot record carrying an organization is authoritative about its alliance.

const pilotColumns = `id, name, organization_id, alliance_id, security_status, birthday, last_seen, updated_at, deleted_at, esi_cache_expires`

const upsertPilotQuery = `
	INSERT INTO pilots (` + pilotColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE pilots.name END,
		organization_id = COALESCE(excluded.organization_id, pilots.organization_id),
		alliance_id = CASE WHEN excluded.organization_id IS NOT NULL THEN excluded.alliance_id ELSE pilots.alliance_id END,
		security_status = COALESCE(excluded.security_status, pilots.security_status),
		birthday = COALESCE(excluded.birthday, pilots.birthday),
		last_seen = MAX(pilots.last_seen, excluded.last_seen),
		updated_at = MAX(pilots.updated_at, excluded.updated_at),
		deleted_at = COALESCE(excluded.deleted_at, pilots.deleted_at),
		esi_cache_expires = COALESCE(excluded.esi_cache_expires, pilots.esi_cache_expires)
`

const organizationColumns = `id, name, ticker, alliance_id, member_count, npc, last_seen, updated_at`

const upsertOrganizationQuery = `
	INSERT INTO organizations (` + organizationColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE organizations.name END,
		ticker = CASE WHEN excluded.ticker <> '' THEN excluded.ticker ELSE organizations.ticker END,
		alliance_id = excluded.alliance_id,
		member_count = COALESCE(excluded.member_count, organizations.member_count),
		npc = excluded.npc,
		last_seen = MAX(organizations.last_seen, excluded.last_seen),
		updated_at = MAX(organizations.updated_at, excluded.updated_at)
`

const allianceColumns = `id, name, ticker, executor_organization_id, last_seen, updated_at`

const upsertAllianceQuery = `
	INSERT INTO alliances (` + allianceColumns + `)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE alliances.name END,
		ticker = CASE WHEN excluded.ticker <> '' THEN excluded.ticker ELSE alliances.ticker END,
		executor_organization_id = COALESCE(excluded.executor_organization_id, alliances.executor_organization_id),
		last_seen = MAX(alliances.last_seen, excluded.last_seen),
		updated_at = MAX(alliances.updated_at, excluded.updated_at)
`

func tableFor(kind models.Kind) (string, error) {
	switch kind {
	case models.KindPilot:
		return "pilots", nil
	case models.KindOrganization:
		return "organizations", nil
	case models.KindAlliance:
		return "alliances", nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", kind)
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPilot(row rowScanner) (models.Pilot, error) {
	var p models.Pilot
	var lastSeen, updatedAt int64
	var birthday, deletedAt, cacheExpires sql.NullInt64

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.OrganizationID,
		&p.AllianceID,
		&p.SecurityStatus,
		&birthday,
		&lastSeen,
		&updatedAt,
		&deletedAt,
		&cacheExpires,
	)
	if err != nil {
		return p, err
	}

	p.Birthday = nullTimeFrom(birthday)
	p.LastSeen = fromUnix(lastSeen)
	p.UpdatedAt = fromUnix(updatedAt)
	p.DeletedAt = nullTimeFrom(deletedAt)
	p.ESICacheExpires = nullTimeFrom(cacheExpires)
	return p, nil
}

func scanOrganization(row rowScanner) (models.Organization, error) {
	var o models.Organization
	var npc int
	var lastSeen, updatedAt int64

	err := row.Scan(&o.ID, &o.Name, &o.Ticker, &o.AllianceID, &o.MemberCount, &npc, &lastSeen, &updatedAt)
	if err != nil {
		return o, err
	}

	o.NPC = npc == 1
	o.LastSeen = fromUnix(lastSeen)
	o.UpdatedAt = fromUnix(updatedAt)
	return o, nil
}

func scanAlliance(row rowScanner) (models.Alliance, error) {
	var a models.Alliance
	var lastSeen, updatedAt int64

	err := row.Scan(&a.ID, &a.Name, &a.Ticker, &a.ExecutorOrganization, &lastSeen, &updatedAt)
	if err != nil {
		return a, err
	}

	a.LastSeen = fromUnix(lastSeen)
	a.UpdatedAt = fromUnix(updatedAt)
	return a, nil
}

func queryAll[T any](ctx context.Context, db *sql.DB, query string, args []interface{}, scan func(rowScanner) (T, error)) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func queryByIDs[T any](ctx context.Context, db *sql.DB, columns, table string, ids []int64, scan func(rowScanner) (T, error)) ([]T, error) {
	var out []T
	for _, chunk := range chunkIDs(ids, maxParams) {
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE id IN (%s)`, columns, table, placeholders(len(chunk)))
		items, err := queryAll(ctx, db, query, int64Args(chunk), scan)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

func (c *Client) execBatch(ctx context.Context, query string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, args := range rows {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (c *Client) GetPilotsByIDs(ctx context.Context, ids []int64) ([]models.Pilot, error) {
	pilots, err := queryByIDs(ctx, c.db, pilotColumns, "pilots", ids, scanPilot)
	if err != nil {
		return nil, fmt.Errorf("failed to get pilots: %w", err)
	}
	return pilots, nil
}

// GetPilotsByNames matches names case-insensitively.
func (c *Client) GetPilotsByNames(ctx context.Context, names []string) ([]models.Pilot, error) {
	var out []models.Pilot
	for start := 0; start < len(names); start += maxParams {
		end := start + maxParams
		if end > len(names) {
			end = len(names)
		}
		chunk := names[start:end]

		args := make([]interface{}, len(chunk))
		for i, n := range chunk {
			args[i] = n
		}

		query := fmt.Sprintf(`SELECT %s FROM pilots WHERE name IN (%s)`, pilotColumns, placeholders(len(chunk)))
		pilots, err := queryAll(ctx, c.db, query, args, scanPilot)
		if err != nil {
			return nil, fmt.Errorf("failed to get pilots by name: %w", err)
		}
		out = append(out, pilots...)
	}
	return out, nil
}

func (c *Client) GetAllPilots(ctx context.Context) ([]models.Pilot, error) {
	pilots, err := queryAll(ctx, c.db, `SELECT `+pilotColumns+` FROM pilots`, nil, scanPilot)
	if err != nil {
		return nil, fmt.Errorf("failed to get all pilots: %w", err)
	}
	return pilots, nil
}

func (c *Client) UpsertPilots(ctx context.Context, pilots []models.Pilot) error {
	rows := make([][]interface{}, 0, len(pilots))
	for _, p := range pilots {
		rows = append(rows, []interface{}{
			p.ID,
			p.Name,
			nullInt64Arg(p.OrganizationID),
			nullInt64Arg(p.AllianceID),
			nullFloat64Arg(p.SecurityStatus),
			nullTimeArg(p.Birthday),
			unixOrZero(p.LastSeen),
			unixOrZero(p.UpdatedAt),
			nullTimeArg(p.DeletedAt),
			nullTimeArg(p.ESICacheExpires),
		})
	}

	if err := c.execBatch(ctx, upsertPilotQuery, rows); err != nil {
		return fmt.Errorf("failed to upsert pilots: %w", err)
	}

	c.logger.Debug("Pilots upserted", zap.Int("count", len(pilots)))
	return nil
}

// SoftDeletePilot moves a pilot into the deleted organization and drops its
// alliance. It is a no-op for pilots that were never stored.
func (c *Client) SoftDeletePilot(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE pilots SET
			organization_id = ?,
			alliance_id = NULL,
			deleted_at = ?,
			updated_at = MAX(updated_at, ?)
		WHERE id = ?
	`

	res, err := c.db.ExecContext(ctx, query, models.DeletedOrganizationID, at.Unix(), at.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to soft delete pilot: %w", err)
	}

	affected, _ := res.RowsAffected()
	c.logger.Info("Pilot soft deleted", zap.Int64("pilot_id", id), zap.Int64("rows", affected))
	return nil
}

func (c *Client) GetOrganizationsByIDs(ctx context.Context, ids []int64) ([]models.Organization, error) {
	orgs, err := queryByIDs(ctx, c.db, organizationColumns, "organizations", ids, scanOrganization)
	if err != nil {
		return nil, fmt.Errorf("failed to get organizations: %w", err)
	}
	return orgs, nil
}

func (c *Client) GetAllOrganizations(ctx context.Context) ([]models.Organization, error) {
	orgs, err := queryAll(ctx, c.db, `SELECT `+organizationColumns+` FROM organizations`, nil, scanOrganization)
	if err != nil {
		return nil, fmt.Errorf("failed to get all organizations: %w", err)
	}
	return orgs, nil
}

func (c *Client) UpsertOrganizations(ctx context.Context, orgs []models.Organization) error {
	rows := make([][]interface{}, 0, len(orgs))
	for _, o := range orgs {
		rows = append(rows, []interface{}{
			o.ID,
			o.Name,
			o.Ticker,
			nullInt64Arg(o.AllianceID),
			nullInt64Arg(o.MemberCount),
			boolInt(o.NPC),
			unixOrZero(o.LastSeen),
			unixOrZero(o.UpdatedAt),
		})
	}

	if err := c.execBatch(ctx, upsertOrganizationQuery, rows); err != nil {
		return fmt.Errorf("failed to upsert organizations: %w", err)
	}

	c.logger.Debug("Organizations upserted", zap.Int("count", len(orgs)))
	return nil
}

func (c *Client) GetAlliancesByIDs(ctx context.Context, ids []int64) ([]models.Alliance, error) {
	alliances, err := queryByIDs(ctx, c.db, allianceColumns, "alliances", ids, scanAlliance)
	if err != nil {
		return nil, fmt.Errorf("failed to get alliances: %w", err)
	}
	return alliances, nil
}

func (c *Client) GetAllAlliances(ctx context.Context) ([]models.Alliance, error) {
	alliances, err := queryAll(ctx, c.db, `SELECT `+allianceColumns+` FROM alliances`, nil, scanAlliance)
	if err != nil {
		return nil, fmt.Errorf("failed to get all alliances: %w", err)
	}
	return alliances, nil
}

func (c *Client) UpsertAlliances(ctx context.Context, alliances []models.Alliance) error {
	rows := make([][]interface{}, 0, len(alliances))
	for _, a := range alliances {
		rows = append(rows, []interface{}{
			a.ID,
			a.Name,
			a.Ticker,
			nullInt64Arg(a.ExecutorOrganization),
			unixOrZero(a.LastSeen),
			unixOrZero(a.UpdatedAt),
		})
	}

	if err := c.execBatch(ctx, upsertAllianceQuery, rows); err != nil {
		return fmt.Errorf("failed to upsert alliances: %w", err)
	}

	c.logger.Debug("Alliances upserted", zap.Int("count", len(alliances)))
	return nil
}

// TouchLastSeen bumps last_seen for the given ids; it never moves it backwards.
func (c *Client) TouchLastSeen(ctx context.Context, kind models.Kind, ids []int64, at time.Time) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	for _, chunk := range chunkIDs(ids, maxParams) {
		query := fmt.Sprintf(`UPDATE %s SET last_seen = MAX(last_seen, ?) WHERE id IN (%s)`, table, placeholders(len(chunk)))
		args := append([]interface{}{at.Unix()}, int64Args(chunk)...)
		if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to touch last seen for %s: %w", kind, err)
		}
	}
	return nil
}
