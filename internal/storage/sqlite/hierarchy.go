package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/scan-intel/backend/internal/storage/models"
)

func (c *Client) GetHierarchy(ctx context.Context, typeIDs []int64) (map[int64]models.HierarchyRecord, error) {
	out := make(map[int64]models.HierarchyRecord, len(typeIDs))

	for _, chunk := range chunkIDs(typeIDs, maxParams) {
		query := fmt.Sprintf(`
			SELECT t.id, t.name, t.mass, g.id, g.name, g.anchorable, g.anchored, cat.id, cat.name
			FROM inv_types t
			JOIN inv_groups g ON g.id = t.group_id
			JOIN inv_categories cat ON cat.id = g.category_id
			WHERE t.id IN (%s)
		`, placeholders(len(chunk)))

		rows, err := c.db.QueryContext(ctx, query, int64Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("failed to get hierarchy: %w", err)
		}

		for rows.Next() {
			var r models.HierarchyRecord
			var anchorable, anchored int
			err := rows.Scan(&r.TypeID, &r.TypeName, &r.Mass, &r.GroupID, &r.GroupName, &anchorable, &anchored, &r.CategoryID, &r.CategoryName)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan row: %w", err)
			}
			r.Anchorable = anchorable == 1
			r.Anchored = anchored == 1
			out[r.TypeID] = r
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read hierarchy rows: %w", err)
		}
		rows.Close()
	}

	return out, nil
}

// GetSystemByName returns nil without error when the catalog has no match.
func (c *Client) GetSystemByName(ctx context.Context, name string) (*models.SolarSystem, error) {
	query := `
		SELECT id, name, constellation_id, constellation_name, region_id, region_name, security
		FROM map_systems WHERE name = ?
	`

	var s models.SolarSystem
	err := c.db.QueryRowContext(ctx, query, name).Scan(
		&s.ID,
		&s.Name,
		&s.ConstellationID,
		&s.ConstellationName,
		&s.RegionID,
		&s.RegionName,
		&s.Security,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get system: %w", err)
	}
	return &s, nil
}

// UpsertTypes seeds categories, groups and types from denormalized records.
// It is the landing point for the offline static-data import.
func (c *Client) UpsertTypes(ctx context.Context, records []models.HierarchyRecord) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO inv_categories (id, name) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
			r.CategoryID, r.CategoryName,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert category %d: %w", r.CategoryID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO inv_groups (id, category_id, name, anchorable, anchored) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				category_id = excluded.category_id,
				name = excluded.name,
				anchorable = excluded.anchorable,
				anchored = excluded.anchored`,
			r.GroupID, r.CategoryID, r.GroupName, boolInt(r.Anchorable), boolInt(r.Anchored),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert group %d: %w", r.GroupID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO inv_types (id, group_id, name, mass) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET group_id = excluded.group_id, name = excluded.name, mass = excluded.mass`,
			r.TypeID, r.GroupID, r.TypeName, r.Mass,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert type %d: %w", r.TypeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit types: %w", err)
	}

	c.logger.Info("Hierarchy types upserted", zap.Int("count", len(records)))
	return nil
}

func (c *Client) UpsertSystems(ctx context.Context, systems []models.SolarSystem) error {
	query := `
		INSERT INTO map_systems (id, name, constellation_id, constellation_name, region_id, region_name, security)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			constellation_id = excluded.constellation_id,
			constellation_name = excluded.constellation_name,
			region_id = excluded.region_id,
			region_name = excluded.region_name,
			security = excluded.security
	`

	rows := make([][]interface{}, 0, len(systems))
	for _, s := range systems {
		rows = append(rows, []interface{}{s.ID, s.Name, s.ConstellationID, s.ConstellationName, s.RegionID, s.RegionName, s.Security})
	}

	if err := c.execBatch(ctx, query, rows); err != nil {
		return fmt.Errorf("failed to upsert systems: %w", err)
	}
	return nil
}
