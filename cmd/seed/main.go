package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scan-intel/backend/internal/storage/models"
	"github.com/scan-intel/backend/internal/storage/sqlite"
	"github.com/scan-intel/backend/pkg/config"
	appLogger "github.com/scan-intel/backend/pkg/logger"
)

// typeRow is one line of an exported inventory dump.
type typeRow struct {
	TypeID       int64   `json:"type_id"`
	TypeName     string  `json:"type_name"`
	Mass         float64 `json:"mass"`
	GroupID      int64   `json:"group_id"`
	GroupName    string  `json:"group_name"`
	Anchorable   bool    `json:"anchorable"`
	Anchored     bool    `json:"anchored"`
	CategoryID   int64   `json:"category_id"`
	CategoryName string  `json:"category_name"`
}

type systemRow struct {
	ID                int64   `json:"id"`
	Name              string  `json:"name"`
	ConstellationID   int64   `json:"constellation_id"`
	ConstellationName string  `json:"constellation_name"`
	RegionID          int64   `json:"region_id"`
	RegionName        string  `json:"region_name"`
	Security          float64 `json:"security"`
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dbPath, typesPath, systemsPath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the static type and solar system catalog into the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if typesPath == "" && systemsPath == "" {
				return fmt.Errorf("nothing to seed: pass --types and/or --systems")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
				return err
			}
			defer appLogger.Sync()

			if dbPath == "" {
				dbPath = cfg.SQLite.Path
			}
			return run(cmd.Context(), dbPath, typesPath, systemsPath)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite path (defaults to sqlite.path from config)")
	cmd.Flags().StringVar(&typesPath, "types", "", "JSON array of type rows")
	cmd.Flags().StringVar(&systemsPath, "systems", "", "JSON array of solar system rows")
	return cmd
}

func run(ctx context.Context, dbPath, typesPath, systemsPath string) error {
	store, err := sqlite.NewClient(dbPath, appLogger.Named("sqlite"))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.InitSchema(ctx); err != nil {
		return err
	}

	if typesPath != "" {
		var rows []typeRow
		if err := readJSON(typesPath, &rows); err != nil {
			return err
		}
		records := make([]models.HierarchyRecord, 0, len(rows))
		for _, r := range rows {
			records = append(records, models.HierarchyRecord(r))
		}
		if err := store.UpsertTypes(ctx, records); err != nil {
			return err
		}
		appLogger.Info("Types seeded", zap.Int("count", len(records)))
	}

	if systemsPath != "" {
		var rows []systemRow
		if err := readJSON(systemsPath, &rows); err != nil {
			return err
		}
		systems := make([]models.SolarSystem, 0, len(rows))
		for _, r := range rows {
			systems = append(systems, models.SolarSystem(r))
		}
		if err := store.UpsertSystems(ctx, systems); err != nil {
			return err
		}
		appLogger.Info("Solar systems seeded", zap.Int("count", len(systems)))
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
