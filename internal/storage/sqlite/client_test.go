package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/scan-intel/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	c, err := NewClient(":memory:", nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	if err := c.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return c
}

func TestUpsertPilots_InsertThenUpdate(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	err := c.UpsertPilots(ctx, []models.Pilot{{
		ID:             90000001,
		Name:           "Alpha Pilot",
		OrganizationID: sql.NullInt64{Int64: 98000001, Valid: true},
		AllianceID:     sql.NullInt64{Int64: 99000001, Valid: true},
		SecurityStatus: sql.NullFloat64{Float64: 1.5, Valid: true},
		LastSeen:       t0,
		UpdatedAt:      t0,
	}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Affiliation-only refresh: empty name, no security status, no alliance.
	err = c.UpsertPilots(ctx, []models.Pilot{{
		ID:             90000001,
		OrganizationID: sql.NullInt64{Int64: 98000002, Valid: true},
		UpdatedAt:      t0.Add(time.Hour),
	}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	pilots, err := c.GetPilotsByIDs(ctx, []int64{90000001})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(pilots) != 1 {
		t.Fatalf("expected 1 pilot, got %d", len(pilots))
	}

	p := pilots[0]
	if p.Name != "Alpha Pilot" {
		t.Errorf("name was clobbered: %q", p.Name)
	}
	if p.OrganizationID.Int64 != 98000002 {
		t.Errorf("organization not updated: %v", p.OrganizationID)
	}
	if p.AllianceID.Valid {
		t.Errorf("alliance should be cleared when organization changes without one, got %v", p.AllianceID)
	}
	if !p.SecurityStatus.Valid || p.SecurityStatus.Float64 != 1.5 {
		t.Errorf("security status was clobbered: %v", p.SecurityStatus)
	}
	if !p.LastSeen.Equal(t0) {
		t.Errorf("last_seen moved: %v", p.LastSeen)
	}
	if !p.UpdatedAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("updated_at not advanced: %v", p.UpdatedAt)
	}
}

func TestUpsertPilots_UpdatedAtNeverMovesBackwards(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	_ = c.UpsertPilots(ctx, []models.Pilot{{ID: 1, Name: "A", UpdatedAt: t0}})
	_ = c.UpsertPilots(ctx, []models.Pilot{{ID: 1, Name: "A", UpdatedAt: t0.Add(-time.Hour)}})

	pilots, _ := c.GetPilotsByIDs(ctx, []int64{1})
	if !pilots[0].UpdatedAt.Equal(t0) {
		t.Fatalf("updated_at regressed to %v", pilots[0].UpdatedAt)
	}
}

func TestGetPilotsByNames_CaseInsensitive(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_ = c.UpsertPilots(ctx, []models.Pilot{{ID: 7, Name: "Some Pilot"}})

	pilots, err := c.GetPilotsByNames(ctx, []string{"some pilot", "nobody"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(pilots) != 1 || pilots[0].ID != 7 {
		t.Fatalf("expected pilot 7, got %+v", pilots)
	}
}

func TestSoftDeletePilot(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	_ = c.UpsertPilots(ctx, []models.Pilot{{
		ID:             5,
		Name:           "Gone",
		OrganizationID: sql.NullInt64{Int64: 98000001, Valid: true},
		AllianceID:     sql.NullInt64{Int64: 99000001, Valid: true},
	}})

	if err := c.SoftDeletePilot(ctx, 5, now); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	pilots, _ := c.GetPilotsByIDs(ctx, []int64{5})
	p := pilots[0]
	if p.OrganizationID.Int64 != models.DeletedOrganizationID {
		t.Errorf("expected deleted organization, got %v", p.OrganizationID)
	}
	if p.AllianceID.Valid {
		t.Errorf("alliance should be cleared, got %v", p.AllianceID)
	}
	if !p.DeletedAt.Valid || !p.DeletedAt.Time.Equal(now) {
		t.Errorf("deleted_at not stamped: %v", p.DeletedAt)
	}
}

func TestTouchLastSeen(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	_ = c.UpsertAlliances(ctx, []models.Alliance{{ID: 99, Name: "Alliance", Ticker: "ALL", LastSeen: t0}})

	if err := c.TouchLastSeen(ctx, models.KindAlliance, []int64{99}, t0.Add(time.Hour)); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := c.TouchLastSeen(ctx, models.KindAlliance, []int64{99}, t0); err != nil {
		t.Fatalf("touch: %v", err)
	}

	alliances, _ := c.GetAlliancesByIDs(ctx, []int64{99})
	if !alliances[0].LastSeen.Equal(t0.Add(time.Hour)) {
		t.Fatalf("expected last_seen to stay at the later time, got %v", alliances[0].LastSeen)
	}
}

func TestOrganizationsAndAlliances(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	err := c.UpsertOrganizations(ctx, []models.Organization{
		{ID: 10, Name: "Corp", Ticker: "CRP", AllianceID: sql.NullInt64{Int64: 20, Valid: true}},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	all, err := c.GetAllOrganizations(ctx)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	// Seeded deleted organization plus ours.
	if len(all) != 2 {
		t.Fatalf("expected 2 organizations, got %d", len(all))
	}

	orgs, _ := c.GetOrganizationsByIDs(ctx, []int64{models.DeletedOrganizationID})
	if len(orgs) != 1 || !orgs[0].NPC {
		t.Fatalf("expected NPC deleted organization, got %+v", orgs)
	}
}

func TestHierarchyAndSystems(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	err := c.UpsertTypes(ctx, []models.HierarchyRecord{
		{TypeID: 587, TypeName: "Rifter", Mass: 1067000, GroupID: 25, GroupName: "Frigate", CategoryID: 6, CategoryName: "Ship"},
	})
	if err != nil {
		t.Fatalf("upsert types: %v", err)
	}

	h, err := c.GetHierarchy(ctx, []int64{587, 1})
	if err != nil {
		t.Fatalf("get hierarchy: %v", err)
	}
	if len(h) != 1 || h[587].GroupName != "Frigate" || h[587].CategoryID != 6 {
		t.Fatalf("unexpected hierarchy: %+v", h)
	}

	err = c.UpsertSystems(ctx, []models.SolarSystem{
		{ID: 30000142, Name: "Jita", ConstellationID: 20000020, ConstellationName: "Kimotoro", RegionID: 10000002, RegionName: "The Forge", Security: 0.9},
	})
	if err != nil {
		t.Fatalf("upsert systems: %v", err)
	}

	sys, err := c.GetSystemByName(ctx, "jita")
	if err != nil || sys == nil || sys.RegionName != "The Forge" {
		t.Fatalf("expected Jita, got %+v (%v)", sys, err)
	}

	missing, err := c.GetSystemByName(ctx, "Nowhere")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown system, got %+v (%v)", missing, err)
	}
}

func TestScans(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	rec := &models.ScanRecord{ID: "abc", Kind: "directional", ContentHash: "h", Report: `{"x":1}`}
	if err := c.InsertScan(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := c.GetScan(ctx, "abc")
	if err != nil || got.Report != `{"x":1}` {
		t.Fatalf("unexpected scan %+v (%v)", got, err)
	}

	if _, err := c.GetScan(ctx, "missing"); !errors.Is(err, ErrScanNotFound) {
		t.Fatalf("expected ErrScanNotFound, got %v", err)
	}
}
