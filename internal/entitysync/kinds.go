package entitysync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scan-intel/backend/internal/storage/models"
)

func (s *Synchronizer) alliances() kindSync[models.Alliance] {
	return kindSync[models.Alliance]{
		kind:      models.KindAlliance,
		batchSize: s.cfg.AllianceBatch,
		loadAll:   s.store.GetAllAlliances,
		fetch:     s.fetchAlliance,
		write: func(ctx context.Context, records []models.Alliance) (int, error) {
			if err := s.store.UpsertAlliances(ctx, records); err != nil {
				return 0, err
			}
			return len(records), nil
		},
	}
}

func (s *Synchronizer) organizations() kindSync[models.Organization] {
	return kindSync[models.Organization]{
		kind:      models.KindOrganization,
		batchSize: s.cfg.OrganizationBatch,
		loadAll:   s.store.GetAllOrganizations,
		skip:      func(o models.Organization) bool { return o.ID == models.DeletedOrganizationID },
		fetch:     s.fetchOrganization,
		write:     s.writeOrganizations,
	}
}

func (s *Synchronizer) pilots() kindSync[models.Pilot] {
	return kindSync[models.Pilot]{
		kind:      models.KindPilot,
		batchSize: s.cfg.PilotBatch,
		loadAll:   s.store.GetAllPilots,
		skip:      func(p models.Pilot) bool { return p.DeletedAt.Valid },
		fetch: func(ctx context.Context, id int64, at time.Time) (*models.Pilot, error) {
			ch, err := s.upstream.Character(ctx, id)
			if err != nil || ch == nil {
				return nil, err
			}
			p := ch.ToPilot(id, at)
			return &p, nil
		},
		write: s.WritePilots,
	}
}

func (s *Synchronizer) fetchAlliance(ctx context.Context, id int64, at time.Time) (*models.Alliance, error) {
	a, err := s.upstream.Alliance(ctx, id)
	if err != nil {
		return nil, err
	}
	rec := a.ToAlliance(id, at)
	return &rec, nil
}

func (s *Synchronizer) fetchOrganization(ctx context.Context, id int64, at time.Time) (*models.Organization, error) {
	corp, err := s.upstream.Corporation(ctx, id)
	if err != nil {
		return nil, err
	}
	rec := corp.ToOrganization(id, at)
	return &rec, nil
}

// writeOrganizations creates any alliance the batch references but the store
// lacks, then writes the organizations whose alliance is now known.
func (s *Synchronizer) writeOrganizations(ctx context.Context, orgs []models.Organization) (int, error) {
	allianceIDs := make([]int64, 0, len(orgs))
	for _, o := range orgs {
		if o.AllianceID.Valid {
			allianceIDs = append(allianceIDs, o.AllianceID.Int64)
		}
	}

	known, err := s.EnsureAlliances(ctx, allianceIDs)
	if err != nil {
		return 0, err
	}

	keep := orgs[:0:0]
	for _, o := range orgs {
		if o.AllianceID.Valid && !known[o.AllianceID.Int64] {
			s.logger.Warn("Skipping organization with unresolved alliance",
				zap.Int64("organization_id", o.ID),
				zap.Int64("alliance_id", o.AllianceID.Int64),
			)
			continue
		}
		keep = append(keep, o)
	}

	if err := s.store.UpsertOrganizations(ctx, keep); err != nil {
		return 0, err
	}
	return len(keep), nil
}

// WritePilots upserts pilots after making sure their organizations and
// alliances exist. Pilots whose parents cannot be resolved are skipped and
// picked up again by a later run.
func (s *Synchronizer) WritePilots(ctx context.Context, pilots []models.Pilot) (int, error) {
	orgIDs := make([]int64, 0, len(pilots))
	allianceIDs := make([]int64, 0, len(pilots))
	for _, p := range pilots {
		if p.OrganizationID.Valid {
			orgIDs = append(orgIDs, p.OrganizationID.Int64)
		}
		if p.AllianceID.Valid {
			allianceIDs = append(allianceIDs, p.AllianceID.Int64)
		}
	}

	knownOrgs, err := s.EnsureOrganizations(ctx, orgIDs)
	if err != nil {
		return 0, err
	}
	knownAlliances, err := s.EnsureAlliances(ctx, allianceIDs)
	if err != nil {
		return 0, err
	}

	keep := pilots[:0:0]
	for _, p := range pilots {
		if p.OrganizationID.Valid && !knownOrgs[p.OrganizationID.Int64] {
			s.logger.Warn("Skipping pilot with unresolved organization",
				zap.Int64("pilot_id", p.ID),
				zap.Int64("organization_id", p.OrganizationID.Int64),
			)
			continue
		}
		if p.AllianceID.Valid && !knownAlliances[p.AllianceID.Int64] {
			s.logger.Warn("Skipping pilot with unresolved alliance",
				zap.Int64("pilot_id", p.ID),
				zap.Int64("alliance_id", p.AllianceID.Int64),
			)
			continue
		}
		keep = append(keep, p)
	}

	if err := s.store.UpsertPilots(ctx, keep); err != nil {
		return 0, err
	}
	return len(keep), nil
}

// EnsureAlliances fetches and stores the alliances in ids that the store does
// not have yet. It returns the set of ids that exist afterwards.
func (s *Synchronizer) EnsureAlliances(ctx context.Context, ids []int64) (map[int64]bool, error) {
	ids = distinct(ids)
	known := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return known, nil
	}

	existing, err := s.store.GetAlliancesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load alliances: %w", err)
	}
	for _, a := range existing {
		known[a.ID] = true
	}

	missing := missingIDs(ids, known)
	if len(missing) == 0 {
		return known, nil
	}

	at := s.now()
	fetched, _, err := fanOut(ctx, missing, func(ctx context.Context, id int64) (*models.Alliance, error) {
		return s.fetchAlliance(ctx, id, at)
	}, s.logMissing(models.KindAlliance))
	if err != nil {
		return nil, err
	}

	if err := s.store.UpsertAlliances(ctx, fetched); err != nil {
		return nil, fmt.Errorf("failed to store new alliances: %w", err)
	}
	for _, a := range fetched {
		known[a.ID] = true
	}
	return known, nil
}

// EnsureOrganizations is EnsureAlliances for organizations; new organizations
// have their own alliances ensured before they are written.
func (s *Synchronizer) EnsureOrganizations(ctx context.Context, ids []int64) (map[int64]bool, error) {
	ids = distinct(ids)
	known := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return known, nil
	}

	existing, err := s.store.GetOrganizationsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load organizations: %w", err)
	}
	for _, o := range existing {
		known[o.ID] = true
	}

	missing := missingIDs(ids, known)
	if len(missing) == 0 {
		return known, nil
	}

	at := s.now()
	fetched, _, err := fanOut(ctx, missing, func(ctx context.Context, id int64) (*models.Organization, error) {
		return s.fetchOrganization(ctx, id, at)
	}, s.logMissing(models.KindOrganization))
	if err != nil {
		return nil, err
	}

	if _, err := s.writeOrganizations(ctx, fetched); err != nil {
		return nil, fmt.Errorf("failed to store new organizations: %w", err)
	}

	stored, err := s.store.GetOrganizationsByIDs(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("failed to reload organizations: %w", err)
	}
	for _, o := range stored {
		known[o.ID] = true
	}
	return known, nil
}

func (s *Synchronizer) logMissing(kind models.Kind) func(id int64, err error) {
	return func(id int64, err error) {
		s.logger.Warn("Failed to resolve referenced entity",
			zap.String("kind", string(kind)),
			zap.Int64("id", id),
			zap.Error(err),
		)
	}
}

func distinct(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func missingIDs(ids []int64, known map[int64]bool) []int64 {
	var out []int64
	for _, id := range ids {
		if !known[id] {
			out = append(out, id)
		}
	}
	return out
}
