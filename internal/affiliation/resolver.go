package affiliation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scan-intel/backend/internal/esi"
	"github.com/scan-intel/backend/internal/metrics"
	"github.com/scan-intel/backend/internal/storage/models"
)

type Store interface {
	GetPilotsByNames(ctx context.Context, names []string) ([]models.Pilot, error)
	GetPilotsByIDs(ctx context.Context, ids []int64) ([]models.Pilot, error)
	GetOrganizationsByIDs(ctx context.Context, ids []int64) ([]models.Organization, error)
	GetAlliancesByIDs(ctx context.Context, ids []int64) ([]models.Alliance, error)
	TouchLastSeen(ctx context.Context, kind models.Kind, ids []int64, at time.Time) error
}

type Upstream interface {
	ResolveNames(ctx context.Context, names []string) (*esi.NameResolution, error)
	Affiliations(ctx context.Context, characterIDs []int64) ([]esi.Affiliation, error)
	Character(ctx context.Context, id int64) (*esi.Character, error)
}

// PilotWriter stores pilots together with any organization or alliance they
// reference, returning how many were written.
type PilotWriter interface {
	WritePilots(ctx context.Context, pilots []models.Pilot) (int, error)
}

type Config struct {
	FreshFor     time.Duration
	ProfileBatch int
}

type Resolver struct {
	store    Store
	upstream Upstream
	writer   PilotWriter
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func NewResolver(store Store, upstream Upstream, writer PilotWriter, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.FreshFor <= 0 {
		cfg.FreshFor = 24 * time.Hour
	}
	if cfg.ProfileBatch <= 0 {
		cfg.ProfileBatch = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:    store,
		upstream: upstream,
		writer:   writer,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// ResolveByName returns the stored pilots for names, refreshing missing and
// stale ones from upstream first. Names that cannot be resolved are absent
// from the result. Upstream failures are absorbed; repository failures are
// returned.
func (r *Resolver) ResolveByName(ctx context.Context, names []string) ([]models.Pilot, error) {
	names = NormalizeNames(names)
	if len(names) == 0 {
		return nil, nil
	}

	stored, err := r.store.GetPilotsByNames(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("failed to load pilots: %w", err)
	}

	now := r.now()
	part := PartitionPilots(names, stored, now, r.cfg.FreshFor)

	metrics.ResolverPilotsTotal.WithLabelValues(string(Missing)).Add(float64(len(part.Missing)))
	metrics.ResolverPilotsTotal.WithLabelValues(string(StaleExpired)).Add(float64(len(part.StaleExpired)))
	metrics.ResolverPilotsTotal.WithLabelValues(string(StaleCached)).Add(float64(len(part.StaleCached)))
	metrics.ResolverPilotsTotal.WithLabelValues(string(Fresh)).Add(float64(len(part.Fresh)))

	r.logger.Info("Resolving pilots",
		zap.Int("requested", len(names)),
		zap.Int("missing", len(part.Missing)),
		zap.Int("stale_expired", len(part.StaleExpired)),
		zap.Int("stale_cached", len(part.StaleCached)),
		zap.Int("fresh", len(part.Fresh)),
	)

	var missingIDs, expiredIDs, cachedIDs []int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		missingIDs, err = r.refreshMissing(gctx, part.Missing, now)
		return err
	})
	g.Go(func() error {
		var err error
		expiredIDs, err = r.refreshProfiles(gctx, pilotIDs(part.StaleExpired), nil, now)
		return err
	})
	g.Go(func() error {
		var err error
		cachedIDs, err = r.refreshAffiliations(gctx, pilotIDs(part.StaleCached), now)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	refreshedIDs := make([]int64, 0, len(missingIDs)+len(expiredIDs)+len(cachedIDs))
	refreshedIDs = append(refreshedIDs, missingIDs...)
	refreshedIDs = append(refreshedIDs, expiredIDs...)
	refreshedIDs = append(refreshedIDs, cachedIDs...)

	refreshed, err := r.store.GetPilotsByIDs(ctx, refreshedIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to reload refreshed pilots: %w", err)
	}

	result := mergeByName(names, part.Fresh, refreshed)
	if err := r.touch(ctx, result, now); err != nil {
		return nil, err
	}
	return result, nil
}

// refreshMissing resolves unknown names to ids and stores full records.
func (r *Resolver) refreshMissing(ctx context.Context, names []string, at time.Time) ([]int64, error) {
	if len(names) == 0 {
		return nil, nil
	}

	resolved, err := r.upstream.ResolveNames(ctx, names)
	if err != nil {
		r.logger.Warn("Failed to resolve pilot names", zap.Int("names", len(names)), zap.Error(err))
		return nil, nil
	}

	ids := make([]int64, 0, len(resolved.Characters))
	nameByID := make(map[int64]string, len(resolved.Characters))
	for _, c := range resolved.Characters {
		ids = append(ids, c.ID)
		nameByID[c.ID] = c.Name
	}
	return r.refreshProfiles(ctx, ids, nameByID, at)
}

// refreshProfiles fetches profile and affiliation for ids, batch by batch.
// nameByID fills in names for pilots whose profile fetch failed.
func (r *Resolver) refreshProfiles(ctx context.Context, ids []int64, nameByID map[int64]string, at time.Time) ([]int64, error) {
	var written []int64
	for start := 0; start < len(ids); start += r.cfg.ProfileBatch {
		batch := ids[start:min(start+r.cfg.ProfileBatch, len(ids))]

		affs := r.fetchAffiliations(ctx, batch)
		profiles, err := r.fetchProfiles(ctx, batch)
		if err != nil {
			return written, err
		}

		pilots := make([]models.Pilot, 0, len(batch))
		var deleted []int64
		for _, id := range batch {
			profile, fetched := profiles[id]
			if fetched && profile == nil {
				// already soft deleted by the gateway; reload it as-is
				deleted = append(deleted, id)
				continue
			}
			p, ok := mergeProfile(id, profile, affs[id], nameByID[id], at)
			if ok {
				pilots = append(pilots, p)
			}
		}

		if _, err := r.writer.WritePilots(ctx, pilots); err != nil {
			return written, fmt.Errorf("failed to store pilots: %w", err)
		}
		written = append(written, pilotIDs(pilots)...)
		written = append(written, deleted...)
	}
	return written, nil
}

// refreshAffiliations updates only organization and alliance.
func (r *Resolver) refreshAffiliations(ctx context.Context, ids []int64, at time.Time) ([]int64, error) {
	var written []int64
	for start := 0; start < len(ids); start += r.cfg.ProfileBatch {
		batch := ids[start:min(start+r.cfg.ProfileBatch, len(ids))]

		affs := r.fetchAffiliations(ctx, batch)
		pilots := make([]models.Pilot, 0, len(affs))
		for _, id := range batch {
			if a, ok := affs[id]; ok {
				pilots = append(pilots, a.ToPilot(at))
			}
		}

		if _, err := r.writer.WritePilots(ctx, pilots); err != nil {
			return written, fmt.Errorf("failed to store pilot affiliations: %w", err)
		}
		written = append(written, pilotIDs(pilots)...)
	}
	return written, nil
}

func (r *Resolver) fetchAffiliations(ctx context.Context, ids []int64) map[int64]esi.Affiliation {
	out := make(map[int64]esi.Affiliation, len(ids))
	if len(ids) == 0 {
		return out
	}

	affs, err := r.upstream.Affiliations(ctx, ids)
	if err != nil {
		r.logger.Warn("Failed to fetch affiliations", zap.Int("pilots", len(ids)), zap.Error(err))
		return out
	}
	for _, a := range affs {
		out[a.CharacterID] = a
	}
	return out
}

// fetchProfiles issues every profile request in the batch before waiting on
// any of them. A nil entry means the pilot was deleted upstream.
func (r *Resolver) fetchProfiles(ctx context.Context, ids []int64) (map[int64]*esi.Character, error) {
	results := make([]*esi.Character, len(ids))
	ok := make([]bool, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			ch, err := r.upstream.Character(gctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Warn("Failed to fetch pilot profile", zap.Int64("pilot_id", id), zap.Error(err))
				return nil
			}
			results[i] = ch
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[int64]*esi.Character, len(ids))
	for i, id := range ids {
		if ok[i] {
			out[id] = results[i]
		}
	}
	return out, nil
}

// mergeProfile combines a profile and an affiliation lookup. The affiliation
// endpoint is fresher, so it wins on organization and alliance. Without a
// profile, a pilot already parked in the deleted organization is left alone.
func mergeProfile(id int64, profile *esi.Character, aff esi.Affiliation, fallbackName string, at time.Time) (models.Pilot, bool) {
	hasAff := aff.CharacterID == id
	if profile != nil {
		p := profile.ToPilot(id, at)
		if hasAff {
			fromAff := aff.ToPilot(at)
			p.OrganizationID = fromAff.OrganizationID
			p.AllianceID = fromAff.AllianceID
		}
		return p, true
	}
	if !hasAff {
		return models.Pilot{}, false
	}

	p := aff.ToPilot(at)
	p.Name = fallbackName
	if p.OrganizationID.Int64 == models.DeletedOrganizationID {
		return models.Pilot{}, false
	}
	return p, true
}

func (r *Resolver) touch(ctx context.Context, pilots []models.Pilot, at time.Time) error {
	if len(pilots) == 0 {
		return nil
	}

	var orgIDs, allianceIDs []int64
	seenOrg := map[int64]struct{}{}
	seenAlliance := map[int64]struct{}{}
	for _, p := range pilots {
		if p.OrganizationID.Valid {
			if _, ok := seenOrg[p.OrganizationID.Int64]; !ok {
				seenOrg[p.OrganizationID.Int64] = struct{}{}
				orgIDs = append(orgIDs, p.OrganizationID.Int64)
			}
		}
		if p.AllianceID.Valid {
			if _, ok := seenAlliance[p.AllianceID.Int64]; !ok {
				seenAlliance[p.AllianceID.Int64] = struct{}{}
				allianceIDs = append(allianceIDs, p.AllianceID.Int64)
			}
		}
	}

	if err := r.store.TouchLastSeen(ctx, models.KindPilot, pilotIDs(pilots), at); err != nil {
		return fmt.Errorf("failed to touch pilots: %w", err)
	}
	if err := r.store.TouchLastSeen(ctx, models.KindOrganization, orgIDs, at); err != nil {
		return fmt.Errorf("failed to touch organizations: %w", err)
	}
	if err := r.store.TouchLastSeen(ctx, models.KindAlliance, allianceIDs, at); err != nil {
		return fmt.Errorf("failed to touch alliances: %w", err)
	}
	return nil
}

// mergeByName orders pilots by the requested names. Refreshed records win
// over fresh ones with the same id.
func mergeByName(names []string, fresh, refreshed []models.Pilot) []models.Pilot {
	byName := make(map[string]models.Pilot, len(fresh)+len(refreshed))
	for _, p := range fresh {
		byName[strings.ToLower(p.Name)] = p
	}
	for _, p := range refreshed {
		byName[strings.ToLower(p.Name)] = p
	}

	out := make([]models.Pilot, 0, len(byName))
	for _, name := range names {
		if p, ok := byName[strings.ToLower(name)]; ok {
			out = append(out, p)
		}
	}
	return out
}

func pilotIDs(pilots []models.Pilot) []int64 {
	ids := make([]int64, len(pilots))
	for i, p := range pilots {
		ids[i] = p.ID
	}
	return ids
}
