package entitysync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scan-intel/backend/internal/esi"
	"github.com/scan-intel/backend/internal/metrics"
	"github.com/scan-intel/backend/internal/progress"
	"github.com/scan-intel/backend/internal/storage/models"
)

// Store is the part of the entity repository the synchronizer reads and
// writes through.
type Store interface {
	GetAllPilots(ctx context.Context) ([]models.Pilot, error)
	GetAllOrganizations(ctx context.Context) ([]models.Organization, error)
	GetAllAlliances(ctx context.Context) ([]models.Alliance, error)
	GetOrganizationsByIDs(ctx context.Context, ids []int64) ([]models.Organization, error)
	GetAlliancesByIDs(ctx context.Context, ids []int64) ([]models.Alliance, error)
	UpsertPilots(ctx context.Context, pilots []models.Pilot) error
	UpsertOrganizations(ctx context.Context, orgs []models.Organization) error
	UpsertAlliances(ctx context.Context, alliances []models.Alliance) error
}

// Upstream is the per-id profile surface of the ESI client.
type Upstream interface {
	Character(ctx context.Context, id int64) (*esi.Character, error)
	Corporation(ctx context.Context, id int64) (*esi.Corporation, error)
	Alliance(ctx context.Context, id int64) (*esi.Alliance, error)
}

type Publisher interface {
	Publish(ev progress.Event)
}

type Config struct {
	StaleAfter        time.Duration
	ActiveWindow      time.Duration
	PilotBatch        int
	OrganizationBatch int
	AllianceBatch     int
}

func DefaultConfig() Config {
	return Config{
		StaleAfter:        23*time.Hour + 30*time.Minute,
		ActiveWindow:      365 * 24 * time.Hour,
		PilotBatch:        250,
		OrganizationBatch: 100,
		AllianceBatch:     50,
	}
}

type Result struct {
	Kind    models.Kind `json:"kind"`
	Due     int         `json:"due"`
	Batches int         `json:"batches"`
	Written int         `json:"written"`
	Dropped int         `json:"dropped"`
}

type Synchronizer struct {
	store     Store
	upstream  Upstream
	publisher Publisher
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

func NewSynchronizer(store Store, upstream Upstream, publisher Publisher, cfg Config, logger *zap.Logger) *Synchronizer {
	def := DefaultConfig()
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = def.ActiveWindow
	}
	if cfg.PilotBatch <= 0 {
		cfg.PilotBatch = def.PilotBatch
	}
	if cfg.OrganizationBatch <= 0 {
		cfg.OrganizationBatch = def.OrganizationBatch
	}
	if cfg.AllianceBatch <= 0 {
		cfg.AllianceBatch = def.AllianceBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Synchronizer{
		store:     store,
		upstream:  upstream,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SyncDue refreshes every due entity of one kind.
func (s *Synchronizer) SyncDue(ctx context.Context, kind models.Kind) (Result, error) {
	switch kind {
	case models.KindAlliance:
		return run(ctx, s, s.alliances())
	case models.KindOrganization:
		return run(ctx, s, s.organizations())
	case models.KindPilot:
		return run(ctx, s, s.pilots())
	default:
		return Result{}, fmt.Errorf("unknown entity kind %q", kind)
	}
}

// SyncAll runs every kind parents first, so children see fresh parents.
func (s *Synchronizer) SyncAll(ctx context.Context) ([]Result, error) {
	kinds := []models.Kind{models.KindAlliance, models.KindOrganization, models.KindPilot}
	results := make([]Result, 0, len(kinds))
	for _, kind := range kinds {
		res, err := s.SyncDue(ctx, kind)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Due reports whether an entity should be refreshed by the scheduled sync.
func Due(e models.Syncable, now time.Time, cfg Config) bool {
	if !e.LastSeenAt().After(now.Add(-cfg.ActiveWindow)) {
		return false
	}
	return e.UpdatedAtTime().Before(now.Add(-cfg.StaleAfter))
}

// kindSync binds one entity kind to the generic batch loop.
type kindSync[T models.Syncable] struct {
	kind      models.Kind
	batchSize int
	loadAll   func(ctx context.Context) ([]T, error)
	skip      func(T) bool
	fetch     func(ctx context.Context, id int64, at time.Time) (*T, error)
	write     func(ctx context.Context, records []T) (int, error)
}

func run[T models.Syncable](ctx context.Context, s *Synchronizer, k kindSync[T]) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.SyncRunDuration.WithLabelValues(string(k.kind)).Observe(time.Since(start).Seconds())
	}()

	res := Result{Kind: k.kind}

	all, err := k.loadAll(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to load %s records: %w", k.kind, err)
	}

	now := s.now()
	due := make([]int64, 0, len(all))
	for _, e := range all {
		if k.skip != nil && k.skip(e) {
			continue
		}
		if Due(e, now, s.cfg) {
			due = append(due, e.EntityID())
		}
	}

	batches := chunk(due, k.batchSize)
	res.Due = len(due)
	res.Batches = len(batches)
	metrics.SyncDueEntities.WithLabelValues(string(k.kind)).Set(float64(len(due)))

	s.logger.Info("Sync run started",
		zap.String("kind", string(k.kind)),
		zap.Int("total", len(all)),
		zap.Int("due", len(due)),
		zap.Int("batches", len(batches)),
	)
	s.publish(progress.Event{Kind: string(k.kind), Stage: progress.StageStarted, Due: res.Due, Batches: res.Batches})

	for i, ids := range batches {
		at := s.now()
		records, dropped, err := fanOut(ctx, ids, func(ctx context.Context, id int64) (*T, error) {
			return k.fetch(ctx, id, at)
		}, func(id int64, err error) {
			s.logger.Warn("Dropping entity from sync batch",
				zap.String("kind", string(k.kind)),
				zap.Int64("id", id),
				zap.Error(err),
			)
		})
		if err == nil {
			var written int
			written, err = k.write(ctx, records)
			dropped += len(records) - written
			res.Written += written
		}
		res.Dropped += dropped
		metrics.SyncEntitiesTotal.WithLabelValues(string(k.kind), "dropped").Add(float64(dropped))

		if err != nil {
			metrics.SyncBatchesTotal.WithLabelValues(string(k.kind), "failed").Inc()
			s.logger.Error("Sync batch failed, aborting run",
				zap.String("kind", string(k.kind)),
				zap.Int("batch", i+1),
				zap.Int("batches", len(batches)),
				zap.Error(err),
			)
			s.publish(progress.Event{
				Kind: string(k.kind), Stage: progress.StageFailed, Batch: i + 1, Batches: res.Batches,
				Due: res.Due, Written: res.Written, Dropped: res.Dropped, Error: err.Error(),
			})
			return res, fmt.Errorf("sync %s batch %d/%d: %w", k.kind, i+1, len(batches), err)
		}

		metrics.SyncBatchesTotal.WithLabelValues(string(k.kind), "ok").Inc()
		s.publish(progress.Event{
			Kind: string(k.kind), Stage: progress.StageBatch, Batch: i + 1, Batches: res.Batches,
			Due: res.Due, Written: res.Written, Dropped: res.Dropped,
		})
	}

	metrics.SyncEntitiesTotal.WithLabelValues(string(k.kind), "written").Add(float64(res.Written))
	s.logger.Info("Sync run finished",
		zap.String("kind", string(k.kind)),
		zap.Int("written", res.Written),
		zap.Int("dropped", res.Dropped),
		zap.Duration("duration", time.Since(start)),
	)
	s.publish(progress.Event{
		Kind: string(k.kind), Stage: progress.StageFinished, Batches: res.Batches,
		Due: res.Due, Written: res.Written, Dropped: res.Dropped,
	})
	return res, nil
}

func (s *Synchronizer) publish(ev progress.Event) {
	if s.publisher != nil {
		s.publisher.Publish(ev)
	}
}

// fanOut issues every fetch before waiting on any. Failed ids are reported
// to onErr and left out; nil results are skipped. Only cancellation of ctx
// fails the whole call.
func fanOut[T any](ctx context.Context, ids []int64, fetch func(ctx context.Context, id int64) (*T, error), onErr func(id int64, err error)) ([]T, int, error) {
	results := make([]*T, len(ids))
	failed := make([]bool, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			rec, err := fetch(gctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failed[i] = true
				if onErr != nil {
					onErr(id, err)
				}
				return nil
			}
			results[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	out := make([]T, 0, len(ids))
	dropped := 0
	for i, rec := range results {
		if failed[i] {
			dropped++
			continue
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out, dropped, nil
}

func chunk(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = len(ids)
	}
	var out [][]int64
	for start := 0; start < len(ids); start += size {
		out = append(out, ids[start:min(start+size, len(ids))])
	}
	return out
}
