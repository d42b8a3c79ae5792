package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/scan-intel/backend/internal/entitysync"
	"github.com/scan-intel/backend/internal/storage/models"
)

// ErrBusy is returned by Trigger when a requested run is already queued.
var ErrBusy = errors.New("a sync run is already queued")

type Syncer interface {
	SyncDue(ctx context.Context, kind models.Kind) (entitysync.Result, error)
	SyncAll(ctx context.Context) ([]entitysync.Result, error)
}

// ReportInvalidator drops cached paste mappings once entity data moved on.
type ReportInvalidator interface {
	InvalidateReports(ctx context.Context) (int, error)
}

type Config struct {
	// Interval between scheduled runs of every kind. Zero disables the
	// schedule; triggered runs still happen.
	Interval   time.Duration
	RunOnStart bool
}

// Scheduler runs entity sync on an interval and on demand. Runs never
// overlap: scheduled and triggered runs share one loop.
type Scheduler struct {
	syncer      Syncer
	invalidator ReportInvalidator
	cfg         Config
	logger      *zap.Logger
	trigger     chan models.Kind
}

func New(syncer Syncer, invalidator ReportInvalidator, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		syncer:      syncer,
		invalidator: invalidator,
		cfg:         cfg,
		logger:      logger,
		trigger:     make(chan models.Kind, 1),
	}
}

// Trigger queues a run of one kind, or of every kind when kind is empty.
func (s *Scheduler) Trigger(kind models.Kind) error {
	select {
	case s.trigger <- kind:
		return nil
	default:
		return ErrBusy
	}
}

// Serve implements suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	var tick <-chan time.Time
	if s.cfg.Interval > 0 {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	if s.cfg.RunOnStart {
		s.runAll(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			s.runAll(ctx)
		case kind := <-s.trigger:
			if kind == "" {
				s.runAll(ctx)
				continue
			}
			s.runOne(ctx, kind)
		}
	}
}

func (s *Scheduler) String() string {
	return "entity-sync-scheduler"
}

func (s *Scheduler) runAll(ctx context.Context) {
	started := time.Now()
	results, err := s.syncer.SyncAll(ctx)
	if err != nil {
		s.logger.Error("Scheduled sync failed", zap.Error(err))
	}

	written := 0
	for _, r := range results {
		written += r.Written
	}
	s.logger.Info("Sync run finished",
		zap.Int("kinds", len(results)),
		zap.Int("written", written),
		zap.Duration("duration", time.Since(started)),
	)
	s.invalidate(ctx, written)
}

func (s *Scheduler) runOne(ctx context.Context, kind models.Kind) {
	result, err := s.syncer.SyncDue(ctx, kind)
	if err != nil {
		s.logger.Error("Triggered sync failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	s.invalidate(ctx, result.Written)
}

func (s *Scheduler) invalidate(ctx context.Context, written int) {
	if s.invalidator == nil || written == 0 {
		return
	}
	removed, err := s.invalidator.InvalidateReports(ctx)
	if err != nil {
		s.logger.Warn("Failed to invalidate report cache", zap.Error(err))
		return
	}
	s.logger.Debug("Report cache invalidated after sync", zap.Int("removed", removed))
}
