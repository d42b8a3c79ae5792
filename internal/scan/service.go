package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scan-intel/backend/internal/affiliation"
	"github.com/scan-intel/backend/internal/interesting"
	"github.com/scan-intel/backend/internal/metrics"
	"github.com/scan-intel/backend/internal/storage/models"
	"github.com/scan-intel/backend/pkg/utils"
)

var (
	ErrEmptyScan    = errors.New("scan is empty")
	ErrScanTooLarge = errors.New("scan exceeds maximum length")
)

// Archive persists finished reports.
type Archive interface {
	InsertScan(ctx context.Context, scan *models.ScanRecord) error
	GetScan(ctx context.Context, id string) (*models.ScanRecord, error)
}

// ReportCache maps a paste's content hash to the id of a stored report.
type ReportCache interface {
	GetReportID(ctx context.Context, contentHash string) (string, bool, error)
	SetReportID(ctx context.Context, contentHash, id string) error
}

type LocalResolver interface {
	ResolveLocal(ctx context.Context, names []string) (*affiliation.LocalReport, error)
}

type Submission struct {
	ID          string                   `json:"id"`
	Kind        Kind                     `json:"kind"`
	Cached      bool                     `json:"cached"`
	CreatedAt   time.Time                `json:"created_at"`
	Directional *Report                  `json:"directional,omitempty"`
	Local       *affiliation.LocalReport `json:"local,omitempty"`
}

type Service struct {
	classifier *Classifier
	evaluator  *interesting.Evaluator
	resolver   LocalResolver
	archive    Archive
	cache      ReportCache
	maxLength  int
	logger     *zap.Logger

	newID func() string
	now   func() time.Time
}

// NewService wires the scan engines. cache may be nil.
func NewService(classifier *Classifier, evaluator *interesting.Evaluator, resolver LocalResolver, archive Archive, cache ReportCache, maxLength int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if evaluator == nil {
		evaluator = interesting.NewEvaluator(nil)
	}
	return &Service{
		classifier: classifier,
		evaluator:  evaluator,
		resolver:   resolver,
		archive:    archive,
		cache:      cache,
		maxLength:  maxLength,
		logger:     logger,
		newID:      func() string { return uuid.New().String() },
		now:        time.Now,
	}
}

// Submit classifies a paste and stores the result. An identical paste seen
// within the cache TTL returns the earlier report.
func (s *Service) Submit(ctx context.Context, raw string) (*Submission, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyScan
	}
	if s.maxLength > 0 && len(raw) > s.maxLength {
		return nil, ErrScanTooLarge
	}

	key := utils.ScanKey(raw)
	if sub := s.cached(ctx, key); sub != nil {
		return sub, nil
	}

	kind := Detect(raw)
	sub := &Submission{ID: s.newID(), Kind: kind, CreatedAt: s.now().UTC()}

	switch kind {
	case KindDirectional:
		report, err := s.classifier.Classify(ctx, raw)
		if err != nil {
			return nil, err
		}
		report.Interesting = s.evaluator.Evaluate(report.Leaves())
		sub.Directional = report
	default:
		names, dropped := ParseLocal(raw)
		metrics.ScanMalformedLines.Add(float64(dropped))
		report, err := s.resolver.ResolveLocal(ctx, names)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve local scan: %w", err)
		}
		sub.Local = report
	}
	metrics.ScansTotal.WithLabelValues(string(kind)).Inc()

	body, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	record := &models.ScanRecord{
		ID:          sub.ID,
		Kind:        string(kind),
		ContentHash: key,
		Report:      string(body),
		CreatedAt:   sub.CreatedAt,
	}
	if err := s.archive.InsertScan(ctx, record); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetReportID(ctx, key, sub.ID); err != nil {
			s.logger.Warn("Failed to cache report id", zap.String("scan_id", sub.ID), zap.Error(err))
		}
	}

	s.logger.Info("Scan processed", zap.String("scan_id", sub.ID), zap.String("kind", string(kind)))
	return sub, nil
}

func (s *Service) cached(ctx context.Context, key string) *Submission {
	if s.cache == nil {
		return nil
	}

	id, ok, err := s.cache.GetReportID(ctx, key)
	if err != nil {
		s.logger.Warn("Report cache lookup failed", zap.Error(err))
		return nil
	}
	if !ok {
		metrics.CacheMisses.WithLabelValues("report").Inc()
		return nil
	}

	sub, err := s.Get(ctx, id)
	if err != nil {
		s.logger.Warn("Cached report unavailable", zap.String("scan_id", id), zap.Error(err))
		return nil
	}
	metrics.CacheHits.WithLabelValues("report").Inc()
	sub.Cached = true
	return sub
}

// Get loads a stored report.
func (s *Service) Get(ctx context.Context, id string) (*Submission, error) {
	record, err := s.archive.GetScan(ctx, id)
	if err != nil {
		return nil, err
	}

	var sub Submission
	if err := json.Unmarshal([]byte(record.Report), &sub); err != nil {
		return nil, fmt.Errorf("failed to decode stored report %s: %w", id, err)
	}
	return &sub, nil
}
