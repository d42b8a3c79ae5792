package scan

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/scan-intel/backend/internal/interesting"
	"github.com/scan-intel/backend/internal/metrics"
	"github.com/scan-intel/backend/internal/storage/models"
)

// HierarchyStore is the static type and system catalog.
type HierarchyStore interface {
	GetHierarchy(ctx context.Context, typeIDs []int64) (map[int64]models.HierarchyRecord, error)
	GetSystemByName(ctx context.Context, name string) (*models.SolarSystem, error)
}

type System struct {
	ID                int64   `json:"id"`
	Name              string  `json:"name"`
	ConstellationID   int64   `json:"constellation_id"`
	ConstellationName string  `json:"constellation_name"`
	RegionID          int64   `json:"region_id"`
	RegionName        string  `json:"region_name"`
	Security          float64 `json:"security"`
}

type Report struct {
	OnGrid          Side               `json:"on_grid"`
	OffGrid         Side               `json:"off_grid"`
	System          *System            `json:"system,omitempty"`
	SystemCandidate string             `json:"system_candidate,omitempty"`
	DroppedLines    int                `json:"dropped_lines"`
	UnknownTypes    int                `json:"unknown_types"`
	Interesting     []interesting.Item `json:"interesting"`

	leaves []interesting.Leaf
}

// Leaves flattens both grid sides into per-type totals.
func (r *Report) Leaves() []interesting.Leaf {
	return r.leaves
}

type Classifier struct {
	store  HierarchyStore
	logger *zap.Logger
}

func NewClassifier(store HierarchyStore, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{store: store, logger: logger}
}

// Classify runs a directional scan through parse, resolve, aggregate, locate
// and serialize. Malformed lines and unknown types degrade the report but do
// not fail it; catalog errors do.
func (c *Classifier) Classify(ctx context.Context, raw string) (*Report, error) {
	entries, dropped := ParseDirectional(raw)
	metrics.ScanMalformedLines.Add(float64(dropped))

	ids := make([]int64, 0, len(entries))
	seen := make(map[int64]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.TypeID]; ok {
			continue
		}
		seen[e.TypeID] = struct{}{}
		ids = append(ids, e.TypeID)
	}

	hierarchy, err := c.store.GetHierarchy(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve types: %w", err)
	}

	onGrid, offGrid := newTree(), newTree()
	candidates := newCandidateCounter()
	leaves := make(map[int64]*interesting.Leaf)
	var leafOrder []int64
	unknown := 0

	for _, e := range entries {
		h, ok := hierarchy[e.TypeID]
		if !ok {
			unknown++
			h = models.HierarchyRecord{
				TypeID:       e.TypeID,
				TypeName:     e.TypeName,
				GroupID:      UnknownGroupID,
				GroupName:    UnknownGroupName,
				CategoryID:   UnknownCategoryID,
				CategoryName: UnknownCategoryName,
			}
		} else {
			candidates.add(systemCandidate(e.Name, h))
		}

		if e.OnGrid {
			onGrid.add(h)
		} else {
			offGrid.add(h)
		}

		leaf, ok := leaves[h.TypeID]
		if !ok {
			leaf = &interesting.Leaf{TypeID: h.TypeID, TypeName: h.TypeName, GroupID: h.GroupID, GroupName: h.GroupName}
			leaves[h.TypeID] = leaf
			leafOrder = append(leafOrder, h.TypeID)
		}
		leaf.Count++
	}
	metrics.ScanUnknownTypes.Add(float64(unknown))

	report := &Report{
		OnGrid:       onGrid.serialize(),
		OffGrid:      offGrid.serialize(),
		DroppedLines: dropped,
		UnknownTypes: unknown,
		Interesting:  []interesting.Item{},
	}
	for _, id := range leafOrder {
		report.leaves = append(report.leaves, *leaves[id])
	}

	if name := candidates.best(); name != "" {
		report.SystemCandidate = name
		sys, err := c.store.GetSystemByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to look up system %q: %w", name, err)
		}
		if sys != nil {
			report.System = &System{
				ID:                sys.ID,
				Name:              sys.Name,
				ConstellationID:   sys.ConstellationID,
				ConstellationName: sys.ConstellationName,
				RegionID:          sys.RegionID,
				RegionName:        sys.RegionName,
				Security:          sys.Security,
			}
		}
	}

	c.logger.Debug("Directional scan classified",
		zap.Int("entries", len(entries)),
		zap.Int("dropped", dropped),
		zap.Int("unknown_types", unknown),
		zap.String("system_candidate", report.SystemCandidate),
	)
	return report, nil
}
