package affiliation

import (
	"strings"
	"time"

	"github.com/scan-intel/backend/internal/storage/models"
)

type Staleness string

const (
	Fresh        Staleness = "fresh"
	StaleCached  Staleness = "stale_cached"
	StaleExpired Staleness = "stale_expired"
	Missing      Staleness = "missing"
)

// Classify places a stored pilot relative to now. Stale pilots whose upstream
// cache horizon has not passed only need their affiliation refreshed.
func Classify(p models.Pilot, now time.Time, freshFor time.Duration) Staleness {
	if p.UpdatedAt.After(now.Add(-freshFor)) {
		return Fresh
	}
	if p.ESICacheExpires.Valid && p.ESICacheExpires.Time.After(now) {
		return StaleCached
	}
	return StaleExpired
}

type Partition struct {
	Missing      []string
	StaleExpired []models.Pilot
	StaleCached  []models.Pilot
	Fresh        []models.Pilot
}

// PartitionPilots splits the requested names by what the repository already
// knows about them. Names compare case-insensitively and duplicates collapse.
func PartitionPilots(names []string, stored []models.Pilot, now time.Time, freshFor time.Duration) Partition {
	byName := make(map[string]models.Pilot, len(stored))
	for _, p := range stored {
		key := strings.ToLower(p.Name)
		if cur, ok := byName[key]; ok && !preferPilot(p, cur) {
			continue
		}
		byName[key] = p
	}

	var part Partition
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		p, ok := byName[key]
		if !ok {
			part.Missing = append(part.Missing, name)
			continue
		}

		switch Classify(p, now, freshFor) {
		case Fresh:
			part.Fresh = append(part.Fresh, p)
		case StaleCached:
			part.StaleCached = append(part.StaleCached, p)
		default:
			part.StaleExpired = append(part.StaleExpired, p)
		}
	}
	return part
}

// preferPilot reports whether a should stand for a name over b. Names of
// deleted pilots are released for reuse, so a live record beats a deleted
// one and the newer (higher) id breaks the remaining ties.
func preferPilot(a, b models.Pilot) bool {
	if a.DeletedAt.Valid != b.DeletedAt.Valid {
		return !a.DeletedAt.Valid
	}
	return a.ID > b.ID
}

// NormalizeNames trims a local scan paste into candidate pilot names.
func NormalizeNames(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, n := range raw {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		key := strings.ToLower(n)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out
}
