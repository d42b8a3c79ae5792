package scan

import (
	"regexp"
	"strings"

	"github.com/scan-intel/backend/internal/storage/models"
)

// Inventory ids that carry the system name in their object names.
const (
	categoryStation   int64 = 3
	categoryStructure int64 = 65

	groupSun          int64 = 6
	groupPlanet       int64 = 7
	groupMoon         int64 = 8
	groupAsteroidBelt int64 = 9
	groupJumpBridge   int64 = 1408
)

var trailingRoman = regexp.MustCompile(`\s+[IVXLCDM]+$`)

func beforeDash(name string) string {
	if i := strings.Index(name, " - "); i >= 0 {
		return name[:i]
	}
	return name
}

func stripRoman(name string) string {
	return trailingRoman.ReplaceAllString(name, "")
}

// systemCandidate extracts the system name an object's name implies, or ""
// when the object follows no known naming convention. Each rule is applied
// as is; stations in particular keep their planet numeral.
func systemCandidate(objectName string, h models.HierarchyRecord) string {
	name := strings.TrimSpace(objectName)
	if name == "" {
		return ""
	}

	var candidate string
	switch {
	case h.GroupID == groupJumpBridge:
		i := strings.Index(name, " » ")
		if i < 0 {
			return ""
		}
		candidate = name[:i]
	case h.CategoryID == categoryStructure:
		candidate = beforeDash(name)
	case h.CategoryID == categoryStation:
		candidate = beforeDash(name)
	case h.GroupID == groupSun:
		candidate = beforeDash(name)
	case h.GroupID == groupPlanet:
		candidate = stripRoman(name)
	case h.GroupID == groupMoon, h.GroupID == groupAsteroidBelt:
		candidate = stripRoman(beforeDash(name))
	default:
		return ""
	}
	return strings.TrimSpace(candidate)
}

// candidateCounter tracks how often each candidate was seen, remembering the
// order of first sighting for ties.
type candidateCounter struct {
	counts map[string]int
	order  []string
}

func newCandidateCounter() *candidateCounter {
	return &candidateCounter{counts: make(map[string]int)}
}

func (c *candidateCounter) add(name string) {
	if name == "" {
		return
	}
	if _, ok := c.counts[name]; !ok {
		c.order = append(c.order, name)
	}
	c.counts[name]++
}

func (c *candidateCounter) best() string {
	best, bestCount := "", 0
	for _, name := range c.order {
		if c.counts[name] > bestCount {
			best, bestCount = name, c.counts[name]
		}
	}
	return best
}
