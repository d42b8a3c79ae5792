package scan

import (
	"testing"

	"github.com/scan-intel/backend/internal/storage/models"
)

func TestIsOnGrid(t *testing.T) {
	tests := []struct {
		distance string
		want     bool
	}{
		{"10 km", true},
		{"1,234 km", true},
		{"2 500 m", true},
		{"850 m", true},
		{"0.4 AU", false},
		{"12 AU", false},
		{"-", false},
		{"", false},
		{"km", false},
		{"far km", false},
	}

	for _, tt := range tests {
		if got := IsOnGrid(tt.distance); got != tt.want {
			t.Errorf("IsOnGrid(%q) = %v, want %v", tt.distance, got, tt.want)
		}
	}
}

func TestParseDirectional(t *testing.T) {
	raw := "587\tRifter\tRifter\t12 km\r\n" +
		"\n" +
		"abc\tBroken\tRifter\t1 km\n" +
		"587\tonly three\tfields\n" +
		"671\tErebus\tErebus\t3.2 AU\n"

	entries, dropped := ParseDirectional(raw)
	if dropped != 2 {
		t.Errorf("expected 2 dropped lines, got %d", dropped)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	if entries[0].TypeID != 587 || !entries[0].OnGrid {
		t.Errorf("unexpected first entry %+v", entries[0])
	}
	if entries[1].TypeID != 671 || entries[1].OnGrid {
		t.Errorf("unexpected second entry %+v", entries[1])
	}
}

func TestParseLocal(t *testing.T) {
	names, dropped := ParseLocal("  Alpha One \n\nBeta Two\r\nnot\ta name\n")
	if dropped != 1 {
		t.Errorf("expected 1 dropped line, got %d", dropped)
	}
	if len(names) != 2 || names[0] != "Alpha One" || names[1] != "Beta Two" {
		t.Errorf("unexpected names %v", names)
	}
}

func TestDetect(t *testing.T) {
	if Detect("587\tRifter\tRifter\t12 km") != KindDirectional {
		t.Error("tabbed paste should be directional")
	}
	if Detect("Alpha One\nBeta Two") != KindLocal {
		t.Error("plain names should be local")
	}
}

func TestSystemCandidate(t *testing.T) {
	tests := []struct {
		name   string
		object string
		h      models.HierarchyRecord
		want   string
	}{
		{"station keeps numeral", "Jita IV - Moon 4 - Caldari Navy Assembly Plant", models.HierarchyRecord{CategoryID: categoryStation}, "Jita IV"},
		{"structure", "1DQ1-A - Imperial Palace", models.HierarchyRecord{CategoryID: categoryStructure}, "1DQ1-A"},
		{"sun", "Amarr - Star", models.HierarchyRecord{GroupID: groupSun}, "Amarr"},
		{"planet", "Perimeter VII", models.HierarchyRecord{GroupID: groupPlanet}, "Perimeter"},
		{"moon", "Perimeter VII - Moon 3", models.HierarchyRecord{GroupID: groupMoon}, "Perimeter"},
		{"belt", "Perimeter II - Asteroid Belt 1", models.HierarchyRecord{GroupID: groupAsteroidBelt}, "Perimeter"},
		{"jump bridge", "Jita » Perimeter - Bridge", models.HierarchyRecord{GroupID: groupJumpBridge}, "Jita"},
		{"jump bridge without arrow", "Some Bridge", models.HierarchyRecord{GroupID: groupJumpBridge}, ""},
		{"ship", "Rifter", models.HierarchyRecord{GroupID: 25, CategoryID: 6}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := systemCandidate(tt.object, tt.h); got != tt.want {
				t.Errorf("systemCandidate(%q) = %q, want %q", tt.object, got, tt.want)
			}
		})
	}
}

func TestCandidateCounter_TiesGoToFirstSeen(t *testing.T) {
	c := newCandidateCounter()
	c.add("Amarr")
	c.add("")
	c.add("Jita")
	c.add("Jita")
	c.add("Amarr")

	if got := c.best(); got != "Amarr" {
		t.Errorf("expected first-seen winner Amarr, got %q", got)
	}

	c.add("Jita")
	if got := c.best(); got != "Jita" {
		t.Errorf("expected Jita after a third sighting, got %q", got)
	}
}
