package affiliation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/scan-intel/backend/internal/storage/models"
)

const noAllianceName = "No Alliance"

type LocalReport struct {
	TotalPilots int             `json:"total_pilots"`
	Alliances   []AllianceGroup `json:"alliances"`
	Unresolved  []string        `json:"unresolved"`
}

type AllianceGroup struct {
	ID            int64               `json:"id"`
	Name          string              `json:"name"`
	Ticker        string              `json:"ticker,omitempty"`
	Count         int                 `json:"count"`
	Organizations []OrganizationGroup `json:"organizations"`
}

type OrganizationGroup struct {
	ID     int64        `json:"id"`
	Name   string       `json:"name"`
	Ticker string       `json:"ticker,omitempty"`
	NPC    bool         `json:"npc,omitempty"`
	Count  int          `json:"count"`
	Pilots []PilotEntry `json:"pilots"`
}

type PilotEntry struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	SecurityStatus *float64 `json:"security_status,omitempty"`
	Deleted        bool     `json:"deleted,omitempty"`
}

// ResolveLocal resolves a local scan and groups the pilots by alliance and
// organization.
func (r *Resolver) ResolveLocal(ctx context.Context, names []string) (*LocalReport, error) {
	names = NormalizeNames(names)
	pilots, err := r.ResolveByName(ctx, names)
	if err != nil {
		return nil, err
	}

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

	orgs, err := r.store.GetOrganizationsByIDs(ctx, orgIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load organizations: %w", err)
	}
	alliances, err := r.store.GetAlliancesByIDs(ctx, allianceIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load alliances: %w", err)
	}

	return BuildLocalReport(names, pilots, orgs, alliances), nil
}

// BuildLocalReport groups resolved pilots. Groups sort by count descending
// then name; names with no pilot are listed as unresolved in input order.
func BuildLocalReport(names []string, pilots []models.Pilot, orgs []models.Organization, alliances []models.Alliance) *LocalReport {
	orgByID := make(map[int64]models.Organization, len(orgs))
	for _, o := range orgs {
		orgByID[o.ID] = o
	}
	allianceByID := make(map[int64]models.Alliance, len(alliances))
	for _, a := range alliances {
		allianceByID[a.ID] = a
	}

	groups := map[int64]*AllianceGroup{}
	orgGroups := map[int64]map[int64]*OrganizationGroup{}
	resolved := make(map[string]struct{}, len(pilots))

	for _, p := range pilots {
		resolved[strings.ToLower(p.Name)] = struct{}{}

		var allianceID int64
		if p.AllianceID.Valid {
			allianceID = p.AllianceID.Int64
		}
		ag, ok := groups[allianceID]
		if !ok {
			ag = &AllianceGroup{ID: allianceID, Name: noAllianceName}
			if a, found := allianceByID[allianceID]; found {
				ag.Name = a.Name
				ag.Ticker = a.Ticker
			}
			groups[allianceID] = ag
			orgGroups[allianceID] = map[int64]*OrganizationGroup{}
		}
		ag.Count++

		var orgID int64
		if p.OrganizationID.Valid {
			orgID = p.OrganizationID.Int64
		}
		og, ok := orgGroups[allianceID][orgID]
		if !ok {
			og = &OrganizationGroup{ID: orgID, Name: "Unknown Organization"}
			if o, found := orgByID[orgID]; found {
				og.Name = o.Name
				og.Ticker = o.Ticker
				og.NPC = o.NPC
			}
			orgGroups[allianceID][orgID] = og
		}
		og.Count++

		entry := PilotEntry{ID: p.ID, Name: p.Name, Deleted: p.DeletedAt.Valid}
		if p.SecurityStatus.Valid {
			sec := p.SecurityStatus.Float64
			entry.SecurityStatus = &sec
		}
		og.Pilots = append(og.Pilots, entry)
	}

	report := &LocalReport{
		TotalPilots: len(pilots),
		Alliances:   make([]AllianceGroup, 0, len(groups)),
		Unresolved:  []string{},
	}
	for allianceID, ag := range groups {
		for _, og := range orgGroups[allianceID] {
			sort.Slice(og.Pilots, func(i, j int) bool { return og.Pilots[i].Name < og.Pilots[j].Name })
			ag.Organizations = append(ag.Organizations, *og)
		}
		sort.Slice(ag.Organizations, func(i, j int) bool {
			a, b := ag.Organizations[i], ag.Organizations[j]
			if a.Count != b.Count {
				return a.Count > b.Count
			}
			return a.Name < b.Name
		})
		report.Alliances = append(report.Alliances, *ag)
	}
	sort.Slice(report.Alliances, func(i, j int) bool {
		a, b := report.Alliances[i], report.Alliances[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Name < b.Name
	})

	for _, name := range names {
		if _, ok := resolved[strings.ToLower(name)]; !ok {
			report.Unresolved = append(report.Unresolved, name)
		}
	}
	return report
}
