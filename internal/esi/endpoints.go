package esi

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/scan-intel/backend/internal/storage/models"
)

// Upstream caps per bulk request.
const (
	namesPerRequest = 500
	idsPerRequest   = 1000
)

type NameMatch struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type NameResolution struct {
	Characters   []NameMatch `json:"characters"`
	Corporations []NameMatch `json:"corporations"`
	Alliances    []NameMatch `json:"alliances"`
}

type Affiliation struct {
	CharacterID   int64 `json:"character_id"`
	CorporationID int64 `json:"corporation_id"`
	AllianceID    int64 `json:"alliance_id,omitempty"`
	FactionID     int64 `json:"faction_id,omitempty"`
}

type Character struct {
	Name           string    `json:"name"`
	CorporationID  int64     `json:"corporation_id"`
	AllianceID     int64     `json:"alliance_id,omitempty"`
	SecurityStatus *float64  `json:"security_status,omitempty"`
	Birthday       time.Time `json:"birthday"`

	// ExpiresAt comes from the response Expires header.
	ExpiresAt time.Time `json:"-"`
}

type Corporation struct {
	Name        string `json:"name"`
	Ticker      string `json:"ticker"`
	AllianceID  int64  `json:"alliance_id,omitempty"`
	MemberCount int64  `json:"member_count"`
}

type Alliance struct {
	Name                  string `json:"name"`
	Ticker                string `json:"ticker"`
	ExecutorCorporationID int64  `json:"executor_corporation_id,omitempty"`
}

type ServerStatus struct {
	Players       int       `json:"players"`
	ServerVersion string    `json:"server_version"`
	StartTime     time.Time `json:"start_time"`
	VIP           bool      `json:"vip,omitempty"`
}

// ResolveNames maps names to ids. Names the upstream does not know are
// simply absent from the result.
func (c *Client) ResolveNames(ctx context.Context, names []string) (*NameResolution, error) {
	out := &NameResolution{}
	step := c.cfg.NamesPerRequest
	for start := 0; start < len(names); start += step {
		end := min(start+step, len(names))

		resp, err := c.Post(ctx, "/universe/ids/", names[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to resolve names: %w", err)
		}

		var chunk NameResolution
		if err := resp.JSON(&chunk); err != nil {
			return nil, err
		}
		out.Characters = append(out.Characters, chunk.Characters...)
		out.Corporations = append(out.Corporations, chunk.Corporations...)
		out.Alliances = append(out.Alliances, chunk.Alliances...)
	}
	return out, nil
}

func (c *Client) Affiliations(ctx context.Context, characterIDs []int64) ([]Affiliation, error) {
	out := make([]Affiliation, 0, len(characterIDs))
	step := c.cfg.IDsPerRequest
	for start := 0; start < len(characterIDs); start += step {
		end := min(start+step, len(characterIDs))

		resp, err := c.Post(ctx, "/characters/affiliation/", characterIDs[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to fetch affiliations: %w", err)
		}

		var chunk []Affiliation
		if err := resp.JSON(&chunk); err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// Character returns nil without error when the pilot was deleted upstream;
// the soft delete has already been applied by then.
func (c *Client) Character(ctx context.Context, id int64) (*Character, error) {
	resp, err := c.Get(ctx, fmt.Sprintf("/characters/%d/", id))
	if err != nil {
		return nil, err
	}
	if resp.Deleted {
		return nil, nil
	}

	var ch Character
	if err := resp.JSON(&ch); err != nil {
		return nil, err
	}
	if exp, ok := resp.Expires(); ok {
		ch.ExpiresAt = exp
	}
	return &ch, nil
}

func (c *Client) Corporation(ctx context.Context, id int64) (*Corporation, error) {
	resp, err := c.Get(ctx, fmt.Sprintf("/corporations/%d/", id))
	if err != nil {
		return nil, err
	}

	var corp Corporation
	if err := resp.JSON(&corp); err != nil {
		return nil, err
	}
	return &corp, nil
}

func (c *Client) Alliance(ctx context.Context, id int64) (*Alliance, error) {
	resp, err := c.Get(ctx, fmt.Sprintf("/alliances/%d/", id))
	if err != nil {
		return nil, err
	}

	var a Alliance
	if err := resp.JSON(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) Status(ctx context.Context) (*ServerStatus, error) {
	resp, err := c.Get(ctx, "/status/")
	if err != nil {
		return nil, err
	}

	var s ServerStatus
	if err := resp.JSON(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// IsNPCCorporation reports whether id falls in the NPC corporation range.
func IsNPCCorporation(id int64) bool {
	return id >= 1000000 && id < 2000000
}

func (ch *Character) ToPilot(id int64, at time.Time) models.Pilot {
	p := models.Pilot{
		ID:             id,
		Name:           ch.Name,
		OrganizationID: nullID(ch.CorporationID),
		AllianceID:     nullID(ch.AllianceID),
		UpdatedAt:      at,
	}
	if ch.SecurityStatus != nil {
		p.SecurityStatus = sql.NullFloat64{Float64: *ch.SecurityStatus, Valid: true}
	}
	if !ch.Birthday.IsZero() {
		p.Birthday = sql.NullTime{Time: ch.Birthday, Valid: true}
	}
	if !ch.ExpiresAt.IsZero() {
		p.ESICacheExpires = sql.NullTime{Time: ch.ExpiresAt, Valid: true}
	}
	return p
}

func (a Affiliation) ToPilot(at time.Time) models.Pilot {
	return models.Pilot{
		ID:             a.CharacterID,
		OrganizationID: nullID(a.CorporationID),
		AllianceID:     nullID(a.AllianceID),
		UpdatedAt:      at,
	}
}

func (corp *Corporation) ToOrganization(id int64, at time.Time) models.Organization {
	return models.Organization{
		ID:          id,
		Name:        corp.Name,
		Ticker:      corp.Ticker,
		AllianceID:  nullID(corp.AllianceID),
		MemberCount: sql.NullInt64{Int64: corp.MemberCount, Valid: corp.MemberCount > 0},
		NPC:         IsNPCCorporation(id),
		UpdatedAt:   at,
	}
}

func (a *Alliance) ToAlliance(id int64, at time.Time) models.Alliance {
	return models.Alliance{
		ID:                   id,
		Name:                 a.Name,
		Ticker:               a.Ticker,
		ExecutorOrganization: nullID(a.ExecutorCorporationID),
		UpdatedAt:            at,
	}
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id > 0}
}
