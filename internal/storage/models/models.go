package models

import (
	"database/sql"
	"time"
)

// DeletedOrganizationID is the sentinel organization that soft-deleted pilots
// are moved into.
const DeletedOrganizationID int64 = 1000001

type Kind string

const (
	KindPilot        Kind = "pilot"
	KindOrganization Kind = "organization"
	KindAlliance     Kind = "alliance"
)

// Syncable is the common surface the synchronizer needs from every entity kind.
type Syncable interface {
	EntityID() int64
	LastSeenAt() time.Time
	UpdatedAtTime() time.Time
}

type Pilot struct {
	ID              int64
	Name            string
	OrganizationID  sql.NullInt64
	AllianceID      sql.NullInt64
	SecurityStatus  sql.NullFloat64
	Birthday        sql.NullTime
	LastSeen        time.Time
	UpdatedAt       time.Time
	DeletedAt       sql.NullTime
	ESICacheExpires sql.NullTime
}

func (p Pilot) EntityID() int64          { return p.ID }
func (p Pilot) LastSeenAt() time.Time    { return p.LastSeen }
func (p Pilot) UpdatedAtTime() time.Time { return p.UpdatedAt }

type Organization struct {
	ID          int64
	Name        string
	Ticker      string
	AllianceID  sql.NullInt64
	MemberCount sql.NullInt64
	NPC         bool
	LastSeen    time.Time
	UpdatedAt   time.Time
}

func (o Organization) EntityID() int64          { return o.ID }
func (o Organization) LastSeenAt() time.Time    { return o.LastSeen }
func (o Organization) UpdatedAtTime() time.Time { return o.UpdatedAt }

type Alliance struct {
	ID                   int64
	Name                 string
	Ticker               string
	ExecutorOrganization sql.NullInt64
	LastSeen             time.Time
	UpdatedAt            time.Time
}

func (a Alliance) EntityID() int64          { return a.ID }
func (a Alliance) LastSeenAt() time.Time    { return a.LastSeen }
func (a Alliance) UpdatedAtTime() time.Time { return a.UpdatedAt }

// HierarchyRecord is one inventory type joined with its group and category.
type HierarchyRecord struct {
	TypeID       int64
	TypeName     string
	Mass         float64
	GroupID      int64
	GroupName    string
	Anchorable   bool
	Anchored     bool
	CategoryID   int64
	CategoryName string
}

type SolarSystem struct {
	ID                int64
	Name              string
	ConstellationID   int64
	ConstellationName string
	RegionID          int64
	RegionName        string
	Security          float64
}

type ScanRecord struct {
	ID          string
	Kind        string
	ContentHash string
	Report      string
	CreatedAt   time.Time
}
