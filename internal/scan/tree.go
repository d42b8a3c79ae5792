package scan

import (
	"sort"

	"github.com/scan-intel/backend/internal/storage/models"
)

const (
	UnknownCategoryID   int64 = -1
	UnknownCategoryName       = "Unknown Category"
	UnknownGroupID      int64 = -1
	UnknownGroupName          = "Unknown Group"
)

type node struct {
	id    int64
	name  string
	count int
	mass  float64
}

type typeNode struct {
	node
	groupID   int64
	groupName string
}

type groupNode struct {
	node
	types map[int64]*typeNode
}

type categoryNode struct {
	node
	groups map[int64]*groupNode
}

// tree aggregates one grid side by category, group and type.
type tree struct {
	count      int
	mass       float64
	categories map[int64]*categoryNode
}

func newTree() *tree {
	return &tree{categories: make(map[int64]*categoryNode)}
}

func (t *tree) add(h models.HierarchyRecord) {
	t.count++
	t.mass += h.Mass

	cat, ok := t.categories[h.CategoryID]
	if !ok {
		cat = &categoryNode{node: node{id: h.CategoryID, name: h.CategoryName}, groups: make(map[int64]*groupNode)}
		t.categories[h.CategoryID] = cat
	}
	cat.count++
	cat.mass += h.Mass

	grp, ok := cat.groups[h.GroupID]
	if !ok {
		grp = &groupNode{node: node{id: h.GroupID, name: h.GroupName}, types: make(map[int64]*typeNode)}
		cat.groups[h.GroupID] = grp
	}
	grp.count++
	grp.mass += h.Mass

	typ, ok := grp.types[h.TypeID]
	if !ok {
		typ = &typeNode{node: node{id: h.TypeID, name: h.TypeName}, groupID: h.GroupID, groupName: h.GroupName}
		grp.types[h.TypeID] = typ
	}
	typ.count++
	typ.mass += h.Mass
}

type Side struct {
	TotalObjects int        `json:"total_objects"`
	TotalMass    float64    `json:"total_mass"`
	Objects      []Category `json:"objects"`
}

type Category struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	TotalObjects int     `json:"total_objects"`
	TotalMass    float64 `json:"total_mass"`
	Groups       []Group `json:"groups"`
}

type Group struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	TotalObjects int     `json:"total_objects"`
	TotalMass    float64 `json:"total_mass"`
	Types        []Type  `json:"types"`
}

type Type struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	TotalObjects int     `json:"total_objects"`
	TotalMass    float64 `json:"total_mass"`
}

// byCountThenName orders by count descending, then name, then id.
func byCountThenName(ac int, an string, aid int64, bc int, bn string, bid int64) bool {
	if ac != bc {
		return ac > bc
	}
	if an != bn {
		return an < bn
	}
	return aid < bid
}

func (t *tree) serialize() Side {
	side := Side{
		TotalObjects: t.count,
		TotalMass:    t.mass,
		Objects:      make([]Category, 0, len(t.categories)),
	}

	for _, cat := range t.categories {
		c := Category{
			ID:           cat.id,
			Name:         cat.name,
			TotalObjects: cat.count,
			TotalMass:    cat.mass,
			Groups:       make([]Group, 0, len(cat.groups)),
		}
		for _, grp := range cat.groups {
			g := Group{
				ID:           grp.id,
				Name:         grp.name,
				TotalObjects: grp.count,
				TotalMass:    grp.mass,
				Types:        make([]Type, 0, len(grp.types)),
			}
			for _, typ := range grp.types {
				g.Types = append(g.Types, Type{ID: typ.id, Name: typ.name, TotalObjects: typ.count, TotalMass: typ.mass})
			}
			sort.Slice(g.Types, func(i, j int) bool {
				return byCountThenName(g.Types[i].TotalObjects, g.Types[i].Name, g.Types[i].ID, g.Types[j].TotalObjects, g.Types[j].Name, g.Types[j].ID)
			})
			c.Groups = append(c.Groups, g)
		}
		sort.Slice(c.Groups, func(i, j int) bool {
			return byCountThenName(c.Groups[i].TotalObjects, c.Groups[i].Name, c.Groups[i].ID, c.Groups[j].TotalObjects, c.Groups[j].Name, c.Groups[j].ID)
		})
		side.Objects = append(side.Objects, c)
	}
	sort.Slice(side.Objects, func(i, j int) bool {
		return byCountThenName(side.Objects[i].TotalObjects, side.Objects[i].Name, side.Objects[i].ID, side.Objects[j].TotalObjects, side.Objects[j].Name, side.Objects[j].ID)
	})
	return side
}
