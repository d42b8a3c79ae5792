package interesting

import "sort"

// Leaf is one scanned type with its scan-wide count across both grid sides.
type Leaf struct {
	TypeID    int64
	TypeName  string
	GroupID   int64
	GroupName string
	Count     int
}

type Item struct {
	TypeID    int64   `json:"type_id"`
	TypeName  string  `json:"type_name"`
	GroupID   int64   `json:"group_id"`
	GroupName string  `json:"group_name"`
	Count     int     `json:"count"`
	Percent   float64 `json:"percent"`
	MatchedBy string  `json:"matched_by"`
}

type Evaluator struct {
	rules RuleSet
}

func NewEvaluator(rules RuleSet) *Evaluator {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Evaluator{rules: rules}
}

func (e *Evaluator) Rules() RuleSet {
	return e.rules
}

func (e *Evaluator) Evaluate(leaves []Leaf) []Item {
	return Evaluate(leaves, e.rules)
}

// Evaluate returns the leaves the rules flag, largest first. A type's own
// rule decides alone; otherwise its group's rule is checked against the
// group's total.
func Evaluate(leaves []Leaf, rules RuleSet) []Item {
	total := 0
	groupTotals := make(map[int64]int)
	for _, l := range leaves {
		total += l.Count
		groupTotals[l.GroupID] += l.Count
	}

	items := []Item{}
	for _, l := range leaves {
		var passed bool
		var matchedBy string
		if rule, ok := rules[l.TypeID]; ok {
			passed, matchedBy = rule.passes(l.Count, total), "type"
		} else if rule, ok := rules[l.GroupID]; ok {
			passed, matchedBy = rule.passes(groupTotals[l.GroupID], total), "group"
		}
		if !passed {
			continue
		}

		item := Item{
			TypeID:    l.TypeID,
			TypeName:  l.TypeName,
			GroupID:   l.GroupID,
			GroupName: l.GroupName,
			Count:     l.Count,
			MatchedBy: matchedBy,
		}
		if total > 0 {
			item.Percent = float64(l.Count) / float64(total) * 100
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		if items[i].TypeName != items[j].TypeName {
			return items[i].TypeName < items[j].TypeName
		}
		return items[i].TypeID < items[j].TypeID
	})
	return items
}
