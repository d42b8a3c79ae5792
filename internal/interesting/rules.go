package interesting

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Rule flags a type, or every type in a group. A zero threshold is unset.
type Rule struct {
	ID         int64   `json:"id" mapstructure:"id"`
	MinCount   int     `json:"min_count,omitempty" mapstructure:"min_count"`
	MinPercent float64 `json:"min_percent,omitempty" mapstructure:"min_percent"`
}

// passes applies the thresholds to count out of total. With both thresholds
// set both must hold; with one set, that one must hold; with none, nothing
// passes.
func (r Rule) passes(count, total int) bool {
	countSet := r.MinCount > 0
	percentSet := r.MinPercent > 0
	if !countSet && !percentSet {
		return false
	}

	countOK := count >= r.MinCount
	percentOK := false
	if total > 0 {
		percentOK = float64(count)/float64(total)*100 >= r.MinPercent
	}

	switch {
	case countSet && percentSet:
		return countOK && percentOK
	case countSet:
		return countOK
	default:
		return percentOK
	}
}

// RuleSet is keyed by type or group id. A rule on a type id takes precedence
// over a rule on that type's group.
type RuleSet map[int64]Rule

// Default rule ids: groups unless noted.
var defaultRules = []Rule{
	{ID: 30, MinCount: 1},                  // Titan
	{ID: 659, MinCount: 1},                 // Supercarrier
	{ID: 547, MinCount: 1},                 // Carrier
	{ID: 485, MinCount: 1},                 // Dreadnought
	{ID: 1538, MinCount: 1},                // Force Auxiliary
	{ID: 883, MinCount: 1},                 // Capital Industrial Ship
	{ID: 898, MinCount: 1},                 // Black Ops
	{ID: 900, MinCount: 1},                 // Marauder
	{ID: 541, MinCount: 3},                 // Interdictor
	{ID: 832, MinCount: 5, MinPercent: 10}, // Logistics
	{ID: 1249, MinCount: 1},                // Mobile Cyno Inhibitor
	{ID: 361, MinCount: 1},                 // Mobile Warp Disruptor
	{ID: 28352, MinCount: 1},               // Rorqual (type)
}

func DefaultRules() RuleSet {
	rs := make(RuleSet, len(defaultRules))
	for _, r := range defaultRules {
		rs[r.ID] = r
	}
	return rs
}

// RulesFromConfig returns the built-in table when raw is empty and the
// configured rules otherwise. A configured list replaces the table entirely.
func RulesFromConfig(raw []interface{}) (RuleSet, []error) {
	if len(raw) == 0 {
		return DefaultRules(), nil
	}
	return NormalizeRules(raw)
}

// NormalizeRules accepts bare ids or objects with id, min_count and
// min_percent, as they come out of a config file. A bare id means a minimum
// count of one. Entries without a numeric id are skipped and reported.
func NormalizeRules(raw []interface{}) (RuleSet, []error) {
	rs := make(RuleSet, len(raw))
	var errs []error

	for i, entry := range raw {
		rule, err := normalizeRule(entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", i, err))
			continue
		}
		rs[rule.ID] = rule
	}
	return rs, errs
}

func normalizeRule(entry interface{}) (Rule, error) {
	var fields map[string]interface{}
	switch v := entry.(type) {
	case map[string]interface{}:
		fields = v
	case map[interface{}]interface{}:
		fields = make(map[string]interface{}, len(v))
		for k, val := range v {
			fields[fmt.Sprint(k)] = val
		}
	default:
		id, ok := toInt64(entry)
		if !ok {
			return Rule{}, fmt.Errorf("non-numeric rule id %v", entry)
		}
		return Rule{ID: id, MinCount: 1}, nil
	}

	id, ok := toInt64(fields["id"])
	if !ok {
		return Rule{}, fmt.Errorf("non-numeric rule id %v", fields["id"])
	}
	rule := Rule{ID: id}
	if v, ok := toFloat64(fields["min_count"]); ok {
		rule.MinCount = int(v)
	}
	if v, ok := toFloat64(fields["min_percent"]); ok {
		rule.MinPercent = v
	}
	return rule, nil
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt64(v interface{}) (int64, bool) {
	f, ok := toFloat64(v)
	if !ok || f <= 0 || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}
