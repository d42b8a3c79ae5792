package interesting

import "testing"

func TestEvaluate_SingleObjectMinCountOne(t *testing.T) {
	leaves := []Leaf{{TypeID: 671, TypeName: "Erebus", GroupID: 30, GroupName: "Titan", Count: 1}}

	items := Evaluate(leaves, RuleSet{671: {ID: 671, MinCount: 1}})
	if len(items) != 1 || items[0].TypeID != 671 || items[0].MatchedBy != "type" {
		t.Fatalf("expected the titan flagged, got %+v", items)
	}
	if items[0].Percent != 100 {
		t.Errorf("expected 100 percent, got %v", items[0].Percent)
	}
}

func TestEvaluate_ZeroThresholdsNeverFlag(t *testing.T) {
	leaves := []Leaf{
		{TypeID: 671, TypeName: "Erebus", GroupID: 30, GroupName: "Titan", Count: 5},
		{TypeID: 587, TypeName: "Rifter", GroupID: 25, GroupName: "Frigate", Count: 50},
	}
	rules := RuleSet{
		671: {ID: 671},
		25:  {ID: 25, MinCount: 0, MinPercent: 0},
	}

	if items := Evaluate(leaves, rules); len(items) != 0 {
		t.Fatalf("expected nothing flagged, got %+v", items)
	}
}

func TestEvaluate_TypeRuleOverridesGroupRule(t *testing.T) {
	leaves := []Leaf{
		{TypeID: 11985, TypeName: "Basilisk", GroupID: 832, GroupName: "Logistics", Count: 2},
		{TypeID: 11978, TypeName: "Scimitar", GroupID: 832, GroupName: "Logistics", Count: 4},
		{TypeID: 587, TypeName: "Rifter", GroupID: 25, GroupName: "Frigate", Count: 4},
	}
	rules := RuleSet{
		832:   {ID: 832, MinCount: 5},
		11985: {ID: 11985, MinCount: 3},
	}

	items := Evaluate(leaves, rules)
	if len(items) != 1 {
		t.Fatalf("expected only the scimitar, got %+v", items)
	}
	if items[0].TypeID != 11978 || items[0].MatchedBy != "group" {
		t.Errorf("unexpected item %+v", items[0])
	}
}

func TestEvaluate_BothThresholdsMustHold(t *testing.T) {
	leaves := []Leaf{
		{TypeID: 11978, TypeName: "Scimitar", GroupID: 832, Count: 6},
		{TypeID: 587, TypeName: "Rifter", GroupID: 25, Count: 94},
	}

	if items := Evaluate(leaves, RuleSet{832: {ID: 832, MinCount: 5, MinPercent: 10}}); len(items) != 0 {
		t.Errorf("6%% should fail a 10%% threshold, got %+v", items)
	}
	if items := Evaluate(leaves, RuleSet{832: {ID: 832, MinCount: 5, MinPercent: 5}}); len(items) != 1 {
		t.Errorf("expected the group flagged, got %+v", items)
	}
	if items := Evaluate(leaves, RuleSet{832: {ID: 832, MinPercent: 5}}); len(items) != 1 {
		t.Errorf("percent-only rule should flag, got %+v", items)
	}
}

func TestEvaluate_SortedByCountThenName(t *testing.T) {
	leaves := []Leaf{
		{TypeID: 3, TypeName: "Nyx", GroupID: 659, Count: 1},
		{TypeID: 2, TypeName: "Aeon", GroupID: 659, Count: 1},
		{TypeID: 1, TypeName: "Hel", GroupID: 659, Count: 3},
	}

	items := Evaluate(leaves, DefaultRules())
	want := []string{"Hel", "Aeon", "Nyx"}
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %+v", len(want), items)
	}
	for i, name := range want {
		if items[i].TypeName != name {
			t.Errorf("position %d: got %s, want %s", i, items[i].TypeName, name)
		}
	}
}

func TestNormalizeRules(t *testing.T) {
	raw := []interface{}{
		30,
		"28352",
		map[string]interface{}{"id": 832, "min_count": 5, "min_percent": 12.5},
		map[interface{}]interface{}{"id": 541, "min_count": 3},
		"titan",
		map[string]interface{}{"id": "abc"},
	}

	rules, errs := NormalizeRules(raw)
	if len(errs) != 2 {
		t.Errorf("expected 2 malformed rules, got %v", errs)
	}
	if len(rules) != 4 {
		t.Fatalf("expected 4 rules, got %+v", rules)
	}
	if rules[30].MinCount != 1 || rules[30].MinPercent != 0 {
		t.Errorf("bare id should imply min_count 1: %+v", rules[30])
	}
	if rules[28352].MinCount != 1 {
		t.Errorf("numeric string id not accepted: %+v", rules[28352])
	}
	if rules[832].MinCount != 5 || rules[832].MinPercent != 12.5 {
		t.Errorf("object rule not parsed: %+v", rules[832])
	}
	if rules[541].MinCount != 3 {
		t.Errorf("yaml map rule not parsed: %+v", rules[541])
	}
}
