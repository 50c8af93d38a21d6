// Package condition evaluates stored rule-sets against a run context.
package condition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/clubflow/clubflow/pkg/models"
)

// Rule operators supported by the evaluator.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpIsEmpty     = "is_empty"
	OpIsNotEmpty  = "is_not_empty"
	OpInList      = "in_list"
)

// Combinators for a rule-set.
const (
	CombineAnd = "AND"
	CombineOr  = "OR"
)

// Rule compares one context field against a literal.
type Rule struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// RuleSet combines rules with AND or OR. An empty rule list evaluates to
// true. Nesting of sub-groups is not supported.
type RuleSet struct {
	Operator string `json:"operator"`
	Rules    []Rule `json:"rules"`
}

// RuleSetFromConfig decodes a rule-set from a step's stored config map.
func RuleSetFromConfig(config map[string]any) RuleSet {
	rs := RuleSet{Operator: CombineAnd}

	if op, ok := config["operator"].(string); ok && op != "" {
		rs.Operator = strings.ToUpper(op)
	}

	rawRules, _ := config["rules"].([]any)
	for _, raw := range rawRules {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		rule := Rule{Value: m["value"]}
		rule.Field, _ = m["field"].(string)
		rule.Operator, _ = m["operator"].(string)
		rs.Rules = append(rs.Rules, rule)
	}

	return rs
}

// Evaluate applies the rule-set to the context.
func Evaluate(rs RuleSet, rc *models.Context) bool {
	if len(rs.Rules) == 0 {
		return true
	}

	for _, rule := range rs.Rules {
		matched := evaluateRule(rule, rc)

		if rs.Operator == CombineOr {
			if matched {
				return true
			}
		} else if !matched {
			return false
		}
	}

	return rs.Operator != CombineOr
}

func evaluateRule(rule Rule, rc *models.Context) bool {
	value, found := rc.Lookup(rule.Field)
	if !found {
		// A missing field only satisfies the emptiness test.
		return rule.Operator == OpIsEmpty
	}

	switch rule.Operator {
	case OpEquals:
		return strings.EqualFold(stringify(value), stringify(rule.Value))
	case OpNotEquals:
		return !strings.EqualFold(stringify(value), stringify(rule.Value))
	case OpContains:
		return strings.Contains(strings.ToLower(stringify(value)), strings.ToLower(stringify(rule.Value)))
	case OpNotContains:
		return !strings.Contains(strings.ToLower(stringify(value)), strings.ToLower(stringify(rule.Value)))
	case OpGreaterThan:
		left, leftOK := toNumber(value)
		right, rightOK := toNumber(rule.Value)

		return leftOK && rightOK && left > right
	case OpLessThan:
		left, leftOK := toNumber(value)
		right, rightOK := toNumber(rule.Value)

		return leftOK && rightOK && left < right
	case OpIsEmpty:
		return isEmpty(value)
	case OpIsNotEmpty:
		return !isEmpty(value)
	case OpInList:
		return inList(value, rule.Value)
	default:
		return false
	}
}

func stringify(value any) string {
	if value == nil {
		return ""
	}

	if s, ok := value.(string); ok {
		return s
	}

	return fmt.Sprintf("%v", value)
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)

		return parsed, err == nil
	default:
		return 0, false
	}
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case bool:
		return !v
	case float64:
		return v == 0
	case int:
		return v == 0
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

func inList(value, list any) bool {
	needle := strings.ToLower(stringify(value))

	items, ok := list.([]any)
	if !ok {
		// A scalar is treated as a single-element set.
		return needle == strings.ToLower(stringify(list))
	}

	for _, item := range items {
		if needle == strings.ToLower(stringify(item)) {
			return true
		}
	}

	return false
}
