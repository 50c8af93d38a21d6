package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clubflow/clubflow/pkg/models"
)

func leadContext() *models.Context {
	rc := models.NewContext()
	rc.SetNamespace("lead", map[string]any{
		"stage":  "Vinto",
		"valore": float64(1500),
		"note":   "",
		"tags":   []any{"vip", "estero"},
	})

	return rc
}

func TestEvaluateAndOr(t *testing.T) {
	rc := leadContext()

	both := RuleSet{Operator: CombineAnd, Rules: []Rule{
		{Field: "lead.stage", Operator: OpEquals, Value: "vinto"},
		{Field: "lead.valore", Operator: OpGreaterThan, Value: 1000},
	}}
	assert.True(t, Evaluate(both, rc))

	oneFails := RuleSet{Operator: CombineAnd, Rules: []Rule{
		{Field: "lead.stage", Operator: OpEquals, Value: "vinto"},
		{Field: "lead.valore", Operator: OpGreaterThan, Value: 2000},
	}}
	assert.False(t, Evaluate(oneFails, rc))

	oneFails.Operator = CombineOr
	assert.True(t, Evaluate(oneFails, rc))
}

func TestEvaluateEmptyRules(t *testing.T) {
	assert.True(t, Evaluate(RuleSet{Operator: CombineAnd}, leadContext()))
	assert.True(t, Evaluate(RuleSet{Operator: CombineOr}, leadContext()))
}

func TestEvaluateOperators(t *testing.T) {
	rc := leadContext()

	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{"equals case-insensitive", Rule{Field: "lead.stage", Operator: OpEquals, Value: "VINTO"}, true},
		{"not_equals", Rule{Field: "lead.stage", Operator: OpNotEquals, Value: "perso"}, true},
		{"contains", Rule{Field: "lead.stage", Operator: OpContains, Value: "int"}, true},
		{"not_contains", Rule{Field: "lead.stage", Operator: OpNotContains, Value: "xyz"}, true},
		{"greater_than", Rule{Field: "lead.valore", Operator: OpGreaterThan, Value: "1000"}, true},
		{"less_than", Rule{Field: "lead.valore", Operator: OpLessThan, Value: 1000}, false},
		{"greater_than non-numeric", Rule{Field: "lead.stage", Operator: OpGreaterThan, Value: 1}, false},
		{"is_empty on blank", Rule{Field: "lead.note", Operator: OpIsEmpty}, true},
		{"is_not_empty", Rule{Field: "lead.stage", Operator: OpIsNotEmpty}, true},
		{"in_list hit", Rule{Field: "lead.stage", Operator: OpInList, Value: []any{"perso", "vinto"}}, true},
		{"in_list scalar", Rule{Field: "lead.stage", Operator: OpInList, Value: "vinto"}, true},
		{"in_list miss", Rule{Field: "lead.stage", Operator: OpInList, Value: []any{"perso"}}, false},
		{"unknown operator", Rule{Field: "lead.stage", Operator: "regex"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := RuleSet{Operator: CombineAnd, Rules: []Rule{tt.rule}}
			assert.Equal(t, tt.want, Evaluate(rs, rc))
		})
	}
}

func TestEvaluateMissingField(t *testing.T) {
	rc := leadContext()

	assert.True(t, Evaluate(RuleSet{Rules: []Rule{{Field: "lead.missing", Operator: OpIsEmpty}}}, rc))
	assert.False(t, Evaluate(RuleSet{Rules: []Rule{{Field: "lead.missing", Operator: OpEquals, Value: ""}}}, rc))
	assert.False(t, Evaluate(RuleSet{Rules: []Rule{{Field: "lead.missing", Operator: OpIsNotEmpty}}}, rc))
}

func TestRuleSetFromConfig(t *testing.T) {
	rs := RuleSetFromConfig(map[string]any{
		"operator": "or",
		"rules": []any{
			map[string]any{"field": "lead.stage", "operator": "equals", "value": "vinto"},
			"garbage entry",
		},
	})

	assert.Equal(t, CombineOr, rs.Operator)
	assert.Len(t, rs.Rules, 1)
	assert.Equal(t, "lead.stage", rs.Rules[0].Field)
}
