package handlers

import (
	"context"

	"github.com/clubflow/clubflow/pkg/condition"
	"github.com/clubflow/clubflow/pkg/models"
	"github.com/clubflow/clubflow/pkg/registry"
)

var conditionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"operator": map[string]any{
			"type": "string",
			"enum": []string{"AND", "OR", "and", "or"},
		},
		"rules": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"field", "operator"},
				"properties": map[string]any{
					"field":    map[string]any{"type": "string"},
					"operator": map[string]any{"type": "string"},
				},
			},
		},
	},
}

// conditionHandler evaluates the configured rule-set. The orchestrator
// reads condition_met from the output to drive branch skipping.
func conditionHandler() registry.Handler {
	return func(_ context.Context, config map[string]any, rc *models.Context) (map[string]any, error) {
		ruleSet := condition.RuleSetFromConfig(config)

		return map[string]any{
			"condition_met": condition.Evaluate(ruleSet, rc),
		}, nil
	}
}
