package handlers

import (
	"context"
	"fmt"

	"github.com/clubflow/clubflow/pkg/models"
	"github.com/clubflow/clubflow/pkg/registry"
	"github.com/clubflow/clubflow/pkg/template"
)

var updateEntitySchema = map[string]any{
	"type":     "object",
	"required": []string{"entity_type", "fields"},
	"properties": map[string]any{
		"entity_type": map[string]any{"type": "string"},
		"fields": map[string]any{
			"type":          "object",
			"minProperties": 1,
		},
	},
}

// updateEntityHandler writes configured field values back to the record the
// run context was resolved from. String values pass through the template
// renderer first; everything else is written as-is.
func updateEntityHandler(writer EntityWriter) registry.Handler {
	return func(ctx context.Context, config map[string]any, rc *models.Context) (map[string]any, error) {
		entityType, _ := config["entity_type"].(string)

		id, ok := rc.Lookup(entityType + ".id")
		if !ok {
			return nil, fmt.Errorf("no %s entity in context to update", entityType)
		}

		entityID := fmt.Sprintf("%v", id)

		fields, _ := config["fields"].(map[string]any)
		rendered := make(map[string]any, len(fields))

		for field, value := range fields {
			if text, isString := value.(string); isString {
				rendered[field] = template.Render(text, rc)
			} else {
				rendered[field] = value
			}
		}

		if err := writer.UpdateEntity(ctx, entityType, entityID, rendered); err != nil {
			return nil, fmt.Errorf("update %s %s: %w", entityType, entityID, err)
		}

		return map[string]any{
			"updated":     true,
			"entity_type": entityType,
			"entity_id":   entityID,
			"fields":      rendered,
		}, nil
	}
}
