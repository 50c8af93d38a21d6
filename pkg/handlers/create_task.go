package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/clubflow/clubflow/pkg/models"
	"github.com/clubflow/clubflow/pkg/registry"
	"github.com/clubflow/clubflow/pkg/template"
)

var createTaskSchema = map[string]any{
	"type":     "object",
	"required": []string{"title"},
	"properties": map[string]any{
		"title":       map[string]any{"type": "string"},
		"assigned_to": map[string]any{"type": "string"},
		"due_in_days": map[string]any{"type": "number", "minimum": 0},
	},
}

// createTaskHandler creates a follow-up task for the subject of the run.
func createTaskHandler(writer EntityWriter) registry.Handler {
	return func(ctx context.Context, config map[string]any, rc *models.Context) (map[string]any, error) {
		title, _ := config["title"].(string)

		task := Task{
			Title: template.Render(title, rc),
		}

		if assignedTo, ok := config["assigned_to"].(string); ok {
			task.AssignedTo = template.Render(assignedTo, rc)
		}

		if subject, ok := rc.Lookup("lead.id"); ok {
			task.SubjectID = fmt.Sprintf("%v", subject)
		}

		if days, ok := config["due_in_days"].(float64); ok && days > 0 {
			dueAt := time.Now().Add(time.Duration(days) * 24 * time.Hour)
			task.DueAt = &dueAt
		}

		taskID, err := writer.CreateTask(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("create task %q: %w", task.Title, err)
		}

		return map[string]any{
			"task_id": taskID,
			"title":   task.Title,
		}, nil
	}
}
