package handlers

import (
	"context"
	"fmt"

	"github.com/clubflow/clubflow/pkg/models"
	"github.com/clubflow/clubflow/pkg/registry"
	"github.com/clubflow/clubflow/pkg/template"
)

// defaultRecipientPath is where the recipient address lives in the context
// when the step config does not say otherwise.
const defaultRecipientPath = "lead.email"

var sendMessageSchema = map[string]any{
	"type":     "object",
	"required": []string{"body"},
	"properties": map[string]any{
		"subject":        map[string]any{"type": "string"},
		"body":           map[string]any{"type": "string"},
		"recipient_path": map[string]any{"type": "string"},
		"channel":        map[string]any{"type": "string"},
	},
}

// sendMessageHandler renders the subject and body against the run context
// and hands the result to the Notifier. The recipient is resolved from a
// configurable context path.
func sendMessageHandler(notifier Notifier) registry.Handler {
	return func(ctx context.Context, config map[string]any, rc *models.Context) (map[string]any, error) {
		recipientPath, _ := config["recipient_path"].(string)
		if recipientPath == "" {
			recipientPath = defaultRecipientPath
		}

		recipient := template.Render("{{"+recipientPath+"}}", rc)
		if recipient == "" {
			return nil, fmt.Errorf("no recipient at context path %q", recipientPath)
		}

		subject, _ := config["subject"].(string)
		body, _ := config["body"].(string)
		channel, _ := config["channel"].(string)

		notification := Notification{
			Recipient: recipient,
			Subject:   template.Render(subject, rc),
			Body:      template.Render(body, rc),
			Channel:   channel,
		}

		if err := notifier.Send(ctx, notification); err != nil {
			return nil, fmt.Errorf("send message to %s: %w", recipient, err)
		}

		return map[string]any{
			"sent":      true,
			"recipient": recipient,
			"subject":   notification.Subject,
		}, nil
	}
}
