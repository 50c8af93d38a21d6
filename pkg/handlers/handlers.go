// Package handlers provides the standard step handler table the embedding
// application registers at boot. The engine core ships no handlers of its
// own; everything here reaches external systems only through the Notifier
// and EntityWriter collaborators.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/clubflow/clubflow/pkg/registry"
)

// Notification is one rendered message handed to the Notifier.
type Notification struct {
	Recipient string
	Subject   string
	Body      string
	Channel   string
}

// Notifier delivers rendered messages. Implementations own transport,
// retries and templating beyond merge fields.
type Notifier interface {
	Send(ctx context.Context, notification Notification) error
}

// Task is a follow-up item created by the create_task handler.
type Task struct {
	Title      string
	AssignedTo string
	SubjectID  string
	DueAt      *time.Time
}

// EntityWriter applies side effects to domain records on behalf of steps.
type EntityWriter interface {
	UpdateEntity(ctx context.Context, entityType, id string, fields map[string]any) error
	CreateTask(ctx context.Context, task Task) (string, error)
}

// RegisterAll installs the built-in handler set with its config schemas.
// The http client is used by the webhook handler; pass nil for a default
// with a bounded timeout.
func RegisterAll(reg *registry.Registry, notifier Notifier, writer EntityWriter, client *http.Client) error {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	registrations := []struct {
		stepType string
		handler  registry.Handler
		schema   map[string]any
	}{
		{"send_message", sendMessageHandler(notifier), sendMessageSchema},
		{"condition", conditionHandler(), conditionSchema},
		{"update_entity", updateEntityHandler(writer), updateEntitySchema},
		{"create_task", createTaskHandler(writer), createTaskSchema},
		{"webhook", webhookHandler(client), webhookSchema},
	}

	for _, registration := range registrations {
		if err := reg.RegisterWithSchema(registration.stepType, registration.handler, registration.schema); err != nil {
			return err
		}
	}

	return nil
}
