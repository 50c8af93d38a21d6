package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clubflow/clubflow/pkg/handlers"
	"github.com/clubflow/clubflow/pkg/resolver"
)

// HTTPEntityGateway talks to the CRM backend over its REST API. It serves
// three roles for the engine: loading records for context resolution,
// delivering notifications, and writing entity updates and tasks produced
// by steps.
type HTTPEntityGateway struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

var (
	_ resolver.EntityStore  = (*HTTPEntityGateway)(nil)
	_ handlers.Notifier     = (*HTTPEntityGateway)(nil)
	_ handlers.EntityWriter = (*HTTPEntityGateway)(nil)
)

// NewHTTPEntityGateway creates a gateway against the given base URL. The
// token, when non-empty, is sent as a bearer credential on every request.
func NewHTTPEntityGateway(baseURL, token string, logger *slog.Logger) *HTTPEntityGateway {
	return &HTTPEntityGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With("module", "entity_gateway"),
	}
}

// Load fetches one domain record. A 404 yields a nil record, not an error.
func (g *HTTPEntityGateway) Load(ctx context.Context, entityType resolver.EntityType, id string) (map[string]any, error) {
	var record map[string]any

	status, err := g.do(ctx, http.MethodGet, fmt.Sprintf("/api/entities/%s/%s", entityType, id), nil, &record)
	if err != nil {
		return nil, err
	}

	if status == http.StatusNotFound {
		return nil, nil
	}

	if status >= 400 {
		return nil, fmt.Errorf("load %s %s: backend answered %d", entityType, id, status)
	}

	return record, nil
}

// Send delivers a notification through the backend's outbound channel.
func (g *HTTPEntityGateway) Send(ctx context.Context, notification handlers.Notification) error {
	payload := map[string]any{
		"recipient": notification.Recipient,
		"subject":   notification.Subject,
		"body":      notification.Body,
		"channel":   notification.Channel,
	}

	status, err := g.do(ctx, http.MethodPost, "/api/notifications", payload, nil)
	if err != nil {
		return err
	}

	if status >= 400 {
		return fmt.Errorf("send notification: backend answered %d", status)
	}

	return nil
}

// UpdateEntity patches fields of one domain record.
func (g *HTTPEntityGateway) UpdateEntity(ctx context.Context, entityType, id string, fields map[string]any) error {
	status, err := g.do(ctx, http.MethodPatch, fmt.Sprintf("/api/entities/%s/%s", entityType, id), fields, nil)
	if err != nil {
		return err
	}

	if status >= 400 {
		return fmt.Errorf("update %s %s: backend answered %d", entityType, id, status)
	}

	return nil
}

// CreateTask records a follow-up task and returns its id.
func (g *HTTPEntityGateway) CreateTask(ctx context.Context, task handlers.Task) (string, error) {
	payload := map[string]any{
		"titolo":      task.Title,
		"assegnato_a": task.AssignedTo,
		"lead_id":     task.SubjectID,
	}
	if task.DueAt != nil {
		payload["scadenza"] = task.DueAt.Format(time.RFC3339)
	}

	var created struct {
		ID string `json:"id"`
	}

	status, err := g.do(ctx, http.MethodPost, "/api/tasks", payload, &created)
	if err != nil {
		return "", err
	}

	if status >= 400 {
		return "", fmt.Errorf("create task: backend answered %d", status)
	}

	return created.ID, nil
}

// do issues one request and decodes the response body into out when it is
// non-nil and the status is a success.
func (g *HTTPEntityGateway) do(ctx context.Context, method, path string, payload any, out any) (int, error) {
	var body io.Reader

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("encode request body: %w", err)
		}

		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 400 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response of %s %s: %w", method, path, err)
		}
	}

	return resp.StatusCode, nil
}
