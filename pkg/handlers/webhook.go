package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/clubflow/clubflow/pkg/models"
	"github.com/clubflow/clubflow/pkg/registry"
	"github.com/clubflow/clubflow/pkg/template"
)

var webhookSchema = map[string]any{
	"type":     "object",
	"required": []string{"url"},
	"properties": map[string]any{
		"url":    map[string]any{"type": "string", "format": "uri"},
		"method": map[string]any{"type": "string", "enum": []string{"POST", "PUT", "PATCH"}},
		"payload": map[string]any{
			"type": "object",
		},
		"headers": map[string]any{
			"type": "object",
		},
	},
}

// webhookHandler posts a rendered JSON payload to a configured URL. The
// response body is discarded; only the status code is recorded.
func webhookHandler(client *http.Client) registry.Handler {
	return func(ctx context.Context, config map[string]any, rc *models.Context) (map[string]any, error) {
		url, _ := config["url"].(string)

		method, _ := config["method"].(string)
		if method == "" {
			method = http.MethodPost
		}

		payload, _ := config["payload"].(map[string]any)
		rendered := make(map[string]any, len(payload))

		for key, value := range payload {
			if text, isString := value.(string); isString {
				rendered[key] = template.Render(text, rc)
			} else {
				rendered[key] = value
			}
		}

		body, err := json.Marshal(rendered)
		if err != nil {
			return nil, fmt.Errorf("encode webhook payload: %w", err)
		}

		request, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build webhook request: %w", err)
		}

		request.Header.Set("Content-Type", "application/json")

		if headers, ok := config["headers"].(map[string]any); ok {
			for name, value := range headers {
				if text, isString := value.(string); isString {
					request.Header.Set(name, template.Render(text, rc))
				}
			}
		}

		response, err := client.Do(request)
		if err != nil {
			return nil, fmt.Errorf("deliver webhook to %s: %w", url, err)
		}

		defer func() {
			_, _ = io.Copy(io.Discard, response.Body)
			_ = response.Body.Close()
		}()

		if response.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("webhook %s answered %d", url, response.StatusCode)
		}

		return map[string]any{
			"status_code": response.StatusCode,
			"url":         url,
		}, nil
	}
}
