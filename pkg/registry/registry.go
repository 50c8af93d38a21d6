// Package registry maps step type names to executable handlers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/clubflow/clubflow/pkg/models"
)

// ErrUnknownStepType is returned when a workflow references a step type no
// handler was registered for. Fatal to that one step execution only.
var ErrUnknownStepType = errors.New("unknown step type")

// Handler executes one step. Handlers are pure with respect to engine
// state: side effects go through collaborators, the engine only records
// the returned result.
type Handler func(ctx context.Context, config map[string]any, rc *models.Context) (map[string]any, error)

// Registry is the handler table. It is constructed at startup and injected
// into the orchestrator and the enrollment manager; registration after
// boot is allowed but unusual.
type Registry struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[string]Handler
	schemas  map[string]*gojsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger,
		handlers: make(map[string]Handler),
		schemas:  make(map[string]*gojsonschema.Schema),
	}
}

// Register binds a handler to a step type.
func (r *Registry) Register(stepType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[stepType] = handler
}

// RegisterWithSchema binds a handler and a JSON schema for its config. The
// schema is checked before every dispatch; violations fail the step.
func (r *Registry) RegisterWithSchema(stepType string, handler Handler, schema map[string]any) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return fmt.Errorf("invalid config schema for step type %q: %w", stepType, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[stepType] = handler
	r.schemas[stepType] = compiled

	return nil
}

// Handler looks up the handler for a step type.
func (r *Registry) Handler(stepType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[stepType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepType, stepType)
	}

	return handler, nil
}

// StepTypes returns the registered step type names, sorted.
func (r *Registry) StepTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for stepType := range r.handlers {
		types = append(types, stepType)
	}

	sort.Strings(types)

	return types
}

// ValidateConfig checks a step config against the type's registered schema,
// if any. Types registered without a schema always validate.
func (r *Registry) ValidateConfig(stepType string, config map[string]any) error {
	r.mu.RLock()
	schema, ok := r.schemas[stepType]
	r.mu.RUnlock()

	if !ok {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("config validation for step type %q: %w", stepType, err)
	}

	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("invalid config for step type %q: %s", stepType, errs[0].String())
		}

		return fmt.Errorf("invalid config for step type %q", stepType)
	}

	return nil
}
