package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/clubflow/clubflow/pkg/models"
	"github.com/clubflow/clubflow/pkg/persistence"
	"github.com/clubflow/clubflow/pkg/persistence/file"
	"github.com/clubflow/clubflow/pkg/registry"
	"github.com/clubflow/clubflow/pkg/resolver"
)

type stubEntityStore struct {
	records map[string]map[string]any
}

func (s *stubEntityStore) Load(_ context.Context, entityType resolver.EntityType, id string) (map[string]any, error) {
	return s.records[string(entityType)+"/"+id], nil
}

// countingHandler records every invocation so tests can assert how often a
// step actually ran.
type countingHandler struct {
	mu     sync.Mutex
	calls  int
	output map[string]any
	err    error
}

func (h *countingHandler) handle(_ context.Context, _ map[string]any, _ *models.Context) (map[string]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++

	return h.output, h.err
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.calls
}

// flakyStore wraps a persistence backend and fails the next n execution
// creates, simulating a storage outage during dispatch.
type flakyStore struct {
	persistence.Persistence
	createFailures int
}

func (s *flakyStore) ExecutionRepository() persistence.ExecutionRepository {
	return &flakyExecutionRepository{
		ExecutionRepository: s.Persistence.ExecutionRepository(),
		store:               s,
	}
}

type flakyExecutionRepository struct {
	persistence.ExecutionRepository
	store *flakyStore
}

func (r *flakyExecutionRepository) CreateExecution(ctx context.Context, execution *models.Execution) error {
	if r.store.createFailures > 0 {
		r.store.createFailures--

		return errStorageUnavailable
	}

	return r.ExecutionRepository.CreateExecution(ctx, execution)
}

var errStorageUnavailable = errors.New("storage unavailable")

type engineFixture struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	executor    *Executor
	dispatcher  *Dispatcher
	manager     *Manager
	store       *stubEntityStore
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &stubEntityStore{records: map[string]map[string]any{
		"lead/lead-1": {
			"id":     "lead-1",
			"nome":   "Marco",
			"stage":  "vinto",
			"valore": 2500.0,
		},
	}}

	p := file.NewPersistence(t.TempDir())
	reg := registry.NewRegistry(logger)
	res := resolver.NewResolver(store, logger)
	executor := NewExecutor(p, reg, res, nil, logger)
	manager := NewManager(p, reg, res, nil, logger)
	dispatcher := NewDispatcher(p, executor, manager, nil, logger)

	return &engineFixture{
		persistence: p,
		registry:    reg,
		executor:    executor,
		dispatcher:  dispatcher,
		manager:     manager,
		store:       store,
	}
}

func (f *engineFixture) saveWorkflow(t *testing.T, workflow *models.Workflow) {
	t.Helper()

	if err := f.persistence.WorkflowRepository().Save(t.Context(), workflow); err != nil {
		t.Fatalf("save workflow: %v", err)
	}
}

func (f *engineFixture) stepExecutions(t *testing.T, executionID string) []*models.StepExecution {
	t.Helper()

	steps, err := f.persistence.ExecutionRepository().StepExecutionsByExecution(t.Context(), executionID)
	if err != nil {
		t.Fatalf("load step executions: %v", err)
	}

	return steps
}

func stepByIndex(steps []*models.StepExecution, index int) *models.StepExecution {
	for _, step := range steps {
		if step.StepIndex == index {
			return step
		}
	}

	return nil
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
