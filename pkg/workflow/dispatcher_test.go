package workflow

import (
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubflow/clubflow/pkg/models"
	"github.com/clubflow/clubflow/pkg/persistence/file"
	"github.com/clubflow/clubflow/pkg/registry"
	"github.com/clubflow/clubflow/pkg/resolver"
)

func TestDispatcherFireRunsMatchedWorkflow(t *testing.T) {
	f := newEngineFixture(t)

	handler := &countingHandler{output: map[string]any{}}
	f.registry.Register("send_message", handler.handle)

	workflow := standardWorkflow(&models.Step{ID: "s1", Type: "send_message"})
	f.saveWorkflow(t, workflow)

	results, err := f.dispatcher.Fire(t.Context(), "lead.stage_changed", map[string]any{
		"entity_type": "lead",
		"entity_id":   "lead-1",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.NotNil(t, results[0].Execution)
	assert.Equal(t, 1, handler.count())
}

func TestDispatcherFireIgnoresDisabledAndUnboundWorkflows(t *testing.T) {
	f := newEngineFixture(t)
	f.registry.Register("send_message", (&countingHandler{}).handle)

	disabled := standardWorkflow(&models.Step{ID: "s1", Type: "send_message"})
	disabled.ID = "wf-disabled"
	disabled.Enabled = false
	f.saveWorkflow(t, disabled)

	other := standardWorkflow(&models.Step{ID: "s1", Type: "send_message"})
	other.ID = "wf-other"
	other.TriggerType = "invoice.paid"
	f.saveWorkflow(t, other)

	results, err := f.dispatcher.Fire(t.Context(), "lead.stage_changed", map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDispatcherStateTransitionFilters(t *testing.T) {
	f := newEngineFixture(t)
	handler := &countingHandler{output: map[string]any{}}
	f.registry.Register("send_message", handler.handle)

	workflow := standardWorkflow(&models.Step{ID: "s1", Type: "send_message"})
	workflow.TriggerConfig = map[string]any{
		"from_state": "trattativa",
		"to_state":   "vinto",
	}
	f.saveWorkflow(t, workflow)

	results, err := f.dispatcher.Fire(t.Context(), "lead.stage_changed", map[string]any{
		"from_state": "nuovo",
		"to_state":   "vinto",
	})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, handler.count())

	results, err = f.dispatcher.Fire(t.Context(), "lead.stage_changed", map[string]any{
		"from_state": "Trattativa",
		"to_state":   "VINTO",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, handler.count())
}

func TestDispatcherGenericFilters(t *testing.T) {
	f := newEngineFixture(t)
	handler := &countingHandler{output: map[string]any{}}
	f.registry.Register("send_message", handler.handle)

	workflow := standardWorkflow(&models.Step{ID: "s1", Type: "send_message"})
	workflow.TriggerConfig = map[string]any{
		"filters": map[string]any{
			"fonte": []any{"sito", "referral"},
		},
	}
	f.saveWorkflow(t, workflow)

	results, err := f.dispatcher.Fire(t.Context(), "lead.stage_changed", map[string]any{"fonte": "fiera"})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = f.dispatcher.Fire(t.Context(), "lead.stage_changed", map[string]any{"fonte": "referral"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestDispatcherSameDayDedup(t *testing.T) {
	f := newEngineFixture(t)
	handler := &countingHandler{output: map[string]any{}}
	f.registry.Register("send_message", handler.handle)

	workflow := standardWorkflow(&models.Step{ID: "s1", Type: "send_message"})
	f.saveWorkflow(t, workflow)

	event := map[string]any{"entity_type": "lead", "entity_id": "lead-1"}

	results, err := f.dispatcher.Fire(t.Context(), "lead.stage_changed", event)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// Same entity, same day: skipped without an error result.
	results, err = f.dispatcher.Fire(t.Context(), "lead.stage_changed", event)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, handler.count())

	// A different entity still fires.
	results, err = f.dispatcher.Fire(t.Context(), "lead.stage_changed", map[string]any{
		"entity_type": "lead", "entity_id": "lead-2",
	})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 2, handler.count())

	executions, err := f.persistence.ExecutionRepository().ExecutionsByWorkflow(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Len(t, executions, 2)
}

func TestDispatcherFailedDispatchLeavesDedupOpen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &flakyStore{Persistence: file.NewPersistence(t.TempDir()), createFailures: 1}
	reg := registry.NewRegistry(logger)
	res := resolver.NewResolver(&stubEntityStore{}, logger)
	executor := NewExecutor(store, reg, res, nil, logger)
	manager := NewManager(store, reg, res, nil, logger)
	dispatcher := NewDispatcher(store, executor, manager, nil, logger).WithRedis(client)

	handler := &countingHandler{output: map[string]any{}}
	reg.Register("send_message", handler.handle)

	workflow := standardWorkflow(&models.Step{ID: "s1", Type: "send_message"})
	require.NoError(t, store.WorkflowRepository().Save(t.Context(), workflow))

	event := map[string]any{"entity_type": "lead", "entity_id": "lead-1"}

	results, err := dispatcher.Fire(t.Context(), "lead.stage_changed", event)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.ErrorIs(t, results[0].Err, errStorageUnavailable)

	// The failed dispatch must not mark the day as done.
	assert.Empty(t, mr.Keys())

	results, err = dispatcher.Fire(t.Context(), "lead.stage_changed", event)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, 1, handler.count())

	// The successful retry seeds the fast path for the rest of the day.
	assert.Len(t, mr.Keys(), 1)

	results, err = dispatcher.Fire(t.Context(), "lead.stage_changed", event)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, handler.count())
}

func TestDispatcherRoutesSequenceToEnrollment(t *testing.T) {
	f := newEngineFixture(t)

	sequence := standardWorkflow(&models.Step{ID: "s1", Type: "send_message"})
	sequence.Kind = models.WorkflowKindSequence
	f.saveWorkflow(t, sequence)

	results, err := f.dispatcher.Fire(t.Context(), "lead.stage_changed", map[string]any{
		"entity_type": "lead",
		"entity_id":   "lead-1",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.NotNil(t, results[0].Enrollment)
	assert.Nil(t, results[0].Execution)
	assert.Equal(t, "lead-1", results[0].Enrollment.SubjectID)
}

func TestDispatcherSequenceWithoutSubjectFails(t *testing.T) {
	f := newEngineFixture(t)

	sequence := standardWorkflow(&models.Step{ID: "s1", Type: "send_message"})
	sequence.Kind = models.WorkflowKindSequence
	f.saveWorkflow(t, sequence)

	results, err := f.dispatcher.Fire(t.Context(), "lead.stage_changed", map[string]any{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrMissingSubject)
}

func TestDispatcherIsolatesPerWorkflowFailures(t *testing.T) {
	f := newEngineFixture(t)
	handler := &countingHandler{output: map[string]any{}}
	f.registry.Register("send_message", handler.handle)

	// A sequence with no subject fails its dispatch; the standard workflow
	// after it must still run.
	broken := standardWorkflow(&models.Step{ID: "s1", Type: "send_message"})
	broken.ID = "wf-broken"
	broken.Kind = models.WorkflowKindSequence
	f.saveWorkflow(t, broken)

	healthy := standardWorkflow(&models.Step{ID: "s1", Type: "send_message"})
	healthy.ID = "wf-healthy"
	f.saveWorkflow(t, healthy)

	results, err := f.dispatcher.Fire(t.Context(), "lead.stage_changed", map[string]any{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	var failed, succeeded int

	for _, result := range results {
		if result.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}

	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, handler.count())
}

func TestMatchesTriggerFilters(t *testing.T) {
	assert.True(t, matchesTriggerFilters(map[string]any{}, map[string]any{"anything": 1}))
	assert.True(t, matchesTriggerFilters(
		map[string]any{"filters": map[string]any{"valore": 2500}},
		map[string]any{"valore": 2500.0},
	))
	assert.False(t, matchesTriggerFilters(
		map[string]any{"filters": map[string]any{"stage": "vinto"}},
		map[string]any{},
	))
}
