package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubflow/clubflow/pkg/models"
)

func standardWorkflow(steps ...*models.Step) *models.Workflow {
	return &models.Workflow{
		ID:          "wf-1",
		Name:        "Benvenuto lead",
		Kind:        models.WorkflowKindStandard,
		Enabled:     true,
		TriggerType: "lead.stage_changed",
		Steps:       steps,
	}
}

func TestExecutorRunWithoutDelayCompletes(t *testing.T) {
	f := newEngineFixture(t)

	first := &countingHandler{output: map[string]any{"sent": true}}
	second := &countingHandler{output: map[string]any{"done": true}}
	f.registry.Register("send_message", first.handle)
	f.registry.Register("create_task", second.handle)

	workflow := standardWorkflow(
		&models.Step{ID: "s1", Type: "send_message"},
		&models.Step{ID: "s2", Type: "create_task"},
	)
	f.saveWorkflow(t, workflow)

	execution, err := f.executor.Run(t.Context(), workflow, map[string]any{
		"entity_type": "lead",
		"entity_id":   "lead-1",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	require.NotNil(t, execution.CompletedAt)
	assert.Equal(t, 1, first.count())
	assert.Equal(t, 1, second.count())

	steps := f.stepExecutions(t, execution.ID)
	require.Len(t, steps, 2)

	for _, step := range steps {
		assert.Equal(t, models.StepStatusCompleted, step.Status)
		assert.Nil(t, step.ScheduledFor)
	}

	stored, err := f.persistence.WorkflowRepository().GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ExecutionsCount)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.LastStatus)
	require.NotNil(t, stored.LastRunAt)
}

func TestExecutorRunPassesLastStepOutput(t *testing.T) {
	f := newEngineFixture(t)

	f.registry.Register("produce", (&countingHandler{output: map[string]any{"token": "abc"}}).handle)

	var seen any

	f.registry.Register("consume", func(_ context.Context, _ map[string]any, rc *models.Context) (map[string]any, error) {
		seen, _ = rc.Lookup("last_step_output.token")

		return nil, nil
	})

	workflow := standardWorkflow(
		&models.Step{ID: "s1", Type: "produce"},
		&models.Step{ID: "s2", Type: "consume"},
	)
	f.saveWorkflow(t, workflow)

	_, err := f.executor.Run(t.Context(), workflow, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "abc", seen)
}

func TestExecutorHandlerContextMutationsDoNotLeak(t *testing.T) {
	f := newEngineFixture(t)

	f.registry.Register("send_message", func(_ context.Context, _ map[string]any, rc *models.Context) (map[string]any, error) {
		rc.Set("scratch", "leaked")

		return map[string]any{"sent": true}, nil
	})

	var scratch, sent any

	f.registry.Register("create_task", func(_ context.Context, _ map[string]any, rc *models.Context) (map[string]any, error) {
		scratch, _ = rc.Lookup("scratch")
		sent, _ = rc.Lookup("last_step_output.sent")

		return nil, nil
	})

	workflow := standardWorkflow(
		&models.Step{ID: "s1", Type: "send_message"},
		&models.Step{ID: "s2", Type: "create_task"},
	)
	f.saveWorkflow(t, workflow)

	execution, err := f.executor.Run(t.Context(), workflow, map[string]any{})
	require.NoError(t, err)

	// Root keys written by a handler stay in its own copy; only the
	// recorded output reaches the next step.
	assert.Nil(t, scratch)
	assert.Equal(t, true, sent)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
}

func TestExecutorRunContinuesPastFailedStep(t *testing.T) {
	f := newEngineFixture(t)

	failing := &countingHandler{err: errors.New("smtp unavailable")}
	following := &countingHandler{output: map[string]any{}}
	f.registry.Register("send_message", failing.handle)
	f.registry.Register("create_task", following.handle)

	workflow := standardWorkflow(
		&models.Step{ID: "s1", Type: "send_message"},
		&models.Step{ID: "s2", Type: "create_task"},
	)
	f.saveWorkflow(t, workflow)

	execution, err := f.executor.Run(t.Context(), workflow, map[string]any{})
	require.NoError(t, err)

	// One failed, one completed, nothing pending: aggregate is failed.
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, 1, following.count())

	steps := f.stepExecutions(t, execution.ID)
	assert.Equal(t, models.StepStatusFailed, stepByIndex(steps, 0).Status)
	assert.Contains(t, stepByIndex(steps, 0).Error, "smtp unavailable")
	assert.Equal(t, models.StepStatusCompleted, stepByIndex(steps, 1).Status)
}

func TestExecutorRunUnknownStepTypeFailsThatStepOnly(t *testing.T) {
	f := newEngineFixture(t)

	known := &countingHandler{output: map[string]any{}}
	f.registry.Register("create_task", known.handle)

	workflow := standardWorkflow(
		&models.Step{ID: "s1", Type: "telepathy"},
		&models.Step{ID: "s2", Type: "create_task"},
	)
	f.saveWorkflow(t, workflow)

	execution, err := f.executor.Run(t.Context(), workflow, map[string]any{})
	require.NoError(t, err)

	steps := f.stepExecutions(t, execution.ID)
	assert.Equal(t, models.StepStatusFailed, stepByIndex(steps, 0).Status)
	assert.Contains(t, stepByIndex(steps, 0).Error, "unknown step type")
	assert.Equal(t, 1, known.count())
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
}

func TestExecutorRunSuspendsOnDelay(t *testing.T) {
	f := newEngineFixture(t)

	before := &countingHandler{output: map[string]any{}}
	after := &countingHandler{output: map[string]any{}}
	f.registry.Register("send_message", before.handle)
	f.registry.Register("create_task", after.handle)

	t0 := time.Now().Add(-time.Hour).Truncate(time.Second)
	f.executor.now = fixedClock(t0)

	workflow := standardWorkflow(
		&models.Step{ID: "s1", Type: "send_message"},
		&models.Step{ID: "s2", Type: models.StepTypeDelay, Delay: &models.Delay{Days: 2}},
		&models.Step{ID: "s3", Type: "create_task"},
		&models.Step{ID: "s4", Type: "send_message"},
	)
	f.saveWorkflow(t, workflow)

	execution, err := f.executor.Run(t.Context(), workflow, map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusPartial, execution.Status)
	assert.Nil(t, execution.CompletedAt)
	assert.Equal(t, 1, before.count())
	assert.Equal(t, 0, after.count())

	steps := f.stepExecutions(t, execution.ID)
	require.Len(t, steps, 4)

	assert.Equal(t, models.StepStatusCompleted, stepByIndex(steps, 0).Status)
	assert.Equal(t, models.StepStatusCompleted, stepByIndex(steps, 1).Status)

	wantAt := t0.Add(48 * time.Hour)

	for _, index := range []int{2, 3} {
		pending := stepByIndex(steps, index)
		assert.Equal(t, models.StepStatusPending, pending.Status)
		require.NotNil(t, pending.ScheduledFor)
		assert.WithinDuration(t, wantAt, *pending.ScheduledFor, time.Second)
	}
}

func TestExecutorResumeDueScenario(t *testing.T) {
	f := newEngineFixture(t)

	sender := &countingHandler{output: map[string]any{"sent": true}}
	f.registry.Register("send_message", sender.handle)

	t0 := time.Now().Add(-72 * time.Hour).Truncate(time.Second)
	f.executor.now = fixedClock(t0)

	workflow := standardWorkflow(
		&models.Step{ID: "s1", Type: models.StepTypeDelay, Delay: &models.Delay{Days: 2}},
		&models.Step{ID: "s2", Type: "send_message"},
	)
	f.saveWorkflow(t, workflow)

	execution, err := f.executor.Run(t.Context(), workflow, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPartial, execution.Status)
	assert.Equal(t, 0, sender.count())

	// One day in: nothing is due yet.
	require.NoError(t, f.executor.ResumeDue(t.Context(), t0.Add(24*time.Hour)))
	assert.Equal(t, 0, sender.count())

	steps := f.stepExecutions(t, execution.ID)
	assert.Equal(t, models.StepStatusPending, stepByIndex(steps, 1).Status)

	// Just past the two-day mark the send fires and the execution closes.
	resumeAt := t0.Add(48*time.Hour + time.Second)
	f.executor.now = fixedClock(resumeAt)
	require.NoError(t, f.executor.ResumeDue(t.Context(), resumeAt))
	assert.Equal(t, 1, sender.count())

	steps = f.stepExecutions(t, execution.ID)
	assert.Equal(t, models.StepStatusCompleted, stepByIndex(steps, 1).Status)

	stored, err := f.persistence.ExecutionRepository().GetExecution(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)

	// A second pass finds nothing pending and must not re-run the handler.
	require.NoError(t, f.executor.ResumeDue(t.Context(), resumeAt))
	assert.Equal(t, 1, sender.count())
}

func TestExecutorBranchSkipping(t *testing.T) {
	f := newEngineFixture(t)

	taken := &countingHandler{output: map[string]any{}}
	skipped := &countingHandler{output: map[string]any{}}
	f.registry.Register("condition", (&countingHandler{output: map[string]any{"condition_met": true}}).handle)
	f.registry.Register("when_true", taken.handle)
	f.registry.Register("when_false", skipped.handle)

	workflow := standardWorkflow(
		&models.Step{ID: "cond", Type: models.StepTypeCondition},
		&models.Step{ID: "yes", Type: "when_true", Branch: models.BranchIfTrue, ParentConditionID: "cond"},
		&models.Step{ID: "no", Type: "when_false", Branch: models.BranchIfFalse, ParentConditionID: "cond"},
	)
	f.saveWorkflow(t, workflow)

	execution, err := f.executor.Run(t.Context(), workflow, map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, 1, taken.count())
	assert.Equal(t, 0, skipped.count())

	steps := f.stepExecutions(t, execution.ID)
	require.Len(t, steps, 3)

	skippedRow := stepByIndex(steps, 2)
	assert.Equal(t, models.StepStatusCompleted, skippedRow.Status)
	assert.True(t, skippedRow.WasSkipped())
	assert.False(t, stepByIndex(steps, 1).WasSkipped())

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
}

func TestExecutorBranchSkippingAcrossResume(t *testing.T) {
	f := newEngineFixture(t)

	taken := &countingHandler{output: map[string]any{}}
	skipped := &countingHandler{output: map[string]any{}}
	f.registry.Register("condition", (&countingHandler{output: map[string]any{"condition_met": false}}).handle)
	f.registry.Register("when_true", taken.handle)
	f.registry.Register("when_false", skipped.handle)

	t0 := time.Now().Add(-time.Hour).Truncate(time.Second)
	f.executor.now = fixedClock(t0)

	workflow := standardWorkflow(
		&models.Step{ID: "cond", Type: models.StepTypeCondition},
		&models.Step{ID: "wait", Type: models.StepTypeDelay, Delay: &models.Delay{Minutes: 10}},
		&models.Step{ID: "yes", Type: "when_true", Branch: models.BranchIfTrue, ParentConditionID: "cond"},
		&models.Step{ID: "no", Type: "when_false", Branch: models.BranchIfFalse, ParentConditionID: "cond"},
	)
	f.saveWorkflow(t, workflow)

	execution, err := f.executor.Run(t.Context(), workflow, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPartial, execution.Status)

	resumeAt := t0.Add(11 * time.Minute)
	f.executor.now = fixedClock(resumeAt)
	require.NoError(t, f.executor.ResumeDue(t.Context(), resumeAt))

	// Condition resolved false before the delay, so the if_true branch is
	// skipped on resume and the if_false branch runs.
	assert.Equal(t, 0, taken.count())
	assert.Equal(t, 1, skipped.count())

	steps := f.stepExecutions(t, execution.ID)
	assert.True(t, stepByIndex(steps, 2).WasSkipped())
	assert.Equal(t, models.StepStatusCompleted, stepByIndex(steps, 3).Status)
}

func TestExecutorResumeDelayChain(t *testing.T) {
	f := newEngineFixture(t)

	sender := &countingHandler{output: map[string]any{}}
	f.registry.Register("send_message", sender.handle)

	t0 := time.Now().Add(-10 * 24 * time.Hour).Truncate(time.Second)
	f.executor.now = fixedClock(t0)

	workflow := standardWorkflow(
		&models.Step{ID: "d1", Type: models.StepTypeDelay, Delay: &models.Delay{Days: 1}},
		&models.Step{ID: "s1", Type: "send_message"},
		&models.Step{ID: "d2", Type: models.StepTypeDelay, Delay: &models.Delay{Days: 2}},
		&models.Step{ID: "s2", Type: "send_message"},
	)
	f.saveWorkflow(t, workflow)

	execution, err := f.executor.Run(t.Context(), workflow, map[string]any{})
	require.NoError(t, err)

	// First resume handles the message and the second delay, pushing the
	// final step out by another two days.
	day1 := t0.Add(25 * time.Hour)
	f.executor.now = fixedClock(day1)
	require.NoError(t, f.executor.ResumeDue(t.Context(), day1))
	assert.Equal(t, 1, sender.count())

	steps := f.stepExecutions(t, execution.ID)
	last := stepByIndex(steps, 3)
	assert.Equal(t, models.StepStatusPending, last.Status)
	require.NotNil(t, last.ScheduledFor)
	assert.WithinDuration(t, day1.Add(48*time.Hour), *last.ScheduledFor, time.Second)

	stored, err := f.persistence.ExecutionRepository().GetExecution(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPartial, stored.Status)

	day3 := day1.Add(48*time.Hour + time.Minute)
	f.executor.now = fixedClock(day3)
	require.NoError(t, f.executor.ResumeDue(t.Context(), day3))
	assert.Equal(t, 2, sender.count())

	stored, err = f.persistence.ExecutionRepository().GetExecution(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
}

func TestExecutorSchemaInvalidConfigFailsStep(t *testing.T) {
	f := newEngineFixture(t)

	handler := &countingHandler{output: map[string]any{}}
	err := f.registry.RegisterWithSchema("send_message", handler.handle, map[string]any{
		"type":     "object",
		"required": []string{"template"},
		"properties": map[string]any{
			"template": map[string]any{"type": "string"},
		},
	})
	require.NoError(t, err)

	workflow := standardWorkflow(
		&models.Step{ID: "s1", Type: "send_message", Config: map[string]any{}},
	)
	f.saveWorkflow(t, workflow)

	execution, err := f.executor.Run(t.Context(), workflow, map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, 0, handler.count())

	steps := f.stepExecutions(t, execution.ID)
	assert.Contains(t, stepByIndex(steps, 0).Error, "invalid config")
}
