package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubflow/clubflow/pkg/models"
)

func sequenceWorkflow(steps ...*models.Step) *models.Workflow {
	return &models.Workflow{
		ID:          "seq-1",
		Name:        "Drip post vendita",
		Kind:        models.WorkflowKindSequence,
		Enabled:     true,
		TriggerType: "lead.stage_changed",
		Steps:       steps,
	}
}

func TestManagerEnrollOncePerSubject(t *testing.T) {
	f := newEngineFixture(t)

	workflow := sequenceWorkflow(&models.Step{ID: "s1", Type: "send_message"})
	f.saveWorkflow(t, workflow)

	first, err := f.manager.Enroll(t.Context(), workflow, "lead-1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, models.EnrollmentStatusActive, first.Status)
	assert.Equal(t, 0, first.CurrentStepIndex)

	// The second call is a no-op returning nil and no second row exists.
	second, err := f.manager.Enroll(t.Context(), workflow, "lead-1")
	require.NoError(t, err)
	assert.Nil(t, second)

	all, err := f.persistence.EnrollmentRepository().EnrollmentsByWorkflow(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// A different subject enrolls independently.
	other, err := f.manager.Enroll(t.Context(), workflow, "lead-2")
	require.NoError(t, err)
	require.NotNil(t, other)
}

func TestManagerEnrollLeadingDelayGatesFirstSend(t *testing.T) {
	f := newEngineFixture(t)

	t0 := time.Now().Truncate(time.Second)
	f.manager.now = fixedClock(t0)

	workflow := sequenceWorkflow(
		&models.Step{ID: "wait", Type: models.StepTypeDelay, Delay: &models.Delay{Days: 3}},
		&models.Step{ID: "s1", Type: "send_message"},
	)
	f.saveWorkflow(t, workflow)

	enrollment, err := f.manager.Enroll(t.Context(), workflow, "lead-1")
	require.NoError(t, err)
	require.NotNil(t, enrollment.NextSendAt)
	assert.WithinDuration(t, t0.Add(72*time.Hour), *enrollment.NextSendAt, time.Second)
}

func TestManagerEnrollWithoutSubject(t *testing.T) {
	f := newEngineFixture(t)
	workflow := sequenceWorkflow(&models.Step{ID: "s1", Type: "send_message"})

	_, err := f.manager.Enroll(t.Context(), workflow, "")
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestManagerAdvanceDueWalksSequenceToCompletion(t *testing.T) {
	f := newEngineFixture(t)

	sender := &countingHandler{output: map[string]any{}}
	f.registry.Register("send_message", sender.handle)

	t0 := time.Now().Add(-time.Minute).Truncate(time.Second)
	f.manager.now = fixedClock(t0)

	workflow := sequenceWorkflow(
		&models.Step{ID: "s1", Type: "send_message"},
		&models.Step{ID: "s2", Type: "send_message", Delay: &models.Delay{Days: 1}},
	)
	f.saveWorkflow(t, workflow)

	enrollment, err := f.manager.Enroll(t.Context(), workflow, "lead-1")
	require.NoError(t, err)

	// First tick sends step 0 and gates step 1 behind its one-day delay.
	require.NoError(t, f.manager.AdvanceDue(t.Context(), t0))
	assert.Equal(t, 1, sender.count())

	stored, err := f.persistence.EnrollmentRepository().GetEnrollment(t.Context(), enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, stored.Status)
	assert.Equal(t, 1, stored.CurrentStepIndex)
	require.NotNil(t, stored.NextSendAt)
	assert.WithinDuration(t, t0.Add(24*time.Hour), *stored.NextSendAt, time.Second)

	// Not due yet: nothing advances.
	require.NoError(t, f.manager.AdvanceDue(t.Context(), t0.Add(time.Hour)))
	assert.Equal(t, 1, sender.count())

	day2 := t0.Add(24*time.Hour + time.Minute)
	f.manager.now = fixedClock(day2)
	require.NoError(t, f.manager.AdvanceDue(t.Context(), day2))
	assert.Equal(t, 2, sender.count())

	stored, err = f.persistence.EnrollmentRepository().GetEnrollment(t.Context(), enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, stored.Status)
	assert.Nil(t, stored.NextSendAt)
	require.NotNil(t, stored.CompletedAt)
}

func TestManagerAdvanceDueUsesCallerClock(t *testing.T) {
	f := newEngineFixture(t)

	sender := &countingHandler{output: map[string]any{}}
	f.registry.Register("send_message", sender.handle)

	// An enrollment whose send falls an hour ahead of wall clock must still
	// advance when the tick's own clock has passed it.
	t0 := time.Now().Add(time.Hour).Truncate(time.Second)
	f.manager.now = fixedClock(t0)

	workflow := sequenceWorkflow(&models.Step{ID: "s1", Type: "send_message"})
	f.saveWorkflow(t, workflow)

	enrollment, err := f.manager.Enroll(t.Context(), workflow, "lead-1")
	require.NoError(t, err)
	require.NotNil(t, enrollment.NextSendAt)

	later := t0.Add(time.Hour)
	f.manager.now = fixedClock(later)
	require.NoError(t, f.manager.AdvanceDue(t.Context(), later))
	assert.Equal(t, 1, sender.count())

	stored, err := f.persistence.EnrollmentRepository().GetEnrollment(t.Context(), enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, stored.Status)
}

func TestManagerAdvanceClaimRejectsStaleTick(t *testing.T) {
	f := newEngineFixture(t)

	sender := &countingHandler{output: map[string]any{}}
	f.registry.Register("send_message", sender.handle)

	t0 := time.Now().Add(-time.Minute).Truncate(time.Second)
	f.manager.now = fixedClock(t0)

	workflow := sequenceWorkflow(
		&models.Step{ID: "s1", Type: "send_message"},
		&models.Step{ID: "s2", Type: "send_message", Delay: &models.Delay{Days: 1}},
	)
	f.saveWorkflow(t, workflow)

	enrollment, err := f.manager.Enroll(t.Context(), workflow, "lead-1")
	require.NoError(t, err)

	stale := *enrollment

	require.NoError(t, f.manager.advanceOne(t.Context(), enrollment, t0))
	assert.Equal(t, 1, sender.count())

	// A second scheduler instance holding the pre-advance snapshot loses
	// the claim on the step index guard and sends nothing.
	require.NoError(t, f.manager.advanceOne(t.Context(), &stale, t0))
	assert.Equal(t, 1, sender.count())
}

func TestManagerAdvanceContinuesPastFailedSend(t *testing.T) {
	f := newEngineFixture(t)

	failing := &countingHandler{err: assert.AnError}
	f.registry.Register("send_message", failing.handle)

	t0 := time.Now().Add(-time.Minute).Truncate(time.Second)
	f.manager.now = fixedClock(t0)

	workflow := sequenceWorkflow(&models.Step{ID: "s1", Type: "send_message"})
	f.saveWorkflow(t, workflow)

	enrollment, err := f.manager.Enroll(t.Context(), workflow, "lead-1")
	require.NoError(t, err)

	require.NoError(t, f.manager.AdvanceDue(t.Context(), t0))
	assert.Equal(t, 1, failing.count())

	stored, err := f.persistence.EnrollmentRepository().GetEnrollment(t.Context(), enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, stored.Status)
}
