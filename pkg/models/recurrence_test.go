package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecurrenceNextCron(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

	rec := Recurrence{Kind: TriggerCron, CronExpression: "0 10 * * *"}

	next, err := rec.Next(now)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC), *next)
}

func TestRecurrenceNextCronMalformed(t *testing.T) {
	rec := Recurrence{Kind: TriggerCron, CronExpression: "not a cron"}

	next, err := rec.Next(time.Now().UTC())
	assert.ErrorIs(t, err, ErrMalformedRecurrence)
	assert.Nil(t, next)
}

func TestRecurrenceNextInterval(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

	rec := Recurrence{Kind: TriggerInterval, IntervalMinutes: 45}

	next, err := rec.Next(now)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, now.Add(45*time.Minute), *next)
}

func TestRecurrenceNextIntervalInvalid(t *testing.T) {
	rec := Recurrence{Kind: TriggerInterval}

	_, err := rec.Next(time.Now().UTC())
	assert.ErrorIs(t, err, ErrMalformedRecurrence)
}

func TestRecurrenceNextSpecificDate(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	at := now.Add(48 * time.Hour)

	rec := Recurrence{Kind: TriggerSpecificDate, RunAt: &at}

	next, err := rec.Next(now)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, at, *next)

	// Once the instant has passed the rule has no further runs.
	next, err = rec.Next(at.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestWorkflowRecurrenceFromTriggerConfig(t *testing.T) {
	workflow := &Workflow{
		TriggerType: TriggerInterval,
		TriggerConfig: map[string]any{
			"interval_minutes": float64(30), // as decoded from JSON
		},
	}

	rec := workflow.Recurrence()
	assert.Equal(t, 30, rec.IntervalMinutes)

	next, err := rec.Next(time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, next)
}
