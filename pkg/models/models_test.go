package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []StepStatus
		want     ExecutionStatus
	}{
		{"all completed", []StepStatus{StepStatusCompleted, StepStatusCompleted}, ExecutionStatusCompleted},
		{"pending wins", []StepStatus{StepStatusCompleted, StepStatusPending, StepStatusFailed}, ExecutionStatusPartial},
		{"running counts as pending", []StepStatus{StepStatusRunning}, ExecutionStatusPartial},
		{"failed without pending", []StepStatus{StepStatusCompleted, StepStatusFailed}, ExecutionStatusFailed},
		{"empty run", nil, ExecutionStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := make([]*StepExecution, 0, len(tt.statuses))
			for _, s := range tt.statuses {
				steps = append(steps, &StepExecution{Status: s})
			}

			assert.Equal(t, tt.want, AggregateStatus(steps))
		})
	}
}

func TestStepExecutionTransitions(t *testing.T) {
	now := time.Now().UTC()
	se := &StepExecution{Status: StepStatusPending}

	se.MarkRunning(now)
	assert.Equal(t, StepStatusRunning, se.Status)
	assert.False(t, se.IsTerminal())

	se.MarkFailed(now, errors.New("boom"))
	assert.Equal(t, StepStatusFailed, se.Status)
	assert.Equal(t, "boom", se.Error)
	assert.True(t, se.IsTerminal())
}

func TestStepExecutionMarkSkipped(t *testing.T) {
	now := time.Now().UTC()
	se := &StepExecution{Status: StepStatusPending}

	se.MarkSkipped(now)
	assert.Equal(t, StepStatusCompleted, se.Status)
	assert.True(t, se.WasSkipped())
}

func TestDelayDuration(t *testing.T) {
	d := &Delay{Minutes: 30, Hours: 2, Days: 1}
	assert.Equal(t, 26*time.Hour+30*time.Minute, d.Duration())

	var nilDelay *Delay

	assert.Equal(t, time.Duration(0), nilDelay.Duration())
}

func TestContextLookup(t *testing.T) {
	ctx := NewContext()
	ctx.SetNamespace("lead", map[string]any{"nome": "Acme", "valore": 1500})
	ctx.Set("source", "import")

	value, ok := ctx.Lookup("lead.nome")
	assert.True(t, ok)
	assert.Equal(t, "Acme", value)

	value, ok = ctx.Lookup("source")
	assert.True(t, ok)
	assert.Equal(t, "import", value)

	_, ok = ctx.Lookup("lead.missing")
	assert.False(t, ok)

	_, ok = ctx.Lookup("source.nested") // intermediate is not a mapping
	assert.False(t, ok)

	_, ok = ctx.Lookup("missing.path")
	assert.False(t, ok)
}

func TestTriggerTypeIsTimeBased(t *testing.T) {
	assert.True(t, TriggerCron.IsTimeBased())
	assert.True(t, TriggerInterval.IsTimeBased())
	assert.True(t, TriggerSpecificDate.IsTimeBased())
	assert.False(t, TriggerType("lead_stage_changed").IsTimeBased())
}
