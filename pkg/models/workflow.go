// Package models defines the core domain models for the automation engine.
package models

import "time"

// WorkflowKind distinguishes run-to-completion workflows from drip sequences.
type WorkflowKind string

const (
	// WorkflowKindStandard runs every step in one pass (minus delays).
	WorkflowKindStandard WorkflowKind = "standard"
	// WorkflowKindSequence enrolls one subject at a time and advances one
	// step per scheduler tick.
	WorkflowKindSequence WorkflowKind = "sequence"
)

// TriggerType is either a free-form event name fired through the Fire API
// or one of the time-based kinds driven by the scheduler.
type TriggerType string

const (
	TriggerScheduled    TriggerType = "scheduled"
	TriggerCron         TriggerType = "cron"
	TriggerInterval     TriggerType = "interval"
	TriggerSpecificDate TriggerType = "specific_date"
)

// IsTimeBased reports whether the trigger is driven by the scheduler
// rather than by an external event.
func (t TriggerType) IsTimeBased() bool {
	switch t {
	case TriggerScheduled, TriggerCron, TriggerInterval, TriggerSpecificDate:
		return true
	default:
		return false
	}
}

// Workflow is a stored automation definition: a trigger binding plus an
// ordered sequence of steps. Bookkeeping fields are mutated only by the
// scheduler and the execution orchestrator.
type Workflow struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"        validate:"required,min=3"`
	Description string       `json:"description"`
	Kind        WorkflowKind `json:"kind"        validate:"required,oneof=standard sequence"`
	Enabled     bool         `json:"enabled"`

	TriggerType   TriggerType    `json:"trigger_type"   validate:"required"`
	TriggerConfig map[string]any `json:"trigger_config"`

	Steps []*Step `json:"steps" validate:"dive"`

	// Bookkeeping.
	LastRunAt       *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time      `json:"next_run_at,omitempty"`
	ExecutionsCount int             `json:"executions_count"`
	LastStatus      ExecutionStatus `json:"last_status,omitempty"`

	Owner     string     `json:"owner"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Recurrence builds the workflow's recurrence rule from its trigger
// configuration. Only meaningful for time-based workflows.
func (w *Workflow) Recurrence() Recurrence {
	rec := Recurrence{Kind: w.TriggerType}

	if expr, ok := w.TriggerConfig["cron_expression"].(string); ok {
		rec.CronExpression = expr
	}

	switch v := w.TriggerConfig["interval_minutes"].(type) {
	case float64:
		rec.IntervalMinutes = int(v)
	case int:
		rec.IntervalMinutes = v
	}

	if raw, ok := w.TriggerConfig["run_at"].(string); ok {
		if at, err := time.Parse(time.RFC3339, raw); err == nil {
			rec.RunAt = &at
		}
	}

	return rec
}
