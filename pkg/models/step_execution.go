package models

import "time"

// StepStatus is the state of one step within one execution.
//
//	pending -> running -> completed
//	pending -> running -> failed
//
// pending is initial for every step; completed and failed are terminal.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// StepExecution records one step's state within one execution. A populated
// ScheduledFor on a pending row is the sole representation of a suspended
// computation; there is no in-memory timer behind it.
type StepExecution struct {
	ID          string     `json:"id"`
	ExecutionID string     `json:"execution_id"`
	StepID      string     `json:"step_id"`
	StepIndex   int        `json:"step_index"`
	StepType    string     `json:"step_type"`
	Status      StepStatus `json:"status"`

	Input  map[string]any `json:"input,omitempty"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`

	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the step has reached a final state.
func (se *StepExecution) IsTerminal() bool {
	return se.Status == StepStatusCompleted || se.Status == StepStatusFailed
}

// MarkRunning transitions the step to running.
func (se *StepExecution) MarkRunning(now time.Time) {
	se.Status = StepStatusRunning
	se.StartedAt = &now
}

// MarkCompleted transitions the step to completed with its output.
func (se *StepExecution) MarkCompleted(now time.Time, output map[string]any) {
	se.Status = StepStatusCompleted
	se.Output = output
	se.CompletedAt = &now
}

// MarkFailed transitions the step to failed, recording the error message.
func (se *StepExecution) MarkFailed(now time.Time, err error) {
	se.Status = StepStatusFailed
	se.Error = err.Error()
	se.CompletedAt = &now
}

// MarkSkipped records a branch-skipped step as completed with a skip
// marker, so aggregate status can be computed from rows alone.
func (se *StepExecution) MarkSkipped(now time.Time) {
	se.Status = StepStatusCompleted
	se.Output = map[string]any{"skipped": true}
	se.CompletedAt = &now
}

// WasSkipped reports whether the step was branch-skipped rather than run.
func (se *StepExecution) WasSkipped() bool {
	skipped, _ := se.Output["skipped"].(bool)

	return skipped
}
