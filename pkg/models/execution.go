package models

import "time"

// ExecutionStatus is the aggregate status of one workflow run.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPartial   ExecutionStatus = "partial"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Execution records one run of a workflow against one triggering event.
// TriggerData is the event snapshot the run was started with; resumes
// rebuild their context from it.
type Execution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	TriggerData map[string]any  `json:"trigger_data,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// AggregateStatus derives the execution status from its step executions:
// partial while any step is still pending, failed when nothing is pending
// and at least one step failed, completed otherwise.
func AggregateStatus(steps []*StepExecution) ExecutionStatus {
	anyPending := false
	anyFailed := false

	for _, se := range steps {
		switch se.Status {
		case StepStatusPending, StepStatusRunning:
			anyPending = true
		case StepStatusFailed:
			anyFailed = true
		case StepStatusCompleted:
		}
	}

	switch {
	case anyPending:
		return ExecutionStatusPartial
	case anyFailed:
		return ExecutionStatusFailed
	default:
		return ExecutionStatusCompleted
	}
}
