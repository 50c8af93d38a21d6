// Package persistence provides standardized error types for storage
// operations.
package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkflowNotFound indicates a workflow was not found by id.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates an execution was not found by id.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrStepExecutionNotFound indicates a step execution was not found.
	ErrStepExecutionNotFound = errors.New("step execution not found")

	// ErrEnrollmentNotFound indicates an enrollment was not found by id.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrWorkflowInUse indicates a delete was blocked because executions
	// or active enrollments still reference the workflow.
	ErrWorkflowInUse = errors.New("workflow still referenced by executions or enrollments")
)

// WorkflowError wraps workflow-related storage errors with operation
// context.
type WorkflowError struct {
	Op         string
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{Op: op, WorkflowID: workflowID, Err: err}
}

// IsWorkflowNotFound checks whether err indicates a missing workflow.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsWorkflowInUse checks whether err indicates a blocked delete.
func IsWorkflowInUse(err error) bool {
	return errors.Is(err, ErrWorkflowInUse)
}
