// Package persistence provides the data storage abstraction for workflows,
// executions and enrollments.
package persistence

import (
	"context"
	"time"

	"github.com/clubflow/clubflow/pkg/models"
)

// WorkflowRepository stores workflow definitions and their bookkeeping.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)

	// GetByTrigger returns enabled workflows bound to an event trigger.
	GetByTrigger(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error)

	// GetTimeBasedDue returns enabled time-based workflows whose next run
	// is at or before now.
	GetTimeBasedDue(ctx context.Context, now time.Time) ([]*models.Workflow, error)

	Save(ctx context.Context, workflow *models.Workflow) error

	// UpdateBookkeeping persists last-run, run-count, last-status, next-run
	// and the enabled flag without touching the definition.
	UpdateBookkeeping(ctx context.Context, workflow *models.Workflow) error

	// Delete removes a workflow. It returns ErrWorkflowInUse while
	// executions or active enrollments still reference it.
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores executions and their step executions.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, execution *models.Execution) error
	UpdateExecution(ctx context.Context, execution *models.Execution) error
	GetExecution(ctx context.Context, id string) (*models.Execution, error)
	ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error)

	// ExecutionsSince returns a workflow's executions started at or after
	// the given instant. Used for same-day trigger dedup.
	ExecutionsSince(ctx context.Context, workflowID string, since time.Time) ([]*models.Execution, error)

	CreateStepExecution(ctx context.Context, stepExecution *models.StepExecution) error
	UpdateStepExecution(ctx context.Context, stepExecution *models.StepExecution) error
	StepExecutionsByExecution(ctx context.Context, executionID string) ([]*models.StepExecution, error)

	// DueStepExecutions returns pending step executions whose scheduled_for
	// is at or before now.
	DueStepExecutions(ctx context.Context, now time.Time) ([]*models.StepExecution, error)

	// ClaimStepExecution atomically transitions a step execution from
	// pending to running, provided it is still due at now. It returns
	// false when another scheduler instance already claimed the row or a
	// resumed delay pushed it out, which makes concurrent resume passes
	// safe.
	ClaimStepExecution(ctx context.Context, id string, now time.Time) (bool, error)
}

// EnrollmentRepository stores sequence enrollments.
type EnrollmentRepository interface {
	CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	UpdateEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	GetEnrollment(ctx context.Context, id string) (*models.Enrollment, error)
	EnrollmentsByWorkflow(ctx context.Context, workflowID string) ([]*models.Enrollment, error)

	// ActiveEnrollment returns the active enrollment for a (workflow,
	// subject) pair, or nil when none exists.
	ActiveEnrollment(ctx context.Context, workflowID, subjectID string) (*models.Enrollment, error)

	// DueEnrollments returns active enrollments with next_send_at at or
	// before now.
	DueEnrollments(ctx context.Context, now time.Time) ([]*models.Enrollment, error)

	// ClaimEnrollment atomically claims a due enrollment tick by bumping
	// next_send_at to until, provided the stored step index still matches
	// and the row is still due at now. Returns false when another instance
	// advanced the enrollment first.
	ClaimEnrollment(ctx context.Context, id string, stepIndex int, now, until time.Time) (bool, error)
}

// Persistence aggregates the engine's repositories behind one backend.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	EnrollmentRepository() EnrollmentRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
