package file

import (
	"context"
	"sort"
	"time"

	"github.com/clubflow/clubflow/pkg/models"
	"github.com/clubflow/clubflow/pkg/persistence"
)

const (
	executionsDir     = "executions"
	stepExecutionsDir = "step_executions"
)

// ExecutionRepository stores executions and step executions as JSON
// documents.
type ExecutionRepository struct {
	p *Persistence
}

func (r *ExecutionRepository) CreateExecution(_ context.Context, execution *models.Execution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.write(executionsDir, execution.ID, execution)
}

func (r *ExecutionRepository) UpdateExecution(_ context.Context, execution *models.Execution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var stored models.Execution

	found, err := r.p.read(executionsDir, execution.ID, &stored)
	if err != nil {
		return err
	}

	if !found {
		return persistence.ErrExecutionNotFound
	}

	return r.p.write(executionsDir, execution.ID, execution)
}

func (r *ExecutionRepository) GetExecution(_ context.Context, id string) (*models.Execution, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var execution models.Execution

	found, err := r.p.read(executionsDir, id, &execution)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrExecutionNotFound
	}

	return &execution, nil
}

func (r *ExecutionRepository) ExecutionsByWorkflow(_ context.Context, workflowID string) ([]*models.Execution, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	executions, err := r.loadByWorkflow(workflowID)
	if err != nil {
		return nil, err
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	return executions, nil
}

func (r *ExecutionRepository) ExecutionsSince(_ context.Context, workflowID string, since time.Time) ([]*models.Execution, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	all, err := r.loadByWorkflow(workflowID)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Execution, 0)

	for _, execution := range all {
		if !execution.StartedAt.Before(since) {
			matched = append(matched, execution)
		}
	}

	return matched, nil
}

func (r *ExecutionRepository) CreateStepExecution(_ context.Context, se *models.StepExecution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.write(stepExecutionsDir, se.ID, se)
}

func (r *ExecutionRepository) UpdateStepExecution(_ context.Context, se *models.StepExecution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var stored models.StepExecution

	found, err := r.p.read(stepExecutionsDir, se.ID, &stored)
	if err != nil {
		return err
	}

	if !found {
		return persistence.ErrStepExecutionNotFound
	}

	return r.p.write(stepExecutionsDir, se.ID, se)
}

func (r *ExecutionRepository) StepExecutionsByExecution(_ context.Context, executionID string) ([]*models.StepExecution, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	all, err := r.loadAllStepExecutions()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.StepExecution, 0)

	for _, se := range all {
		if se.ExecutionID == executionID {
			matched = append(matched, se)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StepIndex < matched[j].StepIndex
	})

	return matched, nil
}

func (r *ExecutionRepository) DueStepExecutions(_ context.Context, now time.Time) ([]*models.StepExecution, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	all, err := r.loadAllStepExecutions()
	if err != nil {
		return nil, err
	}

	due := make([]*models.StepExecution, 0)

	for _, se := range all {
		if se.Status != models.StepStatusPending || se.ScheduledFor == nil {
			continue
		}

		if !se.ScheduledFor.After(now) {
			due = append(due, se)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledFor.Equal(*due[j].ScheduledFor) {
			return due[i].StepIndex < due[j].StepIndex
		}

		return due[i].ScheduledFor.Before(*due[j].ScheduledFor)
	})

	return due, nil
}

// ClaimStepExecution transitions pending->running under the store mutex,
// mirroring the conditional UPDATE the SQL backend uses.
func (r *ExecutionRepository) ClaimStepExecution(_ context.Context, id string, now time.Time) (bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var se models.StepExecution

	found, err := r.p.read(stepExecutionsDir, id, &se)
	if err != nil {
		return false, err
	}

	if !found || se.Status != models.StepStatusPending {
		return false, nil
	}

	// A sibling delay resumed earlier in the same pass may have pushed
	// this row out; it is no longer due.
	if se.ScheduledFor == nil || se.ScheduledFor.After(now) {
		return false, nil
	}

	se.MarkRunning(now)

	if err := r.p.write(stepExecutionsDir, id, &se); err != nil {
		return false, err
	}

	return true, nil
}

func (r *ExecutionRepository) loadByWorkflow(workflowID string) ([]*models.Execution, error) {
	ids, err := r.p.ids(executionsDir)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.Execution, 0)

	for _, id := range ids {
		var execution models.Execution

		found, err := r.p.read(executionsDir, id, &execution)
		if err != nil {
			return nil, err
		}

		if found && execution.WorkflowID == workflowID {
			executions = append(executions, &execution)
		}
	}

	return executions, nil
}

func (r *ExecutionRepository) loadAllStepExecutions() ([]*models.StepExecution, error) {
	ids, err := r.p.ids(stepExecutionsDir)
	if err != nil {
		return nil, err
	}

	stepExecutions := make([]*models.StepExecution, 0, len(ids))

	for _, id := range ids {
		var se models.StepExecution

		found, err := r.p.read(stepExecutionsDir, id, &se)
		if err != nil {
			return nil, err
		}

		if found {
			stepExecutions = append(stepExecutions, &se)
		}
	}

	return stepExecutions, nil
}
