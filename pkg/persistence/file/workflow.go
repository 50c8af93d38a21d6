package file

import (
	"context"
	"sort"
	"time"

	"github.com/clubflow/clubflow/pkg/models"
	"github.com/clubflow/clubflow/pkg/persistence"
)

const workflowsDir = "workflows"

// WorkflowRepository stores workflows as JSON documents.
type WorkflowRepository struct {
	p *Persistence
}

func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.loadAll()
}

func (r *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var workflow models.Workflow

	found, err := r.p.read(workflowsDir, id, &workflow)
	if err != nil {
		return nil, err
	}

	if !found || workflow.DeletedAt != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return &workflow, nil
}

func (r *WorkflowRepository) GetByTrigger(_ context.Context, triggerType models.TriggerType) ([]*models.Workflow, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	all, err := r.loadAll()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Workflow, 0)

	for _, workflow := range all {
		if workflow.Enabled && workflow.TriggerType == triggerType {
			matched = append(matched, workflow)
		}
	}

	return matched, nil
}

func (r *WorkflowRepository) GetTimeBasedDue(_ context.Context, now time.Time) ([]*models.Workflow, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	all, err := r.loadAll()
	if err != nil {
		return nil, err
	}

	due := make([]*models.Workflow, 0)

	for _, workflow := range all {
		if !workflow.Enabled || !workflow.TriggerType.IsTimeBased() {
			continue
		}

		if workflow.NextRunAt != nil && !workflow.NextRunAt.After(now) {
			due = append(due, workflow)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRunAt.Before(*due[j].NextRunAt)
	})

	return due, nil
}

func (r *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	return r.p.write(workflowsDir, workflow.ID, workflow)
}

func (r *WorkflowRepository) UpdateBookkeeping(ctx context.Context, workflow *models.Workflow) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var stored models.Workflow

	found, err := r.p.read(workflowsDir, workflow.ID, &stored)
	if err != nil {
		return err
	}

	if !found {
		return persistence.NewWorkflowError("UpdateBookkeeping", workflow.ID, persistence.ErrWorkflowNotFound)
	}

	stored.LastRunAt = workflow.LastRunAt
	stored.NextRunAt = workflow.NextRunAt
	stored.ExecutionsCount = workflow.ExecutionsCount
	stored.LastStatus = workflow.LastStatus
	stored.Enabled = workflow.Enabled
	stored.UpdatedAt = time.Now().UTC()

	return r.p.write(workflowsDir, stored.ID, &stored)
}

func (r *WorkflowRepository) Delete(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	executions, err := r.p.executionRepo.loadByWorkflow(id)
	if err != nil {
		return err
	}

	if len(executions) > 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowInUse)
	}

	enrollments, err := r.p.enrollmentRepo.loadByWorkflow(id)
	if err != nil {
		return err
	}

	for _, enrollment := range enrollments {
		if enrollment.Status == models.EnrollmentStatusActive {
			return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowInUse)
		}
	}

	var workflow models.Workflow

	found, err := r.p.read(workflowsDir, id, &workflow)
	if err != nil {
		return err
	}

	if !found {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return r.p.remove(workflowsDir, id)
}

func (r *WorkflowRepository) loadAll() ([]*models.Workflow, error) {
	ids, err := r.p.ids(workflowsDir)
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		var workflow models.Workflow

		found, err := r.p.read(workflowsDir, id, &workflow)
		if err != nil {
			return nil, err
		}

		if found && workflow.DeletedAt == nil {
			workflows = append(workflows, &workflow)
		}
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}
