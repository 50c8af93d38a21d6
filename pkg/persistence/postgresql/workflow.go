package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clubflow/clubflow/pkg/models"
	"github.com/clubflow/clubflow/pkg/persistence"
)

// WorkflowRepository handles workflow rows. Steps and trigger config are
// stored inline as JSONB, matching the "steps are not their own table"
// storage shape.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const workflowColumns = `
	id
  , name
  , description
  , kind
  , enabled
  , trigger_type
  , trigger_config
  , steps
  , last_run_at
  , next_run_at
  , executions_count
  , last_status
  , owner
  , created_at
  , updated_at
`

func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflows
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC`

	return r.queryWorkflows(ctx, query)
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflows
		WHERE id = $1 AND deleted_at IS NULL`

	row := r.db.QueryRowContext(ctx, query, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) GetByTrigger(ctx context.Context, triggerType models.TriggerType) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflows
		WHERE trigger_type = $1 AND enabled AND deleted_at IS NULL
		ORDER BY created_at`

	return r.queryWorkflows(ctx, query, string(triggerType))
}

func (r *WorkflowRepository) GetTimeBasedDue(ctx context.Context, now time.Time) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflows
		WHERE trigger_type IN ('scheduled', 'cron', 'interval', 'specific_date')
		  AND enabled
		  AND deleted_at IS NULL
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= $1
		ORDER BY next_run_at`

	return r.queryWorkflows(ctx, query, now)
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	triggerConfig, err := json.Marshal(workflow.TriggerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	steps, err := json.Marshal(workflow.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := `
		INSERT INTO workflows (
			id, name, description, kind, enabled, trigger_type, trigger_config,
			steps, last_run_at, next_run_at, executions_count, last_status,
			owner, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			kind = EXCLUDED.kind,
			enabled = EXCLUDED.enabled,
			trigger_type = EXCLUDED.trigger_type,
			trigger_config = EXCLUDED.trigger_config,
			steps = EXCLUDED.steps,
			next_run_at = EXCLUDED.next_run_at,
			owner = EXCLUDED.owner,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID, workflow.Name, workflow.Description, string(workflow.Kind),
		workflow.Enabled, string(workflow.TriggerType), triggerConfig, steps,
		workflow.LastRunAt, workflow.NextRunAt, workflow.ExecutionsCount,
		string(workflow.LastStatus), workflow.Owner, workflow.CreatedAt, workflow.UpdatedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) UpdateBookkeeping(ctx context.Context, workflow *models.Workflow) error {
	query := `
		UPDATE workflows SET
			last_run_at = $2,
			next_run_at = $3,
			executions_count = $4,
			last_status = $5,
			enabled = $6,
			updated_at = $7
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query,
		workflow.ID, workflow.LastRunAt, workflow.NextRunAt,
		workflow.ExecutionsCount, string(workflow.LastStatus),
		workflow.Enabled, time.Now().UTC(),
	)
	if err != nil {
		return persistence.NewWorkflowError("UpdateBookkeeping", workflow.ID, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return persistence.NewWorkflowError("UpdateBookkeeping", workflow.ID, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// Delete soft deletes a workflow. Blocked while executions or active
// enrollments still reference it.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	var references int

	err := r.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM executions WHERE workflow_id = $1)
		     + (SELECT COUNT(*) FROM enrollments WHERE workflow_id = $1 AND status = 'active')
	`, id).Scan(&references)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if references > 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowInUse)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE workflows SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) queryWorkflows(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow      models.Workflow
		kind          string
		triggerType   string
		lastStatus    string
		triggerConfig []byte
		steps         []byte
	)

	err := row.Scan(
		&workflow.ID, &workflow.Name, &workflow.Description, &kind,
		&workflow.Enabled, &triggerType, &triggerConfig, &steps,
		&workflow.LastRunAt, &workflow.NextRunAt, &workflow.ExecutionsCount,
		&lastStatus, &workflow.Owner, &workflow.CreatedAt, &workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.Kind = models.WorkflowKind(kind)
	workflow.TriggerType = models.TriggerType(triggerType)
	workflow.LastStatus = models.ExecutionStatus(lastStatus)

	if len(triggerConfig) > 0 {
		if err := json.Unmarshal(triggerConfig, &workflow.TriggerConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
		}
	}

	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &workflow.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
	}

	return &workflow, nil
}
