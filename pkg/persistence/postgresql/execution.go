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

// ExecutionRepository handles execution and step execution rows.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates an execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.Execution) error {
	triggerData, err := json.Marshal(execution.TriggerData)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, status, trigger_data, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, execution.ID, execution.WorkflowID, string(execution.Status), triggerData,
		execution.StartedAt, execution.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) UpdateExecution(ctx context.Context, execution *models.Execution) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE executions SET status = $2, completed_at = $3 WHERE id = $1
	`, execution.ID, string(execution.Status), execution.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return persistence.ErrExecutionNotFound
	}

	return nil
}

const executionColumns = `id, workflow_id, status, trigger_data, started_at, completed_at`

func (r *ExecutionRepository) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	return r.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE workflow_id = $1 ORDER BY started_at DESC`,
		workflowID)
}

func (r *ExecutionRepository) ExecutionsSince(ctx context.Context, workflowID string, since time.Time) ([]*models.Execution, error) {
	return r.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE workflow_id = $1 AND started_at >= $2`,
		workflowID, since)
}

func (r *ExecutionRepository) CreateStepExecution(ctx context.Context, se *models.StepExecution) error {
	input, err := json.Marshal(se.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal step input: %w", err)
	}

	output, err := json.Marshal(se.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal step output: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO step_executions (
			id, execution_id, step_id, step_index, step_type, status,
			input, output, error, scheduled_for, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, se.ID, se.ExecutionID, se.StepID, se.StepIndex, se.StepType, string(se.Status),
		input, output, se.Error, se.ScheduledFor, se.StartedAt, se.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert step execution: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) UpdateStepExecution(ctx context.Context, se *models.StepExecution) error {
	output, err := json.Marshal(se.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal step output: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE step_executions SET
			status = $2, output = $3, error = $4,
			scheduled_for = $5, started_at = $6, completed_at = $7
		WHERE id = $1
	`, se.ID, string(se.Status), output, se.Error, se.ScheduledFor, se.StartedAt, se.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update step execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return persistence.ErrStepExecutionNotFound
	}

	return nil
}

const stepExecutionColumns = `
	id, execution_id, step_id, step_index, step_type, status,
	input, output, error, scheduled_for, started_at, completed_at
`

func (r *ExecutionRepository) StepExecutionsByExecution(ctx context.Context, executionID string) ([]*models.StepExecution, error) {
	return r.queryStepExecutions(ctx,
		`SELECT `+stepExecutionColumns+` FROM step_executions WHERE execution_id = $1 ORDER BY step_index`,
		executionID)
}

func (r *ExecutionRepository) DueStepExecutions(ctx context.Context, now time.Time) ([]*models.StepExecution, error) {
	return r.queryStepExecutions(ctx,
		`SELECT `+stepExecutionColumns+` FROM step_executions
		 WHERE status = 'pending' AND scheduled_for IS NOT NULL AND scheduled_for <= $1
		 ORDER BY scheduled_for, step_index`,
		now)
}

// ClaimStepExecution performs the atomic pending->running transition that
// serializes resume work across scheduler instances.
func (r *ExecutionRepository) ClaimStepExecution(ctx context.Context, id string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE step_executions SET status = 'running', started_at = $2
		WHERE id = $1 AND status = 'pending'
		  AND scheduled_for IS NOT NULL AND scheduled_for <= $2
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim step execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}

	return affected == 1, nil
}

func (r *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) queryStepExecutions(ctx context.Context, query string, args ...any) ([]*models.StepExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query step executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	stepExecutions := make([]*models.StepExecution, 0)

	for rows.Next() {
		se, err := scanStepExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}

		stepExecutions = append(stepExecutions, se)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step executions: %w", err)
	}

	return stepExecutions, nil
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution   models.Execution
		status      string
		triggerData []byte
	)

	err := row.Scan(&execution.ID, &execution.WorkflowID, &status,
		&triggerData, &execution.StartedAt, &execution.CompletedAt)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatus(status)

	if len(triggerData) > 0 {
		if err := json.Unmarshal(triggerData, &execution.TriggerData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger data: %w", err)
		}
	}

	return &execution, nil
}

func scanStepExecution(row rowScanner) (*models.StepExecution, error) {
	var (
		se     models.StepExecution
		status string
		input  []byte
		output []byte
	)

	err := row.Scan(&se.ID, &se.ExecutionID, &se.StepID, &se.StepIndex, &se.StepType,
		&status, &input, &output, &se.Error, &se.ScheduledFor, &se.StartedAt, &se.CompletedAt)
	if err != nil {
		return nil, err
	}

	se.Status = models.StepStatus(status)

	if len(input) > 0 {
		if err := json.Unmarshal(input, &se.Input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step input: %w", err)
		}
	}

	if len(output) > 0 {
		if err := json.Unmarshal(output, &se.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step output: %w", err)
		}
	}

	return &se, nil
}
