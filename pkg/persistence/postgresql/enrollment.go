package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clubflow/clubflow/pkg/models"
	"github.com/clubflow/clubflow/pkg/persistence"
)

// EnrollmentRepository handles sequence enrollment rows.
type EnrollmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEnrollmentRepository creates an enrollment repository.
func NewEnrollmentRepository(db *sql.DB, logger *slog.Logger) *EnrollmentRepository {
	return &EnrollmentRepository{db: db, logger: logger}
}

const enrollmentColumns = `
	id, workflow_id, subject_id, status, current_step_index,
	next_send_at, enrolled_at, completed_at
`

func (r *EnrollmentRepository) CreateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO enrollments (
			id, workflow_id, subject_id, status, current_step_index,
			next_send_at, enrolled_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, enrollment.ID, enrollment.WorkflowID, enrollment.SubjectID,
		string(enrollment.Status), enrollment.CurrentStepIndex,
		enrollment.NextSendAt, enrollment.EnrolledAt, enrollment.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert enrollment: %w", err)
	}

	return nil
}

func (r *EnrollmentRepository) UpdateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE enrollments SET
			status = $2, current_step_index = $3, next_send_at = $4, completed_at = $5
		WHERE id = $1
	`, enrollment.ID, string(enrollment.Status), enrollment.CurrentStepIndex,
		enrollment.NextSendAt, enrollment.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update enrollment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return persistence.ErrEnrollmentNotFound
	}

	return nil
}

func (r *EnrollmentRepository) GetEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE id = $1`, id)

	enrollment, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrEnrollmentNotFound
		}

		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) EnrollmentsByWorkflow(ctx context.Context, workflowID string) ([]*models.Enrollment, error) {
	return r.queryEnrollments(ctx,
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE workflow_id = $1 ORDER BY enrolled_at DESC`,
		workflowID)
}

func (r *EnrollmentRepository) ActiveEnrollment(ctx context.Context, workflowID, subjectID string) (*models.Enrollment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+enrollmentColumns+` FROM enrollments
		WHERE workflow_id = $1 AND subject_id = $2 AND status = 'active'
	`, workflowID, subjectID)

	enrollment, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) DueEnrollments(ctx context.Context, now time.Time) ([]*models.Enrollment, error) {
	return r.queryEnrollments(ctx, `
		SELECT `+enrollmentColumns+` FROM enrollments
		WHERE status = 'active' AND next_send_at IS NOT NULL AND next_send_at <= $1
		ORDER BY next_send_at
	`, now)
}

// ClaimEnrollment atomically claims one enrollment tick. The step-index
// guard makes sure two scheduler instances cannot both advance the same
// enrollment; the claimed row's next_send_at is pushed past now so a
// crashed worker leaves a retryable row, not a lost one.
func (r *EnrollmentRepository) ClaimEnrollment(ctx context.Context, id string, stepIndex int, now, until time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE enrollments SET next_send_at = $4
		WHERE id = $1 AND status = 'active' AND current_step_index = $2
		  AND next_send_at IS NOT NULL AND next_send_at <= $3
	`, id, stepIndex, now, until)
	if err != nil {
		return false, fmt.Errorf("failed to claim enrollment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}

	return affected == 1, nil
}

func (r *EnrollmentRepository) queryEnrollments(ctx context.Context, query string, args ...any) ([]*models.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	enrollments := make([]*models.Enrollment, 0)

	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		enrollments = append(enrollments, enrollment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}

	return enrollments, nil
}

func scanEnrollment(row rowScanner) (*models.Enrollment, error) {
	var (
		enrollment models.Enrollment
		status     string
	)

	err := row.Scan(&enrollment.ID, &enrollment.WorkflowID, &enrollment.SubjectID,
		&status, &enrollment.CurrentStepIndex, &enrollment.NextSendAt,
		&enrollment.EnrolledAt, &enrollment.CompletedAt)
	if err != nil {
		return nil, err
	}

	enrollment.Status = models.EnrollmentStatus(status)

	return &enrollment, nil
}
