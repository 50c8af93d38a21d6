package file

import (
	"context"
	"sort"
	"time"

	"github.com/clubflow/clubflow/pkg/models"
	"github.com/clubflow/clubflow/pkg/persistence"
)

const enrollmentsDir = "enrollments"

// EnrollmentRepository stores enrollments as JSON documents.
type EnrollmentRepository struct {
	p *Persistence
}

func (r *EnrollmentRepository) CreateEnrollment(_ context.Context, enrollment *models.Enrollment) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.p.write(enrollmentsDir, enrollment.ID, enrollment)
}

func (r *EnrollmentRepository) UpdateEnrollment(_ context.Context, enrollment *models.Enrollment) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var stored models.Enrollment

	found, err := r.p.read(enrollmentsDir, enrollment.ID, &stored)
	if err != nil {
		return err
	}

	if !found {
		return persistence.ErrEnrollmentNotFound
	}

	return r.p.write(enrollmentsDir, enrollment.ID, enrollment)
}

func (r *EnrollmentRepository) GetEnrollment(_ context.Context, id string) (*models.Enrollment, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var enrollment models.Enrollment

	found, err := r.p.read(enrollmentsDir, id, &enrollment)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrEnrollmentNotFound
	}

	return &enrollment, nil
}

func (r *EnrollmentRepository) EnrollmentsByWorkflow(_ context.Context, workflowID string) ([]*models.Enrollment, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	enrollments, err := r.loadByWorkflow(workflowID)
	if err != nil {
		return nil, err
	}

	sort.Slice(enrollments, func(i, j int) bool {
		return enrollments[i].EnrolledAt.After(enrollments[j].EnrolledAt)
	})

	return enrollments, nil
}

func (r *EnrollmentRepository) ActiveEnrollment(_ context.Context, workflowID, subjectID string) (*models.Enrollment, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	enrollments, err := r.loadByWorkflow(workflowID)
	if err != nil {
		return nil, err
	}

	for _, enrollment := range enrollments {
		if enrollment.SubjectID == subjectID && enrollment.Status == models.EnrollmentStatusActive {
			return enrollment, nil
		}
	}

	return nil, nil
}

func (r *EnrollmentRepository) DueEnrollments(_ context.Context, now time.Time) ([]*models.Enrollment, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	ids, err := r.p.ids(enrollmentsDir)
	if err != nil {
		return nil, err
	}

	due := make([]*models.Enrollment, 0)

	for _, id := range ids {
		var enrollment models.Enrollment

		found, err := r.p.read(enrollmentsDir, id, &enrollment)
		if err != nil {
			return nil, err
		}

		if !found || enrollment.Status != models.EnrollmentStatusActive || enrollment.NextSendAt == nil {
			continue
		}

		if !enrollment.NextSendAt.After(now) {
			due = append(due, &enrollment)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextSendAt.Before(*due[j].NextSendAt)
	})

	return due, nil
}

// ClaimEnrollment claims one tick under the store mutex, mirroring the
// conditional UPDATE the SQL backend uses.
func (r *EnrollmentRepository) ClaimEnrollment(_ context.Context, id string, stepIndex int, now, until time.Time) (bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	var enrollment models.Enrollment

	found, err := r.p.read(enrollmentsDir, id, &enrollment)
	if err != nil {
		return false, err
	}

	if !found || enrollment.Status != models.EnrollmentStatusActive {
		return false, nil
	}

	if enrollment.CurrentStepIndex != stepIndex || enrollment.NextSendAt == nil {
		return false, nil
	}

	if enrollment.NextSendAt.After(now) {
		return false, nil
	}

	enrollment.NextSendAt = &until

	if err := r.p.write(enrollmentsDir, id, &enrollment); err != nil {
		return false, err
	}

	return true, nil
}

func (r *EnrollmentRepository) loadByWorkflow(workflowID string) ([]*models.Enrollment, error) {
	ids, err := r.p.ids(enrollmentsDir)
	if err != nil {
		return nil, err
	}

	enrollments := make([]*models.Enrollment, 0)

	for _, id := range ids {
		var enrollment models.Enrollment

		found, err := r.p.read(enrollmentsDir, id, &enrollment)
		if err != nil {
			return nil, err
		}

		if found && enrollment.WorkflowID == workflowID {
			enrollments = append(enrollments, &enrollment)
		}
	}

	return enrollments, nil
}
