package models

import "time"

// EnrollmentStatus is the lifecycle state of one subject in a sequence.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
)

// Enrollment tracks a single subject's progress through a sequence-kind
// workflow, advanced one step per scheduler tick. At most one active
// enrollment exists per (workflow, subject) pair.
type Enrollment struct {
	ID         string           `json:"id"`
	WorkflowID string           `json:"workflow_id"`
	SubjectID  string           `json:"subject_id"`
	Status     EnrollmentStatus `json:"status"`

	CurrentStepIndex int        `json:"current_step_index"`
	NextSendAt       *time.Time `json:"next_send_at,omitempty"`

	EnrolledAt  time.Time  `json:"enrolled_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
