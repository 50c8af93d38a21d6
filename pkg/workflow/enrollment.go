package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clubflow/clubflow/pkg/eventbus"
	"github.com/clubflow/clubflow/pkg/events"
	"github.com/clubflow/clubflow/pkg/models"
	"github.com/clubflow/clubflow/pkg/persistence"
	"github.com/clubflow/clubflow/pkg/registry"
	"github.com/clubflow/clubflow/pkg/resolver"
)

// ErrMissingSubject is returned when a sequence workflow is fired by an
// event that carries no entity_id to enroll.
var ErrMissingSubject = errors.New("sequence trigger event carries no subject entity_id")

// claimWindow is how far ClaimEnrollment pushes next_send_at while a tick
// is being processed, so a second scheduler instance passes the row by.
const claimWindow = time.Minute

// Manager drives sequence workflows: one subject enrolls once and advances
// one step per scheduler tick, with the wait between steps carried on
// next_send_at rather than any in-memory timer.
type Manager struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	resolver    *resolver.Resolver
	publisher   eventbus.EventPublisher
	logger      *slog.Logger

	stepTimeout time.Duration
	now         func() time.Time
}

// NewManager creates an enrollment manager. The publisher may be nil.
func NewManager(
	store persistence.Persistence,
	reg *registry.Registry,
	res *resolver.Resolver,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		persistence: store,
		registry:    reg,
		resolver:    res,
		publisher:   publisher,
		logger:      logger.With("module", "enrollments"),
		stepTimeout: DefaultStepTimeout,
		now:         time.Now,
	}
}

// Enroll adds a subject to a sequence workflow. An existing active
// enrollment for the (workflow, subject) pair makes this a no-op returning
// nil. The first send is gated by the leading step's delay, if any.
func (m *Manager) Enroll(ctx context.Context, workflow *models.Workflow, subjectID string) (*models.Enrollment, error) {
	if subjectID == "" {
		return nil, ErrMissingSubject
	}

	enrollments := m.persistence.EnrollmentRepository()

	existing, err := enrollments.ActiveEnrollment(ctx, workflow.ID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("check active enrollment: %w", err)
	}

	if existing != nil {
		return nil, nil
	}

	now := m.now()
	nextSendAt := now

	if len(workflow.Steps) > 0 {
		nextSendAt = now.Add(workflow.Steps[0].DelayDuration())
	}

	enrollment := &models.Enrollment{
		ID:               uuid.New().String(),
		WorkflowID:       workflow.ID,
		SubjectID:        subjectID,
		Status:           models.EnrollmentStatusActive,
		CurrentStepIndex: 0,
		NextSendAt:       &nextSendAt,
		EnrolledAt:       now,
	}

	if err := enrollments.CreateEnrollment(ctx, enrollment); err != nil {
		return nil, fmt.Errorf("create enrollment for subject %s: %w", subjectID, err)
	}

	m.logger.InfoContext(ctx, "Subject enrolled",
		"workflow_id", workflow.ID, "subject_id", subjectID, "next_send_at", nextSendAt)

	m.publishChange(ctx, enrollment, events.EnrollmentCreatedEvent)

	return enrollment, nil
}

// AdvanceDue processes every active enrollment whose next_send_at has
// elapsed: executes the step at the current index, advances the index and
// recomputes next_send_at from the following step's delay. Each tick is
// claimed atomically first so concurrent schedulers never double-send.
// Per-enrollment failures are logged and do not stop the pass.
func (m *Manager) AdvanceDue(ctx context.Context, now time.Time) error {
	due, err := m.persistence.EnrollmentRepository().DueEnrollments(ctx, now)
	if err != nil {
		return fmt.Errorf("list due enrollments: %w", err)
	}

	for _, enrollment := range due {
		if err := m.advanceOne(ctx, enrollment, now); err != nil {
			m.logger.ErrorContext(ctx, "Failed to advance enrollment",
				"enrollment_id", enrollment.ID, "error", err)
		}
	}

	return nil
}

func (m *Manager) advanceOne(ctx context.Context, enrollment *models.Enrollment, now time.Time) error {
	enrollments := m.persistence.EnrollmentRepository()

	claimed, err := enrollments.ClaimEnrollment(ctx, enrollment.ID, enrollment.CurrentStepIndex, now, now.Add(claimWindow))
	if err != nil {
		return fmt.Errorf("claim enrollment %s: %w", enrollment.ID, err)
	}

	if !claimed {
		return nil
	}

	workflow, err := m.persistence.WorkflowRepository().GetByID(ctx, enrollment.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow %s: %w", enrollment.WorkflowID, err)
	}

	index := enrollment.CurrentStepIndex
	if index < len(workflow.Steps) {
		step := workflow.Steps[index]

		if !step.IsDelay() {
			if err := m.executeStep(ctx, workflow, enrollment, step); err != nil {
				// Recorded and skipped over; a send failure does not
				// stall the whole sequence.
				m.logger.WarnContext(ctx, "Sequence step failed",
					"enrollment_id", enrollment.ID, "step_id", step.ID,
					"step_type", step.Type, "error", err)
			}
		}

		index++
	}

	if index >= len(workflow.Steps) {
		completedAt := m.now()
		enrollment.Status = models.EnrollmentStatusCompleted
		enrollment.CurrentStepIndex = index
		enrollment.NextSendAt = nil
		enrollment.CompletedAt = &completedAt
	} else {
		nextSendAt := m.now().Add(workflow.Steps[index].DelayDuration())
		enrollment.CurrentStepIndex = index
		enrollment.NextSendAt = &nextSendAt
	}

	if err := enrollments.UpdateEnrollment(ctx, enrollment); err != nil {
		return fmt.Errorf("update enrollment %s: %w", enrollment.ID, err)
	}

	if enrollment.Status == models.EnrollmentStatusCompleted {
		m.logger.InfoContext(ctx, "Enrollment completed",
			"enrollment_id", enrollment.ID, "workflow_id", workflow.ID)
		m.publishChange(ctx, enrollment, events.EnrollmentCompletedEvent)
	} else {
		m.publishChange(ctx, enrollment, events.EnrollmentAdvancedEvent)
	}

	return nil
}

func (m *Manager) executeStep(ctx context.Context, workflow *models.Workflow, enrollment *models.Enrollment, step *models.Step) error {
	handler, err := m.registry.Handler(step.Type)
	if err != nil {
		return err
	}

	if err := m.registry.ValidateConfig(step.Type, step.Config); err != nil {
		return err
	}

	rc := m.resolver.Resolve(ctx, map[string]any{
		"entity_type": subjectType(workflow),
		"entity_id":   enrollment.SubjectID,
	})

	ctx, cancel := context.WithTimeout(ctx, m.stepTimeout)
	defer cancel()

	_, err = handler(ctx, step.Config, rc)

	return err
}

// subjectType names the entity namespace a sequence resolves its subject
// into. Sequences target leads unless the trigger config says otherwise.
func subjectType(workflow *models.Workflow) string {
	if t, ok := workflow.TriggerConfig["subject_type"].(string); ok && t != "" {
		return t
	}

	return string(resolver.EntityLead)
}

func (m *Manager) publishChange(ctx context.Context, enrollment *models.Enrollment, change events.EventType) {
	if m.publisher == nil {
		return
	}

	event := events.EnrollmentChanged{
		BaseEvent: events.BaseEvent{
			ID:         newEventID(),
			Type:       change,
			Timestamp:  m.now(),
			WorkflowID: enrollment.WorkflowID,
		},
		EnrollmentID: enrollment.ID,
		SubjectID:    enrollment.SubjectID,
		StepIndex:    enrollment.CurrentStepIndex,
		Status:       enrollment.Status,
		Change:       change,
	}

	if err := m.publisher.Publish(ctx, enrollment.WorkflowID, event); err != nil {
		m.logger.WarnContext(ctx, "Failed to publish enrollment event",
			"event_type", change, "error", err)
	}
}
