// Package events defines the engine's lifecycle event types.
package events

import (
	"time"

	"github.com/clubflow/clubflow/pkg/models"
)

type EventType string

// Topic is the event bus topic all engine events are published on.
const Topic = "clubflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	TriggerFiredEvent EventType = "trigger.fired"

	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionSuspendedEvent EventType = "execution.suspended"

	StepCompletedEvent EventType = "step.completed"
	StepFailedEvent    EventType = "step.failed"
	StepScheduledEvent EventType = "step.scheduled"

	EnrollmentCreatedEvent   EventType = "enrollment.created"
	EnrollmentAdvancedEvent  EventType = "enrollment.advanced"
	EnrollmentCompletedEvent EventType = "enrollment.completed"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
}

type TriggerFired struct {
	BaseEvent

	TriggerType string         `json:"trigger_type"`
	EventData   map[string]any `json:"event_data,omitempty"`
}

func (e TriggerFired) GetType() EventType { return TriggerFiredEvent }

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
}

func (e ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

type ExecutionFinished struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
}

// GetType maps the aggregate status onto the event taxonomy.
func (e ExecutionFinished) GetType() EventType {
	switch e.Status {
	case models.ExecutionStatusPartial:
		return ExecutionSuspendedEvent
	case models.ExecutionStatusFailed:
		return ExecutionFailedEvent
	default:
		return ExecutionCompletedEvent
	}
}

type StepFinished struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	StepType    string `json:"step_type"`
	StepIndex   int    `json:"step_index"`
	Error       string `json:"error,omitempty"`
}

func (e StepFinished) GetType() EventType {
	if e.Error != "" {
		return StepFailedEvent
	}

	return StepCompletedEvent
}

type StepScheduled struct {
	BaseEvent

	ExecutionID  string    `json:"execution_id"`
	StepID       string    `json:"step_id"`
	StepIndex    int       `json:"step_index"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

func (e StepScheduled) GetType() EventType { return StepScheduledEvent }

type EnrollmentChanged struct {
	BaseEvent

	EnrollmentID string                  `json:"enrollment_id"`
	SubjectID    string                  `json:"subject_id"`
	StepIndex    int                     `json:"step_index"`
	Status       models.EnrollmentStatus `json:"status"`
	Change       EventType               `json:"change"`
}

func (e EnrollmentChanged) GetType() EventType { return e.Change }
