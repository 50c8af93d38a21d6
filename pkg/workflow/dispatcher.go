package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clubflow/clubflow/pkg/eventbus"
	"github.com/clubflow/clubflow/pkg/events"
	"github.com/clubflow/clubflow/pkg/models"
	"github.com/clubflow/clubflow/pkg/otelhelper"
	"github.com/clubflow/clubflow/pkg/persistence"
)

// FireResult reports what one matched workflow produced. Exactly one of
// Execution and Enrollment is set on success; Err carries a per-workflow
// dispatch failure that did not stop the other workflows.
type FireResult struct {
	WorkflowID string
	Execution  *models.Execution
	Enrollment *models.Enrollment
	Err        error
}

// Dispatcher is the Fire API: it matches an incoming event against enabled
// workflows, applies trigger filters and same-day dedup, and hands each
// match to the executor or, for sequence workflows, the enrollment manager.
type Dispatcher struct {
	persistence persistence.Persistence
	executor    *Executor
	enrollments *Manager
	publisher   eventbus.EventPublisher
	redis       *redis.Client
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

// NewDispatcher creates a trigger dispatcher. The publisher may be nil.
func NewDispatcher(
	store persistence.Persistence,
	executor *Executor,
	enrollments *Manager,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		persistence: store,
		executor:    executor,
		enrollments: enrollments,
		publisher:   publisher,
		logger:      logger.With("module", "dispatcher"),
		now:         time.Now,
	}
}

// WithRedis enables the dedup fast path. The executions scan stays
// authoritative; redis only short-circuits known duplicates.
func (d *Dispatcher) WithRedis(client *redis.Client) *Dispatcher {
	d.redis = client

	return d
}

// WithTracer attaches a tracer for per-fire spans.
func (d *Dispatcher) WithTracer(tracer trace.Tracer) *Dispatcher {
	d.tracer = tracer

	return d
}

// Fire reports an event to the engine. Every enabled workflow bound to the
// trigger type is evaluated independently: filter mismatches and same-day
// duplicates are skipped silently, dispatch failures are logged and recorded
// on the result, and processing of the remaining workflows continues. The
// returned error covers the workflow lookup only.
func (d *Dispatcher) Fire(ctx context.Context, triggerType string, eventData map[string]any) ([]FireResult, error) {
	if d.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, d.tracer, "workflow.fire",
			attribute.String(otelhelper.TriggerTypeKey, triggerType),
		)
		defer span.End()
	}

	workflows, err := d.persistence.WorkflowRepository().GetByTrigger(ctx, models.TriggerType(triggerType))
	if err != nil {
		return nil, fmt.Errorf("lookup workflows for trigger %q: %w", triggerType, err)
	}

	entityID, _ := eventData["entity_id"].(string)
	results := make([]FireResult, 0, len(workflows))

	for _, workflow := range workflows {
		logger := d.logger.With("workflow_id", workflow.ID, "trigger_type", triggerType)

		if !matchesTriggerFilters(workflow.TriggerConfig, eventData) {
			logger.DebugContext(ctx, "Event filtered out")

			continue
		}

		if entityID != "" {
			duplicate, err := d.firedToday(ctx, workflow.ID, entityID)
			if err != nil {
				logger.ErrorContext(ctx, "Dedup check failed, skipping workflow", "error", err)
				results = append(results, FireResult{WorkflowID: workflow.ID, Err: err})

				continue
			}

			if duplicate {
				// Same-day duplicate, skipped without noise.
				continue
			}
		}

		result := d.dispatchOne(ctx, workflow, triggerType, entityID, eventData)
		if result.Err == nil && entityID != "" {
			d.seedDedup(ctx, workflow.ID, entityID)
		}

		results = append(results, result)
	}

	return results, nil
}

// DispatchWorkflow fires one specific workflow, bypassing trigger matching
// and filters. The scheduler uses it for due time-based workflows.
func (d *Dispatcher) DispatchWorkflow(ctx context.Context, workflow *models.Workflow, eventData map[string]any) FireResult {
	entityID, _ := eventData["entity_id"].(string)

	return d.dispatchOne(ctx, workflow, string(workflow.TriggerType), entityID, eventData)
}

func (d *Dispatcher) dispatchOne(ctx context.Context, workflow *models.Workflow, triggerType, entityID string, eventData map[string]any) FireResult {
	var span trace.Span

	if d.tracer != nil {
		ctx, span = otelhelper.StartSpan(ctx, d.tracer, "workflow.dispatch",
			attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
			attribute.String(otelhelper.TriggerTypeKey, triggerType),
			attribute.String(otelhelper.SubjectIDKey, entityID),
		)
		defer span.End()
	}

	d.publishFired(ctx, workflow.ID, triggerType, eventData)

	result := FireResult{WorkflowID: workflow.ID}

	if workflow.Kind == models.WorkflowKindSequence {
		result.Enrollment, result.Err = d.enrollments.Enroll(ctx, workflow, entityID)
		if span != nil && result.Enrollment != nil {
			span.SetAttributes(attribute.String(otelhelper.EnrollmentIDKey, result.Enrollment.ID))
		}
	} else {
		result.Execution, result.Err = d.executor.Run(ctx, workflow, eventData)
		if span != nil && result.Execution != nil {
			span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, result.Execution.ID))
		}
	}

	if result.Err != nil {
		if span != nil {
			otelhelper.SetError(span, result.Err)
		}

		d.logger.ErrorContext(ctx, "Workflow dispatch failed",
			"workflow_id", workflow.ID, "trigger_type", triggerType, "error", result.Err)
	}

	return result
}

// firedToday reports whether the workflow already ran for this entity since
// midnight UTC. A configured redis client short-circuits known duplicates;
// the executions scan decides for everybody else.
func (d *Dispatcher) firedToday(ctx context.Context, workflowID, entityID string) (bool, error) {
	now := d.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	if d.redis != nil {
		seen, err := d.redis.Exists(ctx, dedupKey(workflowID, entityID, now)).Result()
		if err == nil && seen > 0 {
			return true, nil
		}
	}

	executions, err := d.persistence.ExecutionRepository().ExecutionsSince(ctx, workflowID, midnight)
	if err != nil {
		return false, fmt.Errorf("scan executions since midnight: %w", err)
	}

	for _, execution := range executions {
		if id, _ := execution.TriggerData["entity_id"].(string); id == entityID {
			return true, nil
		}
	}

	return false, nil
}

// seedDedup marks the workflow as fired for the entity until midnight UTC.
// Only a successful dispatch seeds the key; a failed one leaves the day
// open so a retry is not suppressed. The executions scan stays authoritative
// either way.
func (d *Dispatcher) seedDedup(ctx context.Context, workflowID, entityID string) {
	if d.redis == nil {
		return
	}

	now := d.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	key := dedupKey(workflowID, entityID, now)

	if err := d.redis.SetNX(ctx, key, 1, midnight.Add(24*time.Hour).Sub(now)).Err(); err != nil {
		d.logger.WarnContext(ctx, "Failed to seed dedup key", "key", key, "error", err)
	}
}

func dedupKey(workflowID, entityID string, day time.Time) string {
	return fmt.Sprintf("clubflow:dedup:%s:%s:%s", workflowID, entityID, day.Format("2006-01-02"))
}

func (d *Dispatcher) publishFired(ctx context.Context, workflowID, triggerType string, eventData map[string]any) {
	if d.publisher == nil {
		return
	}

	fired := events.TriggerFired{
		TriggerType: triggerType,
		EventData:   eventData,
	}
	fired.BaseEvent = events.BaseEvent{
		ID:         newEventID(),
		Type:       events.TriggerFiredEvent,
		Timestamp:  d.now(),
		WorkflowID: workflowID,
	}

	if err := d.publisher.Publish(ctx, workflowID, fired); err != nil {
		d.logger.WarnContext(ctx, "Failed to publish trigger event", "error", err)
	}
}

// matchesTriggerFilters applies the structural from_state/to_state filters
// and the generic filters map from the trigger configuration to the event.
func matchesTriggerFilters(triggerConfig, eventData map[string]any) bool {
	if !stateMatches(triggerConfig, eventData, "from_state") {
		return false
	}

	if !stateMatches(triggerConfig, eventData, "to_state") {
		return false
	}

	filters, _ := triggerConfig["filters"].(map[string]any)
	for field, expected := range filters {
		if !fieldMatches(eventData[field], expected) {
			return false
		}
	}

	return true
}

func stateMatches(triggerConfig, eventData map[string]any, key string) bool {
	expected, ok := triggerConfig[key].(string)
	if !ok || expected == "" {
		return true
	}

	observed, _ := eventData[key].(string)

	return strings.EqualFold(expected, observed)
}

// fieldMatches checks string equality against a scalar or membership
// against a list, both case-insensitive.
func fieldMatches(observed, expected any) bool {
	needle := strings.ToLower(asString(observed))

	if options, ok := expected.([]any); ok {
		for _, option := range options {
			if needle == strings.ToLower(asString(option)) {
				return true
			}
		}

		return false
	}

	return needle == strings.ToLower(asString(expected))
}

func asString(value any) string {
	if value == nil {
		return ""
	}

	if s, ok := value.(string); ok {
		return s
	}

	return fmt.Sprintf("%v", value)
}
