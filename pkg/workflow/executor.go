// Package workflow contains the execution orchestrator, the trigger
// dispatcher and the enrollment manager.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clubflow/clubflow/pkg/eventbus"
	"github.com/clubflow/clubflow/pkg/events"
	"github.com/clubflow/clubflow/pkg/models"
	"github.com/clubflow/clubflow/pkg/otelhelper"
	"github.com/clubflow/clubflow/pkg/persistence"
	"github.com/clubflow/clubflow/pkg/registry"
	"github.com/clubflow/clubflow/pkg/resolver"
)

// DefaultStepTimeout bounds one handler invocation so a slow external call
// cannot stall a whole scheduler tick.
const DefaultStepTimeout = 30 * time.Second

// Executor runs one workflow's steps in order against one triggering event
// and produces the Execution plus StepExecution audit trail. A delay step
// suspends the run: the remaining steps are persisted as pending rows with a
// scheduled_for timestamp and ResumeDue picks them up later. There is no
// in-memory timer behind a suspended run.
type Executor struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	resolver    *resolver.Resolver
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger

	stepTimeout time.Duration
	now         func() time.Time
}

// NewExecutor creates an execution orchestrator. The publisher may be nil
// when lifecycle events are not wanted.
func NewExecutor(
	store persistence.Persistence,
	reg *registry.Registry,
	res *resolver.Resolver,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		persistence: store,
		registry:    reg,
		resolver:    res,
		publisher:   publisher,
		logger:      logger.With("module", "executor"),
		stepTimeout: DefaultStepTimeout,
		now:         time.Now,
	}
}

// WithTracer attaches a tracer for per-run spans.
func (e *Executor) WithTracer(tracer trace.Tracer) *Executor {
	e.tracer = tracer

	return e
}

// WithStepTimeout overrides the per-handler timeout.
func (e *Executor) WithStepTimeout(timeout time.Duration) *Executor {
	e.stepTimeout = timeout

	return e
}

// Run executes a workflow against one triggering event. Handler failures
// are recorded on the step and never abort the run; the returned error
// covers storage failures only.
func (e *Executor) Run(ctx context.Context, workflow *models.Workflow, triggerData map[string]any) (*models.Execution, error) {
	if e.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, e.tracer, "workflow.run",
			attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
			attribute.String(otelhelper.WorkflowNameKey, workflow.Name),
		)
		defer span.End()
	}

	now := e.now()
	execution := &models.Execution{
		ID:          uuid.New().String(),
		WorkflowID:  workflow.ID,
		Status:      models.ExecutionStatusRunning,
		TriggerData: triggerData,
		StartedAt:   now,
	}

	executions := e.persistence.ExecutionRepository()
	if err := executions.CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("create execution for workflow %s: %w", workflow.ID, err)
	}

	logger := e.logger.With("workflow_id", workflow.ID, "execution_id", execution.ID)
	logger.InfoContext(ctx, "Starting workflow execution")

	e.publish(ctx, workflow.ID, events.ExecutionStarted{
		BaseEvent:   e.baseEvent(events.ExecutionStartedEvent, workflow.ID),
		ExecutionID: execution.ID,
	})

	rc := e.resolver.Resolve(ctx, triggerData)
	skip := map[string]string{}

	for index, step := range workflow.Steps {
		now = e.now()
		stepExecution := newStepExecution(execution.ID, step, index)

		if branchSkipped(step, skip) {
			stepExecution.MarkSkipped(now)

			if err := executions.CreateStepExecution(ctx, stepExecution); err != nil {
				return nil, fmt.Errorf("record skipped step %s: %w", step.ID, err)
			}

			logger.DebugContext(ctx, "Step skipped by branch", "step_id", step.ID, "branch", step.Branch)

			continue
		}

		if delay := step.DelayDuration(); delay > 0 {
			if err := e.suspend(ctx, execution, workflow, stepExecution, index, now.Add(delay)); err != nil {
				return nil, err
			}

			break
		}

		if err := executions.CreateStepExecution(ctx, stepExecution); err != nil {
			return nil, fmt.Errorf("create step execution for step %s: %w", step.ID, err)
		}

		e.executeStep(ctx, workflow, execution, step, stepExecution, rc)

		if err := executions.UpdateStepExecution(ctx, stepExecution); err != nil {
			return nil, fmt.Errorf("update step execution %s: %w", stepExecution.ID, err)
		}

		if step.IsCondition() && stepExecution.Status == models.StepStatusCompleted {
			markBranchSkips(skip, step, stepExecution.Output)
		}
	}

	if err := e.finish(ctx, workflow, execution); err != nil {
		return nil, err
	}

	return execution, nil
}

// ResumeDue scans pending step executions whose scheduled_for has elapsed
// and runs each one. Every row is claimed with an atomic pending-to-running
// transition first, so concurrent scheduler instances never double-execute
// a step. Per-row failures are logged and do not stop the pass.
func (e *Executor) ResumeDue(ctx context.Context, now time.Time) error {
	if e.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, e.tracer, "workflow.resume_due")
		defer span.End()
	}

	due, err := e.persistence.ExecutionRepository().DueStepExecutions(ctx, now)
	if err != nil {
		return fmt.Errorf("list due step executions: %w", err)
	}

	for _, stepExecution := range due {
		if err := e.resumeOne(ctx, stepExecution, now); err != nil {
			e.logger.ErrorContext(ctx, "Failed to resume step execution",
				"step_execution_id", stepExecution.ID, "error", err)
		}
	}

	return nil
}

func (e *Executor) resumeOne(ctx context.Context, stepExecution *models.StepExecution, now time.Time) error {
	executions := e.persistence.ExecutionRepository()

	claimed, err := executions.ClaimStepExecution(ctx, stepExecution.ID, now)
	if err != nil {
		return fmt.Errorf("claim step execution %s: %w", stepExecution.ID, err)
	}

	if !claimed {
		return nil
	}

	execution, err := executions.GetExecution(ctx, stepExecution.ExecutionID)
	if err != nil {
		return fmt.Errorf("load execution %s: %w", stepExecution.ExecutionID, err)
	}

	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, execution.WorkflowID)
	if err != nil {
		stepExecution.MarkFailed(now, fmt.Errorf("workflow %s no longer available: %w", execution.WorkflowID, err))

		if uerr := executions.UpdateStepExecution(ctx, stepExecution); uerr != nil {
			return uerr
		}

		return e.reaggregate(ctx, execution.WorkflowID, execution)
	}

	step := findStep(workflow.Steps, stepExecution.StepID)
	if step == nil {
		stepExecution.MarkFailed(now, fmt.Errorf("step %s removed from workflow %s", stepExecution.StepID, workflow.ID))

		if err := executions.UpdateStepExecution(ctx, stepExecution); err != nil {
			return err
		}

		return e.reaggregate(ctx, workflow.ID, execution)
	}

	siblings, err := executions.StepExecutionsByExecution(ctx, execution.ID)
	if err != nil {
		return fmt.Errorf("load step executions for execution %s: %w", execution.ID, err)
	}

	if skippedByRecordedBranch(step, siblings) {
		stepExecution.MarkSkipped(now)

		if err := executions.UpdateStepExecution(ctx, stepExecution); err != nil {
			return err
		}

		return e.reaggregate(ctx, workflow.ID, execution)
	}

	if step.IsDelay() {
		// A delay reached on resume pushes every later pending sibling
		// out by its own duration and completes itself.
		scheduledFor := now.Add(step.DelayDuration())
		stepExecution.MarkCompleted(now, map[string]any{"scheduled_for": scheduledFor.Format(time.RFC3339)})

		if err := executions.UpdateStepExecution(ctx, stepExecution); err != nil {
			return err
		}

		for _, sibling := range siblings {
			if sibling.Status != models.StepStatusPending || sibling.StepIndex <= stepExecution.StepIndex {
				continue
			}

			sibling.ScheduledFor = &scheduledFor
			if err := executions.UpdateStepExecution(ctx, sibling); err != nil {
				return err
			}
		}

		return e.reaggregate(ctx, workflow.ID, execution)
	}

	rc := e.resolver.Resolve(ctx, execution.TriggerData)
	seedLastStepOutput(rc, siblings, stepExecution.StepIndex)

	e.executeStep(ctx, workflow, execution, step, stepExecution, rc)

	if err := executions.UpdateStepExecution(ctx, stepExecution); err != nil {
		return err
	}

	return e.reaggregate(ctx, workflow.ID, execution)
}

// executeStep dispatches one claimed step to its handler and records the
// outcome on the step execution. It never returns an error; failures become
// the step's terminal state.
func (e *Executor) executeStep(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.Execution,
	step *models.Step,
	stepExecution *models.StepExecution,
	rc *models.Context,
) {
	var span trace.Span

	if e.tracer != nil {
		ctx, span = otelhelper.StartSpan(ctx, e.tracer, "workflow.step",
			attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
			attribute.String(otelhelper.ExecutionIDKey, execution.ID),
			attribute.String(otelhelper.StepIDKey, step.ID),
			attribute.String(otelhelper.StepTypeKey, step.Type),
			attribute.Int(otelhelper.StepIndexKey, stepExecution.StepIndex),
		)
		defer span.End()
	}

	now := e.now()
	stepExecution.MarkRunning(now)

	output, err := e.dispatch(ctx, step, rc)
	now = e.now()

	if err != nil {
		stepExecution.MarkFailed(now, err)

		if span != nil {
			otelhelper.SetError(span, err)
		}

		e.logger.WarnContext(ctx, "Step failed",
			"workflow_id", workflow.ID, "execution_id", execution.ID,
			"step_id", step.ID, "step_type", step.Type, "error", err)
	} else {
		stepExecution.MarkCompleted(now, output)
		rc.Set(models.LastStepOutputKey, output)
	}

	finished := events.StepFinished{
		ExecutionID: execution.ID,
		StepID:      step.ID,
		StepType:    step.Type,
		StepIndex:   stepExecution.StepIndex,
		Error:       stepExecution.Error,
	}
	finished.BaseEvent = e.baseEvent(finished.GetType(), workflow.ID)
	e.publish(ctx, workflow.ID, finished)
}

func (e *Executor) dispatch(ctx context.Context, step *models.Step, rc *models.Context) (output map[string]any, err error) {
	// A panicking handler fails its own step, nothing more.
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	handler, err := e.registry.Handler(step.Type)
	if err != nil {
		return nil, err
	}

	if err := e.registry.ValidateConfig(step.Type, step.Config); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	// Each handler gets its own copy of the run context; data flows forward
	// only through recorded step outputs.
	return handler(ctx, step.Config, rc.Clone())
}

// suspend persists the remaining steps as pending rows sharing one
// scheduled_for timestamp. A delay-type step completes immediately; a
// regular step gated by a delay stays pending itself.
func (e *Executor) suspend(
	ctx context.Context,
	execution *models.Execution,
	workflow *models.Workflow,
	stepExecution *models.StepExecution,
	index int,
	scheduledFor time.Time,
) error {
	executions := e.persistence.ExecutionRepository()
	step := workflow.Steps[index]
	now := e.now()

	if step.IsDelay() {
		stepExecution.MarkCompleted(now, map[string]any{"scheduled_for": scheduledFor.Format(time.RFC3339)})
	} else {
		stepExecution.ScheduledFor = &scheduledFor
	}

	if err := executions.CreateStepExecution(ctx, stepExecution); err != nil {
		return fmt.Errorf("create step execution for step %s: %w", step.ID, err)
	}

	for rest := index + 1; rest < len(workflow.Steps); rest++ {
		pending := newStepExecution(execution.ID, workflow.Steps[rest], rest)
		pending.ScheduledFor = &scheduledFor

		if err := executions.CreateStepExecution(ctx, pending); err != nil {
			return fmt.Errorf("create pending step execution for step %s: %w", pending.StepID, err)
		}

		e.publish(ctx, workflow.ID, events.StepScheduled{
			BaseEvent:    e.baseEvent(events.StepScheduledEvent, workflow.ID),
			ExecutionID:  execution.ID,
			StepID:       pending.StepID,
			StepIndex:    pending.StepIndex,
			ScheduledFor: scheduledFor,
		})
	}

	e.logger.InfoContext(ctx, "Execution suspended on delay",
		"workflow_id", workflow.ID, "execution_id", execution.ID,
		"step_id", step.ID, "scheduled_for", scheduledFor)

	return nil
}

// finish recomputes the aggregate status, stamps completion and updates the
// workflow bookkeeping.
func (e *Executor) finish(ctx context.Context, workflow *models.Workflow, execution *models.Execution) error {
	if err := e.reaggregate(ctx, workflow.ID, execution); err != nil {
		return err
	}

	now := e.now()
	workflow.LastRunAt = &now
	workflow.ExecutionsCount++
	workflow.LastStatus = execution.Status

	if err := e.persistence.WorkflowRepository().UpdateBookkeeping(ctx, workflow); err != nil {
		return fmt.Errorf("update bookkeeping for workflow %s: %w", workflow.ID, err)
	}

	return nil
}

// reaggregate derives the execution status from its step execution rows and
// persists it, stamping completed_at on terminal transitions.
func (e *Executor) reaggregate(ctx context.Context, workflowID string, execution *models.Execution) error {
	executions := e.persistence.ExecutionRepository()

	steps, err := executions.StepExecutionsByExecution(ctx, execution.ID)
	if err != nil {
		return fmt.Errorf("load step executions for execution %s: %w", execution.ID, err)
	}

	previous := execution.Status
	execution.Status = models.AggregateStatus(steps)

	if execution.Status == models.ExecutionStatusCompleted || execution.Status == models.ExecutionStatusFailed {
		if execution.CompletedAt == nil {
			now := e.now()
			execution.CompletedAt = &now
		}
	} else {
		execution.CompletedAt = nil
	}

	if err := executions.UpdateExecution(ctx, execution); err != nil {
		return fmt.Errorf("update execution %s: %w", execution.ID, err)
	}

	if previous != execution.Status {
		finished := events.ExecutionFinished{
			ExecutionID: execution.ID,
			Status:      execution.Status,
		}
		finished.BaseEvent = e.baseEvent(finished.GetType(), workflowID)
		e.publish(ctx, workflowID, finished)
	}

	return nil
}

func (e *Executor) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish lifecycle event",
			"event_type", event.GetType(), "error", err)
	}
}

func (e *Executor) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	return events.BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  e.now(),
		WorkflowID: workflowID,
	}
}

func newEventID() string {
	return uuid.New().String()
}

func newStepExecution(executionID string, step *models.Step, index int) *models.StepExecution {
	return &models.StepExecution{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		StepID:      step.ID,
		StepIndex:   index,
		StepType:    step.Type,
		Status:      models.StepStatusPending,
		Input:       step.Config,
	}
}

func findStep(steps []*models.Step, stepID string) *models.Step {
	for _, step := range steps {
		if step.ID == stepID {
			return step
		}
	}

	return nil
}

// branchSkipped reports whether the step sits on a branch the run has
// flagged for skipping.
func branchSkipped(step *models.Step, skip map[string]string) bool {
	if step.ParentConditionID == "" || step.Branch == "" {
		return false
	}

	return skip[step.ParentConditionID] == step.Branch
}

// markBranchSkips records the branch to skip for a resolved condition step:
// the opposite of the branch the condition selected.
func markBranchSkips(skip map[string]string, step *models.Step, output map[string]any) {
	met, _ := output["condition_met"].(bool)

	if met {
		skip[step.ID] = models.BranchIfFalse
	} else {
		skip[step.ID] = models.BranchIfTrue
	}
}

// skippedByRecordedBranch replays branch skipping on resume from the stored
// output of the parent condition's step execution.
func skippedByRecordedBranch(step *models.Step, siblings []*models.StepExecution) bool {
	if step.ParentConditionID == "" || step.Branch == "" {
		return false
	}

	for _, sibling := range siblings {
		if sibling.StepID != step.ParentConditionID || sibling.Status != models.StepStatusCompleted {
			continue
		}

		met, _ := sibling.Output["condition_met"].(bool)
		if met {
			return step.Branch == models.BranchIfFalse
		}

		return step.Branch == models.BranchIfTrue
	}

	return false
}

// seedLastStepOutput exposes the latest completed prior step's output to a
// resumed step, mirroring what an uninterrupted run would have seen.
func seedLastStepOutput(rc *models.Context, siblings []*models.StepExecution, beforeIndex int) {
	var latest *models.StepExecution

	for _, sibling := range siblings {
		if sibling.StepIndex >= beforeIndex || sibling.Status != models.StepStatusCompleted || sibling.WasSkipped() {
			continue
		}

		if latest == nil || sibling.StepIndex > latest.StepIndex {
			latest = sibling
		}
	}

	if latest != nil && latest.Output != nil {
		rc.Set(models.LastStepOutputKey, latest.Output)
	}
}
