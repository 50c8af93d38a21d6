// Package scheduler runs the periodic loop that fires due time-based
// workflows, resumes elapsed delays and advances sequence enrollments.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/clubflow/clubflow/pkg/models"
	"github.com/clubflow/clubflow/pkg/otelhelper"
	"github.com/clubflow/clubflow/pkg/persistence"
	"github.com/clubflow/clubflow/pkg/workflow"
)

// DefaultInterval is the tick period. One minute matches the resolution of
// cron expressions and of step delays.
const DefaultInterval = time.Minute

// recurrenceFallback is how far a workflow with a malformed recurrence rule
// is pushed out. The workflow visibly stalls instead of killing the loop.
const recurrenceFallback = 24 * time.Hour

// Scheduler owns the engine's single periodic loop. Every tick performs, in
// order: fire due time-based workflows, resume due step executions, advance
// due enrollments. All suspended state lives in the store, so the process
// can restart at any point without losing pending work.
type Scheduler struct {
	persistence persistence.Persistence
	dispatcher  *workflow.Dispatcher
	executor    *workflow.Executor
	manager     *workflow.Manager
	tracer      trace.Tracer
	logger      *slog.Logger

	interval time.Duration
	now      func() time.Time
}

// NewScheduler creates a scheduler with the default one-minute interval.
func NewScheduler(
	store persistence.Persistence,
	dispatcher *workflow.Dispatcher,
	executor *workflow.Executor,
	manager *workflow.Manager,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		persistence: store,
		dispatcher:  dispatcher,
		executor:    executor,
		manager:     manager,
		logger:      logger.With("module", "scheduler"),
		interval:    DefaultInterval,
		now:         time.Now,
	}
}

// WithInterval overrides the tick period.
func (s *Scheduler) WithInterval(interval time.Duration) *Scheduler {
	if interval > 0 {
		s.interval = interval
	}

	return s
}

// WithTracer attaches a tracer for per-tick spans.
func (s *Scheduler) WithTracer(tracer trace.Tracer) *Scheduler {
	s.tracer = tracer

	return s
}

// Start runs the loop until the context is cancelled. The first tick fires
// immediately so a restart picks up overdue work without waiting a period.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Scheduler starting", "interval", s.interval)

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Scheduler stopping")

			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick executes one pass. Nothing inside a single workflow's processing may
// escape it; a panic from a handler is contained here.
func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "Scheduler tick panicked", "panic", r)
		}
	}()

	if s.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, s.tracer, "scheduler.tick")
		defer span.End()
	}

	now := s.now()

	s.fireDue(ctx, now)

	if err := s.executor.ResumeDue(ctx, now); err != nil {
		s.logger.ErrorContext(ctx, "Resume pass failed", "error", err)
	}

	if err := s.manager.AdvanceDue(ctx, now); err != nil {
		s.logger.ErrorContext(ctx, "Enrollment pass failed", "error", err)
	}
}

// fireDue dispatches every time-based workflow whose next run has arrived
// and recomputes its next run from the recurrence rule.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	workflows := s.persistence.WorkflowRepository()

	due, err := workflows.GetTimeBasedDue(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list due workflows", "error", err)

		return
	}

	for _, wf := range due {
		result := s.dispatcher.DispatchWorkflow(ctx, wf, map[string]any{
			"entity_type": "scheduled",
			"fired_at":    now.Format(time.RFC3339),
		})
		if result.Err != nil {
			s.logger.ErrorContext(ctx, "Scheduled fire failed", "workflow_id", wf.ID, "error", result.Err)
		}

		s.reschedule(ctx, wf, now)
	}
}

// reschedule computes the workflow's next run. A malformed rule fails soft
// to a one-day fallback; an exhausted specific_date rule disables the
// workflow.
func (s *Scheduler) reschedule(ctx context.Context, wf *models.Workflow, now time.Time) {
	next, err := wf.Recurrence().Next(now)

	switch {
	case err != nil:
		fallback := now.Add(recurrenceFallback)
		wf.NextRunAt = &fallback
		s.logger.WarnContext(ctx, "Malformed recurrence rule, falling back to one day",
			"workflow_id", wf.ID, "trigger_type", wf.TriggerType)
	case next == nil:
		wf.NextRunAt = nil
		wf.Enabled = false
		s.logger.InfoContext(ctx, "One-shot workflow fired, disabling", "workflow_id", wf.ID)
	default:
		wf.NextRunAt = next
	}

	if err := s.persistence.WorkflowRepository().UpdateBookkeeping(ctx, wf); err != nil {
		s.logger.ErrorContext(ctx, "Failed to store next run", "workflow_id", wf.ID, "error", err)
	}
}
