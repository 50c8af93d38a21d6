package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	clubcmd "github.com/clubflow/clubflow/pkg/cmd"
	"github.com/clubflow/clubflow/pkg/eventbus"
	"github.com/clubflow/clubflow/pkg/events"
	"github.com/clubflow/clubflow/pkg/log"
	"github.com/clubflow/clubflow/pkg/otelhelper"
	"github.com/clubflow/clubflow/pkg/scheduler"
)

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the scheduler tick loop",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "gateway-url",
				Usage:   "Base URL of the CRM backend",
				Value:   "http://localhost:3000",
				Sources: cli.EnvVars("GATEWAY_URL"),
			},
			&cli.StringFlag{
				Name:    "gateway-token",
				Usage:   "Bearer token for the CRM backend",
				Sources: cli.EnvVars("GATEWAY_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the same-day dedup fast path (optional)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "interval",
				Usage:   "Tick interval",
				Value:   time.Minute,
				Sources: cli.EnvVars("TICK_INTERVAL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OTLP trace export",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("scheduler")

			logger.InfoContext(ctx, "Initializing Clubflow scheduler")

			store, err := clubcmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := clubcmd.NewEventBus(command.String("event-bus"), "clubflow-scheduler", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			redisClient, err := clubcmd.NewRedisClient(ctx, command.String("redis-url"))
			if err != nil {
				return err
			}

			var tracer trace.Tracer

			if command.Bool("tracing") {
				tracer, err = otelhelper.NewTracer(ctx, "clubflow-scheduler")
				if err != nil {
					return err
				}
			}

			gateway := clubcmd.NewHTTPEntityGateway(
				command.String("gateway-url"),
				command.String("gateway-token"),
				logger,
			)

			engine, err := clubcmd.NewEngine(logger, store, eventBus, gateway, redisClient, tracer)
			if err != nil {
				return err
			}

			sched := scheduler.NewScheduler(store, engine.Dispatcher, engine.Executor, engine.Manager, logger).
				WithInterval(command.Duration("interval"))

			if tracer != nil {
				sched = sched.WithTracer(tracer)
			}

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := logLifecycleEvents(runCtx, eventBus, logger); err != nil {
				return err
			}

			if err := sched.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			logger.InfoContext(ctx, "Scheduler stopped")

			return nil
		},
	}
}

// logLifecycleEvents consumes the bus the engine publishes on and mirrors
// terminal events into the log, so a bare deployment gets an audit trail
// without a downstream consumer attached.
func logLifecycleEvents(ctx context.Context, eventBus eventbus.EventBus, logger *slog.Logger) error {
	executionFinished := func(ctx context.Context, event any) error {
		finished, ok := event.(*events.ExecutionFinished)
		if !ok {
			return nil
		}

		logger.InfoContext(ctx, "Execution finished",
			"workflow_id", finished.WorkflowID,
			"execution_id", finished.ExecutionID,
			"status", finished.Status)

		return nil
	}

	for _, eventType := range []events.EventType{
		events.ExecutionCompletedEvent,
		events.ExecutionFailedEvent,
		events.ExecutionSuspendedEvent,
	} {
		if err := eventBus.Handle(eventType, executionFinished); err != nil {
			return err
		}
	}

	err := eventBus.Handle(events.EnrollmentCompletedEvent, func(ctx context.Context, event any) error {
		changed, ok := event.(*events.EnrollmentChanged)
		if !ok {
			return nil
		}

		logger.InfoContext(ctx, "Enrollment completed",
			"workflow_id", changed.WorkflowID,
			"enrollment_id", changed.EnrollmentID,
			"subject_id", changed.SubjectID)

		return nil
	})
	if err != nil {
		return err
	}

	return eventBus.Subscribe(ctx)
}
