package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	clubcmd "github.com/clubflow/clubflow/pkg/cmd"
	"github.com/clubflow/clubflow/pkg/log"
)

func NewFireCommand() *cli.Command {
	return &cli.Command{
		Name:  "fire",
		Usage: "Inject one trigger event by hand",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "trigger",
				Usage:    "Trigger type to fire (e.g. lead.stage_changed)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "data",
				Usage: "Event data as a JSON object",
				Value: "{}",
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
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("scheduler").With("action", "fire")

			var eventData map[string]any
			if err := json.Unmarshal([]byte(command.String("data")), &eventData); err != nil {
				return fmt.Errorf("invalid --data JSON: %w", err)
			}

			store, err := clubcmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			gateway := clubcmd.NewHTTPEntityGateway(
				command.String("gateway-url"),
				command.String("gateway-token"),
				logger,
			)

			engine, err := clubcmd.NewEngine(logger, store, nil, gateway, nil, nil)
			if err != nil {
				return err
			}

			results, err := engine.Dispatcher.Fire(ctx, command.String("trigger"), eventData)
			if err != nil {
				return err
			}

			for _, result := range results {
				switch {
				case result.Err != nil:
					fmt.Fprintf(os.Stdout, "✗ workflow %s: %v\n", result.WorkflowID, result.Err)
				case result.Enrollment != nil:
					fmt.Fprintf(os.Stdout, "✓ workflow %s: enrolled %s\n", result.WorkflowID, result.Enrollment.SubjectID)
				case result.Execution != nil:
					fmt.Fprintf(os.Stdout, "✓ workflow %s: execution %s %s\n",
						result.WorkflowID, result.Execution.ID, result.Execution.Status)
				}
			}

			fmt.Fprintf(os.Stdout, "%d workflows matched\n", len(results))

			return nil
		},
	}
}
