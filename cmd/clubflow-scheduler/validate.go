package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"

	clubcmd "github.com/clubflow/clubflow/pkg/cmd"
	"github.com/clubflow/clubflow/pkg/handlers"
	"github.com/clubflow/clubflow/pkg/log"
	"github.com/clubflow/clubflow/pkg/registry"
	"github.com/clubflow/clubflow/pkg/workflow"
)

var ErrInvalidWorkflows = errors.New("invalid workflows found")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate stored workflow definitions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
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

			logger := log.WithModule("scheduler").With("action", "validate")

			store, err := clubcmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			// Handlers register only for their config schemas here; the
			// collaborators are never called.
			reg := registry.NewRegistry(logger)
			if err := handlers.RegisterAll(reg, nil, nil, nil); err != nil {
				return err
			}

			workflows, err := store.WorkflowRepository().GetAll(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch workflows: %w", err)
			}

			validate := validator.New(validator.WithRequiredStructEnabled())

			fmt.Fprintln(os.Stdout, "Workflow Validation Results:")
			fmt.Fprintln(os.Stdout, "============================")
			fmt.Fprintf(os.Stdout, "Registered step types: %s\n\n", strings.Join(reg.StepTypes(), ", "))

			invalid := 0

			for _, wf := range workflows {
				if err := workflow.ValidateDefinition(validate, reg, wf); err != nil {
					invalid++

					fmt.Fprintf(os.Stdout, "✗ %s (%s): %v\n", wf.Name, wf.ID, err)

					continue
				}

				fmt.Fprintf(os.Stdout, "✓ %s (%s)\n", wf.Name, wf.ID)
			}

			fmt.Fprintf(os.Stdout, "\n%d workflows checked, %d invalid\n", len(workflows), invalid)

			if invalid > 0 {
				return ErrInvalidWorkflows
			}

			return nil
		},
	}
}
