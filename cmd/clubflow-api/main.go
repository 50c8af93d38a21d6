package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	clubcmd "github.com/clubflow/clubflow/pkg/cmd"
	"github.com/clubflow/clubflow/pkg/log"
)

const defaultPort = 9101

func main() {
	command := &cli.Command{
		Name:                  "clubflow-api",
		Usage:                 "Manage automation workflows and report CRM events",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
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
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing Clubflow API")

			store, err := clubcmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := clubcmd.NewEventBus(command.String("event-bus"), "clubflow-api", logger)
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

			gateway := clubcmd.NewHTTPEntityGateway(
				command.String("gateway-url"),
				command.String("gateway-token"),
				logger,
			)

			engine, err := clubcmd.NewEngine(logger, store, eventBus, gateway, redisClient, nil)
			if err != nil {
				return err
			}

			api := NewAPI(logger, store, engine)

			if err := api.Start(command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)

				return err
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
