// Package main provides the Clubflow automation API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/clubflow/clubflow/pkg/cmd"
	"github.com/clubflow/clubflow/pkg/persistence"
	"github.com/clubflow/clubflow/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *cmd.Engine
	validate    *validator.Validate
}

func NewAPI(logger *slog.Logger, store persistence.Persistence, engine *cmd.Engine) *API {
	return &API{
		logger:      logger,
		persistence: store,
		engine:      engine,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.logger, a.persistence, a.engine.Registry, a.engine.Dispatcher, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Clubflow Automation API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
