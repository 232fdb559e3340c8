// Package main provides the Signoff API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/asseto/signoff/pkg/completion"
	"github.com/asseto/signoff/pkg/engine"
	"github.com/asseto/signoff/pkg/eventbus"
	"github.com/asseto/signoff/pkg/persistence"
	"github.com/asseto/signoff/pkg/roles"
	"github.com/asseto/signoff/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	directory   roles.Directory
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	directory roles.Directory,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		persistence: store,
		logger:      logger,
		directory:   directory,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	recorder := completion.NewRecorder(a.persistence.ExecutionRecordRepository(), a.logger)
	eng := engine.NewEngine(a.logger, a.persistence, a.directory, a.eventBus, recorder)

	handlers := web.NewAPIHandlers(eng, a.directory, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Signoff API")
	})

	i := app.Group("/instances")
	i.Get("/", handlers.ListInstances)
	i.Post("/", handlers.CreateInstance)
	i.Get("/:id", handlers.GetInstance)
	i.Get("/:id/history", handlers.GetHistory)
	i.Post("/:id/steps/:stepID/decision", handlers.SubmitDecision)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
