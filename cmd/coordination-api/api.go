// Package main provides the Coordination API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/rouhapp/coordination/pkg/cache"
	"github.com/rouhapp/coordination/pkg/effects"
	"github.com/rouhapp/coordination/pkg/eventbus"
	"github.com/rouhapp/coordination/pkg/persistence"
	"github.com/rouhapp/coordination/pkg/services"
	"github.com/rouhapp/coordination/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validate    *validator.Validate
	redisURL    string
	linkBaseURL string
	tracer      trace.Tracer
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	redisURL string,
	linkBaseURL string,
	tracer trace.Tracer,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		redisURL:    redisURL,
		linkBaseURL: linkBaseURL,
		tracer:      tracer,
	}
}

func (a *API) App() *fiber.App {
	templateService := services.NewTemplate(a.persistence, a.templateCache())
	dispatcher := effects.NewDispatcher(a.logger, effects.NewLogExecutor(a.logger))
	runService := services.NewRun(a.persistence, templateService, a.eventBus, dispatcher, a.logger, a.linkBaseURL)
	if a.tracer != nil {
		runService.SetTracer(a.tracer)
	}

	guard := services.NewGuard(a.persistence, runService)

	handlers := web.NewAPIHandlers(templateService, runService, guard, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Coordination API")
	})

	handlers.RegisterRoutes(app)

	return app
}

// templateCache picks Redis when configured, else in-process memory.
func (a *API) templateCache() cache.TemplateCache {
	if a.redisURL == "" {
		return cache.NewMemoryTemplateCache()
	}

	opts, err := redis.ParseURL(a.redisURL)
	if err != nil {
		a.logger.Error("Invalid Redis URL, falling back to memory cache", "error", err)

		return cache.NewMemoryTemplateCache()
	}

	return cache.NewRedisTemplateCache(redis.NewClient(opts))
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
