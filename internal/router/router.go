package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-progress-api/internal/config"
	"github.com/noah-isme/gema-progress-api/internal/database"
	"github.com/noah-isme/gema-progress-api/internal/handler"
	"github.com/noah-isme/gema-progress-api/internal/middleware"
	"github.com/noah-isme/gema-progress-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ProgressHandler      *handler.ProgressHandler
	AdminProgressHandler *handler.AdminProgressHandler
	AdminActivityHandler *handler.AdminActivityHandler
	Capabilities         database.Capabilities
	JWTMiddleware        fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.Capabilities))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	v2 := app.Group("/api/v2", jwtMiddleware)

	if deps.ProgressHandler != nil {
		courses := v2.Group("/courses", middleware.Guard(middleware.AuthOptions{RequireUser: true}))
		deps.ProgressHandler.Register(courses, middleware.RateLimit("progress-complete", cfg.CompleteRateLimitPerMinute, time.Minute))
	}

	staff := middleware.RequireRole("admin", "teacher")

	if deps.AdminProgressHandler != nil {
		adminCourses := v2.Group("/admin/courses", staff)
		deps.AdminProgressHandler.Register(adminCourses)

		progress := v2.Group("/progress", staff)
		deps.AdminProgressHandler.RegisterOutcomes(progress)
	}

	if deps.AdminActivityHandler != nil {
		activities := v2.Group("/admin/activities", staff)
		deps.AdminActivityHandler.Register(activities)
	}
}
