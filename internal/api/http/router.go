package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/casedesk/case-service/internal/api/http/handlers"
	"github.com/casedesk/case-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Metrics        *handlers.MetricsHandler
	Cases          *handlers.CasesHandler
	Queue          *handlers.QueueHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", cfg.Metrics.Snapshot)
	}

	cases := app.Group("/cases", cfg.AuthMiddleware.Handle)
	cases.Get("/merge", auth.RequireGlobalAdmin(), cfg.Cases.PreviewMerge)
	cases.Post("/merge", auth.RequireGlobalAdmin(), cfg.Cases.ExecuteMerge)
	cases.Post("/auto-merge", cfg.Cases.AutoMerge)
	cases.Post("/claim", cfg.Cases.Claim)
	cases.Post("/bulk-assign", cfg.Cases.BulkAssign)

	queue := app.Group("/queue", cfg.AuthMiddleware.Handle)
	queue.Get("/stats", cfg.Queue.Stats)
	queue.Post("/auto-assign", auth.RequireAdmin(), cfg.Queue.AutoAssign)
}
