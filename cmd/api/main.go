package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/casedesk/case-service/internal/api/http"
	"github.com/casedesk/case-service/internal/api/http/handlers"
	"github.com/casedesk/case-service/internal/app"
	"github.com/casedesk/case-service/internal/auth"
	"github.com/casedesk/case-service/internal/config"
	"github.com/casedesk/case-service/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer container.Close()

	sessions := auth.NewSessionCodec(cfg.Session.JWTSecret, 0)
	authMiddleware := auth.NewAuthMiddleware(sessions, container.Store.Repositories.Operators, cfg.Session.CookieName)

	server := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(server, logger, container.Metrics, cfg.App.RequestTimeout())

	pingers := map[string]handlers.Pinger{"store": container.Store}
	if container.Redis != nil {
		pingers["redis"] = container.Redis
	}

	httptransport.RegisterRoutes(server, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pingers),
		Metrics:        handlers.NewMetricsHandler(container.Metrics),
		Cases:          handlers.NewCasesHandler(container.Merges, container.Assignments),
		Queue:          handlers.NewQueueHandler(container.Queue, container.Assignments, container.Institutions),
		AuthMiddleware: authMiddleware,
	})

	if container.Scheduler.Enabled() {
		go func() {
			if err := container.Scheduler.Run(ctx); err != nil {
				logger.Error("scheduler stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		if err := server.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)
	cancel()

	if err := server.Shutdown(); err != nil {
		logger.Warn("fiber shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
