// Package app assembles the services shared by the HTTP server and the CLI.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/casedesk/case-service/internal/config"
	"github.com/casedesk/case-service/internal/events"
	"github.com/casedesk/case-service/internal/notify"
	"github.com/casedesk/case-service/internal/observability"
	"github.com/casedesk/case-service/internal/persistence"
	"github.com/casedesk/case-service/internal/service"
	"github.com/casedesk/case-service/internal/worker"
)

// Container holds the wired services of one process.
type Container struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Store        *persistence.Store
	Redis        *persistence.Redis
	Institutions *config.Institutions
	Dispatcher   *events.InMemoryDispatcher
	Publisher    notify.Publisher

	Merges        *service.MergeService
	Queue         *service.QueueService
	Assignments   *service.AssignmentService
	Notifications *service.NotificationService
	Delivery      *worker.NotificationWorker
	Scheduler     *worker.Scheduler
}

// Build opens backends and wires services. Callers must Close the container.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	institutions, err := config.LoadInstitutions(cfg.App.InstitutionsFile, cfg.Queue)
	if err != nil {
		return nil, err
	}

	store, err := persistence.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c := &Container{
		Config:       cfg,
		Logger:       logger,
		Metrics:      observability.NewMetrics(),
		Store:        store,
		Institutions: institutions,
		Dispatcher:   events.NewAsyncDispatcher(logger),
		Publisher:    notify.NopPublisher{},
	}

	if cfg.Merge.ThrottleBackend == config.ThrottleBackendRedis {
		r, err := persistence.NewRedis(ctx, cfg.Redis, logger)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Redis = r
	}

	if cfg.Notification.AMQPURL != "" {
		publisher, err := notify.NewAMQPPublisher(cfg.Notification.AMQPURL, cfg.Notification.AMQPExchange, logger)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		c.Publisher = publisher
	}

	repos := store.Repositories
	c.Merges = service.NewMergeService(service.MergeDependencies{
		CaseRepo:    repos.Cases,
		MessageRepo: repos.Messages,
		Throttle:    persistence.NewMergeThrottle(cfg.Merge, c.Redis),
		Dispatcher:  c.Dispatcher,
		Metrics:     c.Metrics,
		Logger:      logger.Named("merge"),
		BatchSize:   cfg.Merge.MessageBatchSize,
	})
	c.Queue = service.NewQueueService(service.QueueDependencies{
		QueueRepo:    repos.Queue,
		OperatorRepo: repos.Operators,
		CaseRepo:     repos.Cases,
		Logger:       logger.Named("queue"),
	})
	c.Assignments = service.NewAssignmentService(service.AssignmentDependencies{
		CaseRepo:       repos.Cases,
		OperatorRepo:   repos.Operators,
		DepartmentRepo: repos.Departments,
		Queue:          c.Queue,
		Settings:       institutions,
		Dispatcher:     c.Dispatcher,
		Metrics:        c.Metrics,
		Logger:         logger.Named("assignment"),
		BulkLimit:      cfg.Queue.BulkAssignLimit,
		AutoBatchSize:  cfg.Queue.AutoAssignBatchSize,
	})

	webhookTimeout := time.Duration(cfg.Notification.WebhookTimeoutSeconds) * time.Second
	var transfer service.TransferSender
	if hook := notify.NewWebhook(cfg.Notification.TransferWebhookURL, webhookTimeout, cfg.App.Name+"/"+cfg.App.Version); hook != nil {
		transfer = hook
	}
	c.Notifications = service.NewNotificationService(service.NotificationDependencies{
		Dispatcher:    c.Dispatcher,
		MessageRepo:   repos.Messages,
		Webhook:       transfer,
		Publisher:     c.Publisher,
		Logger:        logger.Named("notify"),
		GhostMessages: cfg.Notification.GhostMessagesEnabled,
		Producer:      cfg.App.Name,
	})
	c.Delivery = worker.NewNotificationWorker(c.Notifications, c.Dispatcher, logger)
	c.Delivery.Start()

	c.Scheduler = worker.NewScheduler(worker.SchedulerDependencies{
		Merger:         c.Merges,
		Assigner:       c.Assignments,
		Institutions:   institutions,
		MergeInterval:  time.Duration(cfg.Merge.WorkerIntervalSeconds) * time.Second,
		AssignInterval: time.Duration(cfg.Queue.WorkerIntervalSeconds) * time.Second,
		Logger:         logger,
	})
	return c, nil
}

const drainTimeout = 10 * time.Second

// Close drains pending notifications and releases backends.
func (c *Container) Close() {
	if c.Delivery != nil {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		if err := c.Delivery.Drain(ctx); err != nil {
			c.Logger.Warn("notification drain", zap.Error(err))
		}
		cancel()
	}
	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			c.Logger.Warn("close publisher", zap.Error(err))
		}
	}
	c.Redis.Close()
	c.Store.Close()
}
