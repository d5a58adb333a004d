package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/casedesk/case-service/internal/service"
)

// Drainer waits for in-flight event handlers; *events.InMemoryDispatcher implements it.
type Drainer interface {
	Wait()
}

// NotificationWorker owns delivery of case notifications: it subscribes the
// notification handlers and drains them on shutdown.
type NotificationWorker struct {
	notifications *service.NotificationService
	pending       Drainer
	logger        *zap.Logger
}

// NewNotificationWorker builds the worker. pending may be nil for a
// synchronous dispatcher.
func NewNotificationWorker(notifications *service.NotificationService, pending Drainer, logger *zap.Logger) *NotificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{notifications: notifications, pending: pending, logger: logger.Named("notifications")}
}

// Start subscribes the handlers.
func (w *NotificationWorker) Start() {
	if w.notifications == nil {
		return
	}
	w.notifications.RegisterHandlers()
	w.logger.Info("notification handlers registered")
}

// Drain blocks until queued deliveries finish or ctx ends.
func (w *NotificationWorker) Drain(ctx context.Context) error {
	if w.pending == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		w.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		w.logger.Warn("notifications still pending at shutdown")
		return errors.Join(errors.New("notification drain interrupted"), ctx.Err())
	}
}
