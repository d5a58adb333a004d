package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

// InMemoryDispatcher fans events out to subscribed handlers.
type InMemoryDispatcher struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventHandler
	async     bool
	logger    *zap.Logger
	inflight  sync.WaitGroup
}

// NewInMemoryDispatcher creates a dispatcher that runs handlers inline.
func NewInMemoryDispatcher() *InMemoryDispatcher {
	return &InMemoryDispatcher{
		listeners: make(map[EventType][]EventHandler),
		logger:    zap.NewNop(),
	}
}

// NewAsyncDispatcher creates a dispatcher that runs each handler on its own
// goroutine, detached from the publisher's cancellation.
func NewAsyncDispatcher(logger *zap.Logger) *InMemoryDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryDispatcher{
		listeners: make(map[EventType][]EventHandler),
		async:     true,
		logger:    logger,
	}
}

// Publish invokes handlers for the given event. Handler errors are logged and
// never returned to the publisher.
func (d *InMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	handlers := append([]EventHandler{}, d.listeners[event.Type]...)
	d.mu.RUnlock()

	for _, handler := range handlers {
		if !d.async {
			d.run(ctx, handler, event)
			continue
		}
		d.inflight.Add(1)
		go func(h EventHandler) {
			defer d.inflight.Done()
			d.run(context.WithoutCancel(ctx), h, event)
		}(handler)
	}
	return nil
}

// Subscribe registers a handler for the given event type.
func (d *InMemoryDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[eventType] = append(d.listeners[eventType], handler)
}

// Wait blocks until every asynchronously started handler has returned.
func (d *InMemoryDispatcher) Wait() {
	d.inflight.Wait()
}

func (d *InMemoryDispatcher) run(ctx context.Context, handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panic", zap.String("event_type", string(event.Type)), zap.Any("panic", r))
		}
	}()
	if err := handler(ctx, event); err != nil {
		d.logger.Warn("event handler failed",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}
