package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Subscription is a handle returned by Subscribe/SubscribeAll. Cancel
// deregisters the handler and is idempotent.
type Subscription interface {
	Cancel()
}

// Dispatcher allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler) Subscription
	SubscribeAll(handler EventHandler) Subscription
}

// inMemoryDispatcher is a simple synchronous dispatcher.
type inMemoryDispatcher struct {
	mu       sync.RWMutex
	nextID   int
	typed    map[EventType]map[int]EventHandler
	wildcard map[int]EventHandler
	logger   *zap.Logger
}

// NewInMemoryDispatcher creates a dispatcher instance.
func NewInMemoryDispatcher(logger *zap.Logger) Dispatcher {
	return &inMemoryDispatcher{
		typed:    make(map[EventType]map[int]EventHandler),
		wildcard: make(map[int]EventHandler),
		logger:   logger,
	}
}

// Publish synchronously invokes handlers for the given event. Handler
// errors are logged and skipped; delivery is best-effort fire-and-forget.
func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	handlers := make([]EventHandler, 0, len(d.typed[event.Type])+len(d.wildcard))
	for _, handler := range d.typed[event.Type] {
		handlers = append(handlers, handler)
	}
	for _, handler := range d.wildcard {
		handlers = append(handlers, handler)
	}
	d.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil && d.logger != nil {
			d.logger.Warn("event handler failed",
				zap.String("event_type", string(event.Type)),
				zap.String("ticket_id", event.TicketID),
				zap.Error(err))
		}
	}
	return nil
}

// Subscribe registers a handler for the given event type.
func (d *inMemoryDispatcher) Subscribe(eventType EventType, handler EventHandler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	if d.typed[eventType] == nil {
		d.typed[eventType] = make(map[int]EventHandler)
	}
	d.typed[eventType][id] = handler
	return &subscription{dispatcher: d, eventType: eventType, id: id}
}

// SubscribeAll registers a handler for every event type.
func (d *inMemoryDispatcher) SubscribeAll(handler EventHandler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.wildcard[id] = handler
	return &subscription{dispatcher: d, all: true, id: id}
}

type subscription struct {
	dispatcher *inMemoryDispatcher
	eventType  EventType
	all        bool
	id         int
}

// Cancel removes the handler. Double-cancel is a no-op.
func (s *subscription) Cancel() {
	s.dispatcher.mu.Lock()
	defer s.dispatcher.mu.Unlock()
	if s.all {
		delete(s.dispatcher.wildcard, s.id)
		return
	}
	delete(s.dispatcher.typed[s.eventType], s.id)
}
