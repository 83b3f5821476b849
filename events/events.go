// Package events delivers asynchronous notifications about committed graph
// mutations to interested subscribers (persistence triggers, UI refresh,
// audit feeds).
package events

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

var (
	// ErrBusClosed indicates the event bus has been stopped.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrChannelFull indicates the event channel cannot accept more events.
	ErrChannelFull = errors.New("event channel is full")
	// ErrNoHandler indicates no handlers are registered for the event type.
	ErrNoHandler = errors.New("no handlers registered for event type")
)

// Event describes one committed mutation on a workflow graph.
type Event struct {
	Type       string                 // e.g. "batch_applied", "batch_undone"
	WorkflowID string                 // Workflow the mutation touched
	Data       map[string]interface{} // Structured event payload
}

// Handler consumes events.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus fans events out to subscribed handlers on a background goroutine.
type Bus struct {
	handlers map[string][]Handler
	mu       sync.RWMutex
	eventCh  chan Event
	errFn    func(event Event, err error)
	wg       sync.WaitGroup
	closed   bool
	closeMu  sync.RWMutex
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the event channel buffer size.
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		b.eventCh = make(chan Event, size)
	}
}

// WithErrorHandler sets a custom handler-error callback.
func WithErrorHandler(fn func(event Event, err error)) Option {
	return func(b *Bus) {
		b.errFn = fn
	}
}

// NewBus creates a Bus and starts its dispatch goroutine. The default
// buffer size is 100.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[string][]Handler),
		eventCh:  make(chan Event, 100),
		errFn:    defaultErrorHandler,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.wg.Add(1)
	go b.dispatch()
	return b
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeFunc registers a function as a handler for an event type.
func (b *Bus) SubscribeFunc(eventType string, fn func(ctx context.Context, event Event) error) {
	b.Subscribe(eventType, HandlerFunc(fn))
}

// HasSubscribers reports whether any handler is registered for the type.
func (b *Bus) HasSubscribers(eventType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType]) > 0
}

// Publish enqueues an event for asynchronous delivery. It never blocks:
// a full channel returns ErrChannelFull.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// The close lock is held across the send so Stop cannot close the
	// channel between the closed check and the enqueue.
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	if !b.HasSubscribers(event.Type) {
		return ErrNoHandler
	}

	select {
	case b.eventCh <- event:
		return nil
	default:
		return ErrChannelFull
	}
}

// Stop shuts the bus down, discarding undelivered events, and waits for the
// dispatch goroutine to exit.
func (b *Bus) Stop() {
	b.closeMu.Lock()
	if !b.closed {
		b.closed = true
		for len(b.eventCh) > 0 {
			<-b.eventCh
		}
		close(b.eventCh)
	}
	b.closeMu.Unlock()

	b.wg.Wait()
}

func (b *Bus) dispatch() {
	defer b.wg.Done()

	for event := range b.eventCh {
		b.mu.RLock()
		handlers := make([]Handler, len(b.handlers[event.Type]))
		copy(handlers, b.handlers[event.Type])
		b.mu.RUnlock()

		for _, h := range handlers {
			if err := h.Handle(context.Background(), event); err != nil {
				b.errFn(event, err)
			}
		}
	}
}

func defaultErrorHandler(event Event, err error) {
	fmt.Printf("Error handling event %s (workflow %s): %v\nStack: %s\n",
		event.Type, event.WorkflowID, err, debug.Stack())
}
