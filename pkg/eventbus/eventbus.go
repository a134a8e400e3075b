// Package eventbus maps a symbolic event kind to exactly one handler.
//
// The bus is deliberately single-subscriber: registering a second handler for
// the same kind replaces the first. Components that must all react to one
// event are composed into a single handler with [Sequence], which makes the
// invocation order an explicit part of the wiring instead of an accident of
// registration order.
//
// Example usage:
//
//	bus := eventbus.New[call.Event]("call")
//	bus.Register(call.EventEnded, eventbus.Sequence(agent.Stop, finalize))
//	err := bus.Publish(ctx, call.EventEnded, nil)
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Handler reacts to a published event. The payload type is agreed between the
// publisher and the handler for each event kind.
type Handler func(ctx context.Context, payload any) error

// Bus is a registry of one handler per event kind. It is safe for concurrent
// use; handlers run on the publisher's goroutine.
type Bus[K comparable] struct {
	name string

	mu       sync.RWMutex
	handlers map[K]Handler
}

// New creates an empty bus. The name only appears in log lines.
func New[K comparable](name string) *Bus[K] {
	return &Bus[K]{
		name:     name,
		handlers: make(map[K]Handler),
	}
}

// Register stores h as the handler for kind, replacing any previous handler.
// A nil handler removes the registration.
func (b *Bus[K]) Register(kind K, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h == nil {
		delete(b.handlers, kind)
		return
	}
	if _, existed := b.handlers[kind]; existed {
		slog.Warn("eventbus: handler replaced", "bus", b.name, "event", fmt.Sprint(kind))
	}
	b.handlers[kind] = h
}

// Publish invokes the handler registered for kind and waits for it to return.
// Publishing a kind with no handler is a no-op.
func (b *Bus[K]) Publish(ctx context.Context, kind K, payload any) error {
	b.mu.RLock()
	h, ok := b.handlers[kind]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	return h(ctx, payload)
}

// Sequence returns a handler that runs hs in order with the same payload and
// stops at the first error. Nil entries are skipped.
func Sequence(hs ...Handler) Handler {
	return func(ctx context.Context, payload any) error {
		for _, h := range hs {
			if h == nil {
				continue
			}
			if err := h(ctx, payload); err != nil {
				return err
			}
		}
		return nil
	}
}
