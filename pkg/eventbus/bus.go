package eventbus

import (
	"log/slog"
	"sync"
)

// Handler receives published events. It must not block for long; it runs
// synchronously on the publisher's goroutine.
type Handler func(Event)

// Bus is a single-consumer publish surface. Only one handler may be
// registered at a time, mirroring the "single on-event callback per
// orchestrator" contract; registering a new handler replaces the old one.
type Bus struct {
	mu      sync.RWMutex
	handler Handler
	log     *slog.Logger
}

// New creates an empty Bus. A nil handler is valid; Publish is then a no-op.
func New() *Bus {
	return &Bus{log: slog.With("component", "eventbus")}
}

// OnEvent registers the single handler invoked by Publish.
func (b *Bus) OnEvent(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Publish invokes the registered handler synchronously. A panicking or
// otherwise misbehaving handler is caught and logged; it never propagates
// to the caller, so a bad handler can't interrupt scheduler progress.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	h := b.handler
	b.mu.RUnlock()

	if h == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", "kind", e.Kind, "recovered", r)
		}
	}()
	h(e)
}
