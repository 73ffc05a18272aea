package relay

import (
	"sync"

	"github.com/matheus3301/parley/internal/wire"
)

// Handler receives one decoded relay event.
type Handler func(wire.Event)

type route struct {
	id      int
	handler Handler
}

// Router is the dispatch table from event kind to subscribed handlers.
// Handlers for a kind run in subscription order.
type Router struct {
	mu     sync.RWMutex
	routes map[wire.Kind][]route
	next   int
}

// NewRouter returns an empty dispatch table.
func NewRouter() *Router {
	return &Router{routes: make(map[wire.Kind][]route)}
}

// Subscribe adds h for kind. The returned func removes exactly this subscription.
func (r *Router) Subscribe(kind wire.Kind, h Handler) func() {
	r.mu.Lock()
	id := r.next
	r.next++
	r.routes[kind] = append(r.routes[kind], route{id: id, handler: h})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(kind, id) })
	}
}

func (r *Router) remove(kind wire.Kind, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	routes := r.routes[kind]
	for i, rt := range routes {
		if rt.id == id {
			r.routes[kind] = append(routes[:i:i], routes[i+1:]...)
			return
		}
	}
}

// Handlers returns how many handlers are subscribed to kind.
func (r *Router) Handlers(kind wire.Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes[kind])
}

// Dispatch runs every handler subscribed to evt's kind and reports whether any ran.
func (r *Router) Dispatch(evt wire.Event) bool {
	r.mu.RLock()
	routes := r.routes[evt.Kind()]
	handlers := make([]Handler, len(routes))
	for i, rt := range routes {
		handlers[i] = rt.handler
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
	return len(handlers) > 0
}
