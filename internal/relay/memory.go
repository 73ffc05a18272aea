package relay

import (
	"context"
	"sort"
	"sync"

	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/wire"
)

// MemoryHub is an in-process relay. It routes events between endpoints the way
// the relay server does: addressed events go to their recipient, broadcasts to
// everyone else, and membership changes trigger a connectedUsers broadcast.
type MemoryHub struct {
	mu        sync.Mutex
	endpoints map[domain.UserID]*MemoryEndpoint
}

// NewMemoryHub returns a hub with no endpoints.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{endpoints: make(map[domain.UserID]*MemoryEndpoint)}
}

// Endpoint creates a client handle for user. It joins the hub on Connect.
func (h *MemoryHub) Endpoint(user wire.User) *MemoryEndpoint {
	return &MemoryEndpoint{
		hub:    h,
		user:   user,
		router: NewRouter(),
		queue:  make(chan []byte, 1024),
		done:   make(chan struct{}),
	}
}

func (h *MemoryHub) join(ep *MemoryEndpoint) {
	h.mu.Lock()
	h.endpoints[ep.user.ID] = ep
	h.mu.Unlock()
	h.broadcastPresence()
}

func (h *MemoryHub) leave(ep *MemoryEndpoint) {
	h.mu.Lock()
	if h.endpoints[ep.user.ID] == ep {
		delete(h.endpoints, ep.user.ID)
	}
	h.mu.Unlock()
	h.broadcastPresence()
}

func (h *MemoryHub) broadcastPresence() {
	h.mu.Lock()
	users := make([]wire.User, 0, len(h.endpoints))
	for _, ep := range h.endpoints {
		users = append(users, ep.user)
	}
	h.mu.Unlock()
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	h.route(0, wire.PresenceEvent{Users: users})
}

func (h *MemoryHub) route(from domain.UserID, evt wire.Event) error {
	if send, ok := evt.(wire.SendMessageEvent); ok {
		evt = wire.MessageReceivedEvent{MessagePayload: send.MessagePayload}
	}
	data, err := wire.Encode(evt)
	if err != nil {
		return err
	}

	h.mu.Lock()
	var targets []*MemoryEndpoint
	if to := evt.Recipient(); to != 0 {
		if ep, ok := h.endpoints[to]; ok {
			targets = append(targets, ep)
		}
	} else {
		for id, ep := range h.endpoints {
			if id != from || from == 0 {
				targets = append(targets, ep)
			}
		}
	}
	h.mu.Unlock()

	for _, ep := range targets {
		ep.enqueue(data)
	}
	return nil
}

// MemoryEndpoint is one client's view of a MemoryHub. It offers the same
// Connect/Publish/Subscribe/Close surface as Channel.
type MemoryEndpoint struct {
	hub    *MemoryHub
	user   wire.User
	router *Router
	queue  chan []byte

	mu      sync.Mutex
	running bool
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// Connect joins the hub. Repeated calls are no-ops.
func (e *MemoryEndpoint) Connect(_ context.Context) error {
	e.mu.Lock()
	if e.running || e.closed {
		closed := e.closed
		e.mu.Unlock()
		if closed {
			return ErrClosed
		}
		return nil
	}
	e.running = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.deliver()
	e.hub.join(e)
	return nil
}

func (e *MemoryEndpoint) enqueue(data []byte) {
	select {
	case e.queue <- data:
	case <-e.done:
	}
}

func (e *MemoryEndpoint) deliver() {
	defer e.wg.Done()
	for {
		select {
		case data := <-e.queue:
			evt, err := wire.Decode(data)
			if err != nil {
				continue
			}
			e.router.Dispatch(evt)
		case <-e.done:
			return
		}
	}
}

// Publish hands evt to the hub for routing.
func (e *MemoryEndpoint) Publish(evt wire.Event) error {
	e.mu.Lock()
	running := e.running && !e.closed
	e.mu.Unlock()
	if !running {
		return ErrNotConnected
	}
	return e.hub.route(e.user.ID, evt)
}

// Subscribe registers h for kind and returns its unsubscribe func.
func (e *MemoryEndpoint) Subscribe(kind wire.Kind, h Handler) func() {
	return e.router.Subscribe(kind, h)
}

// Close leaves the hub and stops delivery.
func (e *MemoryEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	running := e.running
	e.mu.Unlock()

	if running {
		e.hub.leave(e)
	}
	close(e.done)
	e.wg.Wait()
	return nil
}
