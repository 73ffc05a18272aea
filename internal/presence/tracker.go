// Package presence keeps the set of contacts currently connected to the relay.
package presence

import (
	"sort"
	"sync"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/logging"
	"github.com/matheus3301/parley/internal/relay"
	"github.com/matheus3301/parley/internal/wire"
	"go.uber.org/zap"
)

// Subscriber is the part of the relay transport the tracker needs.
type Subscriber interface {
	Subscribe(kind wire.Kind, h relay.Handler) func()
}

// Tracker mirrors the relay's latest connectedUsers broadcast.
type Tracker struct {
	self   domain.UserID
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.RWMutex
	online map[domain.UserID]domain.Contact
	unsub  func()
}

// NewTracker creates a tracker that ignores self in broadcasts.
func NewTracker(self domain.UserID, b *bus.Bus, logger *zap.Logger) *Tracker {
	return &Tracker{
		self:   self,
		bus:    b,
		logger: logging.OrNop(logger),
		online: make(map[domain.UserID]domain.Contact),
	}
}

// Start subscribes to presence broadcasts.
func (t *Tracker) Start(transport Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unsub != nil {
		return
	}
	t.unsub = transport.Subscribe(wire.KindConnectedUsers, t.handle)
}

// Stop unsubscribes. The last known set is kept.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unsub != nil {
		t.unsub()
		t.unsub = nil
	}
}

func (t *Tracker) handle(evt wire.Event) {
	p, ok := evt.(wire.PresenceEvent)
	if !ok {
		return
	}
	t.Replace(p.Users)
}

// Replace swaps the online set for users, minus self.
func (t *Tracker) Replace(users []wire.User) {
	online := make(map[domain.UserID]domain.Contact, len(users))
	for _, u := range users {
		if u.ID == t.self {
			continue
		}
		c := u.Contact()
		c.Presence = domain.Online
		online[u.ID] = c
	}

	t.mu.Lock()
	t.online = online
	t.mu.Unlock()

	t.logger.Debug("presence updated", zap.Int("online", len(online)))
	t.bus.Emit(bus.PresenceUpdated, len(online))
}

// IsOnline reports whether id is in the latest broadcast.
func (t *Tracker) IsOnline(id domain.UserID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[id]
	return ok
}

// Online returns the connected contacts ordered by id.
func (t *Tracker) Online() []domain.Contact {
	t.mu.RLock()
	out := make([]domain.Contact, 0, len(t.online))
	for _, c := range t.online {
		out = append(out, c)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stamp returns c with its presence set from the tracker.
func (t *Tracker) Stamp(c domain.Contact) domain.Contact {
	if t.IsOnline(c.ID) {
		c.Presence = domain.Online
	} else {
		c.Presence = domain.Offline
	}
	return c
}
