// Package chat owns the message timeline of the open conversation and the
// unread state of every conversation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/matheus3301/parley/internal/api"
	"github.com/matheus3301/parley/internal/attachment"
	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/logging"
	"github.com/matheus3301/parley/internal/relay"
	"github.com/matheus3301/parley/internal/wire"
	"go.uber.org/zap"
)

var (
	ErrNoActiveConversation = errors.New("no conversation is open")
	ErrPageInFlight         = errors.New("a page load is already in progress")
)

// Backend is the durable request/response side of the messaging service.
type Backend interface {
	Conversations(ctx context.Context) ([]domain.Conversation, error)
	Contacts(ctx context.Context) ([]domain.Contact, error)
	User(ctx context.Context, id domain.UserID) (domain.Contact, error)
	Messages(ctx context.Context, contactID domain.UserID, page, size int) (api.Page, error)
	Send(ctx context.Context, msg domain.Message) (domain.Message, error)
	MarkRead(ctx context.Context, contactID domain.UserID) (api.ReadAck, error)
}

// Transport is the relay connection as seen by the synchronizer.
type Transport interface {
	Publish(evt wire.Event) error
	Subscribe(kind wire.Kind, h relay.Handler) func()
}

// Uploader turns local files into attachments.
type Uploader interface {
	Admit(files []attachment.File, batch bool) attachment.Admission
	Upload(ctx context.Context, f attachment.File, progress func(int)) (domain.Attachment, error)
	UploadBatch(ctx context.Context, files []attachment.File, progress func(index, pct int)) (attachment.BatchResult, error)
}

// StateStore persists the last opened contact between runs.
type StateStore interface {
	SetLastOpened(id domain.UserID) error
	ClearLastOpened() error
	LastOpened() (domain.UserID, bool, error)
}

// Options tunes paging, visibility and deduplication.
type Options struct {
	PageSize int
	// BottomThreshold is how far from the newest message the viewport may be
	// while still counting inbound messages as seen.
	BottomThreshold int
	DedupWindow     int
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{PageSize: 50, BottomThreshold: 2, DedupWindow: 256}
}

// Viewport is what the displaying surface reports about itself.
type Viewport struct {
	Foreground         bool `json:"foreground"`
	DistanceFromBottom int  `json:"distance_from_bottom"`
}

// Synchronizer reconciles history, optimistic sends, relay deliveries and
// read receipts into one in-memory message graph.
//
// Network calls are made without holding the lock; every mutation of the
// graph happens under it.
type Synchronizer struct {
	self    domain.Contact
	backend Backend
	uploads Uploader
	state   StateStore
	bus     *bus.Bus
	logger  *zap.Logger
	opts    Options

	bg sync.WaitGroup

	mu            sync.Mutex
	transport     Transport
	unsubs        []func()
	active        *domain.Contact
	generation    uint64
	timeline      []domain.Message // oldest first
	page          int
	hasMore       bool
	loading       bool
	conversations map[domain.UserID]*domain.Conversation
	contacts      map[domain.UserID]domain.Contact
	seen          *seenSet
	readMarks     map[domain.UserID]readMark
	viewport      Viewport
	unreadTotal   uint
}

// New creates a synchronizer for self. state may be nil.
func New(self domain.Contact, backend Backend, uploads Uploader, state StateStore, b *bus.Bus, opts Options, logger *zap.Logger) *Synchronizer {
	def := DefaultOptions()
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.BottomThreshold < 0 {
		opts.BottomThreshold = def.BottomThreshold
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = def.DedupWindow
	}
	return &Synchronizer{
		self:          self,
		backend:       backend,
		uploads:       uploads,
		state:         state,
		bus:           b,
		logger:        logging.OrNop(logger),
		opts:          opts,
		conversations: make(map[domain.UserID]*domain.Conversation),
		contacts:      make(map[domain.UserID]domain.Contact),
		seen:          newSeenSet(opts.DedupWindow),
		readMarks:     make(map[domain.UserID]readMark),
		viewport:      Viewport{Foreground: true},
	}
}

// Self is the local user.
func (s *Synchronizer) Self() domain.Contact {
	return s.self
}

// Start subscribes to message deliveries and read receipts on transport.
func (s *Synchronizer) Start(transport Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport != nil {
		return
	}
	s.transport = transport
	s.unsubs = []func(){
		transport.Subscribe(wire.KindMessageReceived, s.onMessage),
		transport.Subscribe(wire.KindMessagesRead, s.onRead),
	}
}

// Stop removes the relay subscriptions and waits for background read
// acknowledgements. In-memory state is kept.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
	s.bg.Wait()
	s.mu.Lock()
	s.transport = nil
	s.mu.Unlock()
}

func (s *Synchronizer) onMessage(evt wire.Event) {
	if e, ok := evt.(wire.MessageReceivedEvent); ok {
		s.HandleInbound(e.Message())
	}
}

func (s *Synchronizer) onRead(evt wire.Event) {
	if e, ok := evt.(wire.ReadEvent); ok {
		s.HandleReadReceipt(e)
	}
}

func (s *Synchronizer) publish(evt wire.Event) {
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()
	if transport == nil {
		s.logger.Debug("relay not attached, event dropped", zap.String("kind", string(evt.Kind())))
		return
	}
	if err := transport.Publish(evt); err != nil {
		s.logger.Warn("relay publish failed", zap.String("kind", string(evt.Kind())), zap.Error(err))
	}
}

// LoadConversations seeds the conversation list from the backend.
func (s *Synchronizer) LoadConversations(ctx context.Context) error {
	convs, err := s.backend.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	s.mu.Lock()
	for _, c := range convs {
		c := c.Clone()
		if existing, ok := s.conversations[c.Contact.ID]; ok {
			// Deliveries that raced the fetch are newer than the snapshot.
			if existing.LastMessage != nil && (c.LastMessage == nil || existing.LastMessage.SentAt.After(c.LastMessage.SentAt)) {
				c.LastMessage = existing.LastMessage
			}
			c.UnreadCount = max(c.UnreadCount, existing.UnreadCount)
		}
		s.conversations[c.Contact.ID] = &c
	}
	total := s.recountLocked()
	s.mu.Unlock()

	s.logger.Info("conversations loaded", zap.Int("count", len(convs)))
	s.bus.Emit(bus.ChatConversationUpdated, nil)
	s.bus.Emit(bus.ChatUnreadTotal, total)
	return nil
}

// LoadContacts fills the contact directory.
func (s *Synchronizer) LoadContacts(ctx context.Context) error {
	contacts, err := s.backend.Contacts(ctx)
	if err != nil {
		return fmt.Errorf("load contacts: %w", err)
	}
	s.mu.Lock()
	for _, c := range contacts {
		if c.ID == s.self.ID {
			continue
		}
		s.contacts[c.ID] = c
	}
	s.mu.Unlock()
	s.logger.Info("contacts loaded", zap.Int("count", len(contacts)))
	return nil
}

// ResolveContact finds id in the directory or the conversation list, falling
// back to the backend.
func (s *Synchronizer) ResolveContact(ctx context.Context, id domain.UserID) (domain.Contact, error) {
	s.mu.Lock()
	if c, ok := s.contacts[id]; ok {
		s.mu.Unlock()
		return c, nil
	}
	if conv, ok := s.conversations[id]; ok {
		c := conv.Contact
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	c, err := s.backend.User(ctx, id)
	if err != nil {
		return domain.Contact{}, fmt.Errorf("resolve contact %d: %w", id, err)
	}
	s.mu.Lock()
	s.contacts[id] = c
	s.mu.Unlock()
	return c, nil
}

// Contacts returns the directory ordered by id.
func (s *Synchronizer) Contacts() []domain.Contact {
	s.mu.Lock()
	out := make([]domain.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, c)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Conversations returns copies of every conversation ordered by contact id.
func (s *Synchronizer) Conversations() []domain.Conversation {
	s.mu.Lock()
	out := make([]domain.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c.Clone())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Contact.ID < out[j].Contact.ID })
	return out
}

// Conversation returns the conversation with id, if one exists.
func (s *Synchronizer) Conversation(id domain.UserID) (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return domain.Conversation{}, false
	}
	return c.Clone(), true
}

// Active returns the open contact.
func (s *Synchronizer) Active() (domain.Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return domain.Contact{}, false
	}
	return *s.active, true
}

// Timeline returns a copy of the open conversation, oldest first.
func (s *Synchronizer) Timeline() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.timeline))
	for i := range s.timeline {
		out[i] = s.timeline[i].Clone()
	}
	return out
}

// HasMore reports whether older pages remain for the open conversation.
func (s *Synchronizer) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil && s.hasMore
}

// UnreadTotal is the sum of unread counts across conversations.
func (s *Synchronizer) UnreadTotal() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreadTotal
}

// Viewport returns the last reported viewport.
func (s *Synchronizer) Viewport() Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

// conversationLocked returns the conversation with c, creating it on first use.
func (s *Synchronizer) conversationLocked(c domain.Contact) *domain.Conversation {
	conv, ok := s.conversations[c.ID]
	if !ok {
		if known, ok := s.contacts[c.ID]; ok && c.DisplayName == "" {
			c = known
		}
		conv = &domain.Conversation{Contact: c}
		s.conversations[c.ID] = conv
	}
	return conv
}

// recountLocked recomputes the unread total and returns it.
func (s *Synchronizer) recountLocked() uint {
	var total uint
	for _, c := range s.conversations {
		total += c.UnreadCount
	}
	s.unreadTotal = total
	return total
}

func (s *Synchronizer) isActiveLocked(id domain.UserID) bool {
	return s.active != nil && s.active.ID == id
}

func (s *Synchronizer) visibleLocked() bool {
	return s.viewport.Foreground && s.viewport.DistanceFromBottom <= s.opts.BottomThreshold
}

func (s *Synchronizer) indexLocked(localID string) int {
	for i := len(s.timeline) - 1; i >= 0; i-- {
		if s.timeline[i].LocalID == localID {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) hasServerIDLocked(id int64) bool {
	if id == 0 {
		return false
	}
	for i := range s.timeline {
		if s.timeline[i].ServerID == id {
			return true
		}
	}
	return false
}
