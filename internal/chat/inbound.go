package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/wire"
	"go.uber.org/zap"
)

// Notification is the payload of bus.ChatNotification.
type Notification struct {
	From    domain.Contact `json:"from"`
	Preview string         `json:"preview"`
}

// readMark is the newest of our messages a contact has acknowledged reading.
type readMark struct {
	upTo int64
	at   time.Time
}

// HandleInbound applies a confirmed message delivered by the relay.
// Repeated deliveries of a server id inside the dedup window, or of one
// already in the open timeline, are dropped.
func (s *Synchronizer) HandleInbound(msg domain.Message) {
	peer, outgoing := msg.From, false
	if msg.From.ID == s.self.ID {
		peer, outgoing = msg.To, true
	}
	if peer.ID == 0 || peer.ID == s.self.ID {
		return
	}
	msg.Delivery = domain.Sent
	msg.UploadProgress = 0
	if msg.LocalID == "" {
		msg.LocalID = domain.NewLocalID()
	}

	s.mu.Lock()
	if msg.ServerID != 0 && !s.seen.Add(msg.ServerID) {
		s.mu.Unlock()
		s.logger.Debug("duplicate delivery dropped", zap.Int64("server_id", msg.ServerID))
		return
	}

	active := s.isActiveLocked(peer.ID)
	if active && s.hasServerIDLocked(msg.ServerID) {
		s.mu.Unlock()
		s.logger.Debug("message already in timeline, dropped", zap.Int64("server_id", msg.ServerID))
		return
	}
	if active {
		s.timeline = append(s.timeline, msg.Clone())
	}

	conv := s.conversationLocked(peer)
	if conv.LastMessage == nil || !msg.SentAt.Before(conv.LastMessage.SentAt) {
		last := msg.Clone()
		conv.LastMessage = &last
	}
	counted := !outgoing && !(active && s.visibleLocked())
	if counted {
		conv.UnreadCount++
	}
	notify := !outgoing && !s.viewport.Foreground
	autoRead := !outgoing && active && !counted
	total := s.recountLocked()
	convCopy := conv.Clone()
	change := s.timelineChangedLocked()
	s.mu.Unlock()

	s.logger.Debug("message received",
		zap.Int64("server_id", msg.ServerID),
		zap.Int64("contact_id", int64(peer.ID)),
		zap.Bool("active", active),
		zap.Bool("unread", counted))

	s.bus.Emit(bus.ChatConversationUpdated, convCopy)
	if active {
		s.bus.Emit(bus.ChatTimelineChanged, change)
	}
	if counted {
		s.bus.Emit(bus.ChatUnreadTotal, total)
	}
	if notify {
		s.bus.Emit(bus.ChatNotification, Notification{From: peer, Preview: msg.Preview()})
	}
	if autoRead {
		s.markReadAsync()
	}
}

// markReadAsync acknowledges a message that arrived in view. It runs off the
// relay goroutine so delivery never waits on the backend.
func (s *Synchronizer) markReadAsync() {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.MarkRead(ctx); err != nil {
			s.logger.Warn("mark read failed", zap.Error(err))
		}
	}()
}

// HandleReadReceipt flips the read state of our messages to the reader.
// Receipts may overtake the confirmation of the message they cover; the
// highest acknowledged id is kept and applied when that confirmation lands.
func (s *Synchronizer) HandleReadReceipt(evt wire.ReadEvent) {
	if evt.ContactID != s.self.ID || evt.ReaderID == 0 {
		return
	}
	at := evt.ReadAt
	if at.IsZero() {
		at = time.Now()
	}

	s.mu.Lock()
	mark := s.readMarks[evt.ReaderID]
	if evt.LastReadID > mark.upTo {
		mark = readMark{upTo: evt.LastReadID, at: at}
		s.readMarks[evt.ReaderID] = mark
	}
	covers := func(m *domain.Message) bool {
		if m.From.ID != s.self.ID || m.To.ID != evt.ReaderID || m.ReadAt != nil || m.ServerID == 0 {
			return false
		}
		return evt.LastReadID == 0 || m.ServerID <= evt.LastReadID
	}

	flipped := 0
	if s.isActiveLocked(evt.ReaderID) {
		for i := range s.timeline {
			if covers(&s.timeline[i]) {
				t := at
				s.timeline[i].ReadAt = &t
				flipped++
			}
		}
	}
	var convCopy *domain.Conversation
	if conv, ok := s.conversations[evt.ReaderID]; ok && conv.LastMessage != nil && covers(conv.LastMessage) {
		t := at
		conv.LastMessage.ReadAt = &t
		c := conv.Clone()
		convCopy = &c
	}
	change := s.timelineChangedLocked()
	s.mu.Unlock()

	s.logger.Debug("read receipt",
		zap.Int64("reader_id", int64(evt.ReaderID)),
		zap.Int64("last_read_id", evt.LastReadID),
		zap.Int("flipped", flipped))
	if flipped > 0 {
		s.bus.Emit(bus.ChatTimelineChanged, change)
	}
	if convCopy != nil {
		s.bus.Emit(bus.ChatConversationUpdated, *convCopy)
	}
}

// applyReadMarkLocked stamps an outgoing message covered by an earlier receipt.
func (s *Synchronizer) applyReadMarkLocked(m *domain.Message) {
	if m.From.ID != s.self.ID || m.ReadAt != nil || m.ServerID == 0 {
		return
	}
	mark, ok := s.readMarks[m.To.ID]
	if !ok || m.ServerID > mark.upTo {
		return
	}
	t := mark.at
	m.ReadAt = &t
}

// MarkRead acknowledges everything the active contact has sent. It only acts
// when there is something unread and the viewport is at the bottom, and it
// reports whether a read was recorded.
func (s *Synchronizer) MarkRead(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return false, ErrNoActiveConversation
	}
	contact := *s.active
	if !s.visibleLocked() || !s.hasUnreadLocked(contact.ID) {
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	ack, err := s.backend.MarkRead(ctx, contact.ID)
	if err != nil {
		return false, fmt.Errorf("mark read: %w", err)
	}

	s.mu.Lock()
	stamp := func(m *domain.Message) {
		if m.From.ID != contact.ID || m.ReadAt != nil {
			return
		}
		if ack.LastReadID != 0 && m.ServerID > ack.LastReadID {
			return
		}
		t := ack.ReadAt
		m.ReadAt = &t
	}
	if s.isActiveLocked(contact.ID) {
		for i := range s.timeline {
			stamp(&s.timeline[i])
		}
	}
	conv := s.conversationLocked(contact)
	if conv.LastMessage != nil {
		stamp(conv.LastMessage)
	}
	conv.UnreadCount = 0
	total := s.recountLocked()
	convCopy := conv.Clone()
	change := s.timelineChangedLocked()
	s.mu.Unlock()

	s.publish(wire.ReadEvent{
		ReaderID:   s.self.ID,
		ContactID:  contact.ID,
		LastReadID: ack.LastReadID,
		ReadAt:     ack.ReadAt,
	})
	s.logger.Info("conversation read", zap.Int64("contact_id", int64(contact.ID)), zap.Int64("last_read_id", ack.LastReadID))
	s.bus.Emit(bus.ChatTimelineChanged, change)
	s.bus.Emit(bus.ChatConversationUpdated, convCopy)
	s.bus.Emit(bus.ChatUnreadTotal, total)
	return true, nil
}

func (s *Synchronizer) hasUnreadLocked(id domain.UserID) bool {
	if conv, ok := s.conversations[id]; ok && conv.UnreadCount > 0 {
		return true
	}
	if s.isActiveLocked(id) {
		for i := range s.timeline {
			if s.timeline[i].From.ID == id && s.timeline[i].ReadAt == nil {
				return true
			}
		}
	}
	return false
}

// ReportViewport records the surface state. Reaching the bottom while in the
// foreground marks the open conversation as read.
func (s *Synchronizer) ReportViewport(ctx context.Context, v Viewport) error {
	if v.DistanceFromBottom < 0 {
		v.DistanceFromBottom = 0
	}
	s.mu.Lock()
	s.viewport = v
	visible := s.visibleLocked()
	active := s.active != nil
	s.mu.Unlock()

	if !visible || !active {
		return nil
	}
	_, err := s.MarkRead(ctx)
	return err
}
