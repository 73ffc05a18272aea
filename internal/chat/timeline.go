package chat

import (
	"context"
	"fmt"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/domain"
	"go.uber.org/zap"
)

// TimelineChange is the payload of bus.ChatTimelineChanged.
type TimelineChange struct {
	ContactID domain.UserID `json:"contact_id"`
	Size      int           `json:"size"`
	HasMore   bool          `json:"has_more"`
}

func (s *Synchronizer) timelineChangedLocked() TimelineChange {
	var id domain.UserID
	if s.active != nil {
		id = s.active.ID
	}
	return TimelineChange{ContactID: id, Size: len(s.timeline), HasMore: s.hasMore}
}

// OpenConversation makes contact the active conversation, replaces the
// timeline with the newest page and records contact as last opened.
func (s *Synchronizer) OpenConversation(ctx context.Context, contact domain.Contact) error {
	if contact.ID == 0 || contact.ID == s.self.ID {
		return fmt.Errorf("open conversation: invalid contact %d", contact.ID)
	}

	s.mu.Lock()
	c := contact
	s.active = &c
	s.generation++
	s.timeline = nil
	s.page = 0
	s.hasMore = true
	s.loading = false
	change := s.timelineChangedLocked()
	s.mu.Unlock()

	if s.state != nil {
		if err := s.state.SetLastOpened(contact.ID); err != nil {
			s.logger.Warn("failed to persist last opened contact", zap.Error(err))
		}
	}
	s.logger.Info("conversation opened", zap.Int64("contact_id", int64(contact.ID)))
	s.bus.Emit(bus.ChatTimelineChanged, change)

	if _, err := s.LoadOlderMessages(ctx); err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	if _, err := s.MarkRead(ctx); err != nil {
		s.logger.Warn("mark read on open failed", zap.Error(err))
	}
	return nil
}

// OpenContact resolves id and opens its conversation.
func (s *Synchronizer) OpenContact(ctx context.Context, id domain.UserID) (domain.Contact, error) {
	c, err := s.ResolveContact(ctx, id)
	if err != nil {
		return domain.Contact{}, err
	}
	return c, s.OpenConversation(ctx, c)
}

// CloseConversation clears the active contact and the persisted last-opened value.
// Sends still in flight for the closed conversation complete normally.
func (s *Synchronizer) CloseConversation() {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return
	}
	s.active = nil
	s.generation++
	s.timeline = nil
	s.page = 0
	s.hasMore = false
	s.loading = false
	change := s.timelineChangedLocked()
	s.mu.Unlock()

	if s.state != nil {
		if err := s.state.ClearLastOpened(); err != nil {
			s.logger.Warn("failed to clear last opened contact", zap.Error(err))
		}
	}
	s.bus.Emit(bus.ChatTimelineChanged, change)
}

// RestoreLastOpened reopens the conversation recorded by a previous run.
// It reports false when nothing was recorded.
func (s *Synchronizer) RestoreLastOpened(ctx context.Context) (bool, error) {
	if s.state == nil {
		return false, nil
	}
	id, ok, err := s.state.LastOpened()
	if err != nil || !ok {
		return false, err
	}
	if _, err := s.OpenContact(ctx, id); err != nil {
		return false, fmt.Errorf("restore last opened: %w", err)
	}
	return true, nil
}

// LoadOlderMessages fetches the next page of history for the active contact
// and adds the messages not already present in front of the timeline. It
// returns how many were added. The caller keeps its own scroll anchor.
func (s *Synchronizer) LoadOlderMessages(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return 0, ErrNoActiveConversation
	}
	if !s.hasMore {
		s.mu.Unlock()
		return 0, nil
	}
	if s.loading {
		s.mu.Unlock()
		return 0, ErrPageInFlight
	}
	s.loading = true
	gen := s.generation
	contactID := s.active.ID
	next := s.page + 1
	s.mu.Unlock()

	page, err := s.backend.Messages(ctx, contactID, next, s.opts.PageSize)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("discarding page for a closed conversation", zap.Int64("contact_id", int64(contactID)), zap.Int("page", next))
		return 0, nil
	}
	s.loading = false
	if err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("load page %d: %w", next, err)
	}

	present := make(map[int64]struct{}, len(s.timeline))
	for i := range s.timeline {
		if id := s.timeline[i].ServerID; id != 0 {
			present[id] = struct{}{}
		}
	}
	// The page is newest first; the timeline is oldest first.
	older := make([]domain.Message, 0, len(page.Messages))
	for i := len(page.Messages) - 1; i >= 0; i-- {
		m := page.Messages[i]
		if _, dup := present[m.ServerID]; dup && m.ServerID != 0 {
			continue
		}
		present[m.ServerID] = struct{}{}
		if m.ServerID != 0 {
			s.seen.Add(m.ServerID)
		}
		s.applyReadMarkLocked(&m)
		older = append(older, m)
	}
	s.timeline = append(older, s.timeline...)
	s.page = next
	s.hasMore = page.HasMore
	change := s.timelineChangedLocked()
	s.mu.Unlock()

	s.logger.Debug("page loaded",
		zap.Int64("contact_id", int64(contactID)),
		zap.Int("page", next),
		zap.Int("fetched", len(page.Messages)),
		zap.Int("added", len(older)))
	s.bus.Emit(bus.ChatTimelineChanged, change)
	return len(older), nil
}
