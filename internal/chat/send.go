package chat

import (
	"context"
	"strings"
	"time"

	"github.com/matheus3301/parley/internal/attachment"
	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/wire"
	"go.uber.org/zap"
)

// UploadProgress is the payload of bus.ChatUploadProgress.
type UploadProgress struct {
	LocalID   string        `json:"local_id"`
	ContactID domain.UserID `json:"contact_id"`
	Percent   int           `json:"percent"`
}

// Notice is a user-facing message that needs acknowledging, such as a
// rejected attachment.
type Notice struct {
	Text string `json:"text"`
}

// SendMessage sends text and/or file to the active contact. A file and a text
// become two messages, the file first. It returns the final state of every
// message created and whether all of them were sent. Nothing is created when
// both inputs are empty, no conversation is open, or the file is oversized.
func (s *Synchronizer) SendMessage(ctx context.Context, text string, file *attachment.File) ([]domain.Message, bool) {
	text = strings.TrimSpace(text)
	if text == "" && file == nil {
		return nil, false
	}
	contact, ok := s.Active()
	if !ok {
		return nil, false
	}

	var out []domain.Message
	allSent := true
	if file != nil {
		adm := s.uploads.Admit([]attachment.File{*file}, false)
		if len(adm.Accepted) == 0 {
			s.notice(adm.Notice)
			return nil, false
		}
		m, sent := s.sendFile(ctx, contact, *file)
		out = append(out, m)
		allSent = allSent && sent
	}
	if text != "" {
		m, sent := s.commit(ctx, s.begin(contact, text, nil))
		out = append(out, m)
		allSent = allSent && sent
	}
	return out, allSent
}

// SendAttachments sends files as one message each, uploading them
// concurrently, followed by caption as a text message. Oversized files are
// skipped with a notice; nothing is sent when every file is oversized.
func (s *Synchronizer) SendAttachments(ctx context.Context, files []attachment.File, caption string) ([]domain.Message, bool) {
	if len(files) == 0 {
		return nil, false
	}
	contact, ok := s.Active()
	if !ok {
		return nil, false
	}

	adm := s.uploads.Admit(files, true)
	if adm.Notice != "" {
		s.notice(adm.Notice)
	}
	if len(adm.Accepted) == 0 {
		return nil, false
	}

	pending := make([]domain.Message, len(adm.Accepted))
	for i, f := range adm.Accepted {
		pending[i] = s.begin(contact, "", &domain.Attachment{FileName: f.Name})
	}

	res, err := s.uploads.UploadBatch(ctx, adm.Accepted, func(i, pct int) {
		s.progress(pending[i], pct)
	})
	if err != nil {
		s.logger.Warn("batch upload failed", zap.Error(err))
		for i := range pending {
			pending[i], _ = s.fail(pending[i], err)
		}
		return pending, false
	}

	allSent := true
	for _, f := range res.Failed {
		pending[f.Index], _ = s.fail(pending[f.Index], f.Err)
		allSent = false
	}
	for _, u := range res.Uploaded {
		m := s.attach(pending[u.Index], u.Attachment)
		var sent bool
		pending[u.Index], sent = s.commit(ctx, m)
		allSent = allSent && sent
	}

	out := pending
	if caption = strings.TrimSpace(caption); caption != "" {
		m, sent := s.commit(ctx, s.begin(contact, caption, nil))
		out = append(out, m)
		allSent = allSent && sent
	}
	return out, allSent
}

func (s *Synchronizer) sendFile(ctx context.Context, to domain.Contact, f attachment.File) (domain.Message, bool) {
	m := s.begin(to, "", &domain.Attachment{FileName: f.Name})
	att, err := s.uploads.Upload(ctx, f, func(pct int) { s.progress(m, pct) })
	if err != nil {
		return s.fail(m, err)
	}
	return s.commit(ctx, s.attach(m, att))
}

// begin creates a Pending message and shows it immediately.
func (s *Synchronizer) begin(to domain.Contact, body string, att *domain.Attachment) domain.Message {
	m := domain.Message{
		LocalID:    domain.NewLocalID(),
		From:       s.self,
		To:         to,
		Body:       body,
		Attachment: att,
		SentAt:     time.Now(),
		Delivery:   domain.Pending,
	}

	s.mu.Lock()
	if s.isActiveLocked(to.ID) {
		s.timeline = append(s.timeline, m.Clone())
	}
	conv := s.conversationLocked(to)
	last := m.Clone()
	conv.LastMessage = &last
	change := s.timelineChangedLocked()
	convCopy := conv.Clone()
	s.mu.Unlock()

	s.bus.Emit(bus.ChatTimelineChanged, change)
	s.bus.Emit(bus.ChatConversationUpdated, convCopy)
	return m
}

// reconcileLocked applies fn to every stored copy of the message with localID.
func (s *Synchronizer) reconcileLocked(localID string, contactID domain.UserID, fn func(*domain.Message)) {
	if s.isActiveLocked(contactID) {
		if i := s.indexLocked(localID); i >= 0 {
			fn(&s.timeline[i])
		}
	}
	if conv, ok := s.conversations[contactID]; ok && conv.LastMessage != nil && conv.LastMessage.LocalID == localID {
		fn(conv.LastMessage)
	}
}

func (s *Synchronizer) reconcile(m *domain.Message, fn func(*domain.Message)) {
	fn(m)
	s.mu.Lock()
	s.reconcileLocked(m.LocalID, m.To.ID, fn)
	s.mu.Unlock()
}

func (s *Synchronizer) progress(m domain.Message, pct int) {
	s.reconcile(&m, func(x *domain.Message) { x.UploadProgress = pct })
	s.bus.Emit(bus.ChatUploadProgress, UploadProgress{LocalID: m.LocalID, ContactID: m.To.ID, Percent: pct})
}

func (s *Synchronizer) attach(m domain.Message, att domain.Attachment) domain.Message {
	s.reconcile(&m, func(x *domain.Message) {
		a := att
		x.Attachment = &a
		x.UploadProgress = 100
	})
	return m
}

func (s *Synchronizer) fail(m domain.Message, err error) (domain.Message, bool) {
	s.reconcile(&m, func(x *domain.Message) { x.Delivery = domain.Failed })
	s.logger.Warn("message failed",
		zap.String("local_id", m.LocalID),
		zap.Int64("contact_id", int64(m.To.ID)),
		zap.Error(err))
	s.bus.Emit(bus.ChatMessageFailed, m.Clone())
	s.bus.Emit(bus.ChatTimelineChanged, s.timelineChange())
	return m, false
}

// commit persists m, reconciles the confirmation by local id and hands the
// confirmed message to the relay for the recipient.
func (s *Synchronizer) commit(ctx context.Context, m domain.Message) (domain.Message, bool) {
	if err := m.Validate(); err != nil {
		return s.fail(m, err)
	}
	stored, err := s.backend.Send(ctx, m)
	if err != nil {
		return s.fail(m, err)
	}

	confirm := func(x *domain.Message) {
		x.ServerID = stored.ServerID
		if !stored.SentAt.IsZero() {
			x.SentAt = stored.SentAt
		}
		x.Delivery = domain.Sent
		x.UploadProgress = 0
	}
	confirm(&m)

	s.mu.Lock()
	s.seen.Add(m.ServerID)
	s.applyReadMarkLocked(&m)
	readAt := m.ReadAt
	s.reconcileLocked(m.LocalID, m.To.ID, func(x *domain.Message) {
		confirm(x)
		if readAt != nil {
			t := *readAt
			x.ReadAt = &t
		}
	})
	change := s.timelineChangedLocked()
	s.mu.Unlock()

	s.logger.Info("message sent",
		zap.String("local_id", m.LocalID),
		zap.Int64("server_id", m.ServerID),
		zap.Int64("contact_id", int64(m.To.ID)))
	s.publish(wire.SendMessageEvent{MessagePayload: wire.PayloadOf(m)})
	s.bus.Emit(bus.ChatMessageSent, m.Clone())
	s.bus.Emit(bus.ChatTimelineChanged, change)
	return m, true
}

func (s *Synchronizer) notice(text string) {
	if text == "" {
		return
	}
	s.logger.Info("notice", zap.String("text", text))
	s.bus.Emit(bus.ChatNotice, Notice{Text: text})
}

func (s *Synchronizer) timelineChange() TimelineChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timelineChangedLocked()
}
