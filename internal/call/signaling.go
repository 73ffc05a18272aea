package call

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/wire"
	"go.uber.org/zap"
)

// maxEarlyCandidates bounds candidates held while no session exists.
const maxEarlyCandidates = 64

func (m *Machine) lookup(id domain.UserID) domain.Contact {
	if m.directory == nil {
		return domain.Contact{ID: id}
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.LookupTimeout)
	defer cancel()
	c, err := m.directory.ResolveContact(ctx, id)
	if err != nil {
		m.logger.Warn("caller lookup failed", zap.Int64("peer_id", int64(id)), zap.Error(err))
		return domain.Contact{ID: id}
	}
	return c
}

func (m *Machine) onRequest(evt wire.Event) {
	e, ok := evt.(wire.CallRequestEvent)
	if !ok || e.ToID != m.self || e.FromID == m.self {
		return
	}
	caller := m.lookup(e.FromID)

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.state == Idle || m.state == Ended:
		m.peer = caller
		m.remote = MediaState{Video: true, Audio: true}
		m.early = nil
		m.setStateLocked(Ringing, "")
		m.bus.Emit(bus.CallIncoming, caller)
	case m.state == Calling && m.peer.ID == e.FromID:
		// Both sides dialled each other. The lower id stays the caller.
		if m.self < e.FromID {
			m.logger.Info("crossing call request, keeping caller role", zap.Int64("peer_id", int64(e.FromID)))
			return
		}
		m.logger.Info("crossing call request, answering it", zap.Int64("peer_id", int64(e.FromID)))
		if err := m.acceptLocked(); err != nil {
			m.failLocked("accept crossing call", err)
		}
	case m.peer.ID == e.FromID && (m.state == Ringing || m.state == Active):
	default:
		m.logger.Info("busy, rejecting call", zap.Int64("peer_id", int64(e.FromID)))
		_ = m.publishLocked(wire.CallResponseEvent{FromID: m.self, ToID: e.FromID, Response: wire.CallRejected})
	}
}

func (m *Machine) onResponse(evt wire.Event) {
	e, ok := evt.(wire.CallResponseEvent)
	if !ok || e.ToID != m.self {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Calling || e.FromID != m.peer.ID {
		m.logger.Debug("stray call response", zap.Int64("peer_id", int64(e.FromID)), zap.String("state", string(m.state)))
		return
	}
	switch e.Response {
	case wire.CallRejected:
		m.teardownLocked(Ended, Rejected, false)
	case wire.CallAccepted:
		// The callee sends the offer.
		m.setStateLocked(Active, "")
	}
}

func (m *Machine) onRTC(evt wire.Event) {
	e, ok := evt.(wire.RTCEvent)
	if !ok || e.ToID != m.self {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.FromID != m.peer.ID || (m.state != Active && m.state != Calling) {
		m.logger.Debug("stray negotiation message", zap.Int64("peer_id", int64(e.FromID)), zap.String("type", string(e.Type)))
		return
	}

	switch e.Type {
	case wire.RTCOffer:
		if m.state == Calling {
			m.logger.Info("offer before call response, treating as accepted")
			m.setStateLocked(Active, "")
		}
		if m.session != nil {
			m.logger.Info("offer during negotiation, rebuilding session")
		}
		s, err := m.newSessionLocked()
		if err != nil {
			m.failLocked("create media session", err)
			return
		}
		m.offerer = false
		answer, err := s.AcceptOffer(e.Data)
		if err != nil {
			m.failLocked("answer offer", err)
			return
		}
		_ = m.publishLocked(wire.RTCEvent{FromID: m.self, ToID: m.peer.ID, Type: wire.RTCAnswer, Data: answer})

	case wire.RTCAnswer:
		if m.session == nil || !m.offerer {
			m.logger.Warn("answer without a pending offer")
			return
		}
		if err := m.session.ApplyAnswer(e.Data); err != nil {
			m.failLocked("apply answer", err)
		}

	case wire.RTCCandidate:
		if m.session == nil {
			if len(m.early) < maxEarlyCandidates {
				m.early = append(m.early, e.Data)
			}
			return
		}
		if err := m.session.AddCandidate(e.Data); err != nil {
			m.logger.Warn("remote candidate rejected", zap.Error(err))
		}
	}
}

func (m *Machine) onEnd(evt wire.Event) {
	e, ok := evt.(wire.CallEndEvent)
	if !ok || e.ToID != m.self {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.FromID != m.peer.ID {
		return
	}
	switch m.state {
	case Calling, Ringing, Active:
		m.teardownLocked(Ended, ClosedByPeer, false)
	}
}

func (m *Machine) onMediaState(evt wire.Event) {
	e, ok := evt.(wire.MediaStateEvent)
	if !ok || e.ToID != m.self {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.FromID != m.peer.ID || m.state == Idle || m.state == Ended {
		return
	}
	m.remote = MediaState{Video: e.Video, Audio: e.Audio}
	m.bus.Emit(bus.CallRemoteMedia, m.remote)
}

// acceptLocked answers the peer and starts negotiation as the offerer.
func (m *Machine) acceptLocked() error {
	if err := m.publishLocked(wire.CallResponseEvent{FromID: m.self, ToID: m.peer.ID, Response: wire.CallAccepted}); err != nil {
		return err
	}
	m.setStateLocked(Active, "")

	s, err := m.newSessionLocked()
	if err != nil {
		return err
	}
	m.offerer = true
	offer, err := s.CreateOffer()
	if err != nil {
		return err
	}
	return m.publishLocked(wire.RTCEvent{FromID: m.self, ToID: m.peer.ID, Type: wire.RTCOffer, Data: offer})
}

// newSessionLocked replaces any current session with a fresh one and hands
// it the candidates that arrived early.
func (m *Machine) newSessionLocked() (Session, error) {
	m.closeSessionLocked()
	seq, peerID := m.seq, m.peer.ID
	s, err := m.sessions.NewSession(m.local, Hooks{
		OnCandidate: func(c json.RawMessage) {
			m.goTracked(func() { m.sendCandidate(seq, peerID, c) })
		},
		OnRemoteTrack: func(kind string) {
			m.goTracked(func() { m.remoteTrack(seq, kind) })
		},
		OnFailed: func() {
			m.goTracked(func() { m.sessionDead(seq, "connection failed") })
		},
	})
	if err != nil {
		return nil, err
	}
	m.session = s
	early := m.early
	m.early = nil
	for _, c := range early {
		if err := s.AddCandidate(c); err != nil {
			m.logger.Warn("early candidate rejected", zap.Error(err))
		}
	}
	return s, nil
}

func (m *Machine) sendCandidate(seq uint64, peerID domain.UserID, c json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq != m.seq || m.session == nil {
		return
	}
	_ = m.publishLocked(wire.RTCEvent{FromID: m.self, ToID: peerID, Type: wire.RTCCandidate, Data: c})
}

func (m *Machine) remoteTrack(seq uint64, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq != m.seq || m.state != Active || m.session == nil {
		return
	}
	if m.stopWatch == nil {
		m.startWatchdogLocked(seq, m.session)
	}
	m.bus.Emit(bus.CallRemoteTrack, kind)
	m.bus.Emit(bus.CallStateChanged, m.statusLocked())
}

func (m *Machine) failLocked(what string, err error) {
	m.logger.Error("call negotiation failed", zap.String("step", what), zap.Error(err))
	m.teardownLocked(Ended, Disconnected, true)
}
