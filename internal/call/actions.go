package call

import (
	"fmt"

	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/wire"
)

// StartCall acquires local media and rings peer. Nothing is sent when media
// cannot be acquired.
func (m *Machine) StartCall(peer domain.Contact) error {
	if peer.ID == 0 || peer.ID == m.self {
		return fmt.Errorf("start call: invalid peer %d", peer.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Idle && m.state != Ended {
		return ErrCallInProgress
	}
	if m.state == Ended {
		m.teardownLocked(Idle, "", false)
	}

	local, err := m.devices.Acquire()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	m.local = local
	m.peer = peer
	m.remote = MediaState{Video: true, Audio: true}
	m.early = nil
	if err := m.publishLocked(wire.CallRequestEvent{FromID: m.self, ToID: peer.ID}); err != nil {
		m.teardownLocked(Idle, "", false)
		return fmt.Errorf("send call request: %w", err)
	}
	m.setStateLocked(Calling, "")
	return nil
}

// AcceptCall answers the ringing call and starts negotiation.
func (m *Machine) AcceptCall() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Ringing {
		return ErrNoCall
	}
	if m.local == nil {
		local, err := m.devices.Acquire()
		if err != nil {
			_ = m.publishLocked(wire.CallResponseEvent{FromID: m.self, ToID: m.peer.ID, Response: wire.CallRejected})
			m.teardownLocked(Idle, "", false)
			return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
		}
		m.local = local
	}
	if err := m.acceptLocked(); err != nil {
		m.failLocked("accept call", err)
		return fmt.Errorf("accept call: %w", err)
	}
	return nil
}

// RejectCall declines the ringing call.
func (m *Machine) RejectCall() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Ringing {
		return ErrNoCall
	}
	_ = m.publishLocked(wire.CallResponseEvent{FromID: m.self, ToID: m.peer.ID, Response: wire.CallRejected})
	m.teardownLocked(Idle, "", false)
	return nil
}

// EndCall hangs up and returns to Idle from any state. Local media is
// released before the peer is notified, and a failed notification is not an
// error. Calling it with no call is a no-op.
func (m *Machine) EndCall() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Idle:
	case Ended:
		m.teardownLocked(Idle, "", false)
	case Ringing:
		_ = m.publishLocked(wire.CallResponseEvent{FromID: m.self, ToID: m.peer.ID, Response: wire.CallRejected})
		m.teardownLocked(Idle, "", false)
	default:
		m.teardownLocked(Idle, "", true)
	}
	return nil
}

// Acknowledge clears an Ended call back to Idle.
func (m *Machine) Acknowledge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Ended {
		m.teardownLocked(Idle, "", false)
	}
}

// ToggleVideo flips the camera and tells the peer. It returns the new state.
func (m *Machine) ToggleVideo() (bool, error) {
	return m.toggle(func(l LocalMedia) bool {
		l.SetVideo(!l.VideoOn())
		return l.VideoOn()
	})
}

// ToggleAudio flips the microphone and tells the peer. It returns the new state.
func (m *Machine) ToggleAudio() (bool, error) {
	return m.toggle(func(l LocalMedia) bool {
		l.SetAudio(!l.AudioOn())
		return l.AudioOn()
	})
}

func (m *Machine) toggle(flip func(LocalMedia) bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil || (m.state != Calling && m.state != Active) {
		return false, ErrNoCall
	}
	on := flip(m.local)
	_ = m.publishLocked(wire.MediaStateEvent{
		FromID: m.self,
		ToID:   m.peer.ID,
		Video:  m.local.VideoOn(),
		Audio:  m.local.AudioOn(),
	})
	m.bus.Emit(bus.CallStateChanged, m.statusLocked())
	return on, nil
}
