// Package call negotiates one-to-one calls over the relay and owns the single
// media session a client may hold.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/logging"
	"github.com/matheus3301/parley/internal/relay"
	"github.com/matheus3301/parley/internal/wire"
	"go.uber.org/zap"
)

// State is the call lifecycle position.
type State string

const (
	Idle    State = "idle"
	Calling State = "calling"
	Ringing State = "ringing"
	Active  State = "active"
	Ended   State = "ended"
)

// EndReason explains an Ended state.
type EndReason string

const (
	Rejected     EndReason = "rejected"
	ClosedByPeer EndReason = "closed_by_peer"
	Disconnected EndReason = "disconnected"
)

var (
	ErrCallInProgress   = errors.New("a call is already in progress")
	ErrNoCall           = errors.New("no call to act on")
	ErrMediaUnavailable = errors.New("local media unavailable")
)

// MediaState is the advertised camera and microphone state of one side.
type MediaState struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`
}

// Transport is the relay connection as seen by the machine.
type Transport interface {
	Publish(evt wire.Event) error
	Subscribe(kind wire.Kind, h relay.Handler) func()
}

// LocalMedia is an acquired camera and microphone.
type LocalMedia interface {
	SetVideo(on bool)
	SetAudio(on bool)
	VideoOn() bool
	AudioOn() bool
	// Live is the number of unreleased tracks.
	Live() int
	Release()
}

// Devices acquires local media.
type Devices interface {
	Acquire() (LocalMedia, error)
}

// Hooks receive events from a media session. They may be called from any
// goroutine.
type Hooks struct {
	OnCandidate   func(candidate json.RawMessage)
	OnRemoteTrack func(kind string)
	OnFailed      func()
}

// Session is a negotiated peer media session.
type Session interface {
	CreateOffer() (json.RawMessage, error)
	AcceptOffer(offer json.RawMessage) (json.RawMessage, error)
	ApplyAnswer(answer json.RawMessage) error
	AddCandidate(candidate json.RawMessage) error
	ReceivedBytes() uint64
	RemoteTracks() int
	Close() error
}

// SessionFactory builds sessions carrying local media.
type SessionFactory interface {
	NewSession(local LocalMedia, hooks Hooks) (Session, error)
}

// Directory looks up a caller's profile.
type Directory interface {
	ResolveContact(ctx context.Context, id domain.UserID) (domain.Contact, error)
}

// Options tunes the liveness watchdog.
type Options struct {
	WatchdogInterval time.Duration
	WatchdogMisses   int
	LookupTimeout    time.Duration
}

// DefaultOptions checks once a second and gives up after three silent checks.
func DefaultOptions() Options {
	return Options{WatchdogInterval: time.Second, WatchdogMisses: 3, LookupTimeout: 5 * time.Second}
}

// Status is a snapshot of the machine.
type Status struct {
	State        State          `json:"state"`
	Reason       EndReason      `json:"reason,omitempty"`
	Peer         domain.Contact `json:"peer"`
	Local        MediaState     `json:"local"`
	Remote       MediaState     `json:"remote"`
	LocalTracks  int            `json:"local_tracks"`
	RemoteTracks int            `json:"remote_tracks"`
}

// Machine is the call signaling state machine. Every transition happens
// under its lock; media callbacks re-enter through goroutines so pion never
// waits on it.
type Machine struct {
	self      domain.UserID
	devices   Devices
	sessions  SessionFactory
	directory Directory
	bus       *bus.Bus
	logger    *zap.Logger
	opts      Options

	wg sync.WaitGroup

	mu        sync.Mutex
	transport Transport
	unsubs    []func()
	state     State
	reason    EndReason
	peer      domain.Contact
	local     LocalMedia
	session   Session
	seq       uint64
	offerer   bool
	early     []json.RawMessage
	remote    MediaState
	stopWatch context.CancelFunc
}

// New creates an idle machine for self. directory may be nil.
func New(self domain.UserID, devices Devices, sessions SessionFactory, directory Directory, b *bus.Bus, opts Options, logger *zap.Logger) *Machine {
	def := DefaultOptions()
	if opts.WatchdogInterval <= 0 {
		opts.WatchdogInterval = def.WatchdogInterval
	}
	if opts.WatchdogMisses <= 0 {
		opts.WatchdogMisses = def.WatchdogMisses
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = def.LookupTimeout
	}
	return &Machine{
		self:      self,
		devices:   devices,
		sessions:  sessions,
		directory: directory,
		bus:       b,
		logger:    logging.OrNop(logger),
		opts:      opts,
		state:     Idle,
	}
}

// Start subscribes to call signaling on transport.
func (m *Machine) Start(transport Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transport != nil {
		return
	}
	m.transport = transport
	m.unsubs = []func(){
		transport.Subscribe(wire.KindCallRequest, m.onRequest),
		transport.Subscribe(wire.KindCallResponse, m.onResponse),
		transport.Subscribe(wire.KindRTCConnection, m.onRTC),
		transport.Subscribe(wire.KindCallEnd, m.onEnd),
		transport.Subscribe(wire.KindCallMediaState, m.onMediaState),
	}
}

// Stop hangs up any call, unsubscribes and waits for background work.
func (m *Machine) Stop() {
	_ = m.EndCall()
	m.mu.Lock()
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
	m.wg.Wait()
	m.mu.Lock()
	m.transport = nil
	m.mu.Unlock()
}

// Status returns a snapshot of the current call.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Machine) statusLocked() Status {
	st := Status{State: m.state, Reason: m.reason, Peer: m.peer, Remote: m.remote}
	if m.local != nil {
		st.Local = MediaState{Video: m.local.VideoOn(), Audio: m.local.AudioOn()}
		st.LocalTracks = m.local.Live()
	}
	if m.session != nil {
		st.RemoteTracks = m.session.RemoteTracks()
	}
	return st
}

func (m *Machine) setStateLocked(s State, reason EndReason) {
	from := m.state
	m.state, m.reason = s, reason
	m.logger.Info("call state",
		zap.String("from", string(from)),
		zap.String("to", string(s)),
		zap.String("reason", string(reason)),
		zap.Int64("peer_id", int64(m.peer.ID)))
	m.bus.Emit(bus.CallStateChanged, m.statusLocked())
}

func (m *Machine) publishLocked(evt wire.Event) error {
	if m.transport == nil {
		return errors.New("relay not attached")
	}
	if err := m.transport.Publish(evt); err != nil {
		m.logger.Warn("relay publish failed", zap.String("kind", string(evt.Kind())), zap.Error(err))
		return err
	}
	return nil
}

// teardownLocked releases local media before anything else, then drops the
// session and watchdog. The peer is told only when notify is set.
func (m *Machine) teardownLocked(next State, reason EndReason, notify bool) {
	if m.local != nil {
		m.local.Release()
		m.local = nil
	}
	m.closeSessionLocked()
	if notify && m.peer.ID != 0 {
		_ = m.publishLocked(wire.CallEndEvent{FromID: m.self, ToID: m.peer.ID})
	}
	m.early = nil
	m.offerer = false
	m.remote = MediaState{}
	if next == Idle {
		m.peer = domain.Contact{}
	}
	m.setStateLocked(next, reason)
}

func (m *Machine) closeSessionLocked() {
	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
	if m.session != nil {
		if err := m.session.Close(); err != nil {
			m.logger.Warn("close media session", zap.Error(err))
		}
		m.session = nil
	}
	m.seq++
}

// goTracked runs fn in the background; Stop waits for it.
func (m *Machine) goTracked(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}
