package call

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/relay"
	"github.com/matheus3301/parley/internal/wire"
)

var (
	ana = domain.Contact{ID: 1, DisplayName: "Ana"}
	ben = domain.Contact{ID: 2, DisplayName: "Ben"}
	cai = domain.Contact{ID: 3, DisplayName: "Cai"}
)

type fakeLocal struct {
	mu       sync.Mutex
	video    bool
	audio    bool
	live     int
	released int
}

func (l *fakeLocal) SetVideo(on bool) { l.mu.Lock(); l.video = on; l.mu.Unlock() }
func (l *fakeLocal) SetAudio(on bool) { l.mu.Lock(); l.audio = on; l.mu.Unlock() }
func (l *fakeLocal) VideoOn() bool    { l.mu.Lock(); defer l.mu.Unlock(); return l.video }
func (l *fakeLocal) AudioOn() bool    { l.mu.Lock(); defer l.mu.Unlock(); return l.audio }
func (l *fakeLocal) Live() int        { l.mu.Lock(); defer l.mu.Unlock(); return l.live }

func (l *fakeLocal) releases() int { l.mu.Lock(); defer l.mu.Unlock(); return l.released }

func (l *fakeLocal) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.live = 0
	l.released++
}

type fakeDevices struct {
	mu       sync.Mutex
	fail     error
	acquired []*fakeLocal
}

func (d *fakeDevices) Acquire() (LocalMedia, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	l := &fakeLocal{video: true, audio: true, live: 2}
	d.acquired = append(d.acquired, l)
	return l, nil
}

func (d *fakeDevices) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.acquired)
}

func (d *fakeDevices) last() *fakeLocal {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.acquired) == 0 {
		return nil
	}
	return d.acquired[len(d.acquired)-1]
}

// fakeSession pretends negotiation succeeds once both descriptions are set.
type fakeSession struct {
	hooks   Hooks
	flowing atomic.Bool
	bytes   atomic.Uint64
	tracks  atomic.Int32

	mu         sync.Mutex
	offered    bool
	answered   bool
	candidates []string
	closed     bool
}

func (s *fakeSession) connect() {
	s.tracks.Store(2)
	s.hooks.OnRemoteTrack("audio")
	s.hooks.OnRemoteTrack("video")
}

func (s *fakeSession) CreateOffer() (json.RawMessage, error) {
	s.mu.Lock()
	s.offered = true
	s.mu.Unlock()
	s.hooks.OnCandidate(json.RawMessage(`"from-offerer"`))
	return json.RawMessage(`"offer"`), nil
}

func (s *fakeSession) AcceptOffer(offer json.RawMessage) (json.RawMessage, error) {
	if string(offer) != `"offer"` {
		return nil, fmt.Errorf("unexpected offer %s", offer)
	}
	s.hooks.OnCandidate(json.RawMessage(`"from-answerer"`))
	s.connect()
	return json.RawMessage(`"answer"`), nil
}

func (s *fakeSession) ApplyAnswer(answer json.RawMessage) error {
	if string(answer) != `"answer"` {
		return fmt.Errorf("unexpected answer %s", answer)
	}
	s.mu.Lock()
	s.answered = true
	s.mu.Unlock()
	s.connect()
	return nil
}

func (s *fakeSession) AddCandidate(c json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, string(c))
	return nil
}

func (s *fakeSession) ReceivedBytes() uint64 {
	if s.flowing.Load() {
		return s.bytes.Add(100)
	}
	return s.bytes.Load()
}

func (s *fakeSession) RemoteTracks() int { return int(s.tracks.Load()) }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.tracks.Store(0)
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (f *fakeFactory) NewSession(_ LocalMedia, hooks Hooks) (Session, error) {
	s := &fakeSession{hooks: hooks}
	s.flowing.Store(true)
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeFactory) last() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

type directory map[domain.UserID]domain.Contact

func (d directory) ResolveContact(_ context.Context, id domain.UserID) (domain.Contact, error) {
	c, ok := d[id]
	if !ok {
		return domain.Contact{}, fmt.Errorf("unknown user %d", id)
	}
	return c, nil
}

type peer struct {
	m        *Machine
	ep       *relay.MemoryEndpoint
	gate     *gate
	devices  *fakeDevices
	sessions *fakeFactory
	bus      *bus.Bus
}

// gate holds outgoing events until opened.
type gate struct {
	Transport
	mu   sync.Mutex
	open bool
	held []wire.Event
}

func (g *gate) Publish(evt wire.Event) error {
	g.mu.Lock()
	if !g.open {
		g.held = append(g.held, evt)
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()
	return g.Transport.Publish(evt)
}

func (g *gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.open = true
	for _, evt := range g.held {
		_ = g.Transport.Publish(evt)
	}
	g.held = nil
}

func testOptions() Options {
	return Options{WatchdogInterval: 10 * time.Millisecond, WatchdogMisses: 3, LookupTimeout: time.Second}
}

func newPeer(t *testing.T, hub *relay.MemoryHub, me domain.Contact) *peer {
	return startPeer(t, hub, me, false)
}

// newGatedPeer returns a peer whose outgoing events wait for gate.release.
func newGatedPeer(t *testing.T, hub *relay.MemoryHub, me domain.Contact) *peer {
	return startPeer(t, hub, me, true)
}

func startPeer(t *testing.T, hub *relay.MemoryHub, me domain.Contact, gated bool) *peer {
	t.Helper()
	p := &peer{
		ep:       hub.Endpoint(wire.UserOf(me)),
		devices:  &fakeDevices{},
		sessions: &fakeFactory{},
		bus:      bus.New(),
	}
	var transport Transport = p.ep
	if gated {
		p.gate = &gate{Transport: p.ep}
		transport = p.gate
	}
	dir := directory{ana.ID: ana, ben.ID: ben, cai.ID: cai}
	p.m = New(me.ID, p.devices, p.sessions, dir, p.bus, testOptions(), nil)
	p.m.Start(transport)
	if err := p.ep.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		p.m.Stop()
		_ = p.ep.Close()
	})
	return p
}

// connect runs a full call from caller to callee and waits for media.
func connect(t *testing.T, caller, callee *peer, calleeContact domain.Contact) {
	t.Helper()
	if err := caller.m.StartCall(calleeContact); err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}
	waitState(t, callee.m, Ringing)
	if err := callee.m.AcceptCall(); err != nil {
		t.Fatalf("AcceptCall() error = %v", err)
	}
	for _, p := range []*peer{caller, callee} {
		waitState(t, p.m, Active)
		waitFor(t, "remote tracks", func() bool { return p.m.Status().RemoteTracks == 2 })
	}
}

func waitState(t *testing.T, m *Machine, want State) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := m.Status(); st.State == want {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", m.Status().State, want)
	return Status{}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
