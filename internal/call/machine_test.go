package call

import (
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/relay"
	"github.com/matheus3301/parley/internal/wire"
)

func statesSeen(ch <-chan bus.Event) []State {
	var out []State
	for {
		select {
		case evt := <-ch:
			if st, ok := evt.Payload.(Status); ok {
				out = append(out, st.State)
			}
		default:
			return out
		}
	}
}

func TestRejectedCallNeverBecomesActive(t *testing.T) {
	hub := relay.NewMemoryHub()
	a, b := newPeer(t, hub, ana), newPeer(t, hub, ben)
	events, unsub := a.bus.Subscribe(string(bus.CallStateChanged), 64)
	defer unsub()

	if err := a.m.StartCall(ben); err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}
	st := waitState(t, b.m, Ringing)
	if st.Peer.DisplayName != "Ana" {
		t.Errorf("ringing peer = %+v, want Ana resolved from directory", st.Peer)
	}
	if err := b.m.RejectCall(); err != nil {
		t.Fatalf("RejectCall() error = %v", err)
	}

	st = waitState(t, a.m, Ended)
	if st.Reason != Rejected {
		t.Errorf("reason = %q, want %q", st.Reason, Rejected)
	}
	if st.LocalTracks != 0 {
		t.Errorf("local tracks = %d after rejection", st.LocalTracks)
	}
	if l := a.devices.last(); l == nil || l.releases() != 1 {
		t.Error("caller media not released exactly once")
	}
	if n := b.devices.count(); n != 0 {
		t.Errorf("callee acquired media %d times while rejecting", n)
	}
	if n := a.sessions.count(); n != 0 {
		t.Errorf("caller built %d sessions", n)
	}
	if st := b.m.Status(); st.State != Idle {
		t.Errorf("callee state = %s, want idle", st.State)
	}
	time.Sleep(10 * time.Millisecond)
	for _, s := range statesSeen(events) {
		if s == Active {
			t.Fatal("caller passed through active")
		}
	}
}

func TestAcceptedCallConnectsBothSides(t *testing.T) {
	hub := relay.NewMemoryHub()
	a, b := newPeer(t, hub, ana), newPeer(t, hub, ben)
	connect(t, a, b, ben)

	for name, p := range map[string]*peer{"caller": a, "callee": b} {
		st := p.m.Status()
		if st.LocalTracks != 2 || st.RemoteTracks != 2 {
			t.Errorf("%s tracks local=%d remote=%d, want 2 and 2", name, st.LocalTracks, st.RemoteTracks)
		}
		if !st.Local.Video || !st.Local.Audio || !st.Remote.Video || !st.Remote.Audio {
			t.Errorf("%s media = %+v / %+v, want everything on", name, st.Local, st.Remote)
		}
	}
	if st := a.m.Status(); st.Peer.ID != ben.ID {
		t.Errorf("caller peer = %d", st.Peer.ID)
	}

	offerer := b.sessions.last()
	offerer.mu.Lock()
	offered := offerer.offered && offerer.answered
	offerer.mu.Unlock()
	if !offered {
		t.Error("callee should send the offer and apply the answer")
	}
	waitFor(t, "candidates exchanged", func() bool {
		as, bs := a.sessions.last(), b.sessions.last()
		as.mu.Lock()
		defer as.mu.Unlock()
		bs.mu.Lock()
		defer bs.mu.Unlock()
		return len(as.candidates) == 1 && as.candidates[0] == `"from-offerer"` &&
			len(bs.candidates) == 1 && bs.candidates[0] == `"from-answerer"`
	})
}

func TestEndCallNotifiesPeerAndReleasesMedia(t *testing.T) {
	hub := relay.NewMemoryHub()
	a, b := newPeer(t, hub, ana), newPeer(t, hub, ben)
	connect(t, a, b, ben)

	if err := a.m.EndCall(); err != nil {
		t.Fatalf("EndCall() error = %v", err)
	}
	if err := a.m.EndCall(); err != nil {
		t.Fatalf("second EndCall() error = %v", err)
	}
	st := a.m.Status()
	if st.State != Idle || st.LocalTracks != 0 || st.Peer.ID != 0 {
		t.Errorf("caller after EndCall = %+v", st)
	}
	if n := a.devices.last().releases(); n != 1 {
		t.Errorf("released %d times, want 1", n)
	}
	if !a.sessions.last().isClosed() {
		t.Error("caller session not closed")
	}

	st = waitState(t, b.m, Ended)
	if st.Reason != ClosedByPeer {
		t.Errorf("callee reason = %q, want %q", st.Reason, ClosedByPeer)
	}
	if st.LocalTracks != 0 {
		t.Errorf("callee local tracks = %d", st.LocalTracks)
	}
	if !b.sessions.last().isClosed() {
		t.Error("callee session not closed")
	}

	b.m.Acknowledge()
	if st := b.m.Status(); st.State != Idle || st.Reason != "" || st.Peer.ID != 0 {
		t.Errorf("after Acknowledge = %+v", st)
	}
}

func TestEndCallWhileCallingTellsCallee(t *testing.T) {
	hub := relay.NewMemoryHub()
	a, b := newPeer(t, hub, ana), newPeer(t, hub, ben)

	if err := a.m.StartCall(ben); err != nil {
		t.Fatal(err)
	}
	waitState(t, b.m, Ringing)
	if err := a.m.EndCall(); err != nil {
		t.Fatal(err)
	}
	st := waitState(t, b.m, Ended)
	if st.Reason != ClosedByPeer {
		t.Errorf("reason = %q", st.Reason)
	}
	if err := b.m.AcceptCall(); !errors.Is(err, ErrNoCall) {
		t.Errorf("AcceptCall() after hangup error = %v, want ErrNoCall", err)
	}
}

func TestWatchdogEndsStalledCall(t *testing.T) {
	hub := relay.NewMemoryHub()
	a, b := newPeer(t, hub, ana), newPeer(t, hub, ben)
	connect(t, a, b, ben)

	a.sessions.last().flowing.Store(false)

	st := waitState(t, a.m, Ended)
	if st.Reason != Disconnected {
		t.Errorf("reason = %q, want %q", st.Reason, Disconnected)
	}
	if st.LocalTracks != 0 {
		t.Errorf("local tracks = %d after disconnect", st.LocalTracks)
	}
	// No hangup is sent on a silent disconnect.
	time.Sleep(50 * time.Millisecond)
	if st := b.m.Status(); st.State != Active {
		t.Errorf("peer state = %s, want active", st.State)
	}
}

func TestWatchdogIdleUntilRemoteMedia(t *testing.T) {
	hub := relay.NewMemoryHub()
	a, b := newPeer(t, hub, ana), newPeer(t, hub, ben)

	if err := a.m.StartCall(ben); err != nil {
		t.Fatal(err)
	}
	waitState(t, b.m, Ringing)
	time.Sleep(60 * time.Millisecond)
	if st := a.m.Status(); st.State != Calling {
		t.Errorf("caller state = %s while ringing, want calling", st.State)
	}
}

func TestStartCallWithoutMedia(t *testing.T) {
	hub := relay.NewMemoryHub()
	a, b := newPeer(t, hub, ana), newPeer(t, hub, ben)
	a.devices.fail = errors.New("camera busy")

	err := a.m.StartCall(ben)
	if !errors.Is(err, ErrMediaUnavailable) {
		t.Fatalf("StartCall() error = %v, want ErrMediaUnavailable", err)
	}
	if st := a.m.Status(); st.State != Idle {
		t.Errorf("state = %s, want idle", st.State)
	}
	time.Sleep(20 * time.Millisecond)
	if st := b.m.Status(); st.State != Idle {
		t.Errorf("callee state = %s, want idle: nothing should be sent", st.State)
	}
}

func TestAcceptWithoutMediaRejects(t *testing.T) {
	hub := relay.NewMemoryHub()
	a, b := newPeer(t, hub, ana), newPeer(t, hub, ben)
	b.devices.fail = errors.New("no microphone")

	if err := a.m.StartCall(ben); err != nil {
		t.Fatal(err)
	}
	waitState(t, b.m, Ringing)
	if err := b.m.AcceptCall(); !errors.Is(err, ErrMediaUnavailable) {
		t.Fatalf("AcceptCall() error = %v, want ErrMediaUnavailable", err)
	}
	if st := waitState(t, a.m, Ended); st.Reason != Rejected {
		t.Errorf("caller reason = %q, want %q", st.Reason, Rejected)
	}
}

func TestBusyCalleeRejectsSecondCaller(t *testing.T) {
	hub := relay.NewMemoryHub()
	a, b, c := newPeer(t, hub, ana), newPeer(t, hub, ben), newPeer(t, hub, cai)

	if err := a.m.StartCall(ben); err != nil {
		t.Fatal(err)
	}
	waitState(t, b.m, Ringing)
	if err := c.m.StartCall(ben); err != nil {
		t.Fatal(err)
	}

	if st := waitState(t, c.m, Ended); st.Reason != Rejected {
		t.Errorf("second caller reason = %q, want %q", st.Reason, Rejected)
	}
	if st := b.m.Status(); st.State != Ringing || st.Peer.ID != ana.ID {
		t.Errorf("callee = %s with peer %d, want ringing from Ana", st.State, st.Peer.ID)
	}
}

func TestCrossingCallsSettleOnOneSession(t *testing.T) {
	hub := relay.NewMemoryHub()
	a, b := newGatedPeer(t, hub, ana), newGatedPeer(t, hub, ben)

	if err := a.m.StartCall(ben); err != nil {
		t.Fatal(err)
	}
	if err := b.m.StartCall(ana); err != nil {
		t.Fatal(err)
	}
	a.gate.release()
	b.gate.release()

	for _, p := range []*peer{a, b} {
		waitState(t, p.m, Active)
		waitFor(t, "remote tracks", func() bool { return p.m.Status().RemoteTracks == 2 })
	}
	if n := a.sessions.count(); n != 1 {
		t.Errorf("lower id built %d sessions, want 1", n)
	}
	if n := b.sessions.count(); n != 1 {
		t.Errorf("higher id built %d sessions, want 1", n)
	}
	s := b.sessions.last()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.offered {
		t.Error("higher id should answer the crossing request and offer")
	}
}

func TestToggleMirrorsToPeer(t *testing.T) {
	hub := relay.NewMemoryHub()
	a, b := newPeer(t, hub, ana), newPeer(t, hub, ben)
	connect(t, a, b, ben)

	on, err := a.m.ToggleVideo()
	if err != nil || on {
		t.Fatalf("ToggleVideo() = %v, %v; want false, nil", on, err)
	}
	waitFor(t, "remote video off", func() bool {
		return b.m.Status().Remote == MediaState{Video: false, Audio: true}
	})

	on, err = a.m.ToggleAudio()
	if err != nil || on {
		t.Fatalf("ToggleAudio() = %v, %v; want false, nil", on, err)
	}
	waitFor(t, "remote audio off", func() bool {
		return b.m.Status().Remote == MediaState{}
	})

	if on, _ := a.m.ToggleVideo(); !on {
		t.Error("second ToggleVideo() should turn the camera back on")
	}
	// Toggling never renegotiates.
	if n := a.sessions.count(); n != 1 {
		t.Errorf("sessions = %d after toggles, want 1", n)
	}
	if st := a.m.Status(); st.Local != (MediaState{Video: true, Audio: false}) {
		t.Errorf("local = %+v", st.Local)
	}
}

func TestOfferBeforeResponseIsAnAccept(t *testing.T) {
	hub := relay.NewMemoryHub()
	a, b := newPeer(t, hub, ana), newPeer(t, hub, ben)

	if err := a.m.StartCall(ben); err != nil {
		t.Fatal(err)
	}
	waitState(t, b.m, Ringing)
	err := b.ep.Publish(wire.RTCEvent{FromID: ben.ID, ToID: ana.ID, Type: wire.RTCOffer, Data: json.RawMessage(`"offer"`)})
	if err != nil {
		t.Fatal(err)
	}
	waitState(t, a.m, Active)
	if n := a.sessions.count(); n != 1 {
		t.Errorf("sessions = %d, want 1", n)
	}
}

func TestEarlyCandidatesReachTheSession(t *testing.T) {
	hub := relay.NewMemoryHub()
	a, b := newPeer(t, hub, ana), newPeer(t, hub, ben)

	if err := a.m.StartCall(ben); err != nil {
		t.Fatal(err)
	}
	waitState(t, b.m, Ringing)
	err := b.ep.Publish(wire.RTCEvent{FromID: ben.ID, ToID: ana.ID, Type: wire.RTCCandidate, Data: json.RawMessage(`"early"`)})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.m.AcceptCall(); err != nil {
		t.Fatal(err)
	}
	waitState(t, a.m, Active)
	waitFor(t, "early candidate applied", func() bool {
		s := a.sessions.last()
		if s == nil {
			return false
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.candidates) > 0 && s.candidates[0] == `"early"`
	})
}

func TestRenegotiationRebuildsSession(t *testing.T) {
	hub := relay.NewMemoryHub()
	a, b := newPeer(t, hub, ana), newPeer(t, hub, ben)
	connect(t, a, b, ben)

	first := a.sessions.last()
	err := b.ep.Publish(wire.RTCEvent{FromID: ben.ID, ToID: ana.ID, Type: wire.RTCOffer, Data: json.RawMessage(`"offer"`)})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second session", func() bool { return a.sessions.count() == 2 })
	if !first.isClosed() {
		t.Error("replaced session left open")
	}
	waitFor(t, "remote tracks", func() bool { return a.m.Status().RemoteTracks == 2 })

	// The old session's watchdog no longer counts.
	first.flowing.Store(false)
	time.Sleep(60 * time.Millisecond)
	if st := a.m.Status(); st.State != Active {
		t.Errorf("state = %s, want active on the rebuilt session", st.State)
	}
}

func TestCallActionsRejectInvalidStates(t *testing.T) {
	hub := relay.NewMemoryHub()
	a, _ := newPeer(t, hub, ana), newPeer(t, hub, ben)

	if err := a.m.StartCall(ana); err == nil {
		t.Error("StartCall(self) should fail")
	}
	if err := a.m.StartCall(domain.Contact{}); err == nil {
		t.Error("StartCall(zero) should fail")
	}
	if err := a.m.AcceptCall(); !errors.Is(err, ErrNoCall) {
		t.Errorf("AcceptCall() idle error = %v", err)
	}
	if err := a.m.RejectCall(); !errors.Is(err, ErrNoCall) {
		t.Errorf("RejectCall() idle error = %v", err)
	}
	if _, err := a.m.ToggleVideo(); !errors.Is(err, ErrNoCall) {
		t.Errorf("ToggleVideo() idle error = %v", err)
	}
	if err := a.m.EndCall(); err != nil {
		t.Errorf("EndCall() idle error = %v", err)
	}

	if err := a.m.StartCall(ben); err != nil {
		t.Fatal(err)
	}
	if err := a.m.StartCall(ben); !errors.Is(err, ErrCallInProgress) {
		t.Errorf("second StartCall() error = %v, want ErrCallInProgress", err)
	}
}

func TestCallAfterEndedStartsFresh(t *testing.T) {
	hub := relay.NewMemoryHub()
	a, b := newPeer(t, hub, ana), newPeer(t, hub, ben)

	if err := a.m.StartCall(ben); err != nil {
		t.Fatal(err)
	}
	waitState(t, b.m, Ringing)
	if err := b.m.RejectCall(); err != nil {
		t.Fatal(err)
	}
	waitState(t, a.m, Ended)

	connect(t, a, b, ben)
	if n := a.devices.count(); n != 2 {
		t.Errorf("acquired %d times, want 2", n)
	}
}
