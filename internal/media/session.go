package media

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Hooks receive session events. They are called from pion goroutines and
// must not block.
type Hooks struct {
	OnCandidate   func(candidate json.RawMessage)
	OnRemoteTrack func(kind string)
	OnFailed      func()
}

// Session is one negotiated peer connection. Descriptions and candidates
// cross the API as opaque JSON so the signaling layer never sees pion types.
type Session struct {
	pc     *webrtc.PeerConnection
	hooks  Hooks
	logger *zap.Logger

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	received     atomic.Uint64
	remoteTracks atomic.Int32
	closed       atomic.Bool
	wg           sync.WaitGroup
}

// NewSession creates a peer connection carrying local's tracks. local may be nil.
func (f *Factory) NewSession(local *Local, hooks Hooks) (*Session, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	s := &Session{pc: pc, hooks: hooks, logger: f.logger}

	if local != nil {
		for _, track := range local.Tracks() {
			sender, err := pc.AddTrack(track)
			if err != nil {
				_ = pc.Close()
				return nil, fmt.Errorf("add %s track: %w", track.Kind(), err)
			}
			s.wg.Add(1)
			go s.drainRTCP(sender)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || s.hooks.OnCandidate == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			s.logger.Warn("encode candidate", zap.Error(err))
			return
		}
		s.hooks.OnCandidate(data)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if s.closed.Load() {
			return
		}
		s.remoteTracks.Add(1)
		kind := track.Kind().String()
		s.logger.Debug("remote track", zap.String("kind", kind), zap.String("codec", track.Codec().MimeType))
		if s.hooks.OnRemoteTrack != nil {
			s.hooks.OnRemoteTrack(kind)
		}
		s.wg.Add(1)
		go s.consume(track)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debug("peer connection state", zap.String("state", state.String()))
		if state == webrtc.PeerConnectionStateFailed && s.hooks.OnFailed != nil && !s.closed.Load() {
			s.hooks.OnFailed()
		}
	})
	return s, nil
}

// drainRTCP keeps the sender's interceptors running.
func (s *Session) drainRTCP(sender *webrtc.RTPSender) {
	defer s.wg.Done()
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// consume reads the remote track to completion, counting bytes for the
// liveness check.
func (s *Session) consume(track *webrtc.TrackRemote) {
	defer s.wg.Done()
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		s.received.Add(uint64(n))
	}
}

func (s *Session) ensureTransceivers() error {
	have := make(map[webrtc.RTPCodecType]bool)
	for _, t := range s.pc.GetTransceivers() {
		have[t.Kind()] = true
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		_, err := s.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

// CreateOffer sets and returns the local offer. Candidates follow through
// Hooks.OnCandidate as they are gathered.
func (s *Session) CreateOffer() (json.RawMessage, error) {
	if err := s.ensureTransceivers(); err != nil {
		return nil, err
	}
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	return json.Marshal(offer)
}

// AcceptOffer applies a remote offer and returns the local answer.
func (s *Session) AcceptOffer(raw json.RawMessage) (json.RawMessage, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer {
		return nil, fmt.Errorf("decode offer: got %s", offer.Type)
	}
	if err := s.setRemote(offer); err != nil {
		return nil, err
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local answer: %w", err)
	}
	return json.Marshal(answer)
}

// ApplyAnswer completes an exchange started by CreateOffer.
func (s *Session) ApplyAnswer(raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("decode answer: got %s", answer.Type)
	}
	return s.setRemote(answer)
}

func (s *Session) setRemote(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Type, err)
	}
	s.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			s.logger.Warn("queued candidate rejected", zap.Error(err))
		}
	}
	return nil
}

// AddCandidate applies a remote candidate, holding it until the remote
// description is known.
func (s *Session) AddCandidate(raw json.RawMessage) error {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &c); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	s.mu.Lock()
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	if err := s.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

// ReceivedBytes is the running total of media payload read from the peer.
func (s *Session) ReceivedBytes() uint64 {
	return s.received.Load()
}

// RemoteTracks is the number of tracks the peer has sent.
func (s *Session) RemoteTracks() int {
	return int(s.remoteTracks.Load())
}

// Connected reports whether the peer connection is up.
func (s *Session) Connected() bool {
	return s.pc.ConnectionState() == webrtc.PeerConnectionStateConnected
}

// Close tears the connection down and waits for the track readers. It is
// safe to call more than once.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.pc.Close()
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}
	return nil
}
