// Package control exposes the daemon to local tools over gRPC on a Unix
// socket. Messages are JSON encoded; there is no protoc step.
package control

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/matheus3301/parley/internal/api"
	"github.com/matheus3301/parley/internal/attachment"
	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/call"
	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/logging"
	"github.com/matheus3301/parley/internal/projector"
	"github.com/matheus3301/parley/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Chat is the part of the message synchronizer the service drives.
type Chat interface {
	Self() domain.Contact
	Contacts() []domain.Contact
	Conversations() []domain.Conversation
	ResolveContact(ctx context.Context, id domain.UserID) (domain.Contact, error)
	OpenContact(ctx context.Context, id domain.UserID) (domain.Contact, error)
	CloseConversation()
	Active() (domain.Contact, bool)
	Timeline() []domain.Message
	HasMore() bool
	UnreadTotal() uint
	LoadOlderMessages(ctx context.Context) (int, error)
	SendMessage(ctx context.Context, text string, file *attachment.File) ([]domain.Message, bool)
	SendAttachments(ctx context.Context, files []attachment.File, caption string) ([]domain.Message, bool)
	MarkRead(ctx context.Context) (bool, error)
	ReportViewport(ctx context.Context, v chat.Viewport) error
}

// Calls is the call machine.
type Calls interface {
	StartCall(peer domain.Contact) error
	AcceptCall() error
	RejectCall() error
	EndCall() error
	Acknowledge()
	ToggleVideo() (bool, error)
	ToggleAudio() (bool, error)
	Status() call.Status
}

// Service implements ControlServer.
type Service struct {
	profile   string
	startedAt time.Time
	chat      Chat
	calls     Calls
	presence  projector.Presence
	relay     *status.Machine
	bus       *bus.Bus
	logger    *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewService creates the control service. presence and relay may be nil.
func NewService(profile string, c Chat, calls Calls, presence projector.Presence, relay *status.Machine, b *bus.Bus, logger *zap.Logger) *Service {
	return &Service{
		profile:   profile,
		startedAt: time.Now(),
		chat:      c,
		calls:     calls,
		presence:  presence,
		relay:     relay,
		bus:       b,
		logger:    logging.OrNop(logger),
		done:      make(chan struct{}),
	}
}

// Close ends every WatchEvents stream so the server can stop gracefully.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Service) Status(_ context.Context, _ *Empty) (*StatusReply, error) {
	reply := &StatusReply{
		Profile:     s.profile,
		Relay:       string(status.Offline),
		Self:        s.chat.Self(),
		UnreadTotal: s.chat.UnreadTotal(),
		Call:        s.calls.Status().State,
		UptimeMs:    time.Since(s.startedAt).Milliseconds(),
	}
	if s.relay != nil {
		reply.Relay = string(s.relay.Current())
	}
	if c, ok := s.chat.Active(); ok {
		reply.Active = &c
	}
	return reply, nil
}

func (s *Service) ListConversations(_ context.Context, req *ListConversationsRequest) (*ListConversationsReply, error) {
	v := projector.Project(s.chat.Self().ID, s.chat.Conversations(), s.chat.Contacts(), s.presence).Filter(req.Filter)
	return &ListConversationsReply{Title: v.Title(), View: v}, nil
}

func (s *Service) OpenConversation(ctx context.Context, req *ContactRequest) (*TimelineReply, error) {
	if req.ContactID == 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "contact_id is required")
	}
	if _, err := s.chat.OpenContact(ctx, req.ContactID); err != nil {
		return nil, toStatus("open conversation", err)
	}
	return s.timeline(), nil
}

func (s *Service) CloseConversation(_ context.Context, _ *Empty) (*Empty, error) {
	s.chat.CloseConversation()
	return &Empty{}, nil
}

func (s *Service) LoadOlder(ctx context.Context, _ *Empty) (*LoadOlderReply, error) {
	n, err := s.chat.LoadOlderMessages(ctx)
	if err != nil {
		return nil, toStatus("load older messages", err)
	}
	return &LoadOlderReply{Added: n, HasMore: s.chat.HasMore()}, nil
}

func (s *Service) Timeline(_ context.Context, _ *Empty) (*TimelineReply, error) {
	return s.timeline(), nil
}

func (s *Service) timeline() *TimelineReply {
	reply := &TimelineReply{Messages: s.chat.Timeline(), HasMore: s.chat.HasMore()}
	if c, ok := s.chat.Active(); ok {
		reply.Contact = &c
	}
	return reply
}

func (s *Service) Send(ctx context.Context, req *SendRequest) (*SendReply, error) {
	if req.Text == "" && req.FilePath == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "text or file_path is required")
	}
	var file *attachment.File
	if req.FilePath != "" {
		f, err := attachment.Stat(req.FilePath)
		if err != nil {
			return nil, toStatus("send", err)
		}
		file = &f
	}
	if _, ok := s.chat.Active(); !ok {
		return nil, toStatus("send", chat.ErrNoActiveConversation)
	}
	msgs, ok := s.chat.SendMessage(ctx, req.Text, file)
	return &SendReply{Messages: msgs, OK: ok}, nil
}

func (s *Service) SendBatch(ctx context.Context, req *SendBatchRequest) (*SendReply, error) {
	if len(req.Paths) == 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "paths is required")
	}
	files := make([]attachment.File, 0, len(req.Paths))
	for _, p := range req.Paths {
		f, err := attachment.Stat(p)
		if err != nil {
			return nil, toStatus("send batch", err)
		}
		files = append(files, f)
	}
	if _, ok := s.chat.Active(); !ok {
		return nil, toStatus("send batch", chat.ErrNoActiveConversation)
	}
	msgs, ok := s.chat.SendAttachments(ctx, files, req.Caption)
	return &SendReply{Messages: msgs, OK: ok}, nil
}

func (s *Service) MarkRead(ctx context.Context, _ *Empty) (*MarkReadReply, error) {
	sent, err := s.chat.MarkRead(ctx)
	if err != nil {
		return nil, toStatus("mark read", err)
	}
	return &MarkReadReply{Sent: sent}, nil
}

func (s *Service) ReportViewport(ctx context.Context, req *ViewportRequest) (*Empty, error) {
	if req.DistanceFromBottom < 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "distance_from_bottom must not be negative")
	}
	err := s.chat.ReportViewport(ctx, chat.Viewport{Foreground: req.Foreground, DistanceFromBottom: req.DistanceFromBottom})
	if err != nil {
		return nil, toStatus("report viewport", err)
	}
	return &Empty{}, nil
}

func (s *Service) StartCall(ctx context.Context, req *ContactRequest) (*call.Status, error) {
	if req.ContactID == 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "contact_id is required")
	}
	peer, err := s.chat.ResolveContact(ctx, req.ContactID)
	if err != nil {
		return nil, toStatus("start call", err)
	}
	if err := s.calls.StartCall(peer); err != nil {
		return nil, toStatus("start call", err)
	}
	return s.callStatus(), nil
}

func (s *Service) AcceptCall(_ context.Context, _ *Empty) (*call.Status, error) {
	if err := s.calls.AcceptCall(); err != nil {
		return nil, toStatus("accept call", err)
	}
	return s.callStatus(), nil
}

func (s *Service) RejectCall(_ context.Context, _ *Empty) (*call.Status, error) {
	if err := s.calls.RejectCall(); err != nil {
		return nil, toStatus("reject call", err)
	}
	return s.callStatus(), nil
}

func (s *Service) EndCall(_ context.Context, _ *Empty) (*call.Status, error) {
	if err := s.calls.EndCall(); err != nil {
		return nil, toStatus("end call", err)
	}
	return s.callStatus(), nil
}

func (s *Service) AcknowledgeCall(_ context.Context, _ *Empty) (*call.Status, error) {
	s.calls.Acknowledge()
	return s.callStatus(), nil
}

func (s *Service) ToggleVideo(_ context.Context, _ *Empty) (*ToggleReply, error) {
	on, err := s.calls.ToggleVideo()
	if err != nil {
		return nil, toStatus("toggle video", err)
	}
	return &ToggleReply{On: on}, nil
}

func (s *Service) ToggleAudio(_ context.Context, _ *Empty) (*ToggleReply, error) {
	on, err := s.calls.ToggleAudio()
	if err != nil {
		return nil, toStatus("toggle audio", err)
	}
	return &ToggleReply{On: on}, nil
}

func (s *Service) CallStatus(_ context.Context, _ *Empty) (*call.Status, error) {
	return s.callStatus(), nil
}

func (s *Service) callStatus() *call.Status {
	st := s.calls.Status()
	return &st
}

// WatchEvents streams bus events whose topic starts with the requested
// prefix until the client goes away or the service closes.
func (s *Service) WatchEvents(req *WatchEventsRequest, stream grpc.ServerStream) error {
	ch, unsub := s.bus.Subscribe(req.Prefix, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			payload, err := json.Marshal(evt.Payload)
			if err != nil {
				s.logger.Warn("unencodable event payload", zap.String("topic", string(evt.Topic)), zap.Error(err))
				payload = nil
			}
			if err := stream.SendMsg(&EventEnvelope{
				EventID:          uuid.New().String(),
				Profile:          s.profile,
				Topic:            string(evt.Topic),
				OccurredAtUnixMs: evt.At.UnixMilli(),
				Payload:          payload,
			}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		case <-s.done:
			return nil
		}
	}
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(op string, err error) error {
	var se *api.StatusError
	code := codes.Internal
	switch {
	case errors.Is(err, chat.ErrNoActiveConversation), errors.Is(err, call.ErrNoCall):
		code = codes.FailedPrecondition
	case errors.Is(err, call.ErrCallInProgress):
		code = codes.AlreadyExists
	case errors.Is(err, chat.ErrPageInFlight):
		code = codes.Aborted
	case errors.Is(err, call.ErrMediaUnavailable):
		code = codes.Unavailable
	case errors.Is(err, attachment.ErrTooLarge):
		code = codes.InvalidArgument
	case errors.Is(err, os.ErrNotExist):
		code = codes.NotFound
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.As(err, &se):
		switch {
		case se.Code == 404:
			code = codes.NotFound
		case se.Code == 401 || se.Code == 403:
			code = codes.PermissionDenied
		default:
			code = codes.Unavailable
		}
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}
