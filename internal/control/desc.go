package control

import (
	"context"

	"github.com/matheus3301/parley/internal/call"
	"google.golang.org/grpc"
)

const serviceName = "parley.control.v1.Control"

// ControlServer is the daemon side of the control service.
type ControlServer interface {
	Status(context.Context, *Empty) (*StatusReply, error)
	ListConversations(context.Context, *ListConversationsRequest) (*ListConversationsReply, error)
	OpenConversation(context.Context, *ContactRequest) (*TimelineReply, error)
	CloseConversation(context.Context, *Empty) (*Empty, error)
	LoadOlder(context.Context, *Empty) (*LoadOlderReply, error)
	Timeline(context.Context, *Empty) (*TimelineReply, error)
	Send(context.Context, *SendRequest) (*SendReply, error)
	SendBatch(context.Context, *SendBatchRequest) (*SendReply, error)
	MarkRead(context.Context, *Empty) (*MarkReadReply, error)
	ReportViewport(context.Context, *ViewportRequest) (*Empty, error)
	StartCall(context.Context, *ContactRequest) (*call.Status, error)
	AcceptCall(context.Context, *Empty) (*call.Status, error)
	RejectCall(context.Context, *Empty) (*call.Status, error)
	EndCall(context.Context, *Empty) (*call.Status, error)
	AcknowledgeCall(context.Context, *Empty) (*call.Status, error)
	ToggleVideo(context.Context, *Empty) (*ToggleReply, error)
	ToggleAudio(context.Context, *Empty) (*ToggleReply, error)
	CallStatus(context.Context, *Empty) (*call.Status, error)
	WatchEvents(*WatchEventsRequest, grpc.ServerStream) error
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

// unary adapts a typed ControlServer method to a grpc.MethodDesc.
func unary[Req, Reply any](name string, fn func(ControlServer, context.Context, *Req) (*Reply, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			cs := srv.(ControlServer)
			if interceptor == nil {
				return fn(cs, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(cs, ctx, req.(*Req))
			})
		},
	}
}

var watchEventsDesc = grpc.StreamDesc{
	StreamName:    "WatchEvents",
	ServerStreams: true,
	Handler: func(srv any, stream grpc.ServerStream) error {
		in := new(WatchEventsRequest)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		return srv.(ControlServer).WatchEvents(in, stream)
	},
}

// ServiceDesc describes the control service to grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", ControlServer.Status),
		unary("ListConversations", ControlServer.ListConversations),
		unary("OpenConversation", ControlServer.OpenConversation),
		unary("CloseConversation", ControlServer.CloseConversation),
		unary("LoadOlder", ControlServer.LoadOlder),
		unary("Timeline", ControlServer.Timeline),
		unary("Send", ControlServer.Send),
		unary("SendBatch", ControlServer.SendBatch),
		unary("MarkRead", ControlServer.MarkRead),
		unary("ReportViewport", ControlServer.ReportViewport),
		unary("StartCall", ControlServer.StartCall),
		unary("AcceptCall", ControlServer.AcceptCall),
		unary("RejectCall", ControlServer.RejectCall),
		unary("EndCall", ControlServer.EndCall),
		unary("AcknowledgeCall", ControlServer.AcknowledgeCall),
		unary("ToggleVideo", ControlServer.ToggleVideo),
		unary("ToggleAudio", ControlServer.ToggleAudio),
		unary("CallStatus", ControlServer.CallStatus),
	},
	Streams:  []grpc.StreamDesc{watchEventsDesc},
	Metadata: "parley/control/v1",
}

// Register attaches srv to s.
func Register(s *grpc.Server, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}
