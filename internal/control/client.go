package control

import (
	"context"
	"fmt"

	"github.com/matheus3301/parley/internal/call"
	"github.com/matheus3301/parley/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a connection to a running daemon.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket. The connection is lazy;
// errors surface on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Reply any](ctx context.Context, c *Client, method string, in any) (*Reply, error) {
	out := new(Reply)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context) (*StatusReply, error) {
	return invoke[StatusReply](ctx, c, "Status", &Empty{})
}

func (c *Client) ListConversations(ctx context.Context, filter string) (*ListConversationsReply, error) {
	return invoke[ListConversationsReply](ctx, c, "ListConversations", &ListConversationsRequest{Filter: filter})
}

func (c *Client) OpenConversation(ctx context.Context, id domain.UserID) (*TimelineReply, error) {
	return invoke[TimelineReply](ctx, c, "OpenConversation", &ContactRequest{ContactID: id})
}

func (c *Client) CloseConversation(ctx context.Context) error {
	_, err := invoke[Empty](ctx, c, "CloseConversation", &Empty{})
	return err
}

func (c *Client) LoadOlder(ctx context.Context) (*LoadOlderReply, error) {
	return invoke[LoadOlderReply](ctx, c, "LoadOlder", &Empty{})
}

func (c *Client) Timeline(ctx context.Context) (*TimelineReply, error) {
	return invoke[TimelineReply](ctx, c, "Timeline", &Empty{})
}

func (c *Client) Send(ctx context.Context, text, filePath string) (*SendReply, error) {
	return invoke[SendReply](ctx, c, "Send", &SendRequest{Text: text, FilePath: filePath})
}

func (c *Client) SendBatch(ctx context.Context, paths []string, caption string) (*SendReply, error) {
	return invoke[SendReply](ctx, c, "SendBatch", &SendBatchRequest{Paths: paths, Caption: caption})
}

func (c *Client) MarkRead(ctx context.Context) (*MarkReadReply, error) {
	return invoke[MarkReadReply](ctx, c, "MarkRead", &Empty{})
}

func (c *Client) ReportViewport(ctx context.Context, foreground bool, distance int) error {
	_, err := invoke[Empty](ctx, c, "ReportViewport", &ViewportRequest{Foreground: foreground, DistanceFromBottom: distance})
	return err
}

func (c *Client) StartCall(ctx context.Context, id domain.UserID) (*call.Status, error) {
	return invoke[call.Status](ctx, c, "StartCall", &ContactRequest{ContactID: id})
}

func (c *Client) AcceptCall(ctx context.Context) (*call.Status, error) {
	return invoke[call.Status](ctx, c, "AcceptCall", &Empty{})
}

func (c *Client) RejectCall(ctx context.Context) (*call.Status, error) {
	return invoke[call.Status](ctx, c, "RejectCall", &Empty{})
}

func (c *Client) EndCall(ctx context.Context) (*call.Status, error) {
	return invoke[call.Status](ctx, c, "EndCall", &Empty{})
}

func (c *Client) AcknowledgeCall(ctx context.Context) (*call.Status, error) {
	return invoke[call.Status](ctx, c, "AcknowledgeCall", &Empty{})
}

func (c *Client) ToggleVideo(ctx context.Context) (bool, error) {
	r, err := invoke[ToggleReply](ctx, c, "ToggleVideo", &Empty{})
	if err != nil {
		return false, err
	}
	return r.On, nil
}

func (c *Client) ToggleAudio(ctx context.Context) (bool, error) {
	r, err := invoke[ToggleReply](ctx, c, "ToggleAudio", &Empty{})
	if err != nil {
		return false, err
	}
	return r.On, nil
}

func (c *Client) CallStatus(ctx context.Context) (*call.Status, error) {
	return invoke[call.Status](ctx, c, "CallStatus", &Empty{})
}

// EventStream receives WatchEvents envelopes.
type EventStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event. It returns io.EOF when the daemon ends
// the stream.
func (s *EventStream) Recv() (*EventEnvelope, error) {
	evt := new(EventEnvelope)
	if err := s.stream.RecvMsg(evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// WatchEvents subscribes to bus topics starting with prefix. Cancel ctx to
// stop watching.
func (c *Client) WatchEvents(ctx context.Context, prefix string) (*EventStream, error) {
	stream, err := c.conn.NewStream(ctx, &watchEventsDesc, fullMethod(watchEventsDesc.StreamName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&WatchEventsRequest{Prefix: prefix}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}
