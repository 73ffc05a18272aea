package model

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/call"
	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/control"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/projector"
)

var (
	me  = domain.Contact{ID: 1, DisplayName: "Me"}
	ana = domain.Contact{ID: 2, DisplayName: "Ana", Presence: domain.Online}
	ben = domain.Contact{ID: 3, DisplayName: "Ben", Presence: domain.Offline}
)

type fakeDaemon struct {
	mu        sync.Mutex
	calls     map[string]int
	timeline  control.TimelineReply
	view      projector.View
	call      call.Status
	sendReply control.SendReply
	added     int
	fail      error
	viewports []chat.Viewport
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{calls: make(map[string]int)}
}

func (f *fakeDaemon) hit(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.fail
}

func (f *fakeDaemon) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeDaemon) Status(context.Context) (*control.StatusReply, error) {
	if err := f.hit("Status"); err != nil {
		return nil, err
	}
	return &control.StatusReply{Profile: "main", Relay: "ONLINE", Self: me}, nil
}

func (f *fakeDaemon) ListConversations(context.Context, string) (*control.ListConversationsReply, error) {
	if err := f.hit("ListConversations"); err != nil {
		return nil, err
	}
	return &control.ListConversationsReply{Title: f.view.Title(), View: f.view}, nil
}

func (f *fakeDaemon) OpenConversation(_ context.Context, id domain.UserID) (*control.TimelineReply, error) {
	if err := f.hit("OpenConversation"); err != nil {
		return nil, err
	}
	c := ana
	c.ID = id
	f.timeline.Contact = &c
	reply := f.timeline
	return &reply, nil
}

func (f *fakeDaemon) CloseConversation(context.Context) error {
	return f.hit("CloseConversation")
}

func (f *fakeDaemon) LoadOlder(context.Context) (*control.LoadOlderReply, error) {
	if err := f.hit("LoadOlder"); err != nil {
		return nil, err
	}
	return &control.LoadOlderReply{Added: f.added}, nil
}

func (f *fakeDaemon) Timeline(context.Context) (*control.TimelineReply, error) {
	if err := f.hit("Timeline"); err != nil {
		return nil, err
	}
	reply := f.timeline
	return &reply, nil
}

func (f *fakeDaemon) Send(context.Context, string, string) (*control.SendReply, error) {
	if err := f.hit("Send"); err != nil {
		return nil, err
	}
	reply := f.sendReply
	return &reply, nil
}

func (f *fakeDaemon) SendBatch(context.Context, []string, string) (*control.SendReply, error) {
	if err := f.hit("SendBatch"); err != nil {
		return nil, err
	}
	reply := f.sendReply
	return &reply, nil
}

func (f *fakeDaemon) MarkRead(context.Context) (*control.MarkReadReply, error) {
	if err := f.hit("MarkRead"); err != nil {
		return nil, err
	}
	return &control.MarkReadReply{Sent: true}, nil
}

func (f *fakeDaemon) ReportViewport(_ context.Context, foreground bool, distance int) error {
	if err := f.hit("ReportViewport"); err != nil {
		return err
	}
	f.mu.Lock()
	f.viewports = append(f.viewports, chat.Viewport{Foreground: foreground, DistanceFromBottom: distance})
	f.mu.Unlock()
	return nil
}

func (f *fakeDaemon) callReply(name string, state call.State) (*call.Status, error) {
	if err := f.hit(name); err != nil {
		return nil, err
	}
	f.call.State = state
	st := f.call
	return &st, nil
}

func (f *fakeDaemon) StartCall(_ context.Context, id domain.UserID) (*call.Status, error) {
	f.call.Peer = domain.Contact{ID: id}
	return f.callReply("StartCall", call.Calling)
}

func (f *fakeDaemon) AcceptCall(context.Context) (*call.Status, error) {
	return f.callReply("AcceptCall", call.Active)
}

func (f *fakeDaemon) RejectCall(context.Context) (*call.Status, error) {
	return f.callReply("RejectCall", call.Idle)
}

func (f *fakeDaemon) EndCall(context.Context) (*call.Status, error) {
	return f.callReply("EndCall", call.Idle)
}

func (f *fakeDaemon) AcknowledgeCall(context.Context) (*call.Status, error) {
	return f.callReply("AcknowledgeCall", call.Idle)
}

func (f *fakeDaemon) ToggleVideo(context.Context) (bool, error) {
	return false, f.hit("ToggleVideo")
}

func (f *fakeDaemon) ToggleAudio(context.Context) (bool, error) {
	return true, f.hit("ToggleAudio")
}

func (f *fakeDaemon) CallStatus(context.Context) (*call.Status, error) {
	return f.callReply("CallStatus", f.call.State)
}

func envelope(t *testing.T, topic bus.Topic, payload any) *control.EventEnvelope {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		raw = data
	}
	return &control.EventEnvelope{Topic: string(topic), Payload: raw}
}

func TestRefreshLoadsEverything(t *testing.T) {
	d := newFakeDaemon()
	d.view = projector.View{
		Conversations: []domain.Conversation{{Contact: ana, UnreadCount: 2}},
		Offline:       []domain.Contact{ben},
		UnreadTotal:   2,
	}
	vm := NewViewModel(d)

	dirty, err := vm.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if dirty != DirtyStatus|DirtyList|DirtyTimeline|DirtyCall {
		t.Errorf("dirty = %b", dirty)
	}
	if vm.Title() != "Chat (2)" {
		t.Errorf("Title() = %q, want Chat (2)", vm.Title())
	}
	if st := vm.Status(); st == nil || st.Self.ID != me.ID {
		t.Errorf("Status() = %+v", st)
	}
	if _, ok := vm.Active(); ok {
		t.Error("Active() reported an open conversation")
	}
}

func TestRefreshStopsOnError(t *testing.T) {
	d := newFakeDaemon()
	d.fail = errors.New("connection refused")
	vm := NewViewModel(d)

	if _, err := vm.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() error = nil")
	}
	if d.count("ListConversations") != 0 {
		t.Error("Refresh() continued after the first failure")
	}
}

func TestFilterAppliesLocally(t *testing.T) {
	d := newFakeDaemon()
	d.view = projector.View{
		Online:  []domain.Contact{ana},
		Offline: []domain.Contact{ben},
	}
	vm := NewViewModel(d)
	if _, err := vm.LoadConversations(context.Background()); err != nil {
		t.Fatal(err)
	}

	vm.SetFilter("  be ")
	v := vm.View()
	if len(v.Online) != 0 || len(v.Offline) != 1 || v.Offline[0].ID != ben.ID {
		t.Errorf("filtered view = %+v, want only Ben", v)
	}
	vm.SetFilter("")
	if vm.View().Len() != 2 {
		t.Errorf("unfiltered Len() = %d, want 2", vm.View().Len())
	}
	if d.count("ListConversations") != 1 {
		t.Errorf("filtering hit the daemon %d times", d.count("ListConversations")-1)
	}
}

func TestOpenAndClose(t *testing.T) {
	d := newFakeDaemon()
	d.timeline = control.TimelineReply{
		Messages: []domain.Message{{LocalID: "a", ServerID: 7, From: ana, To: me, Body: "hi"}},
		HasMore:  true,
	}
	vm := NewViewModel(d)
	ctx := context.Background()

	if _, err := vm.Open(ctx, ana.ID); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	active, ok := vm.Active()
	if !ok || active.ID != ana.ID {
		t.Fatalf("Active() = %+v, %v", active, ok)
	}
	if len(vm.Messages()) != 1 || !vm.HasMore() {
		t.Errorf("timeline = %d messages, hasMore %v", len(vm.Messages()), vm.HasMore())
	}

	if _, err := vm.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := vm.Active(); ok {
		t.Error("Active() still set after Close")
	}
	if len(vm.Messages()) != 0 {
		t.Error("timeline kept after Close")
	}
}

func TestLoadOlderWithoutNewMessages(t *testing.T) {
	d := newFakeDaemon()
	vm := NewViewModel(d)

	dirty, err := vm.LoadOlder(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if dirty != DirtyFlash {
		t.Errorf("dirty = %b, want flash only", dirty)
	}
	if d.count("Timeline") != 0 {
		t.Error("timeline reloaded although nothing was added")
	}
	if msg := vm.Flash.Current(); msg == nil || msg.Text != "No older messages" {
		t.Errorf("flash = %+v", msg)
	}

	d.added = 3
	dirty, err = vm.LoadOlder(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !dirty.Has(DirtyTimeline) || d.count("Timeline") != 1 {
		t.Errorf("dirty = %b, timeline loads = %d", dirty, d.count("Timeline"))
	}
}

func TestSendWarnsWhenNotAllSent(t *testing.T) {
	d := newFakeDaemon()
	d.sendReply = control.SendReply{
		Messages: []domain.Message{{LocalID: "x", Delivery: domain.Failed}},
		OK:       false,
	}
	vm := NewViewModel(d)

	dirty, err := vm.Send(context.Background(), "hello", "")
	if err != nil {
		t.Fatal(err)
	}
	if !dirty.Has(DirtyTimeline | DirtyFlash) {
		t.Errorf("dirty = %b", dirty)
	}
	msg := vm.Flash.Current()
	if msg == nil || msg.Level != FlashWarn {
		t.Fatalf("flash = %+v, want a warning", msg)
	}

	d.sendReply = control.SendReply{}
	if _, err := vm.SendBatch(context.Background(), []string{"a.png"}, ""); err != nil {
		t.Fatal(err)
	}
	if msg := vm.Flash.Current(); msg == nil || msg.Text != "Nothing was sent" {
		t.Errorf("flash = %+v", msg)
	}
}

func TestReportViewportSkipsRepeats(t *testing.T) {
	d := newFakeDaemon()
	vm := NewViewModel(d)
	ctx := context.Background()

	for _, v := range []chat.Viewport{
		{Foreground: true, DistanceFromBottom: 0},
		{Foreground: true, DistanceFromBottom: 0},
		{Foreground: true, DistanceFromBottom: -4},
		{Foreground: true, DistanceFromBottom: 12},
		{Foreground: false, DistanceFromBottom: 12},
	} {
		if err := vm.ReportViewport(ctx, v.Foreground, v.DistanceFromBottom); err != nil {
			t.Fatal(err)
		}
	}
	want := []chat.Viewport{
		{Foreground: true, DistanceFromBottom: 0},
		{Foreground: true, DistanceFromBottom: 12},
		{Foreground: false, DistanceFromBottom: 12},
	}
	if len(d.viewports) != len(want) {
		t.Fatalf("reports = %+v, want %+v", d.viewports, want)
	}
	for i := range want {
		if d.viewports[i] != want[i] {
			t.Errorf("report %d = %+v, want %+v", i, d.viewports[i], want[i])
		}
	}
}

func TestReportViewportResendsAfterOpen(t *testing.T) {
	d := newFakeDaemon()
	vm := NewViewModel(d)
	ctx := context.Background()

	_ = vm.ReportViewport(ctx, true, 0)
	if _, err := vm.Open(ctx, ana.ID); err != nil {
		t.Fatal(err)
	}
	_ = vm.ReportViewport(ctx, true, 0)
	if got := d.count("ReportViewport"); got != 2 {
		t.Errorf("ReportViewport sent %d times, want 2", got)
	}
}

func TestCallActions(t *testing.T) {
	d := newFakeDaemon()
	vm := NewViewModel(d)
	ctx := context.Background()

	if _, err := vm.CallAction(ctx, "start"); err == nil {
		t.Error("start without an open conversation succeeded")
	}
	if _, err := vm.Open(ctx, ana.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := vm.CallAction(ctx, "start"); err != nil {
		t.Fatal(err)
	}
	if st := vm.Call(); st.State != call.Calling || st.Peer.ID != ana.ID {
		t.Errorf("Call() = %+v", st)
	}
	if _, err := vm.CallAction(ctx, "accept"); err != nil {
		t.Fatal(err)
	}
	if vm.Call().State != call.Active {
		t.Errorf("state = %s, want active", vm.Call().State)
	}
	if _, err := vm.CallAction(ctx, "video"); err != nil {
		t.Fatal(err)
	}
	if d.count("ToggleVideo") != 1 || d.count("CallStatus") != 1 {
		t.Error("video toggle did not reload the call")
	}
	if _, err := vm.CallAction(ctx, "audio"); err != nil {
		t.Fatal(err)
	}
	if d.count("ToggleAudio") != 1 {
		t.Error("audio toggle not sent")
	}
	if _, err := vm.CallAction(ctx, "hold"); err == nil {
		t.Error("unknown action accepted")
	}
}

func TestHandleEventRefreshesAffectedPanes(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		topic bus.Topic
		want  Dirty
		hits  string
	}{
		{bus.RelayStateChanged, DirtyStatus, "Status"},
		{bus.PresenceUpdated, DirtyList | DirtyStatus, "ListConversations"},
		{bus.ChatConversationUpdated, DirtyList | DirtyStatus, "ListConversations"},
		{bus.ChatUnreadTotal, DirtyList | DirtyStatus, "ListConversations"},
		{bus.ChatTimelineChanged, DirtyTimeline, "Timeline"},
		{bus.ChatMessageSent, DirtyTimeline, "Timeline"},
		{bus.CallRemoteTrack, DirtyCall, "CallStatus"},
		{bus.CallRemoteMedia, DirtyCall, "CallStatus"},
	}
	for _, tt := range tests {
		t.Run(string(tt.topic), func(t *testing.T) {
			d := newFakeDaemon()
			vm := NewViewModel(d)
			dirty, err := vm.HandleEvent(ctx, envelope(t, tt.topic, nil))
			if err != nil {
				t.Fatal(err)
			}
			if dirty != tt.want {
				t.Errorf("dirty = %b, want %b", dirty, tt.want)
			}
			if d.count(tt.hits) != 1 {
				t.Errorf("%s called %d times", tt.hits, d.count(tt.hits))
			}
		})
	}
}

func TestHandleEventIgnoresUnknownTopics(t *testing.T) {
	vm := NewViewModel(newFakeDaemon())
	dirty, err := vm.HandleEvent(context.Background(), envelope(t, "store.vacuumed", nil))
	if err != nil || dirty != 0 {
		t.Errorf("HandleEvent() = %b, %v; want nothing", dirty, err)
	}
}

func TestHandleEventUploadProgressPatchesTimeline(t *testing.T) {
	d := newFakeDaemon()
	d.timeline = control.TimelineReply{
		Contact: &ana,
		Messages: []domain.Message{{
			LocalID: "up-1", From: me, To: ana, Delivery: domain.Pending,
			Attachment: &domain.Attachment{FileName: "cat.png"},
		}},
	}
	vm := NewViewModel(d)
	ctx := context.Background()
	if _, err := vm.LoadTimeline(ctx); err != nil {
		t.Fatal(err)
	}

	dirty, err := vm.HandleEvent(ctx, envelope(t, bus.ChatUploadProgress,
		chat.UploadProgress{LocalID: "up-1", ContactID: ana.ID, Percent: 40}))
	if err != nil {
		t.Fatal(err)
	}
	if dirty != DirtyTimeline {
		t.Errorf("dirty = %b, want timeline", dirty)
	}
	if got := vm.Messages()[0].UploadProgress; got != 40 {
		t.Errorf("UploadProgress = %d, want 40", got)
	}
	if d.count("Timeline") != 1 {
		t.Error("progress refetched the timeline")
	}

	dirty, _ = vm.HandleEvent(ctx, envelope(t, bus.ChatUploadProgress,
		chat.UploadProgress{LocalID: "other", Percent: 10}))
	if dirty != 0 {
		t.Errorf("progress for an unknown message dirtied %b", dirty)
	}
}

func TestHandleEventFlashes(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		evt     func(t *testing.T) *control.EventEnvelope
		level   FlashLevel
		text    string
		hasCall bool
	}{
		{
			name:  "notice",
			evt:   func(t *testing.T) *control.EventEnvelope { return envelope(t, bus.ChatNotice, chat.Notice{Text: "too large"}) },
			level: FlashWarn,
			text:  "too large",
		},
		{
			name: "notification",
			evt: func(t *testing.T) *control.EventEnvelope {
				return envelope(t, bus.ChatNotification, chat.Notification{From: ana, Preview: "lunch?"})
			},
			level: FlashInfo,
			text:  "Ana: lunch?",
		},
		{
			name:  "failed send",
			evt:   func(t *testing.T) *control.EventEnvelope { return envelope(t, bus.ChatMessageFailed, domain.Message{Body: "hey"}) },
			level: FlashWarn,
			text:  "Failed to send: hey",
		},
		{
			name:    "incoming call",
			evt:     func(t *testing.T) *control.EventEnvelope { return envelope(t, bus.CallIncoming, ana) },
			level:   FlashInfo,
			text:    "Incoming call from Ana",
			hasCall: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := NewViewModel(newFakeDaemon())
			dirty, err := vm.HandleEvent(ctx, tt.evt(t))
			if err != nil {
				t.Fatal(err)
			}
			if !dirty.Has(DirtyFlash) {
				t.Errorf("dirty = %b, want flash", dirty)
			}
			if tt.hasCall != dirty.Has(DirtyCall) {
				t.Errorf("dirty = %b, call pane = %v", dirty, tt.hasCall)
			}
			msg := vm.Flash.Current()
			if msg == nil || msg.Level != tt.level || msg.Text != tt.text {
				t.Errorf("flash = %+v, want %q", msg, tt.text)
			}
		})
	}
}

func TestHandleEventCallStateUsesPayload(t *testing.T) {
	d := newFakeDaemon()
	vm := NewViewModel(d)

	st := call.Status{State: call.Ended, Reason: call.Disconnected, Peer: ana}
	dirty, err := vm.HandleEvent(context.Background(), envelope(t, bus.CallStateChanged, st))
	if err != nil {
		t.Fatal(err)
	}
	if dirty != DirtyCall {
		t.Errorf("dirty = %b", dirty)
	}
	if got := vm.Call(); got.State != call.Ended || got.Reason != call.Disconnected {
		t.Errorf("Call() = %+v", got)
	}
	if d.count("CallStatus") != 0 {
		t.Error("call state refetched although the event carried it")
	}
}

func TestHandleEventRejectsBadPayload(t *testing.T) {
	vm := NewViewModel(newFakeDaemon())
	evt := &control.EventEnvelope{Topic: string(bus.ChatNotice), Payload: json.RawMessage(`"oops"`)}
	if _, err := vm.HandleEvent(context.Background(), evt); err == nil {
		t.Error("bad payload accepted")
	}
}

func TestFlashExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	f := Flash{now: func() time.Time { return now }}
	if f.Current() != nil {
		t.Fatal("empty flash is current")
	}

	f.Info("saved")
	if msg := f.Current(); msg == nil || msg.Text != "saved" || msg.Level != FlashInfo {
		t.Fatalf("Current() = %+v", msg)
	}
	now = now.Add(6 * time.Second)
	if f.Current() != nil {
		t.Error("info flash outlived five seconds")
	}

	f.Err(errors.New("boom"))
	now = now.Add(9 * time.Second)
	if msg := f.Current(); msg == nil || msg.Level != FlashErr {
		t.Errorf("error flash gone after 9s: %+v", msg)
	}
}
