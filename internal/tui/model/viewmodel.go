package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/matheus3301/parley/internal/bus"
	"github.com/matheus3301/parley/internal/call"
	"github.com/matheus3301/parley/internal/chat"
	"github.com/matheus3301/parley/internal/control"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/projector"
)

// Daemon is the part of the control client the view model drives.
// *control.Client implements it.
type Daemon interface {
	Status(ctx context.Context) (*control.StatusReply, error)
	ListConversations(ctx context.Context, filter string) (*control.ListConversationsReply, error)
	OpenConversation(ctx context.Context, id domain.UserID) (*control.TimelineReply, error)
	CloseConversation(ctx context.Context) error
	LoadOlder(ctx context.Context) (*control.LoadOlderReply, error)
	Timeline(ctx context.Context) (*control.TimelineReply, error)
	Send(ctx context.Context, text, filePath string) (*control.SendReply, error)
	SendBatch(ctx context.Context, paths []string, caption string) (*control.SendReply, error)
	MarkRead(ctx context.Context) (*control.MarkReadReply, error)
	ReportViewport(ctx context.Context, foreground bool, distance int) error
	StartCall(ctx context.Context, id domain.UserID) (*call.Status, error)
	AcceptCall(ctx context.Context) (*call.Status, error)
	RejectCall(ctx context.Context) (*call.Status, error)
	EndCall(ctx context.Context) (*call.Status, error)
	AcknowledgeCall(ctx context.Context) (*call.Status, error)
	ToggleVideo(ctx context.Context) (bool, error)
	ToggleAudio(ctx context.Context) (bool, error)
	CallStatus(ctx context.Context) (*call.Status, error)
}

// Dirty is a set of panes that need re-rendering.
type Dirty uint8

const (
	DirtyStatus Dirty = 1 << iota
	DirtyList
	DirtyTimeline
	DirtyCall
	DirtyFlash

	DirtyAll = DirtyStatus | DirtyList | DirtyTimeline | DirtyCall | DirtyFlash
)

// Has reports whether d includes every pane in o.
func (d Dirty) Has(o Dirty) bool { return d&o == o }

// ViewModel caches daemon state for the views. Every method that talks to
// the daemon updates the cache and reports which panes changed.
type ViewModel struct {
	mu sync.RWMutex

	daemon   Daemon
	status   *control.StatusReply
	view     projector.View
	title    string
	filter   string
	active   *domain.Contact
	messages []domain.Message
	hasMore  bool
	call     call.Status
	viewport *chat.Viewport

	Flash Flash
}

// NewViewModel creates a view model backed by d.
func NewViewModel(d Daemon) *ViewModel {
	return &ViewModel{daemon: d, title: "Chat"}
}

// Refresh reloads everything.
func (vm *ViewModel) Refresh(ctx context.Context) (Dirty, error) {
	var dirty Dirty
	for _, load := range []func(context.Context) (Dirty, error){
		vm.LoadStatus, vm.LoadConversations, vm.LoadTimeline, vm.LoadCall,
	} {
		d, err := load(ctx)
		if err != nil {
			return dirty, err
		}
		dirty |= d
	}
	return dirty, nil
}

// LoadStatus fetches the daemon status.
func (vm *ViewModel) LoadStatus(ctx context.Context) (Dirty, error) {
	resp, err := vm.daemon.Status(ctx)
	if err != nil {
		return 0, err
	}
	vm.mu.Lock()
	vm.status = resp
	vm.mu.Unlock()
	return DirtyStatus, nil
}

// LoadConversations fetches the projected conversation list.
func (vm *ViewModel) LoadConversations(ctx context.Context) (Dirty, error) {
	resp, err := vm.daemon.ListConversations(ctx, "")
	if err != nil {
		return 0, err
	}
	vm.mu.Lock()
	vm.view = resp.View
	vm.title = resp.Title
	vm.mu.Unlock()
	return DirtyList | DirtyStatus, nil
}

// LoadTimeline fetches the open conversation.
func (vm *ViewModel) LoadTimeline(ctx context.Context) (Dirty, error) {
	resp, err := vm.daemon.Timeline(ctx)
	if err != nil {
		return 0, err
	}
	vm.setTimeline(resp)
	return DirtyTimeline, nil
}

// LoadCall fetches the call state.
func (vm *ViewModel) LoadCall(ctx context.Context) (Dirty, error) {
	st, err := vm.daemon.CallStatus(ctx)
	if err != nil {
		return 0, err
	}
	vm.setCall(st)
	return DirtyCall, nil
}

func (vm *ViewModel) setTimeline(resp *control.TimelineReply) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.active = resp.Contact
	vm.messages = resp.Messages
	vm.hasMore = resp.HasMore
}

func (vm *ViewModel) setCall(st *call.Status) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.call = *st
}

// Open opens the conversation with id.
func (vm *ViewModel) Open(ctx context.Context, id domain.UserID) (Dirty, error) {
	resp, err := vm.daemon.OpenConversation(ctx, id)
	if err != nil {
		return 0, err
	}
	vm.setTimeline(resp)
	vm.mu.Lock()
	vm.viewport = nil
	vm.mu.Unlock()
	return DirtyTimeline | DirtyStatus, nil
}

// Close closes the open conversation.
func (vm *ViewModel) Close(ctx context.Context) (Dirty, error) {
	if err := vm.daemon.CloseConversation(ctx); err != nil {
		return 0, err
	}
	vm.setTimeline(&control.TimelineReply{})
	return DirtyTimeline | DirtyStatus, nil
}

// LoadOlder pulls the previous page into the timeline.
func (vm *ViewModel) LoadOlder(ctx context.Context) (Dirty, error) {
	resp, err := vm.daemon.LoadOlder(ctx)
	if err != nil {
		return 0, err
	}
	if resp.Added == 0 {
		vm.Flash.Info("No older messages")
		return DirtyFlash, nil
	}
	d, err := vm.LoadTimeline(ctx)
	return d | DirtyFlash, err
}

// Send sends text and an optional file to the open conversation.
func (vm *ViewModel) Send(ctx context.Context, text, filePath string) (Dirty, error) {
	resp, err := vm.daemon.Send(ctx, text, filePath)
	if err != nil {
		return 0, err
	}
	return vm.afterSend(ctx, resp)
}

// SendBatch sends several files and then caption.
func (vm *ViewModel) SendBatch(ctx context.Context, paths []string, caption string) (Dirty, error) {
	resp, err := vm.daemon.SendBatch(ctx, paths, caption)
	if err != nil {
		return 0, err
	}
	return vm.afterSend(ctx, resp)
}

func (vm *ViewModel) afterSend(ctx context.Context, resp *control.SendReply) (Dirty, error) {
	if !resp.OK {
		if len(resp.Messages) == 0 {
			vm.Flash.Warn("Nothing was sent")
		} else {
			vm.Flash.Warn("Some messages failed to send")
		}
	}
	d, err := vm.LoadTimeline(ctx)
	return d | DirtyFlash, err
}

// MarkRead marks the open conversation as read.
func (vm *ViewModel) MarkRead(ctx context.Context) (Dirty, error) {
	if _, err := vm.daemon.MarkRead(ctx); err != nil {
		return 0, err
	}
	return vm.LoadConversations(ctx)
}

// ReportViewport tells the daemon whether the timeline is in view. Repeats
// of the last report are not sent.
func (vm *ViewModel) ReportViewport(ctx context.Context, foreground bool, distance int) error {
	if distance < 0 {
		distance = 0
	}
	next := chat.Viewport{Foreground: foreground, DistanceFromBottom: distance}
	vm.mu.Lock()
	if vm.viewport != nil && *vm.viewport == next {
		vm.mu.Unlock()
		return nil
	}
	vm.mu.Unlock()

	if err := vm.daemon.ReportViewport(ctx, foreground, distance); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.viewport = &next
	vm.mu.Unlock()
	return nil
}

// CallAction runs one of the call commands by name: start, accept, reject,
// end, ack, video or audio. start calls the open conversation's contact.
func (vm *ViewModel) CallAction(ctx context.Context, name string) (Dirty, error) {
	var (
		st  *call.Status
		err error
	)
	switch name {
	case "start":
		contact, ok := vm.Active()
		if !ok {
			return 0, errors.New("open a conversation first")
		}
		return vm.StartCall(ctx, contact.ID)
	case "accept":
		st, err = vm.daemon.AcceptCall(ctx)
	case "reject":
		st, err = vm.daemon.RejectCall(ctx)
	case "end":
		st, err = vm.daemon.EndCall(ctx)
	case "ack":
		st, err = vm.daemon.AcknowledgeCall(ctx)
	case "video", "audio":
		toggle := vm.daemon.ToggleVideo
		if name == "audio" {
			toggle = vm.daemon.ToggleAudio
		}
		if _, err := toggle(ctx); err != nil {
			return 0, err
		}
		return vm.LoadCall(ctx)
	default:
		return 0, fmt.Errorf("unknown call action %q", name)
	}
	if err != nil {
		return 0, err
	}
	vm.setCall(st)
	return DirtyCall, nil
}

// StartCall calls the contact with id.
func (vm *ViewModel) StartCall(ctx context.Context, id domain.UserID) (Dirty, error) {
	st, err := vm.daemon.StartCall(ctx, id)
	if err != nil {
		return 0, err
	}
	vm.setCall(st)
	return DirtyCall, nil
}

// HandleEvent reacts to one daemon event and reports which panes changed.
func (vm *ViewModel) HandleEvent(ctx context.Context, evt *control.EventEnvelope) (Dirty, error) {
	topic := bus.Topic(evt.Topic)
	switch topic {
	case bus.RelayStateChanged:
		return vm.LoadStatus(ctx)

	case bus.PresenceUpdated, bus.ChatConversationUpdated, bus.ChatUnreadTotal:
		return vm.LoadConversations(ctx)

	case bus.ChatUploadProgress:
		var p chat.UploadProgress
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			return 0, fmt.Errorf("decode %s: %w", topic, err)
		}
		if vm.applyProgress(p) {
			return DirtyTimeline, nil
		}
		return 0, nil

	case bus.ChatMessageFailed:
		var m domain.Message
		if err := json.Unmarshal(evt.Payload, &m); err == nil {
			vm.Flash.Warn("Failed to send: " + m.Preview())
		}
		d, err := vm.LoadTimeline(ctx)
		return d | DirtyFlash, err

	case bus.ChatTimelineChanged, bus.ChatMessageSent:
		return vm.LoadTimeline(ctx)

	case bus.ChatNotice:
		var n chat.Notice
		if err := json.Unmarshal(evt.Payload, &n); err != nil {
			return 0, fmt.Errorf("decode %s: %w", topic, err)
		}
		vm.Flash.Warn(n.Text)
		return DirtyFlash, nil

	case bus.ChatNotification:
		var n chat.Notification
		if err := json.Unmarshal(evt.Payload, &n); err != nil {
			return 0, fmt.Errorf("decode %s: %w", topic, err)
		}
		vm.Flash.Info(n.From.DisplayName + ": " + n.Preview)
		return DirtyFlash, nil

	case bus.CallIncoming:
		var caller domain.Contact
		if err := json.Unmarshal(evt.Payload, &caller); err == nil {
			vm.Flash.Info("Incoming call from " + caller.DisplayName)
		}
		d, err := vm.LoadCall(ctx)
		return d | DirtyFlash, err

	case bus.CallStateChanged:
		var st call.Status
		if err := json.Unmarshal(evt.Payload, &st); err != nil {
			return vm.LoadCall(ctx)
		}
		vm.setCall(&st)
		return DirtyCall, nil
	}

	if strings.HasPrefix(evt.Topic, "call.") {
		return vm.LoadCall(ctx)
	}
	return 0, nil
}

func (vm *ViewModel) applyProgress(p chat.UploadProgress) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for i := range vm.messages {
		if vm.messages[i].LocalID == p.LocalID {
			vm.messages[i].UploadProgress = p.Percent
			return true
		}
	}
	return false
}

// SetFilter narrows the conversation list to rows matching query.
func (vm *ViewModel) SetFilter(query string) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.filter = strings.TrimSpace(query)
}

// Filter returns the active list filter.
func (vm *ViewModel) Filter() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.filter
}

// View returns the conversation list with the filter applied.
func (vm *ViewModel) View() projector.View {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.filter == "" {
		return vm.view
	}
	return vm.view.Filter(vm.filter)
}

// Title is the window title, "Chat (N)" while anything is unread.
func (vm *ViewModel) Title() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.title
}

// Status returns the last daemon status, or nil before the first load.
func (vm *ViewModel) Status() *control.StatusReply {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// Active returns the contact of the open conversation.
func (vm *ViewModel) Active() (domain.Contact, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.active == nil {
		return domain.Contact{}, false
	}
	return *vm.active, true
}

// Messages returns the open timeline, oldest first.
func (vm *ViewModel) Messages() []domain.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := make([]domain.Message, len(vm.messages))
	copy(out, vm.messages)
	return out
}

// HasMore reports whether older pages exist.
func (vm *ViewModel) HasMore() bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.hasMore
}

// Call returns the last known call state.
func (vm *ViewModel) Call() call.Status {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.call
}
