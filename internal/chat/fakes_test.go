package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/parley/internal/api"
	"github.com/matheus3301/parley/internal/attachment"
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

var readTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu        sync.Mutex
	nextID    int64
	pages     map[domain.UserID][]api.Page
	pageCalls []int
	sent      []domain.Message
	sendErr   error
	readCalls []domain.UserID
	lastRead  int64
	readErr   error
	convs     []domain.Conversation
	users     map[domain.UserID]domain.Contact
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		nextID: 100,
		pages:  make(map[domain.UserID][]api.Page),
		users:  map[domain.UserID]domain.Contact{ana.ID: ana, ben.ID: ben, cai.ID: cai},
	}
}

func (b *fakeBackend) Conversations(context.Context) ([]domain.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.convs, nil
}

func (b *fakeBackend) Contacts(context.Context) ([]domain.Contact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Contact, 0, len(b.users))
	for _, c := range b.users {
		out = append(out, c)
	}
	return out, nil
}

func (b *fakeBackend) User(_ context.Context, id domain.UserID) (domain.Contact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.users[id]
	if !ok {
		return domain.Contact{}, fmt.Errorf("user %d not found", id)
	}
	return c, nil
}

func (b *fakeBackend) Messages(_ context.Context, id domain.UserID, page, _ int) (api.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pageCalls = append(b.pageCalls, page)
	pages := b.pages[id]
	if page > len(pages) {
		return api.Page{}, nil
	}
	return pages[page-1], nil
}

func (b *fakeBackend) Send(_ context.Context, msg domain.Message) (domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return domain.Message{}, b.sendErr
	}
	b.nextID++
	msg.ServerID = b.nextID
	b.sent = append(b.sent, msg)
	return msg, nil
}

func (b *fakeBackend) MarkRead(_ context.Context, id domain.UserID) (api.ReadAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr != nil {
		return api.ReadAck{}, b.readErr
	}
	b.readCalls = append(b.readCalls, id)
	return api.ReadAck{LastReadID: b.lastRead, ReadAt: readTime}, nil
}

func (b *fakeBackend) markReadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.readCalls)
}

type fakeUploader struct {
	limit int64
	fail  map[string]bool
	mu    sync.Mutex
	calls []string
}

func (u *fakeUploader) Admit(files []attachment.File, _ bool) attachment.Admission {
	var adm attachment.Admission
	for _, f := range files {
		if f.Size > u.limit {
			adm.Skipped = append(adm.Skipped, f)
			continue
		}
		adm.Accepted = append(adm.Accepted, f)
	}
	if len(adm.Skipped) > 0 {
		adm.Notice = fmt.Sprintf("%d of %d files were skipped", len(adm.Skipped), len(files))
	}
	return adm
}

func (u *fakeUploader) Upload(_ context.Context, f attachment.File, progress func(int)) (domain.Attachment, error) {
	u.mu.Lock()
	u.calls = append(u.calls, f.Name)
	u.mu.Unlock()
	if u.fail[f.Name] {
		return domain.Attachment{}, errors.New("storage unavailable")
	}
	for _, p := range []int{0, 50, 100} {
		progress(p)
	}
	return domain.Attachment{FileName: f.Name, RemoteRef: "https://cdn.test/" + f.Name}, nil
}

func (u *fakeUploader) UploadBatch(ctx context.Context, files []attachment.File, progress func(int, int)) (attachment.BatchResult, error) {
	var res attachment.BatchResult
	for i, f := range files {
		att, err := u.Upload(ctx, f, func(p int) { progress(i, p) })
		if err != nil {
			res.Failed = append(res.Failed, attachment.Failure{Index: i, File: f, Err: err})
			continue
		}
		res.Uploaded = append(res.Uploaded, attachment.Uploaded{Index: i, File: f, Attachment: att})
	}
	return res, nil
}

type fakeTransport struct {
	router *relay.Router
	mu     sync.Mutex
	out    []wire.Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{router: relay.NewRouter()}
}

func (t *fakeTransport) Publish(evt wire.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.out = append(t.out, evt)
	return nil
}

func (t *fakeTransport) Subscribe(kind wire.Kind, h relay.Handler) func() {
	return t.router.Subscribe(kind, h)
}

func (t *fakeTransport) published(kind wire.Kind) []wire.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []wire.Event
	for _, e := range t.out {
		if e.Kind() == kind {
			out = append(out, e)
		}
	}
	return out
}

type fakeState struct {
	mu  sync.Mutex
	id  domain.UserID
	set bool
}

func (s *fakeState) SetLastOpened(id domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id, s.set = id, true
	return nil
}

func (s *fakeState) ClearLastOpened() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id, s.set = 0, false
	return nil
}

func (s *fakeState) LastOpened() (domain.UserID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.set, nil
}

type harness struct {
	sync      *Synchronizer
	backend   *fakeBackend
	uploads   *fakeUploader
	transport *fakeTransport
	state     *fakeState
	bus       *bus.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backend:   newFakeBackend(),
		uploads:   &fakeUploader{limit: 1000},
		transport: newFakeTransport(),
		state:     &fakeState{},
		bus:       bus.New(),
	}
	h.sync = New(ana, h.backend, h.uploads, h.state, h.bus, DefaultOptions(), nil)
	h.sync.Start(h.transport)
	t.Cleanup(h.sync.Stop)
	return h
}

func (h *harness) deliver(m domain.Message) {
	h.transport.router.Dispatch(wire.MessageReceivedEvent{MessagePayload: wire.PayloadOf(m)})
}

func inbound(id int64, from, to domain.Contact, body string) domain.Message {
	return domain.Message{
		ServerID: id,
		From:     from,
		To:       to,
		Body:     body,
		SentAt:   time.Date(2026, 3, 1, 10, 0, 0, int(id), time.UTC),
		Delivery: domain.Sent,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
