package wire

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/matheus3301/parley/internal/domain"
)

// Event is implemented by every payload type in this package.
type Event interface {
	Kind() Kind
	// Recipient is the user the relay should deliver the event to, or 0 for broadcasts.
	Recipient() domain.UserID
}

// User is the relay's representation of a contact.
type User struct {
	ID      domain.UserID `json:"id"`
	Name    string        `json:"name"`
	Picture string        `json:"picture,omitempty"`
}

// Contact converts the wire user into a domain contact.
func (u User) Contact() domain.Contact {
	return domain.Contact{ID: u.ID, DisplayName: u.Name, AvatarRef: u.Picture}
}

// UserOf converts a domain contact into its wire form.
func UserOf(c domain.Contact) User {
	return User{ID: c.ID, Name: c.DisplayName, Picture: c.AvatarRef}
}

// MessagePayload is a confirmed message as it travels between clients.
type MessagePayload struct {
	ID       int64     `json:"id"`
	LocalID  string    `json:"localId,omitempty"`
	From     User      `json:"from"`
	To       User      `json:"to"`
	Text     string    `json:"text,omitempty"`
	FileName string    `json:"fileName,omitempty"`
	FileURL  string    `json:"fileUrl,omitempty"`
	Width    int       `json:"width,omitempty"`
	Height   int       `json:"height,omitempty"`
	DateTime time.Time `json:"dateTime"`
	Read     bool      `json:"read"`
}

// PayloadOf builds the wire form of a confirmed message.
func PayloadOf(m domain.Message) MessagePayload {
	p := MessagePayload{
		ID:       m.ServerID,
		LocalID:  m.LocalID,
		From:     UserOf(m.From),
		To:       UserOf(m.To),
		Text:     m.Body,
		DateTime: m.SentAt,
		Read:     m.IsRead(),
	}
	if m.Attachment != nil {
		p.FileName = m.Attachment.FileName
		p.FileURL = m.Attachment.RemoteRef
		p.Width = m.Attachment.Width
		p.Height = m.Attachment.Height
	}
	return p
}

// Message converts the payload into a confirmed domain message.
func (p MessagePayload) Message() domain.Message {
	m := domain.Message{
		LocalID:  p.LocalID,
		ServerID: p.ID,
		From:     p.From.Contact(),
		To:       p.To.Contact(),
		Body:     p.Text,
		SentAt:   p.DateTime,
		Delivery: domain.Sent,
	}
	if p.FileURL != "" {
		m.Attachment = &domain.Attachment{
			FileName:  p.FileName,
			RemoteRef: p.FileURL,
			Width:     p.Width,
			Height:    p.Height,
		}
	}
	if p.Read {
		t := p.DateTime
		m.ReadAt = &t
	}
	if m.LocalID == "" {
		m.LocalID = domain.NewLocalID()
	}
	return m
}

// SendMessageEvent is published by the sender after the backend confirmed a message.
type SendMessageEvent struct {
	MessagePayload
}

func (SendMessageEvent) Kind() Kind                 { return KindSendMessage }
func (e SendMessageEvent) Recipient() domain.UserID { return e.To.ID }

// MessageReceivedEvent is what the relay delivers to the recipient.
type MessageReceivedEvent struct {
	MessagePayload
}

func (MessageReceivedEvent) Kind() Kind                 { return KindMessageReceived }
func (e MessageReceivedEvent) Recipient() domain.UserID { return e.To.ID }

// ReadEvent tells ContactID that ReaderID has read their messages up to LastReadID.
// A zero LastReadID covers every message.
type ReadEvent struct {
	ReaderID   domain.UserID `json:"readerId"`
	ContactID  domain.UserID `json:"contactId"`
	LastReadID int64         `json:"lastReadId,omitempty"`
	ReadAt     time.Time     `json:"readAt"`
}

func (ReadEvent) Kind() Kind                 { return KindMessagesRead }
func (e ReadEvent) Recipient() domain.UserID { return e.ContactID }

// PresenceEvent is the relay's broadcast of currently connected users.
type PresenceEvent struct {
	Users []User `json:"users"`
}

func (PresenceEvent) Kind() Kind               { return KindConnectedUsers }
func (PresenceEvent) Recipient() domain.UserID { return 0 }

// CallRequestEvent asks ToID to join a call.
type CallRequestEvent struct {
	FromID domain.UserID `json:"fromId"`
	ToID   domain.UserID `json:"toId"`
}

func (CallRequestEvent) Kind() Kind                 { return KindCallRequest }
func (e CallRequestEvent) Recipient() domain.UserID { return e.ToID }

// CallAnswer is the callee's decision.
type CallAnswer string

const (
	CallAccepted CallAnswer = "accepted"
	CallRejected CallAnswer = "rejected"
)

// CallResponseEvent carries the callee's decision back to the caller.
type CallResponseEvent struct {
	FromID   domain.UserID `json:"fromId"`
	ToID     domain.UserID `json:"toId"`
	Response CallAnswer    `json:"response"`
}

func (CallResponseEvent) Kind() Kind                 { return KindCallResponse }
func (e CallResponseEvent) Recipient() domain.UserID { return e.ToID }

// RTCType tags the negotiation message inside an RTCEvent.
type RTCType string

const (
	RTCOffer     RTCType = "offer"
	RTCAnswer    RTCType = "answer"
	RTCCandidate RTCType = "ice_candidate"
)

// RTCEvent carries one media negotiation message.
type RTCEvent struct {
	FromID domain.UserID   `json:"fromId"`
	ToID   domain.UserID   `json:"toId"`
	Type   RTCType         `json:"type"`
	Data   json.RawMessage `json:"data"`
}

func (RTCEvent) Kind() Kind                 { return KindRTCConnection }
func (e RTCEvent) Recipient() domain.UserID { return e.ToID }

// CallEndEvent tells the peer the call is over.
type CallEndEvent struct {
	FromID domain.UserID `json:"fromId"`
	ToID   domain.UserID `json:"toId"`
}

func (CallEndEvent) Kind() Kind                 { return KindCallEnd }
func (e CallEndEvent) Recipient() domain.UserID { return e.ToID }

// MediaStateEvent advertises the sender's camera and microphone state.
type MediaStateEvent struct {
	FromID domain.UserID `json:"fromId"`
	ToID   domain.UserID `json:"toId"`
	Video  bool          `json:"video"`
	Audio  bool          `json:"audio"`
}

func (MediaStateEvent) Kind() Kind                 { return KindCallMediaState }
func (e MediaStateEvent) Recipient() domain.UserID { return e.ToID }
