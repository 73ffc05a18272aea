package domain

import (
	"errors"
	"time"
)

// UserID identifies a user on the relay and the backend.
type UserID int64

// Presence is derived from the relay's connected-users broadcast.
type Presence string

const (
	Offline Presence = "offline"
	Online  Presence = "online"
)

// Contact is a user the local user can talk to.
type Contact struct {
	ID          UserID   `json:"id"`
	DisplayName string   `json:"display_name"`
	AvatarRef   string   `json:"avatar_ref,omitempty"`
	Presence    Presence `json:"presence,omitempty"`
}

// DeliveryState tracks an outgoing message from creation to confirmation.
type DeliveryState string

const (
	Pending DeliveryState = "pending"
	Sent    DeliveryState = "sent"
	Failed  DeliveryState = "failed"
)

// Attachment is a file that already lives in remote storage.
type Attachment struct {
	FileName  string `json:"file_name"`
	RemoteRef string `json:"remote_ref"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// Message is a single timeline entry.
//
// LocalID is assigned at creation and never changes. ServerID is zero until
// the backend acknowledges the message, and from then on it is the identity
// used for deduplication.
type Message struct {
	LocalID        string        `json:"local_id"`
	ServerID       int64         `json:"server_id,omitempty"`
	From           Contact       `json:"from"`
	To             Contact       `json:"to"`
	Body           string        `json:"body,omitempty"`
	Attachment     *Attachment   `json:"attachment,omitempty"`
	SentAt         time.Time     `json:"sent_at"`
	ReadAt         *time.Time    `json:"read_at,omitempty"`
	Delivery       DeliveryState `json:"delivery"`
	UploadProgress int           `json:"upload_progress,omitempty"`
}

var (
	ErrEmptyMessage     = errors.New("message has neither body nor attachment")
	ErrAmbiguousMessage = errors.New("message has both body and attachment")
)

// Validate enforces that exactly one of body or attachment is set.
func (m *Message) Validate() error {
	hasBody := m.Body != ""
	hasAttachment := m.Attachment != nil
	switch {
	case !hasBody && !hasAttachment:
		return ErrEmptyMessage
	case hasBody && hasAttachment:
		return ErrAmbiguousMessage
	}
	return nil
}

// IsRead reports whether the recipient has read the message.
func (m *Message) IsRead() bool {
	return m.ReadAt != nil
}

// Clone returns a deep copy safe to hand to other goroutines.
func (m *Message) Clone() Message {
	c := *m
	if m.Attachment != nil {
		a := *m.Attachment
		c.Attachment = &a
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		c.ReadAt = &t
	}
	return c
}

// Preview is a short single-line rendering used for conversation lists and notifications.
func (m *Message) Preview() string {
	if m.Attachment != nil {
		return "[file] " + m.Attachment.FileName
	}
	return truncate(m.Body, 100)
}

// Conversation exists for every contact a message was exchanged with.
type Conversation struct {
	Contact     Contact  `json:"contact"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount uint     `json:"unread_count"`
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() Conversation {
	out := *c
	if c.LastMessage != nil {
		m := c.LastMessage.Clone()
		out.LastMessage = &m
	}
	return out
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
