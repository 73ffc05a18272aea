package control

import (
	"github.com/goccy/go-json"
	"github.com/matheus3301/parley/internal/call"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/projector"
)

// Empty is the request or reply of calls that carry nothing.
type Empty struct{}

type StatusReply struct {
	Profile     string          `json:"profile"`
	Relay       string          `json:"relay"`
	Self        domain.Contact  `json:"self"`
	Active      *domain.Contact `json:"active,omitempty"`
	UnreadTotal uint            `json:"unread_total"`
	Call        call.State      `json:"call"`
	UptimeMs    int64           `json:"uptime_ms"`
}

type ListConversationsRequest struct {
	Filter string `json:"filter,omitempty"`
}

type ListConversationsReply struct {
	Title string         `json:"title"`
	View  projector.View `json:"view"`
}

type ContactRequest struct {
	ContactID domain.UserID `json:"contact_id"`
}

// TimelineReply is the open conversation, oldest message first.
type TimelineReply struct {
	Contact  *domain.Contact  `json:"contact,omitempty"`
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

type LoadOlderReply struct {
	Added   int  `json:"added"`
	HasMore bool `json:"has_more"`
}

// SendRequest sends text, a file, or both as two messages.
type SendRequest struct {
	Text     string `json:"text,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

type SendBatchRequest struct {
	Paths   []string `json:"paths"`
	Caption string   `json:"caption,omitempty"`
}

type SendReply struct {
	Messages []domain.Message `json:"messages"`
	OK       bool             `json:"ok"`
}

type MarkReadReply struct {
	Sent bool `json:"sent"`
}

type ViewportRequest struct {
	Foreground         bool `json:"foreground"`
	DistanceFromBottom int  `json:"distance_from_bottom"`
}

type ToggleReply struct {
	On bool `json:"on"`
}

type WatchEventsRequest struct {
	Prefix string `json:"prefix,omitempty"`
}

// EventEnvelope is one bus event on the WatchEvents stream.
type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	Profile          string          `json:"profile"`
	Topic            string          `json:"topic"`
	OccurredAtUnixMs int64           `json:"occurred_at_unix_ms"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}
