// Package projector derives the conversation list shown to the user from
// conversation, contact and presence state. It performs no I/O.
package projector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/matheus3301/parley/internal/domain"
)

// Presence reports who is connected to the relay.
type Presence interface {
	IsOnline(id domain.UserID) bool
	Online() []domain.Contact
}

// View is the three-section conversation list.
type View struct {
	Conversations []domain.Conversation `json:"conversations"`
	Online        []domain.Contact      `json:"online"`
	Offline       []domain.Contact      `json:"offline"`
	UnreadTotal   uint                  `json:"unread_total"`
}

// Title is the window title: "Chat (N)" while anything is unread.
func (v View) Title() string {
	if v.UnreadTotal == 0 {
		return "Chat"
	}
	return fmt.Sprintf("Chat (%d)", v.UnreadTotal)
}

// Len is the number of rows across all sections.
func (v View) Len() int {
	return len(v.Conversations) + len(v.Online) + len(v.Offline)
}

// Project builds the view. Every contact appears once: in the conversation
// section if a conversation exists, otherwise under online or offline. Self
// never appears. A nil presence counts everyone as offline.
func Project(self domain.UserID, conversations []domain.Conversation, contacts []domain.Contact, presence Presence) View {
	var v View
	placed := map[domain.UserID]bool{self: true, 0: true}

	for i := range conversations {
		c := conversations[i].Clone()
		if placed[c.Contact.ID] {
			continue
		}
		placed[c.Contact.ID] = true
		c.Contact = stamp(c.Contact, presence)
		v.UnreadTotal += c.UnreadCount
		v.Conversations = append(v.Conversations, c)
	}
	sort.SliceStable(v.Conversations, func(i, j int) bool {
		return newer(v.Conversations[i], v.Conversations[j])
	})

	rest := contacts
	if presence != nil {
		rest = append(append([]domain.Contact(nil), contacts...), presence.Online()...)
	}
	for _, c := range rest {
		if placed[c.ID] {
			continue
		}
		placed[c.ID] = true
		c = stamp(c, presence)
		if c.Presence == domain.Online {
			v.Online = append(v.Online, c)
		} else {
			v.Offline = append(v.Offline, c)
		}
	}
	sortByName(v.Online)
	sortByName(v.Offline)
	return v
}

// Filter keeps rows whose name or last message preview contains query,
// ignoring case. The unread total is left as is.
func (v View) Filter(query string) View {
	if query == "" {
		return v
	}
	out := View{UnreadTotal: v.UnreadTotal}
	for _, c := range v.Conversations {
		preview := ""
		if c.LastMessage != nil {
			preview = c.LastMessage.Preview()
		}
		if containsFold(c.Contact.DisplayName, query) || containsFold(preview, query) {
			out.Conversations = append(out.Conversations, c)
		}
	}
	for _, c := range v.Online {
		if containsFold(c.DisplayName, query) {
			out.Online = append(out.Online, c)
		}
	}
	for _, c := range v.Offline {
		if containsFold(c.DisplayName, query) {
			out.Offline = append(out.Offline, c)
		}
	}
	return out
}

func stamp(c domain.Contact, presence Presence) domain.Contact {
	if presence != nil && presence.IsOnline(c.ID) {
		c.Presence = domain.Online
	} else {
		c.Presence = domain.Offline
	}
	return c
}

// newer orders conversations by last message time, newest first. Empty
// conversations sink to the bottom.
func newer(a, b domain.Conversation) bool {
	switch {
	case a.LastMessage == nil && b.LastMessage == nil:
		return a.Contact.ID < b.Contact.ID
	case a.LastMessage == nil:
		return false
	case b.LastMessage == nil:
		return true
	}
	if !a.LastMessage.SentAt.Equal(b.LastMessage.SentAt) {
		return a.LastMessage.SentAt.After(b.LastMessage.SentAt)
	}
	return a.Contact.ID < b.Contact.ID
}

func sortByName(cs []domain.Contact) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := strings.ToLower(cs[i].DisplayName), strings.ToLower(cs[j].DisplayName)
		if a != b {
			return a < b
		}
		return cs[i].ID < cs[j].ID
	})
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
