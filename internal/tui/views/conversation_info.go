package views

import (
	"fmt"

	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationInfo displays details about the open conversation's contact.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates a new conversation info view.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements ui.Component.
func (ci *ConversationInfo) Name() string { return "Details" }

// Update renders contact and its conversation summary. conv may be nil for a
// contact nothing was exchanged with yet.
func (ci *ConversationInfo) Update(contact domain.Contact, conv *domain.Conversation, loaded int) {
	ci.Clear()

	fg, val := ui.Tag(ci.theme.FgColor), ui.Tag(ci.theme.CounterColor)
	presence := ui.Tag(ci.theme.OfflineColor)
	if contact.Presence == domain.Online {
		presence = ui.Tag(ci.theme.OnlineColor)
	}
	avatar := contact.AvatarRef
	if avatar == "" {
		avatar = "-"
	}
	state := contact.Presence
	if state == "" {
		state = domain.Offline
	}

	var unread uint
	last := "-"
	if conv != nil {
		unread = conv.UnreadCount
		if conv.LastMessage != nil {
			last = conv.LastMessage.SentAt.Local().Format("2006-01-02 15:04")
		}
	}

	_, _ = fmt.Fprintf(ci,
		"\n [%s::b]Name:[-:-:-]         [%s]%s[-]\n"+
			" [%s::b]ID:[-:-:-]           [%s]%d[-]\n"+
			" [%s::b]Presence:[-:-:-]     [%s]%s[-]\n"+
			" [%s::b]Avatar:[-:-:-]       [%s]%s[-]\n"+
			" [%s::b]Unread:[-:-:-]       [%s]%d[-]\n"+
			" [%s::b]Last message:[-:-:-] [%s]%s[-]\n"+
			" [%s::b]Loaded:[-:-:-]       [%s]%d messages[-]",
		fg, val, sanitizeForTerminal(contact.DisplayName),
		fg, val, contact.ID,
		fg, presence, state,
		fg, val, sanitizeForTerminal(avatar),
		fg, val, unread,
		fg, val, last,
		fg, val, loaded,
	)
	ci.SetTitle(fmt.Sprintf(" %s ", sanitizeForTerminal(contact.DisplayName)))
}
