package ui

import (
	"fmt"
	"time"

	"github.com/matheus3301/parley/internal/control"
	"github.com/matheus3301/parley/internal/status"
	"github.com/rivo/tview"
)

// ProfileInfo shows who is signed in and the daemon's health in the header.
type ProfileInfo struct {
	*tview.TextView
	theme *Theme
}

// NewProfileInfo creates a new profile info panel.
func NewProfileInfo(theme *Theme) *ProfileInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &ProfileInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the daemon status. A nil status means not connected yet.
func (pi *ProfileInfo) Update(st *control.StatusReply) {
	pi.Clear()
	fg, val := Tag(pi.theme.FgColor), Tag(pi.theme.CounterColor)
	if st == nil {
		_, _ = fmt.Fprintf(pi, "[%s]connecting…[-]", fg)
		return
	}

	relayColor := Tag(pi.theme.OfflineColor)
	if st.Relay == string(status.Online) {
		relayColor = Tag(pi.theme.OnlineColor)
	}
	uptime := time.Duration(st.UptimeMs) * time.Millisecond

	_, _ = fmt.Fprintf(pi,
		"[%s::b]Profile:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]User:[-:-:-]    [%s]%s[-]\n"+
			"[%s::b]Relay:[-:-:-]   [%s]%s[-]\n"+
			"[%s::b]Unread:[-:-:-]  [%s]%d[-]\n"+
			"[%s::b]Call:[-:-:-]    [%s]%s[-]\n"+
			"[%s::b]Uptime:[-:-:-]  [%s]%s[-]",
		fg, val, tview.Escape(st.Profile),
		fg, val, tview.Escape(st.Self.DisplayName),
		fg, relayColor, st.Relay,
		fg, val, st.UnreadTotal,
		fg, val, st.Call,
		fg, val, formatDuration(uptime),
	)
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
