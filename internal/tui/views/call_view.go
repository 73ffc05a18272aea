package views

import (
	"fmt"

	"github.com/matheus3301/parley/internal/call"
	"github.com/matheus3301/parley/internal/tui/ui"
	"github.com/rivo/tview"
)

// CallView shows the call session. Media is rendered by the daemon's media
// stack; this page only reflects state and tracks.
type CallView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewCallView creates a new call view.
func NewCallView(theme *ui.Theme) *CallView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Call ")
	tv.SetTitleColor(theme.TitleColor)

	return &CallView{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements ui.Component.
func (cv *CallView) Name() string { return "Call" }

// Update renders st.
func (cv *CallView) Update(st call.Status) {
	cv.Clear()

	title, val := ui.Tag(cv.theme.TitleColor), ui.Tag(cv.theme.CounterColor)
	peer := "-"
	if st.Peer.ID != 0 {
		peer = sanitizeForTerminal(st.Peer.DisplayName)
	}

	_, _ = fmt.Fprintf(cv, "\n\n[%s::b]%s[-:-:-]\n\n", title, peer)
	_, _ = fmt.Fprintf(cv, "[%s]%s[-]\n\n", val, cv.headline(st))
	if st.State == call.Active {
		_, _ = fmt.Fprintf(cv, "You:  %s  %s  (%d tracks)\n",
			cv.flag("camera", st.Local.Video), cv.flag("mic", st.Local.Audio), st.LocalTracks)
		_, _ = fmt.Fprintf(cv, "Peer: %s  %s  (%d tracks)\n",
			cv.flag("camera", st.Remote.Video), cv.flag("mic", st.Remote.Audio), st.RemoteTracks)
	}
}

func (cv *CallView) headline(st call.Status) string {
	switch st.State {
	case call.Calling:
		return "Calling…"
	case call.Ringing:
		return "Incoming call: a to accept, r to reject"
	case call.Active:
		return "Connected"
	case call.Ended:
		switch st.Reason {
		case call.Rejected:
			return "Call rejected"
		case call.ClosedByPeer:
			return "Call ended by peer"
		case call.Disconnected:
			return "Connection lost"
		}
		return "Call ended"
	}
	return "No call"
}

func (cv *CallView) flag(label string, on bool) string {
	if on {
		return fmt.Sprintf("[%s]%s on[-]", ui.Tag(cv.theme.OnlineColor), label)
	}
	return fmt.Sprintf("[%s]%s off[-]", ui.Tag(cv.theme.OfflineColor), label)
}
