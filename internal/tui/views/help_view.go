package views

import (
	"fmt"

	"github.com/matheus3301/parley/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView displays the key and command reference.
type HelpView struct {
	*tview.TextView
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{TextView: tv}
	hv.render(ui.Tag(theme.MenuKeyColor))
	return hv
}

// Name implements ui.Component.
func (hv *HelpView) Name() string { return "Help" }

var helpSections = []struct {
	title string
	rows  [][2]string
}{
	{"Global", [][2]string{
		{":", "Command mode"},
		{"Esc", "Back"},
		{"?", "This help"},
		{"c", "Call page"},
		{"q", "Quit"},
	}},
	{"Conversations", [][2]string{
		{"Enter", "Open conversation"},
		{"/", "Filter by name or message"},
		{"1-9", "Open Nth conversation"},
	}},
	{"Conversation", [][2]string{
		{"i", "Focus composer"},
		{"o", "Load older messages"},
		{"m", "Mark as read"},
		{"d", "Contact details"},
		{"v", "Video call this contact"},
	}},
	{"Call", [][2]string{
		{"a / r", "Accept / reject"},
		{"e", "Hang up"},
		{"x", "Dismiss ended call"},
		{"V / M", "Toggle camera / microphone"},
	}},
	{"Commands", [][2]string{
		{":open <id>", "Open conversation with contact id"},
		{":file <path> [-- text]", "Send a file, then optional text"},
		{":batch <path>... [-- caption]", "Send several files"},
		{":call [id]", "Call contact (default: open conversation)"},
		{":accept :reject :end :ack", "Call actions"},
		{":video :audio", "Toggle camera or microphone"},
		{":read :older :close", "Conversation actions"},
		{":filter <text>", "Filter the list (empty clears)"},
		{":quit", "Quit"},
	}},
}

func (hv *HelpView) render(kc string) {
	for _, s := range helpSections {
		_, _ = fmt.Fprintf(hv, "\n  [::b]%s[-:-:-]\n\n", s.title)
		for _, r := range s.rows {
			_, _ = fmt.Fprintf(hv, "  [%s]%-32s[-] %s\n", kc, tview.Escape(r[0]), r[1])
		}
	}
}
