package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// NewLogo returns the header logo.
func NewLogo(theme *Theme) *tview.TextView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(1, 0, 1, 0)

	title, fg := Tag(theme.TitleColor), Tag(theme.FgColor)
	_, _ = fmt.Fprintf(tv,
		"[%s::b]┌─┐┌─┐┬─┐┬  ┌─┐┬ ┬[-:-:-]\n"+
			"[%s::b]├─┘├─┤├┬┘│  ├┤ └┬┘[-:-:-]\n"+
			"[%s::b]┴  ┴ ┴┴└─┴─┘└─┘ ┴ [-:-:-]\n"+
			"[%s]chat & video[-:-:-]",
		title, title, title, fg,
	)
	return tv
}
