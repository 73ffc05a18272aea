package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// Crumbs is a breadcrumb bar showing the page stack.
type Crumbs struct {
	*tview.TextView
	theme *Theme
}

// NewCrumbs creates a new breadcrumb bar.
func NewCrumbs(theme *Theme) *Crumbs {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)

	return &Crumbs{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders one crumb per label; the last one is highlighted.
func (c *Crumbs) Update(labels []string) {
	c.Clear()

	fg, bg := Tag(c.theme.CrumbInactiveFg), Tag(c.theme.CrumbInactiveBg)
	parts := make([]string, 0, len(labels))
	for i, label := range labels {
		attr := ""
		if i == len(labels)-1 {
			fg, bg, attr = Tag(c.theme.CrumbActiveFg), Tag(c.theme.CrumbActiveBg), "b"
		}
		parts = append(parts, fmt.Sprintf("[%s:%s:%s] %s [-:-:-]", fg, bg, attr, tview.Escape(label)))
	}
	_, _ = fmt.Fprint(c, strings.Join(parts, " "))
}
