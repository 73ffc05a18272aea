package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/projector"
	"github.com/matheus3301/parley/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationList is the main page: conversations newest first, then the
// remaining contacts split into online and offline.
type ConversationList struct {
	*tview.Table
	theme    *ui.Theme
	contacts map[int]domain.UserID // row -> contact
	convs    []domain.UserID
}

// NewConversationList creates a new conversation list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{
		Table: table,
		theme: theme,
	}
}

// Name implements ui.Component.
func (cl *ConversationList) Name() string { return "Conversations" }

// Update re-renders the list and keeps the cursor on the same contact when
// it is still listed.
func (cl *ConversationList) Update(v projector.View, title, filter string) {
	selected, hadSelection := cl.SelectedContact()
	cl.Clear()
	cl.contacts = make(map[int]domain.UserID)
	cl.convs = cl.convs[:0]

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
		{" UNREAD", 0},
	}
	for col, h := range headers {
		cl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	row := 1
	for _, c := range v.Conversations {
		preview, at := "", ""
		if c.LastMessage != nil {
			preview = c.LastMessage.Preview()
			at = formatTimestamp(c.LastMessage.SentAt)
		}
		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf("%d", c.UnreadCount)
		}
		cl.contactRow(row, c.Contact, preview, at, unread)
		cl.convs = append(cl.convs, c.Contact.ID)
		row++
	}
	for _, section := range []struct {
		label    string
		contacts []domain.Contact
	}{
		{"ONLINE", v.Online},
		{"OFFLINE", v.Offline},
	} {
		if len(section.contacts) == 0 {
			continue
		}
		cl.SetCell(row, 0, tview.NewTableCell(" "+section.label).
			SetSelectable(false).
			SetTextColor(cl.theme.SectionColor).
			SetAttributes(tcell.AttrBold))
		row++
		for _, c := range section.contacts {
			cl.contactRow(row, c, "", "", "")
			row++
		}
	}

	if filter != "" {
		cl.SetTitle(fmt.Sprintf(" %s (%d) filter: %s ", title, v.Len(), tview.Escape(filter)))
	} else {
		cl.SetTitle(fmt.Sprintf(" %s (%d) ", title, v.Len()))
	}

	if hadSelection {
		for r, id := range cl.contacts {
			if id == selected {
				cl.Select(r, 0)
				return
			}
		}
	}
	if len(cl.contacts) > 0 {
		cl.Select(cl.firstRow(), 0)
	}
}

func (cl *ConversationList) contactRow(row int, c domain.Contact, preview, at, unread string) {
	dot := ui.Tag(cl.theme.OfflineColor)
	if c.Presence == domain.Online {
		dot = ui.Tag(cl.theme.OnlineColor)
	}
	name := fmt.Sprintf(" [%s]●[-] %s", dot, sanitizeForTerminal(c.DisplayName))

	cl.SetCell(row, 0, tview.NewTableCell(name).SetExpansion(1).SetTextColor(cl.theme.FgColor))
	cl.SetCell(row, 1, tview.NewTableCell(" "+sanitizeForTerminal(singleLine(preview))).SetExpansion(2).SetMaxWidth(60).SetTextColor(cl.theme.FgColor))
	cl.SetCell(row, 2, tview.NewTableCell(at).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
	cl.SetCell(row, 3, tview.NewTableCell(unread).SetTextColor(cl.theme.CounterColor).SetAlign(tview.AlignRight).SetAttributes(tcell.AttrBold))
	cl.contacts[row] = c.ID
}

func (cl *ConversationList) firstRow() int {
	first := 0
	for r := range cl.contacts {
		if first == 0 || r < first {
			first = r
		}
	}
	return first
}

// SelectedContact returns the contact under the cursor.
func (cl *ConversationList) SelectedContact() (domain.UserID, bool) {
	row, _ := cl.GetSelection()
	id, ok := cl.contacts[row]
	return id, ok
}

// ConversationByIndex returns the contact of the Nth conversation (1-based).
func (cl *ConversationList) ConversationByIndex(n int) (domain.UserID, bool) {
	if n < 1 || n > len(cl.convs) {
		return 0, false
	}
	return cl.convs[n-1], true
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
