package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/tui/ui"
	"github.com/rivo/tview"
)

// MessageThread displays the open conversation and a composer.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	self     domain.UserID
	contact  *domain.Contact
	lines    int
	onSend   func(text string)
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && mt.onSend != nil {
			text := strings.TrimSpace(composer.GetText())
			if text != "" {
				mt.onSend(text)
				composer.SetText("")
			}
		}
	})

	return mt
}

// Name implements ui.Component.
func (mt *MessageThread) Name() string { return "Conversation" }

// SetSelf sets whose messages render as "You".
func (mt *MessageThread) SetSelf(id domain.UserID) {
	mt.self = id
}

// SetOnSend sets the callback when the composer submits.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// Update re-renders the timeline, oldest first. The distance from the
// bottom is preserved, so a reader scrolled into history stays on the same
// lines when newer or older messages arrive.
func (mt *MessageThread) Update(contact *domain.Contact, msgs []domain.Message, hasMore bool) {
	distance := mt.DistanceFromBottom()
	if contact == nil || mt.contact == nil || contact.ID != mt.contact.ID {
		distance = 0
	}
	mt.contact = contact

	title := " Messages "
	if contact != nil {
		title = fmt.Sprintf(" %s ", sanitizeForTerminal(contact.DisplayName))
	}
	mt.messages.SetTitle(title)

	_, _, width, _ := mt.messages.GetInnerRect()
	if width < 20 {
		width = 80
	}

	var b strings.Builder
	lines := 0
	emit := func(s string) {
		b.WriteString(s)
		b.WriteByte('\n')
		lines++
	}
	if hasMore {
		emit(fmt.Sprintf("[%s]  ↑ older messages (o to load)[-]", ui.Tag(mt.theme.PendingColor)))
		emit("")
	}
	for i := range msgs {
		m := &msgs[i]
		emit(mt.header(m))
		for _, l := range wrap(mt.body(m), width-2) {
			emit(" " + l)
		}
		emit("")
	}

	mt.messages.SetText(b.String())
	mt.lines = lines
	mt.scrollTo(distance)
}

func (mt *MessageThread) header(m *domain.Message) string {
	sender, color := sanitizeForTerminal(m.From.DisplayName), mt.theme.PeerColor
	if m.From.ID == mt.self {
		sender, color = "You", mt.theme.OwnColor
	}
	return fmt.Sprintf("[%s::b]%s[-:-:-] [::d]%s[-:-:-]%s",
		ui.Tag(color), sender, formatTimestamp(m.SentAt), mt.mark(m))
}

// mark renders delivery state for outgoing messages.
func (mt *MessageThread) mark(m *domain.Message) string {
	if m.From.ID != mt.self {
		return ""
	}
	switch {
	case m.Delivery == domain.Failed:
		return fmt.Sprintf(" [%s]✗ failed[-]", ui.Tag(mt.theme.FailedColor))
	case m.Delivery == domain.Pending && m.Attachment != nil:
		return fmt.Sprintf(" [%s]uploading %d%%[-]", ui.Tag(mt.theme.PendingColor), m.UploadProgress)
	case m.Delivery == domain.Pending:
		return fmt.Sprintf(" [%s]…[-]", ui.Tag(mt.theme.PendingColor))
	case m.IsRead():
		return fmt.Sprintf(" [%s]✓✓[-]", ui.Tag(mt.theme.ReadColor))
	default:
		return fmt.Sprintf(" [%s]✓[-]", ui.Tag(mt.theme.PendingColor))
	}
}

func (mt *MessageThread) body(m *domain.Message) string {
	if a := m.Attachment; a != nil {
		s := "📎 " + a.FileName
		if a.Width > 0 && a.Height > 0 {
			s += fmt.Sprintf(" (%dx%d)", a.Width, a.Height)
		}
		if a.RemoteRef != "" {
			s += "\n" + a.RemoteRef
		}
		return sanitizeForTerminal(s)
	}
	return sanitizeForTerminal(m.Body)
}

// DistanceFromBottom is how many lines the newest line is below the view.
func (mt *MessageThread) DistanceFromBottom() int {
	row, _ := mt.messages.GetScrollOffset()
	_, _, _, height := mt.messages.GetInnerRect()
	return max(mt.lines-row-height, 0)
}

func (mt *MessageThread) scrollTo(distance int) {
	if distance == 0 {
		mt.messages.ScrollToEnd()
		return
	}
	_, _, _, height := mt.messages.GetInnerRect()
	mt.messages.ScrollTo(max(mt.lines-height-distance, 0), 0)
}

// Messages returns the timeline text view.
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field.
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}

// wrap breaks tagged text into lines at most width cells wide, on spaces
// where possible.
func wrap(text string, width int) []string {
	var out []string
	for _, para := range strings.Split(text, "\n") {
		line, lineWidth := "", 0
		for _, word := range strings.Fields(para) {
			w := tview.TaggedStringWidth(word)
			switch {
			case lineWidth == 0:
				line, lineWidth = word, w
			case lineWidth+1+w <= width:
				line, lineWidth = line+" "+word, lineWidth+1+w
			default:
				out = append(out, line)
				line, lineWidth = word, w
			}
		}
		out = append(out, line)
	}
	return out
}
