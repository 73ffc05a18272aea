package views

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/tview"
)

// sanitizeForTerminal drops codepoints tcell cannot lay out and control
// characters a remote user could use to corrupt the screen:
// - skin tone modifiers (U+1F3FB..U+1F3FF)
// - zero width joiner (U+200D)
// - variation selectors (U+FE00..U+FE0F, U+E0100..U+E01EF)
// - C0/C1 controls other than newline and tab
// The result is escaped for tview's color tags.
func sanitizeForTerminal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r == utf8.RuneError && size == 1 {
			continue
		}
		if !isProblematicRune(r) {
			b.WriteRune(r)
		}
	}
	return tview.Escape(b.String())
}

func isProblematicRune(r rune) bool {
	switch {
	case r == '\n' || r == '\t':
		return false
	case unicode.IsControl(r):
		return true
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	case r == 0x200D:
		return true
	case r >= 0xFE00 && r <= 0xFE0F:
		return true
	case r >= 0xE0100 && r <= 0xE01EF:
		return true
	default:
		return false
	}
}

// singleLine collapses newlines for table cells.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
