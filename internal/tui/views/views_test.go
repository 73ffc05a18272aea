package views

import (
	"slices"
	"testing"

	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/projector"
	"github.com/matheus3301/parley/internal/tui/ui"
)

func TestSanitizeForTerminal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"keeps newline and tab", "a\nb\tc", "a\nb\tc"},
		{"drops controls", "bell\a and\x1b esc\u0085", "bell and esc"},
		{"drops skin tone", "👍\U0001F3FD", "👍"},
		{"drops joiner and selector", "❤\uFE0F\u200D", "❤"},
		{"drops invalid utf8", "ok\xff", "ok"},
	}
	for _, tt := range tests {
		if got := sanitizeForTerminal(tt.in); got != tt.want {
			t.Errorf("%s: sanitizeForTerminal(%q) = %q, want %q", tt.name, tt.in, got, tt.want)
		}
	}
}

func TestSanitizeEscapesColorTags(t *testing.T) {
	got := sanitizeForTerminal("[red]alert[-]")
	if got == "[red]alert[-]" {
		t.Errorf("color tags passed through: %q", got)
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		text  string
		width int
		want  []string
	}{
		{"short", 20, []string{"short"}},
		{"the quick brown fox", 9, []string{"the quick", "brown fox"}},
		{"one\ntwo three", 20, []string{"one", "two three"}},
		{"averyveryverylongword ok", 5, []string{"averyveryverylongword", "ok"}},
		{"", 10, []string{""}},
	}
	for _, tt := range tests {
		if got := wrap(tt.text, tt.width); !slices.Equal(got, tt.want) {
			t.Errorf("wrap(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
		}
	}
}

func TestSingleLine(t *testing.T) {
	if got := singleLine("a\n  b\tc "); got != "a b c" {
		t.Errorf("singleLine() = %q", got)
	}
}

func TestConversationListKeepsCursor(t *testing.T) {
	ana := domain.Contact{ID: 2, DisplayName: "Ana", Presence: domain.Online}
	ben := domain.Contact{ID: 3, DisplayName: "Ben"}
	cid := domain.Contact{ID: 4, DisplayName: "Cid", Presence: domain.Online}

	cl := NewConversationList(ui.DefaultTheme())
	cl.Update(projector.View{
		Conversations: []domain.Conversation{{Contact: ana, UnreadCount: 1}, {Contact: ben}},
		Online:        []domain.Contact{cid},
	}, "Chat (1)", "")

	if id, ok := cl.SelectedContact(); !ok || id != ana.ID {
		t.Fatalf("SelectedContact() = %d, %v; want Ana", id, ok)
	}
	if id, ok := cl.ConversationByIndex(2); !ok || id != ben.ID {
		t.Errorf("ConversationByIndex(2) = %d, %v", id, ok)
	}
	if _, ok := cl.ConversationByIndex(3); ok {
		t.Error("online contact counted as a conversation")
	}

	// header, two conversations, the ONLINE label, then Cid
	cl.Select(4, 0)
	if id, _ := cl.SelectedContact(); id != cid.ID {
		t.Fatalf("row 4 = %d, want Cid", id)
	}

	// Ben's conversation moves to the top; the cursor follows Cid.
	cl.Update(projector.View{
		Conversations: []domain.Conversation{{Contact: ben}, {Contact: ana}},
		Online:        []domain.Contact{cid},
	}, "Chat", "")
	if id, _ := cl.SelectedContact(); id != cid.ID {
		t.Errorf("cursor on %d after update, want Cid", id)
	}
	if id, _ := cl.ConversationByIndex(1); id != ben.ID {
		t.Errorf("first conversation = %d, want Ben", id)
	}
}
