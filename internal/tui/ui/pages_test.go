package ui

import (
	"slices"
	"testing"

	"github.com/rivo/tview"
)

type page struct {
	*tview.Box
	name string
}

func (p page) Name() string { return p.name }

func newPage(name string) page {
	return page{Box: tview.NewBox(), name: name}
}

func TestPagesStack(t *testing.T) {
	list, thread, call := newPage("Conversations"), newPage("Conversation"), newPage("Call")
	p := NewPages()
	var labels []string
	p.SetOnChange(func(_ Component, l []string) { labels = l })
	for _, c := range []page{list, thread, call} {
		p.Add(c)
	}

	p.Push(list)
	p.Push(thread)
	p.Push(call)
	if p.Current() != "Call" {
		t.Fatalf("Current() = %q", p.Current())
	}
	if !slices.Equal(labels, []string{"Conversations", "Conversation", "Call"}) {
		t.Errorf("labels = %q", labels)
	}

	p.Push(thread)
	if p.Current() != "Conversation" || len(labels) != 2 {
		t.Errorf("push of a lower page: Current() = %q, labels = %q", p.Current(), labels)
	}

	if got := p.Pop(); got == nil || got.Name() != "Conversation" {
		t.Errorf("Pop() = %v", got)
	}
	if p.Pop() != nil {
		t.Error("Pop() removed the last page")
	}
	if p.Current() != "Conversations" {
		t.Errorf("Current() = %q", p.Current())
	}
}

func TestPagesReset(t *testing.T) {
	p := NewPages()
	a, b := newPage("a"), newPage("b")
	p.Add(a)
	p.Add(b)
	p.Push(a)
	p.Push(b)

	p.Reset(a)
	if p.Current() != "a" || p.Pop() != nil {
		t.Errorf("after Reset: Current() = %q", p.Current())
	}
}
