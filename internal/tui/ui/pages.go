package ui

import "github.com/rivo/tview"

// Pages is a stack of components over tview.Pages. Only the top one is
// visible.
type Pages struct {
	*tview.Pages
	stack    []Component
	onChange func(top Component, labels []string)
}

// NewPages creates an empty page stack.
func NewPages() *Pages {
	return &Pages{Pages: tview.NewPages()}
}

// SetOnChange sets a callback run after every stack change.
func (p *Pages) SetOnChange(fn func(top Component, labels []string)) {
	p.onChange = fn
}

// Add registers a component without showing it.
func (p *Pages) Add(c Component) {
	p.AddPage(c.Name(), c, true, false)
}

// Push shows c on top. Pushing the current top is a no-op; pushing a page
// already lower in the stack pops back to it.
func (p *Pages) Push(c Component) {
	for i, s := range p.stack {
		if s.Name() == c.Name() {
			p.truncate(i + 1)
			return
		}
	}
	if top := p.Top(); top != nil {
		p.HidePage(top.Name())
	}
	p.stack = append(p.stack, c)
	p.show()
}

// Pop removes the top page unless it is the last one. It returns the
// removed component.
func (p *Pages) Pop() Component {
	if len(p.stack) < 2 {
		return nil
	}
	top := p.stack[len(p.stack)-1]
	p.HidePage(top.Name())
	p.stack = p.stack[:len(p.stack)-1]
	p.show()
	return top
}

// Top returns the visible component.
func (p *Pages) Top() Component {
	if len(p.stack) == 0 {
		return nil
	}
	return p.stack[len(p.stack)-1]
}

// Current returns the visible page name.
func (p *Pages) Current() string {
	if top := p.Top(); top != nil {
		return top.Name()
	}
	return ""
}

// Reset makes c the only page.
func (p *Pages) Reset(c Component) {
	for _, s := range p.stack {
		p.HidePage(s.Name())
	}
	p.stack = []Component{c}
	p.show()
}

func (p *Pages) truncate(n int) {
	for _, s := range p.stack[n:] {
		p.HidePage(s.Name())
	}
	p.stack = p.stack[:n]
	p.show()
}

func (p *Pages) show() {
	top := p.Top()
	p.ShowPage(top.Name())
	p.SendToFront(top.Name())
	if p.onChange == nil {
		return
	}
	labels := make([]string, len(p.stack))
	for i, s := range p.stack {
		labels[i] = s.Name()
	}
	p.onChange(top, labels)
}
