// Package tui is a terminal client for a running daemon. It renders the
// projected conversation list, the open timeline and the call session, and
// follows the daemon's event stream.
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/parley/internal/call"
	"github.com/matheus3301/parley/internal/control"
	"github.com/matheus3301/parley/internal/domain"
	"github.com/matheus3301/parley/internal/tui/keys"
	"github.com/matheus3301/parley/internal/tui/model"
	"github.com/matheus3301/parley/internal/tui/ui"
	"github.com/matheus3301/parley/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const requestTimeout = 10 * time.Second

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	pages    *ui.Pages
	vm       *model.ViewModel
	client   *control.Client
	registry *keys.Registry
	logger   *zap.Logger

	info    *ui.ProfileInfo
	menu    *ui.Menu
	crumbs  *ui.Crumbs
	flash   *ui.FlashBar
	prompt  *ui.Prompt
	body    *tview.Flex
	list    *views.ConversationList
	thread  *views.MessageThread
	details *views.ConversationInfo
	callV   *views.CallView
	help    *views.HelpView

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *control.Client, logger *zap.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:      tview.NewApplication(),
		theme:    theme,
		pages:    ui.NewPages(),
		vm:       model.NewViewModel(c),
		client:   c,
		registry: keys.NewRegistry(),
		logger:   logger,
		info:     ui.NewProfileInfo(theme),
		menu:     ui.NewMenu(theme, 6),
		crumbs:   ui.NewCrumbs(theme),
		flash:    ui.NewFlashBar(theme),
		prompt:   ui.NewPrompt(theme),
		list:     views.NewConversationList(theme),
		thread:   views.NewMessageThread(theme),
		details:  views.NewConversationInfo(theme),
		callV:    views.NewCallView(theme),
		help:     views.NewHelpView(theme),
		ctx:      ctx,
		cancel:   cancel,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: ':', Description: "Command",
		Handler: func() { a.activatePrompt(ui.PromptCommand) },
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: '?', Description: "Help",
		Handler: func() { a.pages.Push(a.help) },
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: 'c', Description: "Call",
		Handler: func() { a.pages.Push(a.callV) },
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyEscape, Label: "Esc", Description: "Back",
		Handler: a.back,
	})
	a.registry.AddGlobal(&keys.Action{
		Key: tcell.KeyRune, Rune: 'q', Description: "Quit",
		Handler: a.Stop,
	})

	list := a.list.Name()
	a.registry.AddView(list, &keys.Action{
		Key: tcell.KeyEnter, Label: "Enter", Description: "Open",
		Handler: func() {
			if id, ok := a.list.SelectedContact(); ok {
				a.open(id)
			}
		},
	})
	a.registry.AddView(list, &keys.Action{
		Key: tcell.KeyRune, Rune: '/', Description: "Filter",
		Handler: func() { a.activatePrompt(ui.PromptFilter) },
	})

	thread := a.thread.Name()
	a.registry.AddView(thread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'i', Description: "Compose",
		Handler: func() { a.app.SetFocus(a.thread.Composer()) },
	})
	a.registry.AddView(thread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'o', Description: "Older",
		Handler: func() { a.do("load older", a.vm.LoadOlder) },
	})
	a.registry.AddView(thread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'm', Description: "Mark read",
		Handler: func() { a.do("mark read", a.vm.MarkRead) },
	})
	a.registry.AddView(thread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'd', Description: "Details",
		Handler: a.showDetails,
	})
	a.registry.AddView(thread, &keys.Action{
		Key: tcell.KeyRune, Rune: 'v', Description: "Video call",
		Handler: func() { a.callAction("start") },
	})

	callPage := a.callV.Name()
	for _, b := range []struct {
		r      rune
		desc   string
		action string
	}{
		{'a', "Accept", "accept"},
		{'r', "Reject", "reject"},
		{'e', "Hang up", "end"},
		{'x', "Dismiss", "ack"},
		{'V', "Camera", "video"},
		{'M', "Mic", "audio"},
	} {
		action := b.action
		a.registry.AddView(callPage, &keys.Action{
			Key: tcell.KeyRune, Rune: b.r, Description: b.desc,
			Handler: func() { a.callAction(action) },
		})
	}
}

func (a *App) setupCallbacks() {
	a.thread.SetOnSend(func(text string) {
		a.do("send", func(ctx context.Context) (model.Dirty, error) {
			return a.vm.Send(ctx, text, "")
		})
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.closePrompt()
		switch mode {
		case ui.PromptFilter:
			a.vm.SetFilter(text)
			a.render(model.DirtyList)
		case ui.PromptCommand:
			a.runCommand(ParseCommand(text))
		}
	})
	a.prompt.SetOnCancel(a.closePrompt)

	a.pages.SetOnChange(func(top ui.Component, labels []string) {
		a.crumbs.Update(labels)
		a.menu.Update(a.registry.Hints(top.Name()))
		a.app.SetFocus(top)
	})
}

func (a *App) setupLayout() {
	for _, c := range []ui.Component{a.list, a.thread, a.details, a.callV, a.help} {
		a.pages.Add(c)
	}

	header := tview.NewFlex().
		AddItem(a.info, 36, 0, false).
		AddItem(a.menu, 0, 1, false).
		AddItem(ui.NewLogo(a.theme), 22, 0, false)

	a.body = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 7, 0, false).
		AddItem(a.body, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flash, 1, 0, false)

	a.app.SetRoot(root, true).EnableMouse(true)
	a.pages.Reset(a.list)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case a.prompt.HasFocus():
			return event
		case a.thread.Composer().HasFocus():
			if event.Key() == tcell.KeyEscape {
				a.app.SetFocus(a.thread.Messages())
				return nil
			}
			return event
		}

		current := a.pages.Current()
		if current == a.list.Name() && event.Key() == tcell.KeyRune && event.Rune() >= '1' && event.Rune() <= '9' {
			if id, ok := a.list.ConversationByIndex(int(event.Rune() - '0')); ok {
				a.open(id)
			}
			return nil
		}
		if a.registry.HandleEvent(current, event) {
			return nil
		}
		return event
	})

	// Scrolling settles during draw, so the viewport is reported after it.
	a.app.SetAfterDrawFunc(func(tcell.Screen) {
		foreground := a.pages.Current() == a.thread.Name()
		distance := a.thread.DistanceFromBottom()
		if _, open := a.vm.Active(); !open {
			return
		}
		go a.reportViewport(foreground, distance)
	})
}

func (a *App) activatePrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	if mode == ui.PromptFilter {
		a.prompt.SetText(a.vm.Filter())
	}
	a.body.Clear().
		AddItem(a.prompt, 3, 0, false).
		AddItem(a.pages, 0, 1, false)
	a.app.SetFocus(a.prompt)
}

func (a *App) closePrompt() {
	a.body.Clear().AddItem(a.pages, 0, 1, true)
	if top := a.pages.Top(); top != nil {
		a.app.SetFocus(top)
	}
}

func (a *App) back() {
	popped := a.pages.Pop()
	if popped == nil {
		if a.vm.Filter() != "" {
			a.vm.SetFilter("")
			a.render(model.DirtyList)
		}
		return
	}
	if popped == ui.Component(a.thread) {
		a.do("close conversation", a.vm.Close)
	}
}

// open switches to the conversation with id.
func (a *App) open(id domain.UserID) {
	a.do("open conversation", func(ctx context.Context) (model.Dirty, error) {
		d, err := a.vm.Open(ctx, id)
		if err == nil {
			a.app.QueueUpdateDraw(func() { a.pages.Push(a.thread) })
		}
		return d, err
	})
}

func (a *App) showDetails() {
	contact, ok := a.vm.Active()
	if !ok {
		return
	}
	var conv *domain.Conversation
	for _, c := range a.vm.View().Conversations {
		if c.Contact.ID == contact.ID {
			conv = &c
			break
		}
	}
	a.details.Update(contact, conv, len(a.vm.Messages()))
	a.pages.Push(a.details)
}

func (a *App) callAction(name string) {
	a.do(name+" call", func(ctx context.Context) (model.Dirty, error) {
		d, err := a.vm.CallAction(ctx, name)
		if err == nil && name == "start" {
			a.app.QueueUpdateDraw(func() { a.pages.Push(a.callV) })
		}
		return d, err
	})
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "":
	case "q", "quit":
		a.Stop()
	case "h", "help":
		a.pages.Push(a.help)
	case "open":
		id, ok := cmd.Contact()
		if !ok {
			a.vm.Flash.Warn("usage: open <contact-id>")
			a.render(model.DirtyFlash)
			return
		}
		a.open(id)
	case "file":
		paths, text := cmd.Files()
		if len(paths) != 1 {
			a.vm.Flash.Warn("usage: file <path> [-- text]")
			a.render(model.DirtyFlash)
			return
		}
		a.do("send file", func(ctx context.Context) (model.Dirty, error) {
			return a.vm.Send(ctx, text, paths[0])
		})
	case "batch":
		paths, caption := cmd.Files()
		if len(paths) == 0 {
			a.vm.Flash.Warn("usage: batch <path>... [-- caption]")
			a.render(model.DirtyFlash)
			return
		}
		a.do("send files", func(ctx context.Context) (model.Dirty, error) {
			return a.vm.SendBatch(ctx, paths, caption)
		})
	case "call":
		if cmd.Args == "" {
			a.callAction("start")
			return
		}
		id, ok := cmd.Contact()
		if !ok {
			a.vm.Flash.Warn("usage: call [contact-id]")
			a.render(model.DirtyFlash)
			return
		}
		a.do("start call", func(ctx context.Context) (model.Dirty, error) {
			d, err := a.vm.StartCall(ctx, id)
			if err == nil {
				a.app.QueueUpdateDraw(func() { a.pages.Push(a.callV) })
			}
			return d, err
		})
	case "accept", "reject", "end", "ack", "video", "audio":
		a.callAction(cmd.Name)
	case "read":
		a.do("mark read", a.vm.MarkRead)
	case "older":
		a.do("load older", a.vm.LoadOlder)
	case "close":
		a.do("close conversation", a.vm.Close)
		a.pages.Reset(a.list)
	case "filter":
		a.vm.SetFilter(cmd.Args)
		a.render(model.DirtyList)
	default:
		a.vm.Flash.Warn(fmt.Sprintf("unknown command %q", cmd.Name))
		a.render(model.DirtyFlash)
	}
}

// do runs fn off the UI goroutine and renders what it changed. Errors go to
// the flash bar.
func (a *App) do(what string, fn func(ctx context.Context) (model.Dirty, error)) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
		defer cancel()
		dirty, err := fn(ctx)
		if err != nil {
			a.logger.Warn("request failed", zap.String("action", what), zap.Error(err))
			a.vm.Flash.Err(fmt.Errorf("%s: %w", what, err))
			dirty |= model.DirtyFlash
		}
		a.render(dirty)
	}()
}

func (a *App) reportViewport(foreground bool, distance int) {
	ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
	defer cancel()
	if err := a.vm.ReportViewport(ctx, foreground, distance); err != nil && a.ctx.Err() == nil {
		a.logger.Debug("report viewport failed", zap.Error(err))
	}
}

// render redraws the panes in dirty. Safe from any goroutine.
func (a *App) render(dirty model.Dirty) {
	if dirty == 0 {
		return
	}
	a.app.QueueUpdateDraw(func() {
		if dirty.Has(model.DirtyStatus) {
			a.info.Update(a.vm.Status())
			if st := a.vm.Status(); st != nil {
				a.thread.SetSelf(st.Self.ID)
			}
		}
		if dirty.Has(model.DirtyList) {
			a.list.Update(a.vm.View(), a.vm.Title(), a.vm.Filter())
		}
		if dirty.Has(model.DirtyTimeline) {
			if contact, ok := a.vm.Active(); ok {
				a.thread.Update(&contact, a.vm.Messages(), a.vm.HasMore())
			} else {
				a.thread.Update(nil, nil, false)
			}
		}
		if dirty.Has(model.DirtyCall) {
			st := a.vm.Call()
			a.callV.Update(st)
			if st.State == call.Ringing && a.pages.Current() != a.callV.Name() {
				a.pages.Push(a.callV)
			}
		}
		a.flash.Update(a.vm.Flash.Current())
	})
}

// Run starts the TUI and blocks until it exits.
func (a *App) Run() error {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
		dirty, err := a.vm.Refresh(ctx)
		cancel()
		if err != nil {
			a.vm.Flash.Err(fmt.Errorf("daemon unreachable: %w", err))
			dirty |= model.DirtyFlash
		}
		a.render(dirty | model.DirtyStatus)
		if _, open := a.vm.Active(); open {
			a.app.QueueUpdateDraw(func() { a.pages.Push(a.thread) })
		}
	}()
	go a.watch()
	go a.tick()

	return a.app.Run()
}

// watch follows the daemon's event stream, resubscribing with backoff when
// the daemon restarts.
func (a *App) watch() {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	op := func() error {
		stream, err := a.client.WatchEvents(a.ctx, "")
		if err != nil {
			return err
		}
		for {
			evt, err := stream.Recv()
			if err != nil {
				if a.ctx.Err() != nil {
					return backoff.Permanent(a.ctx.Err())
				}
				return err
			}
			b.Reset()
			ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
			dirty, err := a.vm.HandleEvent(ctx, evt)
			cancel()
			if err != nil {
				a.logger.Warn("handle event failed", zap.String("topic", evt.Topic), zap.Error(err))
			}
			a.render(dirty)
		}
	}
	notify := func(err error, wait time.Duration) {
		a.logger.Info("event stream lost, resubscribing", zap.Error(err), zap.Duration("wait", wait))
		a.vm.Flash.Warn("daemon disconnected, retrying…")
		a.render(model.DirtyFlash)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(b, a.ctx), notify)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("event stream stopped", zap.Error(err))
	}
}

// tick refreshes the clock-driven parts: flash expiry and the status panel.
func (a *App) tick() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
			dirty, err := a.vm.LoadStatus(ctx)
			cancel()
			if err != nil {
				dirty = model.DirtyFlash
			}
			a.render(dirty)
		case <-a.ctx.Done():
			return
		}
	}
}

// Stop shuts the TUI down.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
