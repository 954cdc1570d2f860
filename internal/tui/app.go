// Package tui implements the terminal dashboard of a running daemon.
package tui

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/matheus3301/offsync/internal/conflict"
	"github.com/matheus3301/offsync/internal/rpc"
	"github.com/matheus3301/offsync/internal/tui/client"
	"github.com/matheus3301/offsync/internal/tui/keys"
	"github.com/matheus3301/offsync/internal/tui/model"
	"github.com/matheus3301/offsync/internal/tui/ui"
	"github.com/matheus3301/offsync/internal/tui/views"
)

const (
	pageQueue     = "queue"
	pageConflicts = "conflicts"
	pageEvents    = "events"
	pageHelp      = "help"

	refreshInterval = 5 * time.Second
	rewatchDelay    = 2 * time.Second
)

// daemonCalls flattens the three service clients into one Daemon.
type daemonCalls struct {
	*rpc.EngineClient
	*rpc.QueueClient
	*rpc.ConflictClient
}

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	pages    *tview.Pages
	root     *tview.Flex
	vm       *model.ViewModel
	grpc     *client.Client
	daemon   Daemon
	registry *keys.Registry
	theme    *ui.Theme
	flash    *ui.FlashModel

	statusBar *views.StatusBar
	queue     *views.QueueTable
	conflicts *views.ConflictTable
	events    *views.EventLog
	help      *views.HelpView
	menu      *ui.Menu
	flashBar  *ui.FlashBar
	prompt    *tview.InputField

	mu      sync.Mutex
	loadErr error
	reload  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *client.Client, account string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        model.NewViewModel(c.Engine, c.Queue, c.Conflict),
		grpc:      c,
		daemon:    daemonCalls{c.Engine, c.Queue, c.Conflict},
		registry:  keys.NewRegistry(),
		theme:     theme,
		flash:     ui.NewFlashModel(),
		statusBar: views.NewStatusBar(theme, account),
		queue:     views.NewQueueTable(theme),
		conflicts: views.NewConflictTable(theme),
		events:    views.NewEventLog(theme),
		help:      views.NewHelpView(theme),
		menu:      ui.NewMenu(theme),
		flashBar:  ui.NewFlashBar(theme),
		prompt:    tview.NewInputField().SetLabel(":"),
		reload:    make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.setupBindings()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	r := a.registry
	r.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: ':', Label: ":", Description: "cmd", Handler: a.showPrompt})
	r.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: 's', Label: "s", Description: "sync", Handler: func() {
		a.run(func(ctx context.Context) (Outcome, error) {
			return Execute(ctx, a.daemon, Command{Name: "sync"})
		})
	}})
	r.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: 'n', Label: "n", Description: "network", Handler: a.toggleNetwork})
	r.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: '1', Label: "1", Description: "queue", Handler: func() { a.showPage(pageQueue) }})
	r.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: '2', Label: "2", Description: "conflicts", Handler: func() { a.showPage(pageConflicts) }})
	r.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: '3', Label: "3", Description: "events", Handler: func() { a.showPage(pageEvents) }})
	r.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: '?', Label: "?", Description: "help", Handler: func() { a.showPage(pageHelp) }})
	r.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: 'q', Label: "q", Description: "quit", Handler: a.Stop})
	r.AddGlobal(&keys.Action{Key: tcell.KeyEscape, Handler: func() { a.showPage(pageQueue) }})

	r.AddPage(pageQueue, &keys.Action{Key: tcell.KeyRune, Rune: 'x', Label: "x", Description: "clear completed", Handler: func() {
		a.run(func(ctx context.Context) (Outcome, error) {
			return Execute(ctx, a.daemon, Command{Name: "clear-completed"})
		})
	}})
	r.AddPage(pageQueue, &keys.Action{Key: tcell.KeyRune, Rune: 'r', Label: "r", Description: "reload", Handler: a.requestReload})

	for _, b := range []struct {
		r        rune
		label    string
		strategy conflict.Strategy
	}{
		{'l', "l", conflict.LocalWins},
		{'R', "R", conflict.RemoteWins},
		{'m', "m", conflict.Merge},
	} {
		strategy := b.strategy
		r.AddPage(pageConflicts, &keys.Action{Key: tcell.KeyRune, Rune: b.r, Label: b.label, Description: string(strategy), Handler: func() {
			id := a.conflicts.SelectedID()
			if id == "" {
				return
			}
			a.run(func(ctx context.Context) (Outcome, error) {
				return Resolve(ctx, a.daemon, id, strategy)
			})
		}})
	}
	r.AddPage(pageConflicts, &keys.Action{Key: tcell.KeyRune, Rune: 'a', Label: "a", Description: "auto-resolve", Handler: func() {
		a.run(func(ctx context.Context) (Outcome, error) {
			return Execute(ctx, a.daemon, Command{Name: "auto"})
		})
	}})
}

func (a *App) setupLayout() {
	a.pages.AddPage(pageQueue, a.queue, true, true)
	a.pages.AddPage(pageConflicts, a.conflicts, true, false)
	a.pages.AddPage(pageEvents, a.events, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)

	a.prompt.SetFieldBackgroundColor(a.theme.BgColor)
	a.prompt.SetDoneFunc(func(key tcell.Key) {
		text := a.prompt.GetText()
		a.hidePrompt()
		if key != tcell.KeyEnter {
			return
		}
		cmd := ParseCommand(text)
		a.run(func(ctx context.Context) (Outcome, error) {
			return Execute(ctx, a.daemon, cmd)
		})
	})

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.statusBar, 1, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.flashBar, 1, 0, false).
		AddItem(a.menu, 1, 0, false)
	a.app.SetRoot(a.root, true)
	a.menu.Update(a.registry.Hints(pageQueue))

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		// Let the command prompt handle all keys normally.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}
		page, _ := a.pages.GetFrontPage()
		if a.registry.HandleEvent(page, event) {
			return nil
		}
		return event
	})
}

func (a *App) showPage(name string) {
	a.pages.SwitchToPage(name)
	_, p := a.pages.GetFrontPage()
	a.app.SetFocus(p)
	a.menu.Update(a.registry.Hints(name))
}

func (a *App) showPrompt() {
	a.prompt.SetText("")
	a.root.ResizeItem(a.prompt, 1, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	_, p := a.pages.GetFrontPage()
	a.app.SetFocus(p)
}

func (a *App) toggleNetwork() {
	cmd := Command{Name: "offline"}
	if st := a.vm.Status(); st != nil && !st.Online {
		cmd.Name = "online"
	}
	a.run(func(ctx context.Context) (Outcome, error) {
		return Execute(ctx, a.daemon, cmd)
	})
}

// run calls fn off the UI goroutine and applies its outcome.
func (a *App) run(fn func(context.Context) (Outcome, error)) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, 30*time.Second)
		out, err := fn(ctx)
		cancel()
		if out.Reload {
			a.requestReload()
		}
		a.app.QueueUpdateDraw(func() {
			switch {
			case err != nil:
				a.flash.Err(describeErr(err))
			case out.Quit:
				a.Stop()
				return
			case out.ShowHelp:
				a.showPage(pageHelp)
			case out.Message != "":
				a.flash.Info(out.Message)
			}
			a.render()
		})
	}()
}

func describeErr(err error) error {
	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown {
		return errors.New(s.Message())
	}
	return err
}

func (a *App) requestReload() {
	select {
	case a.reload <- struct{}{}:
	default:
	}
}

func (a *App) render() {
	a.mu.Lock()
	loadErr := a.loadErr
	a.mu.Unlock()

	a.statusBar.Update(a.vm.Status(), loadErr)
	a.queue.Update(a.vm.Items())
	a.conflicts.Update(a.vm.Conflicts())
	a.events.Update(a.vm.Events())
	a.flashBar.Update(a.flash.Current())
}

func (a *App) load() {
	ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()
	err := a.vm.LoadAll(ctx)
	a.mu.Lock()
	a.loadErr = err
	a.mu.Unlock()
	if err != nil && a.ctx.Err() == nil {
		// The view model only signals on success.
		a.app.QueueUpdateDraw(a.render)
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	go a.loadLoop()
	go a.drawLoop()
	go a.watchLoop()
	return a.app.Run()
}

// loadLoop reloads everything on a timer and whenever a reload is requested.
func (a *App) loadLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	a.load()
	for {
		select {
		case <-ticker.C:
			a.load()
		case <-a.reload:
			a.load()
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) drawLoop() {
	for {
		select {
		case <-a.vm.RefreshCh():
			a.app.QueueUpdateDraw(a.render)
		case <-a.ctx.Done():
			return
		}
	}
}

// watchLoop follows the daemon event stream, reconnecting after errors.
func (a *App) watchLoop() {
	for a.ctx.Err() == nil {
		stream, err := a.grpc.Engine.WatchEvents(a.ctx, &rpc.WatchRequest{})
		if err == nil {
			err = a.consume(stream)
		}
		if a.ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, io.EOF) {
			a.flash.Warn("event stream: " + describeErr(err).Error())
		}
		select {
		case <-time.After(rewatchDelay):
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) consume(stream *rpc.EventReceiver) error {
	for {
		e, err := stream.Recv()
		if err != nil {
			return err
		}
		if a.vm.ApplyEvent(*e) {
			a.requestReload()
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
