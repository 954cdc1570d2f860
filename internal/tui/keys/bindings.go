// Package keys maps key presses to dashboard actions.
package keys

import (
	"github.com/gdamore/tcell/v2"

	"github.com/matheus3301/offsync/internal/tui/ui"
)

// Action represents a keybinding action.
type Action struct {
	Key  tcell.Key
	Rune rune
	// Label and Description feed the hint bar; an empty Label hides it.
	Label       string
	Description string
	Handler     func()
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Registry holds keybindings by page, in registration order. Page bindings
// take precedence over global ones.
type Registry struct {
	global []*Action
	pages  map[string][]*Action
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{pages: make(map[string][]*Action)}
}

// AddGlobal registers a binding active on every page.
func (r *Registry) AddGlobal(a *Action) {
	r.global = append(r.global, a)
}

// AddPage registers a binding active on one page.
func (r *Registry) AddPage(page string, a *Action) {
	r.pages[page] = append(r.pages[page], a)
}

// Hints returns the visible bindings of page followed by the global ones.
func (r *Registry) Hints(page string) []ui.MenuHint {
	var hints []ui.MenuHint
	for _, group := range [][]*Action{r.pages[page], r.global} {
		for _, a := range group {
			if a.Label != "" {
				hints = append(hints, ui.MenuHint{Key: a.Label, Description: a.Description})
			}
		}
	}
	return hints
}

// HandleEvent runs the first binding of page, then of the global set, that
// matches ev. It reports whether one did.
func (r *Registry) HandleEvent(page string, ev *tcell.EventKey) bool {
	for _, group := range [][]*Action{r.pages[page], r.global} {
		for _, a := range group {
			if a.Matches(ev) {
				a.Handler()
				return true
			}
		}
	}
	return false
}
