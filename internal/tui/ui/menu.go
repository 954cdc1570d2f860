package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// MenuHint is one key shown in the hint bar.
type MenuHint struct {
	Key         string
	Description string
}

// Menu displays keyboard shortcut hints on one line.
type Menu struct {
	*tview.TextView
	theme *Theme
}

// NewMenu creates a new menu hint bar.
func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 0)

	return &Menu{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders hints in the given order.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	kc := Tag(m.theme.MenuKeyColor)
	parts := make([]string, 0, len(hints))
	for _, h := range hints {
		parts = append(parts, fmt.Sprintf("[%s::b]<%s>[-:-:-] %s", kc, h.Key, h.Description))
	}
	_, _ = fmt.Fprint(m, strings.Join(parts, "  "))
}
