package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/offsync/internal/rpc"
	"github.com/matheus3301/offsync/internal/tui/ui"
)

// EventLog shows the daemon's event stream, newest last.
type EventLog struct {
	*tview.TextView
	theme *ui.Theme
}

// NewEventLog creates a new event log view.
func NewEventLog(theme *ui.Theme) *EventLog {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true).
		SetTitle(" Events ").
		SetTitleColor(theme.TitleColor).
		SetBorderColor(theme.BorderColor)
	tv.SetTextColor(theme.FgColor)

	return &EventLog{TextView: tv, theme: theme}
}

// Update redraws the log and scrolls to the newest event.
func (el *EventLog) Update(events []rpc.Event) {
	el.Clear()
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "[%s]%s[-] [%s::b]%-20s[-:-:-] %s\n",
			ui.Tag(el.theme.TableHeaderFg), formatTimestamp(e.OccurredAtMs),
			ui.Tag(el.kindColor(e.Kind)), e.Kind,
			tview.Escape(sanitize(string(e.Payload), 160)),
		)
	}
	_, _ = fmt.Fprint(el, b.String())
	el.SetTitle(fmt.Sprintf(" Events [%d] ", len(events)))
	el.ScrollToEnd()
}

func (el *EventLog) kindColor(kind string) tcell.Color {
	switch {
	case strings.HasSuffix(kind, ".error"), strings.HasSuffix(kind, ".failed"):
		return el.theme.FlashErrColor
	case strings.HasSuffix(kind, ".conflict"):
		return el.theme.FlashWarnColor
	case strings.HasPrefix(kind, "network."):
		return el.theme.OnlineColor
	default:
		return el.theme.MenuKeyColor
	}
}
