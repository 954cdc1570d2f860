package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/matheus3301/offsync/internal/tui/ui"
)

// HelpView displays key binding reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{
		TextView: tv,
		theme:    theme,
	}
	hv.render()
	return hv
}

type helpEntry struct{ key, desc string }

var helpSections = []struct {
	title   string
	entries []helpEntry
}{
	{"Global Keys", []helpEntry{
		{":", "Command mode"},
		{"s", "Sync now"},
		{"n", "Toggle reported network"},
		{"1 / 2 / 3", "Queue / Conflicts / Events"},
		{"?", "Help"},
		{"Esc", "Back to queue"},
		{"q", "Quit"},
	}},
	{"Queue", []helpEntry{
		{"x", "Clear completed items"},
		{"r", "Reload"},
	}},
	{"Conflicts", []helpEntry{
		{"l", "Keep local version"},
		{"R", "Keep remote version"},
		{"m", "Merge"},
		{"a", "Auto-resolve all"},
	}},
	{"Commands (: mode)", []helpEntry{
		{":sync", "Drain the queue now"},
		{":online [type]", "Report network up, e.g. :online 4g"},
		{":offline", "Report network down"},
		{":clear-completed", "Drop completed items"},
		{":resolve <id> <strategy>", "local-wins, remote-wins, latest-wins, merge"},
		{":auto", "Auto-resolve conflicts"},
		{":help / :h", "Show this help"},
		{":quit / :q", "Quit application"},
	}},
}

func (hv *HelpView) render() {
	kc := ui.Tag(hv.theme.MenuKeyColor)
	var b strings.Builder
	for _, sec := range helpSections {
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", sec.title)
		for _, e := range sec.entries {
			fmt.Fprintf(&b, "  [%s]%-26s[-:-:-] %s\n", kc, tview.Escape(e.key), e.desc)
		}
	}
	_, _ = fmt.Fprint(hv, b.String())
}
