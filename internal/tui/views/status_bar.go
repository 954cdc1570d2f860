package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/offsync/internal/rpc"
	"github.com/matheus3301/offsync/internal/tui/ui"
)

// StatusBar displays connectivity, engine state and queue counters.
type StatusBar struct {
	*tview.TextView
	theme   *ui.Theme
	account string
	status  *rpc.StatusReply
	err     error
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme, account string) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	sb := &StatusBar{TextView: tv, theme: theme, account: account}
	sb.render()
	return sb
}

// Update shows s. A nil s with err set shows the daemon as unreachable.
func (sb *StatusBar) Update(s *rpc.StatusReply, err error) {
	sb.status, sb.err = s, err
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	clock := time.Now().Format("15:04")

	if sb.status == nil {
		state := "connecting…"
		if sb.err != nil {
			state = fmt.Sprintf("[%s]daemon unreachable[-]", ui.Tag(sb.theme.FlashErrColor))
		}
		_, _ = fmt.Fprintf(sb, " [::b]%s[-:-:-] | %s | %s", sb.account, state, clock)
		return
	}

	s := sb.status
	netColor := sb.theme.OnlineColor
	if !s.Online {
		netColor = sb.theme.OfflineColor
	}
	line := fmt.Sprintf(" [::b]%s[-:-:-] | [%s]%s[-] | [%s]%s[-]",
		sb.account,
		ui.Tag(netColor), tview.Escape(s.Network),
		ui.Tag(sb.theme.StateColor(s.State)), s.State,
	)
	if s.Syncing {
		line += " [green]~[-]"
	}
	line += fmt.Sprintf(" | pending %d", s.Pending)
	if s.Failed > 0 {
		line += fmt.Sprintf(" | [%s]failed %d[-]", ui.Tag(sb.theme.FlashErrColor), s.Failed)
	}
	if s.Conflicts > 0 {
		line += fmt.Sprintf(" | [%s]conflicts %d[-]", ui.Tag(sb.theme.FlashWarnColor), s.Conflicts)
	}
	line += " | " + clock
	_, _ = fmt.Fprint(sb, line)
}
