package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/matheus3301/offsync/internal/conflict"
	"github.com/matheus3301/offsync/internal/tui/ui"
)

var conflictColumns = []string{"ID", "TYPE", "LOCAL", "REMOTE", "FIELDS", "AUTO"}

// ConflictTable lists conflicts awaiting resolution.
type ConflictTable struct {
	*tview.Table
	theme     *ui.Theme
	conflicts []conflict.Conflict
}

// NewConflictTable creates a new conflict table.
func NewConflictTable(theme *ui.Theme) *ConflictTable {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	table.SetBorder(true).
		SetTitle(" Conflicts ").
		SetTitleColor(theme.TitleColor).
		SetBorderColor(theme.BorderColor)
	table.SetSelectedStyle(tcellStyle(theme))

	ct := &ConflictTable{Table: table, theme: theme}
	ct.Update(nil)
	return ct
}

// Update refreshes the table.
func (ct *ConflictTable) Update(conflicts []conflict.Conflict) {
	selected := ct.SelectedID()
	ct.conflicts = conflicts
	ct.Clear()

	for col, name := range conflictColumns {
		ct.SetCell(0, col, tview.NewTableCell(" "+name).
			SetSelectable(false).
			SetTextColor(ct.theme.TableHeaderFg))
	}
	for i, c := range conflicts {
		row := i + 1
		color := ct.theme.FlashWarnColor
		auto := "no"
		if c.AutoResolvable {
			color, auto = ct.theme.FgColor, "yes"
		}
		cells := []string{
			c.ID,
			string(c.Type),
			versionLabel(c.Local),
			versionLabel(c.Remote),
			sanitize(strings.Join(c.Fields, ","), 40),
			auto,
		}
		for col, text := range cells {
			cell := tview.NewTableCell(" " + tview.Escape(text)).SetTextColor(color)
			if col == 4 {
				cell.SetExpansion(1)
			}
			ct.SetCell(row, col, cell)
		}
		if c.ID == selected {
			ct.Select(row, 0)
		}
	}
	ct.SetTitle(fmt.Sprintf(" Conflicts [%d] ", len(conflicts)))
}

// SelectedID returns the id of the selected conflict, or "".
func (ct *ConflictTable) SelectedID() string {
	row, _ := ct.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(ct.conflicts) {
		return ct.conflicts[idx].ID
	}
	return ""
}

func versionLabel(v conflict.Version) string {
	return fmt.Sprintf("v%d @ %s", v.Version, formatTimestamp(v.LastModified))
}
