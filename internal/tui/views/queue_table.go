package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/offsync/internal/store"
	"github.com/matheus3301/offsync/internal/tui/ui"
)

var queueColumns = []string{"ID", "PRI", "OPERATION", "STATUS", "RETRIES", "CREATED", "NEXT", "ERROR"}

// QueueTable lists queue items in drain order.
type QueueTable struct {
	*tview.Table
	theme *ui.Theme
	items []store.QueueItem
	now   func() time.Time
}

// NewQueueTable creates a new queue table.
func NewQueueTable(theme *ui.Theme) *QueueTable {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0).
		SetBorders(false)
	table.SetBorder(true).
		SetTitle(" Queue ").
		SetTitleColor(theme.TitleColor).
		SetBorderColor(theme.BorderColor)
	table.SetSelectedStyle(tcellStyle(theme))

	qt := &QueueTable{Table: table, theme: theme, now: time.Now}
	qt.Update(nil)
	return qt
}

// Update refreshes the table with items, keeping the selected row when the
// item is still present.
func (qt *QueueTable) Update(items []store.QueueItem) {
	selected := qt.SelectedID()
	qt.items = items
	qt.Clear()

	for col, name := range queueColumns {
		qt.SetCell(0, col, tview.NewTableCell(" "+name).
			SetSelectable(false).
			SetTextColor(qt.theme.TableHeaderFg))
	}

	now := qt.now()
	counts := map[store.QueueStatus]int{}
	for i, it := range items {
		row := i + 1
		counts[it.Status]++
		color := qt.theme.QueueStatusColor(it.Status)
		cells := []string{
			fmt.Sprintf("%d", it.ID),
			fmt.Sprintf("%d", it.Priority),
			string(it.Operation),
			string(it.Status),
			fmt.Sprintf("%d", it.RetryCount),
			formatTimestamp(it.CreatedAt),
			"",
			sanitize(it.Error, 60),
		}
		if it.Status == store.QueuePending {
			cells[6] = until(it.NextAttemptAt, now)
		}
		for col, text := range cells {
			cell := tview.NewTableCell(" " + tview.Escape(text)).SetTextColor(color)
			if col == len(cells)-1 {
				cell.SetExpansion(1)
			}
			qt.SetCell(row, col, cell)
		}
		if it.ID == selected {
			qt.Select(row, 0)
		}
	}

	qt.SetTitle(fmt.Sprintf(" Queue [%d] pending %d · processing %d · failed %d ",
		len(items), counts[store.QueuePending], counts[store.QueueProcessing], counts[store.QueueFailed]))
}

// SelectedID returns the id of the selected item, or 0.
func (qt *QueueTable) SelectedID() int64 {
	row, _ := qt.GetSelection()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(qt.items) {
		return qt.items[idx].ID
	}
	return 0
}
