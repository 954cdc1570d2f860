// Package ui holds shared widgets and colors of the dashboard.
package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"

	"github.com/matheus3301/offsync/internal/status"
	"github.com/matheus3301/offsync/internal/store"
)

// Theme holds color constants for the TUI.
type Theme struct {
	BgColor          tcell.Color
	FgColor          tcell.Color
	BorderColor      tcell.Color
	BorderFocusColor tcell.Color
	TableHeaderFg    tcell.Color
	TableCursorFg    tcell.Color
	TableCursorBg    tcell.Color
	MenuKeyColor     tcell.Color
	TitleColor       tcell.Color
	OnlineColor      tcell.Color
	OfflineColor     tcell.Color
	FlashInfoColor   tcell.Color
	FlashWarnColor   tcell.Color
	FlashErrColor    tcell.Color
}

// DefaultTheme returns a k9s-inspired dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:          tcell.ColorBlack,
		FgColor:          tcell.ColorCadetBlue,
		BorderColor:      tcell.ColorDodgerBlue,
		BorderFocusColor: tcell.ColorLightSkyBlue,
		TableHeaderFg:    tcell.ColorWhite,
		TableCursorFg:    tcell.ColorBlack,
		TableCursorBg:    tcell.ColorAqua,
		MenuKeyColor:     tcell.ColorDodgerBlue,
		TitleColor:       tcell.ColorFuchsia,
		OnlineColor:      tcell.ColorGreen,
		OfflineColor:     tcell.ColorOrangeRed,
		FlashInfoColor:   tcell.ColorNavajoWhite,
		FlashWarnColor:   tcell.ColorOrange,
		FlashErrColor:    tcell.ColorOrangeRed,
	}
}

// QueueStatusColor colors a queue item row by state.
func (t *Theme) QueueStatusColor(s store.QueueStatus) tcell.Color {
	switch s {
	case store.QueueProcessing:
		return tcell.ColorAqua
	case store.QueueCompleted:
		return tcell.ColorGreen
	case store.QueueFailed:
		return t.FlashErrColor
	default:
		return t.FgColor
	}
}

// StateColor colors the engine state in the status bar.
func (t *Theme) StateColor(s status.State) tcell.Color {
	switch s {
	case status.Syncing:
		return tcell.ColorAqua
	case status.Idle:
		return t.OnlineColor
	case status.Offline, status.Paused:
		return t.FlashWarnColor
	case status.Stopped:
		return t.OfflineColor
	default:
		return t.FgColor
	}
}

// Tag renders c as a tview color tag name.
func Tag(c tcell.Color) string {
	return fmt.Sprintf("#%06x", c.Hex())
}
