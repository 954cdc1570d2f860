package views

import (
	"strings"
	"time"
	"unicode/utf8"
)

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04:05")
	}
	return t.Format("01/02 15:04")
}

// until renders the wait before ms as a short countdown, or "" once due.
func until(ms int64, now time.Time) string {
	if ms == 0 {
		return ""
	}
	d := time.UnixMilli(ms).Sub(now)
	if d <= 0 {
		return "due"
	}
	return "in " + d.Round(time.Second).String()
}

// sanitize strips control characters and the emoji joiners tcell renders
// badly, and cuts s to limit runes.
func sanitize(s string, limit int) string {
	var b strings.Builder
	b.Grow(len(s))
	n, i := 0, 0
	for i < len(s) && n < limit {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == '\n' || r == '\t':
			r = ' '
		case r < 0x20, r == 0x200D, r >= 0xFE00 && r <= 0xFE0F, r >= 0x1F3FB && r <= 0x1F3FF:
			continue
		}
		b.WriteRune(r)
		n++
	}
	if i < len(s) {
		return b.String() + "…"
	}
	return b.String()
}
