package ui

import (
	"bytes"
	"strings"

	"github.com/muesli/termenv"
)

// Diff emits the escape stream that takes a terminal showing old to showing
// next. Cells equal in both buffers are skipped; a cursor move is emitted
// only when the run of changes is not contiguous with the previous write, so
// consecutive changed cells cost one move plus their writes.
//
// A nil old, or an old with different dimensions, forces a full repaint in
// which every cell of next is written.
func Diff(old, next *Buffer) []byte {
	full := old == nil || old.W != next.W || old.H != next.H

	var buf bytes.Buffer
	out := termenv.NewOutput(&buf)

	// Emitted cursor position; -1 forces a move before the first write.
	// Every Diff leaves the terminal in the default style, so that is also
	// the style state we start from.
	curX, curY := -1, -1
	cur := Style{}

	for y := 0; y < next.H; y++ {
		for x := 0; x < next.W; x++ {
			c := next.At(x, y)
			if !full && c == old.At(x, y) {
				continue
			}
			if curX != x || curY != y {
				out.MoveCursor(y+1, x+1)
				curX, curY = x, y
			}
			if c.Style != cur {
				buf.WriteString(sgr(c.Style))
				cur = c.Style
			}
			buf.WriteRune(c.Ch)
			curX++
		}
	}

	if cur != (Style{}) {
		buf.WriteString(sgr(Style{}))
	}
	return buf.Bytes()
}

// sgr renders a full SGR sequence for the style, always starting from a
// reset so no attribute leaks from the previous run.
func sgr(s Style) string {
	attrs := []string{termenv.ResetSeq}
	if s.Bold {
		attrs = append(attrs, termenv.BoldSeq)
	}
	if s.Reverse {
		attrs = append(attrs, termenv.ReverseSeq)
	}
	if s.Fg != nil {
		attrs = append(attrs, s.Fg.Sequence(false))
	}
	return termenv.CSI + strings.Join(attrs, ";") + "m"
}
