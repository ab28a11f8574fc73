// Package ui turns session view state into terminal escape sequences.
//
// A Buffer is a fixed-size grid of styled cells; Diff computes the minimal
// cursor/write stream that takes a terminal from one buffer to another. The
// compose functions lay screens out into buffers. Nothing in this package
// knows about chat semantics beyond the view structs it is handed.
package ui

import (
	"github.com/muesli/termenv"
)

// Style is part of cell identity: two cells with the same rune but different
// styles compare unequal and therefore get redrawn.
type Style struct {
	Fg      termenv.Color // nil means the terminal default
	Bold    bool
	Reverse bool
}

type Cell struct {
	Ch    rune
	Style Style
}

// Blank is the initial state of every cell.
var Blank = Cell{Ch: ' '}

// Buffer is a W×H cell grid. Resizing is done by allocating a new buffer;
// content is never migrated between geometries.
type Buffer struct {
	W, H  int
	cells []Cell
}

func NewBuffer(w, h int) *Buffer {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	b := &Buffer{W: w, H: h, cells: make([]Cell, w*h)}
	for i := range b.cells {
		b.cells[i] = Blank
	}
	return b
}

func (b *Buffer) At(x, y int) Cell {
	return b.cells[y*b.W+x]
}

func (b *Buffer) Set(x, y int, c Cell) {
	if x < 0 || x >= b.W || y < 0 || y >= b.H {
		return
	}
	b.cells[y*b.W+x] = c
}

// WriteString places s on row y starting at column x, clipped to the buffer
// width. Returns the column after the last written cell.
func (b *Buffer) WriteString(x, y int, s string, st Style) int {
	for _, r := range s {
		if x >= b.W {
			break
		}
		b.Set(x, y, Cell{Ch: r, Style: st})
		x++
	}
	return x
}

// FillRow paints an entire row with the given style, keeping cells blank.
func (b *Buffer) FillRow(y int, st Style) {
	for x := 0; x < b.W; x++ {
		b.Set(x, y, Cell{Ch: ' ', Style: st})
	}
}
