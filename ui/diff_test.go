package ui

import (
	"math/rand"
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/require"
)

// fakeTerm interprets the escape stream Diff produces the way a terminal
// would: cursor moves, SGR attribute changes and rune writes against a cell
// grid. Tests assert on the resulting grid instead of on raw bytes.
type fakeTerm struct {
	buf    *Buffer
	x, y   int
	style  Style
	writes int
	moves  int
}

func newFakeTerm(from *Buffer) *fakeTerm {
	t := &fakeTerm{buf: NewBuffer(from.W, from.H)}
	for y := 0; y < from.H; y++ {
		for x := 0; x < from.W; x++ {
			t.buf.Set(x, y, from.At(x, y))
		}
	}
	return t
}

func (ft *fakeTerm) apply(t *testing.T, out []byte) {
	t.Helper()
	i := 0
	for i < len(out) {
		if out[i] == 0x1b {
			require.Less(t, i+1, len(out), "dangling escape byte")
			require.Equal(t, byte('['), out[i+1], "only CSI sequences are expected")
			j := i + 2
			for j < len(out) && (out[j] == ';' || (out[j] >= '0' && out[j] <= '9')) {
				j++
			}
			require.Less(t, j, len(out), "unterminated CSI sequence")
			params := string(out[i+2 : j])
			switch out[j] {
			case 'H':
				parts := strings.Split(params, ";")
				require.Len(t, parts, 2, "cursor moves must carry row and column")
				row, err := strconv.Atoi(parts[0])
				require.NoError(t, err)
				col, err := strconv.Atoi(parts[1])
				require.NoError(t, err)
				ft.y, ft.x = row-1, col-1
				ft.moves++
			case 'm':
				ft.style = parseSGR(t, params)
			default:
				t.Fatalf("unexpected CSI final byte %q", out[j])
			}
			i = j + 1
			continue
		}
		r, size := utf8.DecodeRune(out[i:])
		require.NotEqual(t, utf8.RuneError, r)
		ft.buf.Set(ft.x, ft.y, Cell{Ch: r, Style: ft.style})
		ft.x++
		ft.writes++
		i += size
	}
}

func parseSGR(t *testing.T, params string) Style {
	t.Helper()
	var st Style
	for _, p := range strings.Split(params, ";") {
		code, err := strconv.Atoi(p)
		require.NoError(t, err)
		switch {
		case code == 0:
			st = Style{}
		case code == 1:
			st.Bold = true
		case code == 7:
			st.Reverse = true
		case code >= 30 && code <= 37:
			st.Fg = termenv.ANSIColor(code - 30)
		case code >= 90 && code <= 97:
			st.Fg = termenv.ANSIColor(code - 90 + 8)
		default:
			t.Fatalf("unexpected SGR code %d", code)
		}
	}
	return st
}

func requireSameScreen(t *testing.T, want, got *Buffer) {
	t.Helper()
	require.Equal(t, want.W, got.W)
	require.Equal(t, want.H, got.H)
	for y := 0; y < want.H; y++ {
		for x := 0; x < want.W; x++ {
			require.Equal(t, want.At(x, y), got.At(x, y), "cell (%d,%d)", x, y)
		}
	}
}

func changedCells(old, next *Buffer) int {
	n := 0
	for y := 0; y < next.H; y++ {
		for x := 0; x < next.W; x++ {
			if old.At(x, y) != next.At(x, y) {
				n++
			}
		}
	}
	return n
}

func TestDiff_EqualBuffersEmitNothing(t *testing.T) {
	old := NewBuffer(20, 5)
	next := NewBuffer(20, 5)
	old.WriteString(2, 1, "hello", Style{Bold: true})
	next.WriteString(2, 1, "hello", Style{Bold: true})

	require.Empty(t, Diff(old, next))
}

func TestDiff_FullRepaintWritesEveryCell(t *testing.T) {
	req := require.New(t)
	next := NewBuffer(12, 4)
	next.WriteString(0, 0, "status", Style{Reverse: true})
	next.WriteString(3, 2, "body", Style{})

	term := newFakeTerm(NewBuffer(12, 4))
	term.apply(t, Diff(nil, next))

	req.Equal(12*4, term.writes)
	requireSameScreen(t, next, term.buf)
}

func TestDiff_SizeChangeForcesFullRepaint(t *testing.T) {
	req := require.New(t)
	old := NewBuffer(10, 4)
	old.WriteString(0, 0, "before", Style{})
	next := NewBuffer(20, 6)
	next.WriteString(0, 0, "after", Style{})

	term := newFakeTerm(NewBuffer(20, 6))
	term.apply(t, Diff(old, next))

	req.Equal(20*6, term.writes)
	requireSameScreen(t, next, term.buf)
}

func TestDiff_WritesOnlyChangedCells(t *testing.T) {
	req := require.New(t)
	old := NewBuffer(30, 8)
	next := NewBuffer(30, 8)
	old.WriteString(0, 0, "#general (2): alice, bob", Style{Reverse: true})
	next.WriteString(0, 0, "#general (2): alice, bob", Style{Reverse: true})
	old.WriteString(0, 3, "[12:00] alice: hi", Style{})
	next.WriteString(0, 3, "[12:00] alice: hi", Style{})
	next.WriteString(0, 4, "[12:01] bob: hello there", Style{})

	out := Diff(old, next)
	term := newFakeTerm(old)
	term.apply(t, out)

	req.Equal(changedCells(old, next), term.writes)
	requireSameScreen(t, next, term.buf)
}

func TestDiff_ContiguousRunCostsOneMove(t *testing.T) {
	old := NewBuffer(40, 5)
	next := NewBuffer(40, 5)
	next.WriteString(5, 2, "one-contiguous-run", Style{})

	term := newFakeTerm(old)
	term.apply(t, Diff(old, next))

	require.Equal(t, 1, term.moves)
	requireSameScreen(t, next, term.buf)
}

func TestDiff_StyleOnlyChangeRedraws(t *testing.T) {
	req := require.New(t)
	old := NewBuffer(10, 2)
	next := NewBuffer(10, 2)
	old.WriteString(0, 0, "same text", Style{})
	next.WriteString(0, 0, "same text", Style{Fg: termenv.ANSIYellow})

	out := Diff(old, next)
	req.NotEmpty(out)

	term := newFakeTerm(old)
	term.apply(t, out)
	requireSameScreen(t, next, term.buf)
	req.Equal(Style{}, term.style, "every diff must leave the terminal in the default style")
}

func TestDiff_ConvergesOnRandomBuffers(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	runes := []rune{' ', 'a', 'b', '#', '>', 'é'}
	styles := []Style{{}, {Bold: true}, {Reverse: true}, {Fg: termenv.ANSIGreen}, {Fg: termenv.ANSICyan, Bold: true}}

	randomBuffer := func(w, h int) *Buffer {
		b := NewBuffer(w, h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				b.Set(x, y, Cell{Ch: runes[rng.Intn(len(runes))], Style: styles[rng.Intn(len(styles))]})
			}
		}
		return b
	}

	for i := 0; i < 20; i++ {
		old := randomBuffer(25, 8)
		next := randomBuffer(25, 8)

		term := newFakeTerm(old)
		term.apply(t, Diff(old, next))

		requireSameScreen(t, next, term.buf)
		require.LessOrEqual(t, term.writes, changedCells(old, next))
		require.Equal(t, Style{}, term.style)
	}
}
