package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/olekukonko/tablewriter"
)

// Line is one scrollback entry, already formatted by the session.
type Line struct {
	Text  string
	Style Style
}

type WelcomeView struct {
	Username string
	Clients  int
	Notice   string
}

type ChannelRow struct {
	Name    string
	Members int
}

type ListView struct {
	Rows   []ChannelRow
	Notice string
}

type ChatView struct {
	Channel string
	Members []string
	Lines   []Line
	Notice  string
}

var (
	titleStyle  = Style{Bold: true}
	barStyle    = Style{Reverse: true}
	inputStyle  = Style{Reverse: true}
	noticeStyle = Style{Fg: termenv.ANSIYellow}
	helpStyle   = Style{Fg: termenv.ANSICyan}
)

var instructions = []string{
	"/list          show active channels",
	"/join <name>   join or create a channel",
	"/name <name>   change your display name",
	"/rename <name> rename the current channel",
	"/leave         leave the current channel",
	"/help          show this screen",
	"/quit          disconnect",
}

// ComposeWelcome renders the screen shown before a channel is joined.
func ComposeWelcome(w, h int, v WelcomeView, input string) *Buffer {
	b := NewBuffer(w, h)
	b.WriteString(1, 1, "telchat", titleStyle)
	b.WriteString(1, 3, fmt.Sprintf("Connected as %s. %d client(s) online.", v.Username, v.Clients), Style{})
	y := 5
	for _, line := range instructions {
		if y >= h-2 {
			break
		}
		b.WriteString(1, y, clip(line, w-1), helpStyle)
		y++
	}
	drawNotice(b, v.Notice)
	drawInput(b, input)
	return b
}

// ComposeList renders the channel picker as a table.
func ComposeList(w, h int, v ListView, input string) *Buffer {
	b := NewBuffer(w, h)
	b.WriteString(1, 1, "Active channels", titleStyle)

	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetHeader([]string{"Channel", "Members"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for _, row := range v.Rows {
		table.Append([]string{row.Name, strconv.Itoa(row.Members)})
	}
	table.Render()

	y := 3
	for _, line := range strings.Split(sb.String(), "\n") {
		if y >= h-2 {
			break
		}
		b.WriteString(1, y, clip(line, w-1), Style{})
		y++
	}
	if len(v.Rows) == 0 && y < h-2 {
		b.WriteString(1, y+1, "No channels yet. /join one to create it.", Style{})
	}
	drawNotice(b, v.Notice)
	drawInput(b, input)
	return b
}

// ComposeChat renders the in-channel screen: status bar, scrollback bottom
// aligned above the input line.
func ComposeChat(w, h int, v ChatView, input string) *Buffer {
	b := NewBuffer(w, h)

	b.FillRow(0, barStyle)
	status := fmt.Sprintf("#%s (%d): %s", v.Channel, len(v.Members), strings.Join(v.Members, ", "))
	b.WriteString(0, 0, clip(" "+status, w), barStyle)

	top, bottom := 1, h-2
	lines := v.Lines
	if max := bottom - top; len(lines) > max {
		lines = lines[len(lines)-max:]
	}
	y := bottom - len(lines)
	for _, line := range lines {
		b.WriteString(0, y, clip(line.Text, w), line.Style)
		y++
	}

	drawNotice(b, v.Notice)
	drawInput(b, input)
	return b
}

func drawNotice(b *Buffer, notice string) {
	if notice == "" {
		return
	}
	b.WriteString(0, b.H-2, clip(notice, b.W), noticeStyle)
}

// drawInput paints the bottom row as the echo region. When the accumulator
// overflows the width, the tail stays visible.
func drawInput(b *Buffer, input string) {
	y := b.H - 1
	b.FillRow(y, inputStyle)
	visible := b.W - 3
	runes := []rune(input)
	if visible > 0 && len(runes) > visible {
		runes = runes[len(runes)-visible:]
	}
	b.WriteString(0, y, "> "+string(runes), inputStyle)
}

func clip(s string, w int) string {
	if w <= 0 {
		return ""
	}
	if ansi.StringWidth(s) <= w {
		return s
	}
	return ansi.Truncate(s, w, "")
}
