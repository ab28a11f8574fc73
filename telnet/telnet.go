// Package telnet speaks just enough of the telnet protocol for a raw chat
// client: option negotiation for character mode (LINEMODE off, server-side
// ECHO, NAWS window reports) and a parser that turns the inbound byte stream
// into discrete input events.
package telnet

import (
	"bufio"
	"encoding/binary"
	"io"
	"unicode/utf8"
)

// Telnet command bytes.
const (
	iac  = 255
	will = 251
	wont = 252
	do   = 253
	dont = 254
	se   = 240
	sb   = 250

	optEcho     = 1
	optNAWS     = 31
	optLinemode = 34
)

type EventKind int

const (
	KindChar EventKind = iota
	KindBackspace
	KindEnter
	KindTab
	KindEsc
	KindCtrlC
	KindUp
	KindDown
	KindRight
	KindLeft
	KindResize
	KindIgnore
)

// Event is one decoded input from the client.
type Event struct {
	Kind EventKind
	Ch   rune
	Cols int
	Rows int
}

// Conn wraps a duplex byte stream with telnet framing.
type Conn struct {
	rw io.ReadWriter
	br *bufio.Reader
}

func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw, br: bufio.NewReaderSize(rw, 1024)}
}

// Negotiate asks the client for character-at-a-time input with server echo
// and window size reports. The client's acknowledgements arrive interleaved
// with regular input and are swallowed by Next.
func (c *Conn) Negotiate() error {
	opts := []byte{
		iac, do, optLinemode,
		iac, sb, optLinemode, 1, 0, iac, se, // LINEMODE mode 0: no local editing
		iac, will, optEcho,
		iac, do, optNAWS,
	}
	_, err := c.rw.Write(opts)
	return err
}

func (c *Conn) Write(p []byte) (int, error) {
	return c.rw.Write(p)
}

// Next blocks for the next input event. Unknown or malformed sequences are
// reported as KindIgnore, never as an error; an error here always means the
// transport is gone.
func (c *Conn) Next() (Event, error) {
	b, err := c.br.ReadByte()
	if err != nil {
		return Event{}, err
	}

	switch b {
	case iac:
		return c.readCommand()
	case 0x1b:
		return c.readEscape()
	case '\r':
		// Clients send CR NUL or CR LF; eat the trailer if present.
		if next, err := c.br.Peek(1); err == nil && (next[0] == 0 || next[0] == '\n') {
			_, _ = c.br.ReadByte()
		}
		return Event{Kind: KindEnter}, nil
	case '\n':
		return Event{Kind: KindEnter}, nil
	case 3:
		return Event{Kind: KindCtrlC}, nil
	case 127, 8:
		return Event{Kind: KindBackspace}, nil
	case 9:
		return Event{Kind: KindTab}, nil
	}

	if b < 32 {
		return Event{Kind: KindIgnore}, nil
	}
	if b < utf8.RuneSelf {
		return Event{Kind: KindChar, Ch: rune(b)}, nil
	}
	return c.readRune(b)
}

// readCommand handles everything after an IAC byte.
func (c *Conn) readCommand() (Event, error) {
	cmd, err := c.br.ReadByte()
	if err != nil {
		return Event{}, err
	}

	switch cmd {
	case will, wont, do, dont:
		if _, err := c.br.ReadByte(); err != nil {
			return Event{}, err
		}
		return Event{Kind: KindIgnore}, nil
	case sb:
		return c.readSubnegotiation()
	case iac:
		// Escaped 0xff data byte outside subnegotiation; not printable input.
		return Event{Kind: KindIgnore}, nil
	default:
		return Event{Kind: KindIgnore}, nil
	}
}

// readSubnegotiation consumes IAC SB ... IAC SE, undoing IAC doubling, and
// decodes NAWS payloads into resize events.
func (c *Conn) readSubnegotiation() (Event, error) {
	opt, err := c.br.ReadByte()
	if err != nil {
		return Event{}, err
	}

	var payload []byte
	for {
		b, err := c.br.ReadByte()
		if err != nil {
			return Event{}, err
		}
		if b != iac {
			payload = append(payload, b)
			continue
		}
		next, err := c.br.ReadByte()
		if err != nil {
			return Event{}, err
		}
		if next == iac {
			payload = append(payload, iac) // doubled IAC is a literal 0xff
			continue
		}
		if next == se {
			break
		}
		// Malformed subnegotiation; drop what we have.
		return Event{Kind: KindIgnore}, nil
	}

	if opt == optNAWS && len(payload) >= 4 {
		cols := int(binary.BigEndian.Uint16(payload[0:2]))
		rows := int(binary.BigEndian.Uint16(payload[2:4]))
		return Event{Kind: KindResize, Cols: cols, Rows: rows}, nil
	}
	return Event{Kind: KindIgnore}, nil
}

// readEscape decodes CSI arrow keys; a lone ESC is reported as such.
func (c *Conn) readEscape() (Event, error) {
	next, err := c.br.Peek(1)
	if err != nil || next[0] != '[' {
		return Event{Kind: KindEsc}, nil
	}
	_, _ = c.br.ReadByte()
	code, err := c.br.ReadByte()
	if err != nil {
		return Event{}, err
	}
	switch code {
	case 'A':
		return Event{Kind: KindUp}, nil
	case 'B':
		return Event{Kind: KindDown}, nil
	case 'C':
		return Event{Kind: KindRight}, nil
	case 'D':
		return Event{Kind: KindLeft}, nil
	default:
		return Event{Kind: KindIgnore}, nil
	}
}

// readRune finishes decoding a multi-byte UTF-8 character.
func (c *Conn) readRune(first byte) (Event, error) {
	buf := []byte{first}
	for !utf8.FullRune(buf) && len(buf) < utf8.UTFMax {
		b, err := c.br.ReadByte()
		if err != nil {
			return Event{}, err
		}
		buf = append(buf, b)
	}
	r, _ := utf8.DecodeRune(buf)
	if r == utf8.RuneError {
		return Event{Kind: KindIgnore}, nil
	}
	return Event{Kind: KindChar, Ch: r}, nil
}
