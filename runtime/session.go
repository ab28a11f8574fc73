package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/muesli/termenv"
	"github.com/samber/lo"

	"telchat/domain"
	"telchat/domain/event"
	"telchat/errors"
	"telchat/telnet"
	"telchat/ui"
)

const (
	sessionInboxSize = 64
	scrollbackLimit  = 500
	inputLimit       = 512
	defaultCols      = 80
	defaultRows      = 24
)

type viewMode int

const (
	modeWelcome viewMode = iota
	modeList
	modeChat
)

var (
	lineSystem = ui.Style{Fg: termenv.ANSIGreen}
	lineOwn    = ui.Style{Bold: true}
)

// Session owns one connection's view of the world: screen buffers, the input
// accumulator, the joined channel reference. Nothing else ever touches this
// state; channels reach it only through the inbox sink.
//
// State machine: unjoined (welcome or picker screen) -> in channel (chat
// screen) and back; any transport failure or coordinator link break ends the
// session for good.
type Session struct {
	id    domain.SessionID
	log   *slog.Logger
	conn  net.Conn
	coord *Coordinator

	tn    *telnet.Conn
	inbox chan event.ChannelEvent
	gone  chan struct{}

	displayName string
	clients     int
	link        *Link

	channel     *ChannelHandle
	channelName string
	roster      []string
	lines       []ui.Line
	listRows    []ui.ChannelRow
	mode        viewMode
	notice      string

	cols, rows int
	prev       *ui.Buffer
	input      []rune

	shutdown sync.Once
}

func NewSession(log *slog.Logger, conn net.Conn, coord *Coordinator) *Session {
	id := uuid.New()
	return &Session{
		id:    id,
		log:   log.With("session", id.String()),
		conn:  conn,
		coord: coord,
		inbox: make(chan event.ChannelEvent, sessionInboxSize),
		gone:  make(chan struct{}),
		cols:  defaultCols,
		rows:  defaultRows,
	}
}

// sessionSink is the weak reference a channel holds to this session.
type sessionSink struct {
	inbox chan<- event.ChannelEvent
	gone  <-chan struct{}
}

// Consume never blocks the broadcasting channel: a full inbox drops the
// event, a torn-down session reports itself gone so it gets pruned.
func (s sessionSink) Consume(e event.ChannelEvent) error {
	select {
	case <-s.gone:
		return errors.ErrSessionGone
	default:
	}
	select {
	case s.inbox <- e:
	default:
	}
	return nil
}

// Run drives the session until disconnect. It returns nil on every
// transport-related ending; a session is never restarted.
func (s *Session) Run(ctx context.Context) error {
	defer s.teardown()

	s.tn = telnet.NewConn(s.conn)
	if err := s.tn.Negotiate(); err != nil {
		return nil
	}
	out := termenv.NewOutput(s.conn)
	out.HideCursor()
	out.ClearScreen()

	info, err := s.coord.Attach(ctx, s.id)
	if err != nil {
		return nil
	}
	s.displayName = info.DisplayName
	s.clients = info.Clients
	s.link = info.Link
	s.log.Info("Session attached", "name", s.displayName, "remote", s.conn.RemoteAddr())

	// Requests against the coordinator and channels must not outlive the
	// epoch the session is linked to.
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.link.Down():
			cancel()
		case <-sctx.Done():
		}
	}()

	events := make(chan telnet.Event, 16)
	go s.readInput(events)

	if !s.render() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.link.Down():
			s.farewell("Connection lost: the server reset, all channels are gone.")
			return nil
		case ev, ok := <-events:
			if !ok {
				s.log.Info("Session transport closed")
				return nil
			}
			if quit := s.handleInput(sctx, ev); quit {
				s.farewell("Bye.")
				return nil
			}
		case e := <-s.inbox:
			s.handleChannelEvent(e)
		}
		if !s.render() {
			return nil
		}
	}
}

// readInput pumps decoded telnet events into the actor loop. Any transport
// error ends the stream; the closed channel is the disconnect signal.
func (s *Session) readInput(events chan<- telnet.Event) {
	defer close(events)
	for {
		ev, err := s.tn.Next()
		if err != nil {
			return
		}
		select {
		case events <- ev:
		case <-s.gone:
			return
		}
	}
}

func (s *Session) handleInput(ctx context.Context, ev telnet.Event) bool {
	switch ev.Kind {
	case telnet.KindChar:
		if len(s.input) < inputLimit {
			s.input = append(s.input, ev.Ch)
		}
	case telnet.KindBackspace:
		if len(s.input) > 0 {
			s.input = s.input[:len(s.input)-1]
		}
	case telnet.KindEnter:
		return s.submit(ctx)
	case telnet.KindResize:
		s.resize(ev.Cols, ev.Rows)
	case telnet.KindCtrlC:
		return true
	default:
		// Arrows, tab, escape, unknown sequences: deliberate no-ops.
	}
	return false
}

// resize adopts the client-reported geometry and discards the previous
// buffer so the next render repaints from scratch; diffing against a stale
// geometry would emit garbage.
func (s *Session) resize(cols, rows int) {
	if cols < 10 {
		cols = 10
	}
	if rows < 4 {
		rows = 4
	}
	s.cols, s.rows = cols, rows
	s.prev = nil
}

func (s *Session) submit(ctx context.Context) bool {
	line := strings.TrimSpace(string(s.input))
	s.input = s.input[:0]
	s.notice = ""
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, "/") {
		return s.command(ctx, line)
	}

	if s.channel != nil {
		s.post(line)
		return false
	}
	// Unjoined: a bare word is a channel selection.
	s.join(ctx, line)
	return false
}

func (s *Session) post(line string) {
	if domain.ValidateContent(line) != nil {
		s.notice = fmt.Sprintf("Messages are limited to %d characters.", domain.MaxContentLength)
		return
	}
	if err := s.channel.Post(s.id, line); err != nil {
		s.leaveView()
		s.notice = "The channel is gone."
	}
}

func (s *Session) command(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true

	case "/help":
		if s.channel == nil {
			s.mode = modeWelcome
		} else {
			s.notice = "Commands: /list /join <name> /name <name> /rename <name> /leave /quit"
		}

	case "/list":
		infos, err := s.coord.List(ctx)
		if err != nil {
			return false
		}
		if s.channel == nil {
			s.listRows = lo.Map(infos, func(i ChannelInfo, _ int) ui.ChannelRow {
				return ui.ChannelRow{Name: i.Name, Members: i.Members}
			})
			s.mode = modeList
		} else {
			names := lo.Map(infos, func(i ChannelInfo, _ int) string {
				return fmt.Sprintf("%s(%d)", i.Name, i.Members)
			})
			s.notice = "Channels: " + strings.Join(names, ", ")
		}

	case "/join":
		name := normalizeChannelName(arg)
		if name == "" {
			s.notice = "Usage: /join <name>"
			return false
		}
		if s.channel != nil {
			s.leaveChannel()
		}
		s.join(ctx, name)

	case "/name":
		if arg == "" {
			s.notice = "Usage: /name <name>"
			return false
		}
		err := s.coord.RenameSession(ctx, s.id, arg)
		switch {
		case stderrors.Is(err, errors.ErrNameConflict):
			s.notice = "That name is already taken."
		case err == nil:
			s.displayName = arg
			if s.channel != nil {
				s.channel.RenameMember(s.id, arg)
			}
		}

	case "/rename":
		name := normalizeChannelName(arg)
		if s.channel == nil || name == "" {
			s.notice = "Join a channel first, then /rename <new name>."
			return false
		}
		err := s.coord.RenameChannel(ctx, s.channelName, name)
		if stderrors.Is(err, errors.ErrNameConflict) {
			s.notice = "A channel with that name already exists."
		}

	case "/leave", "/drop":
		if s.channel != nil {
			s.leaveChannel()
		}

	default:
		s.notice = "Unknown command. /help lists what works here."
	}
	return false
}

// join resolves and subscribes. When the resolved channel terminated before
// our join landed, resolving again creates a fresh one; the user asked for a
// channel with that name and that is what they get, not an error.
func (s *Session) join(ctx context.Context, name string) {
	name = normalizeChannelName(name)
	if name == "" {
		return
	}
	sink := sessionSink{inbox: s.inbox, gone: s.gone}
	for {
		h, err := s.coord.JoinChannel(ctx, name)
		if err != nil {
			return
		}
		ack, err := h.Join(ctx, s.id, s.displayName, sink)
		if stderrors.Is(err, errors.ErrChannelClosed) {
			continue
		}
		if err != nil {
			return
		}

		s.channel = h
		s.channelName = ack.Channel
		s.roster = lo.Map(ack.Roster, func(m domain.Member, _ int) string { return m.DisplayName })
		s.lines = lo.Map(ack.History, func(m domain.Message, _ int) ui.Line {
			return ui.Line{Text: formatMessage(m), Style: s.messageStyle(m)}
		})
		s.mode = modeChat
		s.log.Info("Joined channel", "channel", ack.Channel)
		return
	}
}

func (s *Session) leaveChannel() {
	if s.channel != nil {
		s.channel.Leave(s.id)
	}
	s.leaveView()
}

func (s *Session) leaveView() {
	s.channel = nil
	s.channelName = ""
	s.roster = nil
	s.lines = nil
	s.mode = modeWelcome
}

func (s *Session) handleChannelEvent(e event.ChannelEvent) {
	// The inbox can still hold broadcasts from a channel this session already
	// left when a new join lands; match on the emitting channel before
	// touching any view state. A rename arrives under the old name.
	if renamed, ok := e.(event.ChannelRenamed); ok {
		if renamed.OldName != s.channelName {
			return
		}
	} else if e.ChannelName() != s.channelName {
		return
	}

	switch ev := e.(type) {
	case event.MessagePosted:
		s.appendLine(formatMessage(ev.Message), s.messageStyle(ev.Message))

	case event.MemberJoined:
		s.roster = append(s.roster, ev.DisplayName)
		s.appendLine(fmt.Sprintf("* %s joined", ev.DisplayName), lineSystem)

	case event.MemberLeft:
		s.roster = lo.Without(s.roster, ev.DisplayName)
		s.appendLine(fmt.Sprintf("* %s left", ev.DisplayName), lineSystem)

	case event.MemberRenamed:
		s.roster = lo.Map(s.roster, func(n string, _ int) string {
			if n == ev.OldName {
				return ev.NewName
			}
			return n
		})
		s.appendLine(fmt.Sprintf("* %s is now %s", ev.OldName, ev.NewName), lineSystem)

	case event.ChannelRenamed:
		s.channelName = ev.NewName
		s.appendLine(fmt.Sprintf("* channel renamed to %s", ev.NewName), lineSystem)

	case event.ChannelClosed:
		s.leaveView()
		s.notice = "The channel was closed."
	}
}

func (s *Session) appendLine(text string, st ui.Style) {
	s.lines = append(s.lines, ui.Line{Text: text, Style: st})
	if len(s.lines) > scrollbackLimit {
		s.lines = s.lines[len(s.lines)-scrollbackLimit:]
	}
}

func (s *Session) messageStyle(m domain.Message) ui.Style {
	if m.Author == s.displayName {
		return lineOwn
	}
	return ui.Style{}
}

// render recomputes the desired screen, diffs it against what the terminal
// currently shows and ships the difference. A failed write means the client
// is gone; the caller tears the session down.
func (s *Session) render() bool {
	var next *ui.Buffer
	input := string(s.input)
	switch s.mode {
	case modeChat:
		next = ui.ComposeChat(s.cols, s.rows, ui.ChatView{
			Channel: s.channelName,
			Members: s.roster,
			Lines:   s.lines,
			Notice:  s.notice,
		}, input)
	case modeList:
		next = ui.ComposeList(s.cols, s.rows, ui.ListView{
			Rows:   s.listRows,
			Notice: s.notice,
		}, input)
	default:
		next = ui.ComposeWelcome(s.cols, s.rows, ui.WelcomeView{
			Username: s.displayName,
			Clients:  s.clients,
			Notice:   s.notice,
		}, input)
	}

	out := ui.Diff(s.prev, next)
	if len(out) > 0 {
		if _, err := s.conn.Write(out); err != nil {
			s.log.Info("Session write failed, disconnecting", "error", err)
			return false
		}
	}
	s.prev = next
	return true
}

// farewell restores the terminal and prints a parting line, best effort.
func (s *Session) farewell(msg string) {
	out := termenv.NewOutput(s.conn)
	out.Reset()
	out.ClearScreen()
	out.ShowCursor()
	_, _ = fmt.Fprintf(s.conn, "%s\r\n", msg)
}

// teardown runs once even when a panicking session is restarted by the
// supervisor and the rerun ends here again.
func (s *Session) teardown() {
	s.shutdown.Do(func() {
		close(s.gone)
		if s.channel != nil {
			s.channel.Leave(s.id)
			s.channel = nil
		}
		s.coord.Detach(s.id)
		_ = s.conn.Close()
		s.log.Info("Session terminated")
	})
}

func normalizeChannelName(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "#")
	if utf8.RuneCountInString(name) > 32 {
		name = string([]rune(name)[:32])
	}
	return strings.ToLower(name)
}

func formatMessage(m domain.Message) string {
	return fmt.Sprintf("[%s] %s: %s", m.SentAt.Local().Format("15:04"), m.Author, m.Content)
}
