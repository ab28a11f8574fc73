package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"telchat/contract"
	"telchat/domain"
	"telchat/domain/event"
	"telchat/errors"
	"telchat/moderation"
)

const channelInboxSize = 256

// JoinAck is the reply to a join: the snapshot a session needs to render the
// channel without racing against broadcasts. Snapshot and subscription are
// taken in the same actor step, so the first broadcast a member receives is
// the first event after this state.
type JoinAck struct {
	Channel string
	History []domain.Message
	Roster  []domain.Member
}

type joinReq struct {
	id          domain.SessionID
	displayName string
	sink        contract.EventSink
	reply       chan JoinAck
}

type postReq struct {
	id      domain.SessionID
	content string
	at      time.Time
}

type leaveReq struct {
	id domain.SessionID
}

type renameMemberReq struct {
	id      domain.SessionID
	newName string
}

type renameChannelReq struct {
	newName string
}

// ChannelHandle is the weak reference members and the coordinator hold to a
// channel actor: an inbox plus a link. It never controls the actor's
// lifetime; a terminated channel is detected through the link.
type ChannelHandle struct {
	requests chan any
	link     *Link
}

// Join subscribes the session and returns the state snapshot.
func (h *ChannelHandle) Join(ctx context.Context, id domain.SessionID, displayName string, sink contract.EventSink) (JoinAck, error) {
	req := joinReq{id: id, displayName: displayName, sink: sink, reply: make(chan JoinAck, 1)}
	select {
	case h.requests <- req:
	case <-h.link.Down():
		return JoinAck{}, errors.ErrChannelClosed
	case <-ctx.Done():
		return JoinAck{}, ctx.Err()
	}
	select {
	case ack := <-req.reply:
		return ack, nil
	case <-h.link.Down():
		return JoinAck{}, errors.ErrChannelClosed
	case <-ctx.Done():
		return JoinAck{}, ctx.Err()
	}
}

// Post submits a message. The sender sees it only through the broadcast,
// like every other member.
func (h *ChannelHandle) Post(id domain.SessionID, content string) error {
	return h.send(postReq{id: id, content: content, at: time.Now()})
}

func (h *ChannelHandle) Leave(id domain.SessionID) {
	_ = h.send(leaveReq{id: id})
}

func (h *ChannelHandle) RenameMember(id domain.SessionID, newName string) {
	_ = h.send(renameMemberReq{id: id, newName: newName})
}

func (h *ChannelHandle) send(req any) error {
	select {
	case h.requests <- req:
		return nil
	case <-h.link.Down():
		return errors.ErrChannelClosed
	}
}

// channelActor owns one domain.Channel. Requests are processed one at a
// time, which is what gives every member the same event order.
type channelActor struct {
	log     *slog.Logger
	state   *domain.Channel
	censor  *moderation.Censor
	sinks   map[domain.SessionID]contract.EventSink
	handle  *ChannelHandle
	notices chan<- any

	// everJoined distinguishes "freshly created, first join still in
	// flight" from "emptied by departures"; only the latter terminates.
	everJoined bool
}

func newChannelActor(log *slog.Logger, name string, historyLimit int, censor *moderation.Censor, notices chan<- any) *channelActor {
	return &channelActor{
		log:     log.With("channel", name),
		state:   domain.NewChannel(name, historyLimit),
		censor:  censor,
		sinks:   make(map[domain.SessionID]contract.EventSink),
		handle:  &ChannelHandle{requests: make(chan any, channelInboxSize), link: NewLink()},
		notices: notices,
	}
}

func (a *channelActor) run(ctx context.Context) {
	defer a.handle.link.Break()
	a.log.Debug("Channel started")

	for {
		select {
		case <-ctx.Done():
			// Coordinator epoch ended; members find out through their own
			// links, but tell anyone still listening.
			a.broadcast(event.ChannelClosed{Channel: a.state.Name})
			a.log.Debug("Channel stopped with coordinator")
			return
		case req := <-a.handle.requests:
			if a.dispatch(ctx, req) {
				a.log.Debug("Channel empty, terminating")
				return
			}
		}
	}
}

// dispatch handles one request. Returns true once the last member has left
// and the actor must terminate.
func (a *channelActor) dispatch(ctx context.Context, req any) bool {
	switch r := req.(type) {
	case joinReq:
		a.everJoined = true
		a.state.AddMember(r.id, r.displayName)
		a.sinks[r.id] = r.sink
		r.reply <- JoinAck{
			Channel: a.state.Name,
			History: a.state.History(),
			Roster:  a.state.Roster(),
		}
		a.broadcastExcept(r.id, event.MemberJoined{Channel: a.state.Name, DisplayName: r.displayName})
		a.notify(ctx)

	case postReq:
		author, ok := a.state.DisplayName(r.id)
		if !ok {
			return false
		}
		if domain.ValidateContent(r.content) != nil {
			return false
		}
		msg := domain.Message{
			ID:      uuid.New(),
			Author:  author,
			Content: a.censor.Apply(r.content),
			SentAt:  r.at,
		}
		a.state.Append(msg)
		a.broadcast(event.MessagePosted{Channel: a.state.Name, Message: msg})

	case leaveReq:
		a.removeMember(ctx, r.id)

	case renameMemberReq:
		if old, ok := a.state.RenameMember(r.id, r.newName); ok {
			a.broadcast(event.MemberRenamed{Channel: a.state.Name, OldName: old, NewName: r.newName})
		}

	case renameChannelReq:
		old := a.state.Name
		a.state.Name = r.newName
		a.log = a.log.With("renamed_to", r.newName)
		a.broadcast(event.ChannelRenamed{OldName: old, NewName: r.newName})
	}

	// Destruction is immediate once a once-populated channel drains, whether
	// through explicit leaves or through pruning of unreachable members.
	if a.everJoined && a.state.MemberCount() == 0 {
		return a.deregister(ctx)
	}
	return false
}

// removeMember drops the roster entry and broadcasts the departure.
func (a *channelActor) removeMember(ctx context.Context, id domain.SessionID) {
	name, _ := a.state.RemoveMember(id)
	if name == "" {
		return
	}
	delete(a.sinks, id)
	a.broadcast(event.MemberLeft{Channel: a.state.Name, DisplayName: name})
	a.notify(ctx)
}

// broadcast delivers to every member. Delivery is best effort: members whose
// sink reports them gone are pruned on the spot, which may in turn empty the
// channel; that is picked up by the caller via the membership count.
func (a *channelActor) broadcast(e event.ChannelEvent) {
	a.broadcastExcept(uuid.Nil, e)
}

func (a *channelActor) broadcastExcept(skip domain.SessionID, e event.ChannelEvent) {
	var dead []domain.SessionID
	for id, sink := range a.sinks {
		if id == skip {
			continue
		}
		if err := sink.Consume(e); err != nil {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		a.log.Debug("Pruning unreachable member", "session", id)
		name, _ := a.state.RemoveMember(id)
		delete(a.sinks, id)
		if name != "" {
			a.broadcast(event.MemberLeft{Channel: a.state.Name, DisplayName: name})
		}
	}
}

func (a *channelActor) notify(ctx context.Context) {
	select {
	case a.notices <- countNotice{handle: a.handle, count: a.state.MemberCount()}:
	case <-ctx.Done():
	}
}

// deregister removes the directory entry before the actor terminates, so the
// coordinator never routes a join to a dead inbox for longer than one hop.
func (a *channelActor) deregister(ctx context.Context) bool {
	select {
	case a.notices <- deregisterNotice{handle: a.handle}:
	case <-ctx.Done():
	}
	return true
}
