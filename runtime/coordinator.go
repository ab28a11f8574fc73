package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/samber/lo"

	"telchat/domain"
	"telchat/errors"
	"telchat/moderation"
)

const coordinatorInboxSize = 128

// ChannelInfo is one row of the directory snapshot.
type ChannelInfo struct {
	Name    string
	Members int
}

// AttachInfo is what a session learns when it registers with the server.
type AttachInfo struct {
	DisplayName string
	Clients     int
	Link        *Link
}

type attachReq struct {
	id    domain.SessionID
	reply chan AttachInfo
}

type detachReq struct {
	id domain.SessionID
}

type joinChannelReq struct {
	name  string
	reply chan *ChannelHandle
}

type listReq struct {
	reply chan []ChannelInfo
}

type renameChannelDirReq struct {
	oldName string
	newName string
	reply   chan error
}

type renameSessionReq struct {
	id      domain.SessionID
	newName string
	reply   chan error
}

type countNotice struct {
	handle *ChannelHandle
	count  int
}

type deregisterNotice struct {
	handle *ChannelHandle
}

type killReq struct{}

// Coordinator is the directory of live channels and connected sessions.
//
// The handle (this struct) is stable for the life of the service; Run
// executes one epoch of the actual actor. All directory state lives inside
// Run, so a supervisor restart after a crash starts from nothing: channels
// are gone, sessions see the epoch link go down and disconnect. The inbox
// survives epochs, which is what lets requests sent during a restart be
// served by the next epoch instead of being lost.
type Coordinator struct {
	log          *slog.Logger
	historyLimit int
	censor       *moderation.Censor
	inbox        chan any
}

func NewCoordinator(log *slog.Logger, historyLimit int, censor *moderation.Censor) *Coordinator {
	return &Coordinator{
		log:          log,
		historyLimit: historyLimit,
		censor:       censor,
		inbox:        make(chan any, coordinatorInboxSize),
	}
}

// Run processes requests one at a time until the context ends or the epoch
// fails. Single-threaded processing is what makes directory mutations
// linearizable: a channel created by one join is visible to every later
// request, with no race window.
func (c *Coordinator) Run(ctx context.Context) error {
	link := NewLink()
	defer link.Break()

	// Channels live at most as long as the epoch that spawned them.
	ectx, cancel := context.WithCancel(ctx)
	defer cancel()

	directory := make(map[string]*ChannelHandle)
	names := make(map[*ChannelHandle]string)
	counts := make(map[*ChannelHandle]int)
	sessions := make(map[domain.SessionID]string)
	taken := make(map[string]domain.SessionID)
	guestSeq := 0

	c.log.Info("Coordinator epoch started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-c.inbox:
			switch r := req.(type) {
			case attachReq:
				for {
					guestSeq++
					name := fmt.Sprintf("guest_%d", guestSeq)
					if _, dup := taken[name]; dup {
						continue
					}
					sessions[r.id] = name
					taken[name] = r.id
					r.reply <- AttachInfo{DisplayName: name, Clients: len(sessions), Link: link}
					break
				}

			case detachReq:
				if name, ok := sessions[r.id]; ok {
					delete(taken, name)
					delete(sessions, r.id)
				}

			case joinChannelReq:
				h, ok := directory[r.name]
				if ok && h.link.IsDown() {
					// The channel died between deregistering and us reading
					// the notice. Absent means create.
					delete(directory, r.name)
					delete(names, h)
					delete(counts, h)
					ok = false
				}
				if !ok {
					actor := newChannelActor(c.log, r.name, c.historyLimit, c.censor, c.inbox)
					h = actor.handle
					directory[r.name] = h
					names[h] = r.name
					counts[h] = 0
					go actor.run(ectx)
					c.log.Info("Channel created", "channel", r.name)
				}
				r.reply <- h

			case listReq:
				infos := lo.MapToSlice(directory, func(name string, h *ChannelHandle) ChannelInfo {
					return ChannelInfo{Name: name, Members: counts[h]}
				})
				sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
				r.reply <- infos

			case renameChannelDirReq:
				if _, exists := directory[r.newName]; exists {
					r.reply <- errors.ErrNameConflict
					break
				}
				h, ok := directory[r.oldName]
				if !ok || h.link.IsDown() {
					r.reply <- errors.ErrChannelClosed
					break
				}
				delete(directory, r.oldName)
				directory[r.newName] = h
				names[h] = r.newName
				// Members hear about the rename from the channel itself; a
				// dead channel or a dying epoch releases the wait.
				select {
				case h.requests <- renameChannelReq{newName: r.newName}:
				case <-h.link.Down():
				case <-ctx.Done():
				}
				c.log.Info("Channel renamed", "from", r.oldName, "to", r.newName)
				r.reply <- nil

			case renameSessionReq:
				if owner, dup := taken[r.newName]; dup && owner != r.id {
					r.reply <- errors.ErrNameConflict
					break
				}
				if old, ok := sessions[r.id]; ok {
					delete(taken, old)
				}
				sessions[r.id] = r.newName
				taken[r.newName] = r.id
				r.reply <- nil

			case countNotice:
				if _, ok := names[r.handle]; ok {
					counts[r.handle] = r.count
				}

			case deregisterNotice:
				name, ok := names[r.handle]
				if !ok {
					break
				}
				if directory[name] == r.handle {
					delete(directory, name)
					c.log.Info("Channel removed", "channel", name)
				}
				delete(names, r.handle)
				delete(counts, r.handle)

			case killReq:
				panic("coordinator killed")

			default:
				c.log.Warn("Dropping unknown coordinator request", "type", fmt.Sprintf("%T", req))
			}
		}
	}
}

// Attach registers a connection, assigning it a unique guest name. The
// returned link is the session's bond to this epoch: when it goes down the
// session must treat the whole server as gone.
func (c *Coordinator) Attach(ctx context.Context, id domain.SessionID) (AttachInfo, error) {
	req := attachReq{id: id, reply: make(chan AttachInfo, 1)}
	if err := c.post(ctx, req); err != nil {
		return AttachInfo{}, err
	}
	select {
	case info := <-req.reply:
		return info, nil
	case <-ctx.Done():
		return AttachInfo{}, ctx.Err()
	}
}

// Detach unregisters a session and frees its display name. Non-blocking:
// during service shutdown nothing drains the inbox anymore, and a lost
// detach only matters to an epoch that is already dying.
func (c *Coordinator) Detach(id domain.SessionID) {
	select {
	case c.inbox <- detachReq{id: id}:
	default:
	}
}

// JoinChannel resolves a name to a live channel handle, creating the channel
// when absent. Joining the returned handle can still race its termination;
// callers retry through here, which satisfies the "a channel with that name
// exists after join" contract without ever surfacing the race.
func (c *Coordinator) JoinChannel(ctx context.Context, name string) (*ChannelHandle, error) {
	req := joinChannelReq{name: name, reply: make(chan *ChannelHandle, 1)}
	if err := c.post(ctx, req); err != nil {
		return nil, err
	}
	select {
	case h := <-req.reply:
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// List returns the directory snapshot ordered by channel name.
func (c *Coordinator) List(ctx context.Context) ([]ChannelInfo, error) {
	req := listReq{reply: make(chan []ChannelInfo, 1)}
	if err := c.post(ctx, req); err != nil {
		return nil, err
	}
	select {
	case infos := <-req.reply:
		return infos, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RenameChannel moves a directory entry to a new name. Fails with
// ErrNameConflict when the target name is taken; both channels are left
// untouched in that case.
func (c *Coordinator) RenameChannel(ctx context.Context, oldName, newName string) error {
	req := renameChannelDirReq{oldName: oldName, newName: newName, reply: make(chan error, 1)}
	if err := c.post(ctx, req); err != nil {
		return err
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RenameSession changes a display name, enforcing server-wide uniqueness.
func (c *Coordinator) RenameSession(ctx context.Context, id domain.SessionID, newName string) error {
	req := renameSessionReq{id: id, newName: newName, reply: make(chan error, 1)}
	if err := c.post(ctx, req); err != nil {
		return err
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill makes the current epoch fail as if it had crashed. Failure injection
// for exercising the supervisor and link paths.
func (c *Coordinator) Kill() {
	c.inbox <- killReq{}
}

func (c *Coordinator) post(ctx context.Context, req any) error {
	select {
	case c.inbox <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
