package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// SessionID identifies one connection. Channels hold it as an opaque routing
// key only; the session's lifetime is never controlled from here.
type SessionID = uuid.UUID

// DefaultHistoryLimit is the bound on retained messages per channel.
const DefaultHistoryLimit = 200

// Member is a roster entry as seen by other members.
type Member struct {
	ID          SessionID
	DisplayName string
}

// Channel is a named topic group: a bounded message history plus the roster
// of current members. It is a plain entity; all concurrency control lives in
// the single actor goroutine that owns it.
type Channel struct {
	Name      string
	CreatedAt time.Time

	limit    int
	messages []Message
	members  map[SessionID]string
}

func NewChannel(name string, historyLimit int) *Channel {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Channel{
		Name:      name,
		CreatedAt: time.Now(),
		limit:     historyLimit,
		members:   make(map[SessionID]string),
	}
}

// Append stores a message, evicting the oldest entry once the history bound
// is exceeded.
func (c *Channel) Append(msg Message) {
	c.messages = append(c.messages, msg)
	if len(c.messages) > c.limit {
		c.messages = c.messages[len(c.messages)-c.limit:]
	}
}

func (c *Channel) AddMember(id SessionID, displayName string) {
	c.members[id] = displayName
}

// RemoveMember deletes the roster entry and reports the display name it held
// together with the remaining member count.
func (c *Channel) RemoveMember(id SessionID) (string, int) {
	name, ok := c.members[id]
	if ok {
		delete(c.members, id)
	}
	return name, len(c.members)
}

// RenameMember updates a roster entry. Returns the previous display name and
// whether the member was present.
func (c *Channel) RenameMember(id SessionID, newName string) (string, bool) {
	old, ok := c.members[id]
	if !ok {
		return "", false
	}
	c.members[id] = newName
	return old, true
}

func (c *Channel) DisplayName(id SessionID) (string, bool) {
	name, ok := c.members[id]
	return name, ok
}

func (c *Channel) MemberCount() int {
	return len(c.members)
}

// History returns a copy of the retained messages, oldest first.
func (c *Channel) History() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Roster returns the members sorted by display name, for stable rendering.
func (c *Channel) Roster() []Member {
	out := make([]Member, 0, len(c.members))
	for id, name := range c.members {
		out = append(out, Member{ID: id, DisplayName: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out
}
