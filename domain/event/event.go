// Package event defines the broadcasts a channel emits to its members.
//
// Every user-visible state change of a channel (join, post, leave, rename,
// close) produces exactly one event, delivered to all members in the order
// the channel processed the causing request. There is no ordering guarantee
// across different channels.
package event

import (
	"telchat/domain"
)

type ChannelEvent interface {
	ChannelName() string
}

type MemberJoined struct {
	Channel     string
	DisplayName string
}

func (e MemberJoined) ChannelName() string { return e.Channel }

type MemberLeft struct {
	Channel     string
	DisplayName string
}

func (e MemberLeft) ChannelName() string { return e.Channel }

type MemberRenamed struct {
	Channel string
	OldName string
	NewName string
}

func (e MemberRenamed) ChannelName() string { return e.Channel }

type MessagePosted struct {
	Channel string
	Message domain.Message
}

func (e MessagePosted) ChannelName() string { return e.Channel }

// ChannelRenamed is sent when the coordinator renames the whole channel.
// Members keep their subscription; only the displayed name changes.
type ChannelRenamed struct {
	OldName string
	NewName string
}

func (e ChannelRenamed) ChannelName() string { return e.NewName }

// ChannelClosed is the last event a channel ever emits.
type ChannelClosed struct {
	Channel string
}

func (e ChannelClosed) ChannelName() string { return e.Channel }
